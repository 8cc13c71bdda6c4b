/*
Copyright 2024 The InfraWeave Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package deployment drives a deployment through its lifecycle: it persists
// deployment and plan rows, maintains the bidirectional dependency edges,
// appends the event trail and dispatches runner jobs.
package deployment

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/identity"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/query"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
)

// maxEpochRetries bounds the read-diff-write loop when concurrent writers
// race on the same deployment row.
const maxEpochRetries = 5

// Service is the deployment state store. All writes go through transactions
// so the dependency edges never diverge from the rows that declared them.
type Service struct {
	backend backend.Backend
}

func New(b backend.Backend) *Service {
	return &Service{backend: b}
}

// Backend exposes the underlying store for callers that need blob or log
// access next to deployment state.
func (s *Service) Backend() backend.Backend {
	return s.backend
}

// GetDeployment returns the live metadata row of one deployment, or nil when
// it does not exist or has been destroyed.
func (s *Service) GetDeployment(ctx context.Context, project, region, environment, deploymentID string) (*model.Deployment, error) {
	return s.readOne(ctx, query.Deployment(project, region, environment, deploymentID))
}

// GetPlanDeployment returns the plan row one job wrote, or nil.
func (s *Service) GetPlanDeployment(ctx context.Context, project, region, environment, deploymentID, jobID string) (*model.Deployment, error) {
	return s.readOne(ctx, query.PlanDeployment(project, region, environment, deploymentID, jobID))
}

// ListDeployments lists the live deployments of a project and region within
// one environment prefix.
func (s *Service) ListDeployments(ctx context.Context, project, region, environment string) ([]model.Deployment, error) {
	res, err := s.backend.ReadItems(ctx, backend.TableDeployments, query.AllDeployments(project, region, environment))
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	deployments := make([]model.Deployment, 0, len(res.Items))
	for _, item := range res.Items {
		var d model.Deployment
		if err := backend.UnmarshalItem(item, &d); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, nil
}

// ListDeploymentsUsingModule lists live deployments of one module within a
// project and region.
func (s *Service) ListDeploymentsUsingModule(ctx context.Context, module, project, region string) ([]model.Deployment, error) {
	res, err := s.backend.ReadItems(ctx, backend.TableDeployments, query.DeploymentsUsingModule(module, project, region))
	if err != nil {
		return nil, fmt.Errorf("listing deployments of module %s: %w", module, err)
	}
	deployments := make([]model.Deployment, 0, len(res.Items))
	for _, item := range res.Items {
		var d model.Deployment
		if err := backend.UnmarshalItem(item, &d); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, nil
}

// GetDependants lists the live reverse-dependency edges of a deployment.
func (s *Service) GetDependants(ctx context.Context, project, region, environment, deploymentID string) ([]model.Dependent, error) {
	res, err := s.backend.ReadItems(ctx, backend.TableDeployments, query.Dependants(project, region, environment, deploymentID))
	if err != nil {
		return nil, fmt.Errorf("listing dependants of %s: %w", deploymentID, err)
	}
	dependents := make([]model.Dependent, 0, len(res.Items))
	for _, item := range res.Items {
		var dep model.Dependent
		if err := backend.UnmarshalItem(item, &dep); err != nil {
			return nil, err
		}
		dependents = append(dependents, dep)
	}
	return dependents, nil
}

// ListDriftCheckCandidates finds live deployments whose next scheduled drift
// check is due at nowEpoch.
func (s *Service) ListDriftCheckCandidates(ctx context.Context, nowEpoch int64) ([]model.Deployment, error) {
	res, err := s.backend.ReadItems(ctx, backend.TableDeployments, query.DriftCheckCandidates(nowEpoch))
	if err != nil {
		return nil, fmt.Errorf("listing drift check candidates: %w", err)
	}
	deployments := make([]model.Deployment, 0, len(res.Items))
	for _, item := range res.Items {
		var d model.Deployment
		if err := backend.UnmarshalItem(item, &d); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, nil
}

// ListEvents returns a deployment's event trail in epoch order.
func (s *Service) ListEvents(ctx context.Context, project, region, environment, deploymentID string) ([]model.Event, error) {
	res, err := s.backend.ReadItems(ctx, backend.TableEvents, query.Events(project, region, environment, deploymentID))
	if err != nil {
		return nil, fmt.Errorf("listing events of %s: %w", deploymentID, err)
	}
	events := make([]model.Event, 0, len(res.Items))
	for _, item := range res.Items {
		var e model.Event
		if err := backend.UnmarshalItem(item, &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// InsertEvent appends one event to a deployment's trail.
func (s *Service) InsertEvent(ctx context.Context, e model.Event) error {
	item, err := backend.MarshalItem(e, map[string]any{
		"PK":             identity.EventPK(e.ProjectID, e.Region, e.Environment, e.DeploymentID),
		"SK":             identity.EventSK(e.Epoch, e.JobID, e.Status),
		"PK_base_region": identity.EventPKBaseRegion(e.Region),
	})
	if err != nil {
		return err
	}
	return s.backend.TransactWrite(ctx, []backend.TransactOp{
		{Table: backend.TableEvents, Put: item},
	})
}

// GetChangeRecord reads the audit record one job wrote for a change type.
func (s *Service) GetChangeRecord(ctx context.Context, changeType, project, region, environment, deploymentID, jobID string) (*model.ChangeRecord, error) {
	res, err := s.backend.ReadItems(ctx, backend.TableChangeRecords,
		query.ChangeRecord(changeType, project, region, environment, deploymentID, jobID))
	if err != nil {
		return nil, fmt.Errorf("reading change record of job %s: %w", jobID, err)
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	var record model.ChangeRecord
	if err := backend.UnmarshalItem(res.Items[0], &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// InsertChangeRecord stores the audit record of one plan or apply.
func (s *Service) InsertChangeRecord(ctx context.Context, record model.ChangeRecord) error {
	item, err := backend.MarshalItem(record, map[string]any{
		"PK": identity.ChangeRecordPK(record.ChangeType, record.ProjectID, record.Region, record.Environment, record.DeploymentID),
		"SK": record.JobID,
	})
	if err != nil {
		return err
	}
	return s.backend.TransactWrite(ctx, []backend.TransactOp{
		{Table: backend.TableChangeRecords, Put: item},
	})
}

// SetDeployment upserts a deployment or plan row and keeps the DEPENDENT#
// edges consistent in the same transaction. The write is conditioned on the
// epoch the row held when read; a conflict means another writer got in
// between and the whole read-diff-write is retried.
func (s *Service) SetDeployment(ctx context.Context, d model.Deployment, isPlan bool) error {
	var err error
	for attempt := 0; attempt < maxEpochRetries; attempt++ {
		err = s.trySetDeployment(ctx, d, isPlan)
		if err == nil || !backend.IsConflict(err) {
			return err
		}
		logrus.Debugf("concurrent write on deployment %s, retrying", d.DeploymentID)
	}
	return fmt.Errorf("deployment %s: %w", d.DeploymentID, err)
}

func (s *Service) trySetDeployment(ctx context.Context, d model.Deployment, isPlan bool) error {
	pk := identity.DeploymentPK(d.ProjectID, d.Region, d.Environment, d.DeploymentID)
	sk := identity.MetadataSK
	if isPlan {
		pk = identity.PlanPK(d.ProjectID, d.Region, d.Environment, d.DeploymentID)
		sk = d.JobID
	}

	existing, err := s.readRaw(ctx, pk, sk)
	if err != nil {
		return err
	}

	d.Epoch = util.Epoch()
	deleted := bool(d.Deleted)
	attrs := map[string]any{
		"PK":         pk,
		"SK":         sk,
		"deleted":    deletedInt(deleted),
		"deleted_PK": identity.DeletedPK(deleted, pk),
	}
	if !isPlan {
		// Index attributes only exist on metadata rows; plan rows must not
		// surface in the deployment indexes.
		attrs["deleted_PK_base"] = identity.DeletedPKBase(deleted, d.ProjectID, d.Region)
		attrs["module_PK_base"] = identity.ModulePKBase(d.Module, d.ProjectID, d.Region)
		attrs["deleted_SK_base"] = identity.DeletedSKBase(deleted, sk)
	}
	item, err := backend.MarshalItem(d, attrs)
	if err != nil {
		return err
	}

	put := backend.TransactOp{Table: backend.TableDeployments, Put: item}
	if existing == nil {
		put.Condition = "attribute_not_exists(PK)"
	} else {
		put.Condition = "epoch = :epoch"
		put.Values = map[string]any{":epoch": existing["epoch"]}
	}
	ops := []backend.TransactOp{put}

	if !isPlan {
		edgeOps, err := s.dependentEdgeOps(ctx, d, pk, existing)
		if err != nil {
			return err
		}
		ops = append(ops, edgeOps...)
	}
	return s.backend.TransactWrite(ctx, ops)
}

// dependentEdgeOps maintains the DEPENDENT# sibling rows. A destroyed
// deployment removes its edges in both directions; a live write diffs the
// old and new dependency sets and adds or removes only what changed.
func (s *Service) dependentEdgeOps(ctx context.Context, d model.Deployment, ownPK string, existing map[string]any) ([]backend.TransactOp, error) {
	selfSK := identity.DependentSK(identity.Deployment(d.ProjectID, d.Region, d.Environment, d.DeploymentID))

	if d.Deleted {
		var ops []backend.TransactOp
		dependents, err := s.backend.ReadItems(ctx, backend.TableDeployments, backend.Query{
			KeyCondition: "PK = :pk AND begins_with(SK, :prefix)",
			Values:       map[string]any{":pk": ownPK, ":prefix": "DEPENDENT#"},
		})
		if err != nil {
			return nil, fmt.Errorf("reading dependants of %s: %w", d.DeploymentID, err)
		}
		for _, item := range dependents.Items {
			ops = append(ops, backend.TransactOp{
				Table:  backend.TableDeployments,
				Delete: map[string]string{"PK": ownPK, "SK": fmt.Sprintf("%v", item["SK"])},
			})
		}
		for _, dep := range d.Dependencies {
			ops = append(ops, backend.TransactOp{
				Table:  backend.TableDeployments,
				Delete: map[string]string{"PK": dependencyPK(dep), "SK": selfSK},
			})
		}
		return ops, nil
	}

	oldDeps := map[string]model.Dependency{}
	if existing != nil {
		var prior model.Deployment
		if err := backend.UnmarshalItem(existing, &prior); err != nil {
			return nil, err
		}
		for _, dep := range prior.Dependencies {
			oldDeps[dependencyPK(dep)] = dep
		}
	}
	newDeps := map[string]model.Dependency{}
	for _, dep := range d.Dependencies {
		newDeps[dependencyPK(dep)] = dep
	}

	selfID := identity.Deployment(d.ProjectID, d.Region, d.Environment, d.DeploymentID)
	var ops []backend.TransactOp
	for depPK, dep := range newDeps {
		if _, kept := oldDeps[depPK]; kept {
			continue
		}
		// A new edge is refused when the dependency already reaches back to
		// this deployment; such a loop would trap both behind the gate.
		cyclic, err := s.reaches(ctx, dep, selfID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, backend.NewError(backend.ErrKindValidation,
				fmt.Sprintf("dependency cycle: %s transitively depends on %s", dep.DeploymentID, d.DeploymentID))
		}
		edge, err := backend.MarshalItem(model.Dependent{
			DependentID: d.DeploymentID,
			ProjectID:   d.ProjectID,
			Region:      d.Region,
			Module:      d.Module,
			Environment: d.Environment,
		}, map[string]any{
			"PK":      depPK,
			"SK":      selfSK,
			"deleted": 0,
		})
		if err != nil {
			return nil, err
		}
		ops = append(ops, backend.TransactOp{Table: backend.TableDeployments, Put: edge})
	}
	for depPK := range oldDeps {
		if _, kept := newDeps[depPK]; kept {
			continue
		}
		ops = append(ops, backend.TransactOp{
			Table:  backend.TableDeployments,
			Delete: map[string]string{"PK": depPK, "SK": selfSK},
		})
	}
	return ops, nil
}

// reaches walks the dependency graph breadth first from start and reports
// whether the target identifier is reachable.
func (s *Service) reaches(ctx context.Context, start model.Dependency, target string) (bool, error) {
	visited := map[string]bool{}
	queue := []model.Dependency{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		id := identity.Deployment(cur.ProjectID, cur.Region, cur.Environment, cur.DeploymentID)
		if id == target {
			return true, nil
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		row, err := s.readRaw(ctx, dependencyPK(cur), identity.MetadataSK)
		if err != nil {
			return false, err
		}
		if row == nil {
			continue
		}
		var dep model.Deployment
		if err := backend.UnmarshalItem(row, &dep); err != nil {
			return false, err
		}
		queue = append(queue, dep.Dependencies...)
	}
	return false, nil
}

func dependencyPK(dep model.Dependency) string {
	return identity.DeploymentPK(dep.ProjectID, dep.Region, dep.Environment, dep.DeploymentID)
}

func deletedInt(deleted bool) int {
	if deleted {
		return 1
	}
	return 0
}

// readRaw reads one row by key without any deleted filter; destroyed rows
// still carry the epoch the conditional write needs.
func (s *Service) readRaw(ctx context.Context, pk, sk string) (map[string]any, error) {
	res, err := s.backend.ReadItems(ctx, backend.TableDeployments, backend.Query{
		KeyCondition: "PK = :pk AND SK = :sk",
		Values:       map[string]any{":pk": pk, ":sk": sk},
		Limit:        1,
	})
	if err != nil {
		return nil, fmt.Errorf("reading deployment row: %w", err)
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	return res.Items[0], nil
}

func (s *Service) readOne(ctx context.Context, q backend.Query) (*model.Deployment, error) {
	res, err := s.backend.ReadItems(ctx, backend.TableDeployments, q)
	if err != nil {
		if backend.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	var d model.Deployment
	if err := backend.UnmarshalItem(res.Items[0], &d); err != nil {
		return nil, err
	}
	return &d, nil
}
