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

package deployment

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

// launchRetryInterval paces retries while the runner pool has no capacity.
// Swappable for tests.
var launchRetryInterval = time.Second

// SubmitJob launches a runner for the payload and writes the requested state.
// A deployment with a job already in flight is not re-dispatched; its current
// job id is returned instead.
func (s *Service) SubmitJob(ctx context.Context, payload model.InfraPayload) (string, error) {
	inProgress, jobID, _, err := s.InProgress(ctx, payload.ProjectID, payload.Region, payload.Environment, payload.DeploymentID)
	if err != nil {
		return "", err
	}
	if inProgress {
		logrus.Infof("deployment %s already has job %s in flight, skipping", payload.DeploymentID, jobID)
		return jobID, nil
	}

	jobID, err = s.launch(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("launching job for %s: %w", payload.DeploymentID, err)
	}

	handler := NewStatusHandler(s, payload, model.StatusRequested, jobID)
	if err := handler.SendEvent(ctx); err != nil {
		return "", err
	}
	if err := handler.SendDeployment(ctx); err != nil {
		return "", err
	}
	return jobID, nil
}

// launch starts the runner task, waiting out transient capacity exhaustion
// with a constant backoff.
func (s *Service) launch(ctx context.Context, payload model.InfraPayload) (string, error) {
	var jobID string
	operation := func() error {
		id, err := s.backend.LaunchJob(ctx, payload)
		if err != nil {
			if backend.IsNoAvailableRunner(err) {
				logrus.Warnf("no runner capacity for %s, retrying", payload.DeploymentID)
				return err
			}
			return backoff.Permanent(err)
		}
		jobID = id
		return nil
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(launchRetryInterval), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return jobID, nil
}

// InProgress reports whether a deployment currently has a job in flight,
// along with the job id and the row when it exists.
func (s *Service) InProgress(ctx context.Context, project, region, environment, deploymentID string) (bool, string, *model.Deployment, error) {
	d, err := s.GetDeployment(ctx, project, region, environment, deploymentID)
	if err != nil {
		return false, "", nil, err
	}
	if d == nil {
		return false, "", nil, nil
	}
	if model.IsBusy(d.Status) {
		return true, d.JobID, d, nil
	}
	return false, "", d, nil
}

// PlanInProgress is InProgress for the plan row of one job.
func (s *Service) PlanInProgress(ctx context.Context, project, region, environment, deploymentID, jobID string) (bool, *model.Deployment, error) {
	d, err := s.GetPlanDeployment(ctx, project, region, environment, deploymentID, jobID)
	if err != nil {
		return false, nil, err
	}
	if d == nil {
		return false, nil, nil
	}
	return model.IsBusy(d.Status), d, nil
}

// Destroy dispatches a destroy job for an existing deployment, reusing the
// stored module pin and variables.
func (s *Service) Destroy(ctx context.Context, project, region, environment, deploymentID string) (string, error) {
	d, err := s.GetDeployment(ctx, project, region, environment, deploymentID)
	if err != nil {
		return "", err
	}
	if d == nil {
		return "", fmt.Errorf("deployment %s not found in environment %s", deploymentID, environment)
	}
	initiatedBy, err := s.backend.UserID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving caller identity: %w", err)
	}
	return s.SubmitJob(ctx, payloadFromDeployment(d, model.CommandDestroy, nil, initiatedBy))
}

// DriftCheck dispatches a drift check. Without remediation it is a
// refresh-only plan attributed to the original initiator; with remediation
// it is a full apply attributed to the caller.
func (s *Service) DriftCheck(ctx context.Context, project, region, environment, deploymentID string, remediate bool) (string, error) {
	d, err := s.GetDeployment(ctx, project, region, environment, deploymentID)
	if err != nil {
		return "", err
	}
	if d == nil {
		return "", fmt.Errorf("deployment %s not found in environment %s", deploymentID, environment)
	}

	command := model.CommandPlan
	var flags []string
	initiatedBy := d.InitiatedBy
	if remediate {
		command = model.CommandApply
		initiatedBy, err = s.backend.UserID(ctx)
		if err != nil {
			return "", fmt.Errorf("resolving caller identity: %w", err)
		}
	} else {
		flags = []string{"-refresh-only"}
	}
	return s.SubmitJob(ctx, payloadFromDeployment(d, command, flags, initiatedBy))
}

// payloadFromDeployment rebuilds a job payload from a stored row. The drift
// check schedule is suspended while the new job runs.
func payloadFromDeployment(d *model.Deployment, command string, flags []string, initiatedBy string) model.InfraPayload {
	return model.InfraPayload{
		Command:             command,
		Flags:               flags,
		Module:              d.Module,
		ModuleVersion:       d.ModuleVersion,
		ModuleType:          d.ModuleType,
		ModuleTrack:         d.ModuleTrack,
		Environment:         d.Environment,
		DeploymentID:        d.DeploymentID,
		ProjectID:           d.ProjectID,
		Region:              d.Region,
		DriftDetection:      d.DriftDetection,
		NextDriftCheckEpoch: -1,
		Variables:           d.Variables,
		Dependencies:        d.Dependencies,
		InitiatedBy:         initiatedBy,
		CPU:                 d.CPU,
		Memory:              d.Memory,
		Reference:           d.Reference,
	}
}
