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

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

// UnreadyDependencies returns the deployment ids of declared dependencies
// that are not yet successful. An apply must wait until the list is empty.
func (s *Service) UnreadyDependencies(ctx context.Context, deps []model.Dependency) ([]string, error) {
	var unready []string
	for _, dep := range deps {
		d, err := s.GetDeployment(ctx, dep.ProjectID, dep.Region, dep.Environment, dep.DeploymentID)
		if err != nil {
			return nil, err
		}
		if d == nil || d.Status != model.StatusSuccessful {
			unready = append(unready, dep.DeploymentID)
		}
	}
	return unready, nil
}

// HasLiveDependants reports whether any other deployment still depends on
// this one. A destroy must abort while this holds.
func (s *Service) HasLiveDependants(ctx context.Context, project, region, environment, deploymentID string) (bool, error) {
	dependents, err := s.GetDependants(ctx, project, region, environment, deploymentID)
	if err != nil {
		return false, err
	}
	return len(dependents) > 0, nil
}

// RequeueDependants schedules a remediating drift check for every dependent
// of a deployment that just completed successfully. The checks run in
// parallel; each one rewrites the dependent's state and cascades further.
func (s *Service) RequeueDependants(ctx context.Context, project, region, environment, deploymentID string) error {
	dependents, err := s.GetDependants(ctx, project, region, environment, deploymentID)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, dep := range dependents {
		dep := dep
		g.Go(func() error {
			logrus.Infof("requeueing dependent %s after %s completed", dep.DependentID, deploymentID)
			_, err := s.DriftCheck(ctx, dep.ProjectID, dep.Region, dep.Environment, dep.DependentID, true)
			return err
		})
	}
	return g.Wait()
}
