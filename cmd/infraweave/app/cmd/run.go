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

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/catalog"
	"github.com/infraweave-io/infraweave/pkg/infraweave/claim"
	"github.com/infraweave-io/infraweave/pkg/infraweave/deployment"
	"github.com/infraweave-io/infraweave/pkg/infraweave/identity"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

func NewCmdApply() *cobra.Command {
	return newClaimCommand("apply", "Apply every claim in a manifest file", model.CommandApply)
}

func NewCmdPlan() *cobra.Command {
	return newClaimCommand("plan", "Plan every claim in a manifest file without applying", model.CommandPlan)
}

func NewCmdDestroy() *cobra.Command {
	return newClaimCommand("destroy", "Destroy every deployment named by a manifest file", model.CommandDestroy)
}

func newClaimCommand(use, short, command string) *cobra.Command {
	var scope scopeFlags
	cmd := &cobra.Command{
		Use:   use + " <claim.yaml>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			manifests, err := claim.Parse(raw)
			if err != nil {
				return err
			}
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			scope.resolve(b)

			svc := deployment.New(b)
			for _, manifest := range manifests {
				deploymentID := claim.DeploymentID(manifest)
				var jobID string
				if command == model.CommandDestroy {
					jobID, err = svc.Destroy(cmd.Context(), scope.project, scope.region, scope.environment, deploymentID)
				} else {
					jobID, err = submitClaim(cmd, b, scope, manifest, command)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s started as job %s\n", command, deploymentID, jobID)
			}
			return nil
		},
	}
	scope.register(cmd)
	return cmd
}

func submitClaim(cmd *cobra.Command, b backend.Backend, scope scopeFlags, manifest model.DeploymentManifest, command string) (string, error) {
	version, err := claim.Version(manifest)
	if err != nil {
		return "", err
	}
	track, err := identity.VersionTrack(version)
	if err != nil {
		return "", err
	}
	m, err := catalog.New(b).GetModuleVersion(cmd.Context(), claim.ModuleName(manifest), track, version)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("module %s version %s not found in track %s", claim.ModuleName(manifest), version, track)
	}
	initiatedBy, err := b.UserID(cmd.Context())
	if err != nil {
		return "", err
	}
	payload, err := claim.ToPayload(manifest, *m, command, scope.project, scope.region, scope.environment, initiatedBy)
	if err != nil {
		return "", err
	}
	return deployment.New(b).SubmitJob(cmd.Context(), payload)
}
