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

	"github.com/spf13/cobra"

	"github.com/infraweave-io/infraweave/pkg/infraweave/deployment"
)

func NewCmdDriftcheck() *cobra.Command {
	var scope scopeFlags
	var remediate bool
	cmd := &cobra.Command{
		Use:     "drift-check <deployment-id>",
		Aliases: []string{"driftcheck"},
		Short:   "Run a refresh-only plan against a deployment's recorded state",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			scope.resolve(b)
			jobID, err := deployment.New(b).DriftCheck(cmd.Context(), scope.project, scope.region, scope.environment, args[0], remediate)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "drift check of %s started as job %s\n", args[0], jobID)
			return nil
		},
	}
	scope.register(cmd)
	cmd.Flags().BoolVar(&remediate, "remediate", false, "apply the recorded configuration instead of only detecting drift")
	return cmd
}
