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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/infraweave-io/infraweave/cmd/infraweave/app/flags"
	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/deployment"
)

// scopeFlags are the project/region/environment selectors shared by the
// deployment verbs. Empty project and region default to the backend's own.
type scopeFlags struct {
	project     string
	region      string
	environment string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.project, "project", "", "project id, defaults to the current account")
	cmd.Flags().StringVar(&f.region, "region", "", "region, defaults to the current region")
	cmd.Flags().Var(flags.NewEnvironmentValue(&f.environment), "environment", "environment, e.g. platform/dev")
	cmd.MarkFlagRequired("environment")
}

func (f *scopeFlags) resolve(b backend.Backend) {
	if f.project == "" {
		f.project = b.ProjectID()
	}
	if f.region == "" {
		f.region = b.Region()
	}
}

func NewCmdDeployment() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployment",
		Short: "Inspect deployments and their history",
	}
	cmd.AddCommand(newCmdDeploymentList())
	cmd.AddCommand(newCmdDeploymentDescribe())
	return cmd
}

func newCmdDeploymentList() *cobra.Command {
	var scope scopeFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the live deployments of an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			scope.resolve(b)
			deployments, err := deployment.New(b).ListDeployments(cmd.Context(), scope.project, scope.region, scope.environment)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "DEPLOYMENT\tMODULE\tVERSION\tSTATUS\tJOB")
			for _, d := range deployments {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.DeploymentID, d.Module, d.ModuleVersion, d.Status, d.JobID)
			}
			return w.Flush()
		},
	}
	scope.register(cmd)
	return cmd
}

func newCmdDeploymentDescribe() *cobra.Command {
	var scope scopeFlags
	var showEvents bool
	cmd := &cobra.Command{
		Use:   "describe <deployment-id>",
		Short: "Show one deployment's full state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			scope.resolve(b)
			svc := deployment.New(b)
			d, err := svc.GetDeployment(cmd.Context(), scope.project, scope.region, scope.environment, args[0])
			if err != nil {
				return err
			}
			if d == nil {
				return fmt.Errorf("deployment %s not found in environment %s", args[0], scope.environment)
			}
			if err := printJSON(cmd.OutOrStdout(), d); err != nil {
				return err
			}
			if !showEvents {
				return nil
			}
			events, err := svc.ListEvents(cmd.Context(), scope.project, scope.region, scope.environment, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "EPOCH\tJOB\tCOMMAND\tSTATUS")
			for _, e := range events {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Epoch, e.JobID, e.Event, e.Status)
			}
			return w.Flush()
		},
	}
	scope.register(cmd)
	cmd.Flags().BoolVar(&showEvents, "events", false, "include the event trail")
	return cmd
}
