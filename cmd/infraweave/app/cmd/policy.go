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

	"github.com/infraweave-io/infraweave/pkg/infraweave/catalog"
	"github.com/infraweave-io/infraweave/pkg/infraweave/identity"
)

func NewCmdPolicy() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Publish and inspect rego policies",
	}
	cmd.AddCommand(newCmdPolicyPublish())
	cmd.AddCommand(newCmdPolicyList())
	return cmd
}

func newCmdPolicyPublish() *cobra.Command {
	var environment string
	cmd := &cobra.Command{
		Use:   "publish <dir>",
		Short: "Publish a policy version from a source directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			p, err := catalog.New(b).PublishPolicy(cmd.Context(), args[0], environment)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published policy %s version %s to environment %s\n",
				p.Policy, p.Version, p.Environment)
			return nil
		},
	}
	cmd.Flags().StringVar(&environment, "environment", identity.TrackStable, "policy environment to publish to")
	return cmd
}

func newCmdPolicyList() *cobra.Command {
	var environment string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the current version of every policy in an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			policies, err := catalog.New(b).ListPolicies(cmd.Context(), environment)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "POLICY\tVERSION\tENVIRONMENT\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Policy, p.Version, p.Environment, p.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&environment, "environment", identity.TrackStable, "policy environment to list")
	return cmd
}
