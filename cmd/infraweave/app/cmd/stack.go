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

	"github.com/infraweave-io/infraweave/pkg/infraweave/catalog"
	"github.com/infraweave-io/infraweave/pkg/infraweave/identity"
)

func NewCmdStack() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Publish and inspect stacks of modules",
	}
	cmd.AddCommand(newCmdStackPublish())
	cmd.AddCommand(newCmdStackList())
	cmd.AddCommand(newCmdStackPreview())
	return cmd
}

func newCmdStackPublish() *cobra.Command {
	var track, version string
	cmd := &cobra.Command{
		Use:   "publish <dir>",
		Short: "Compose and publish a stack version from a source directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			m, err := catalog.New(b).PublishStack(cmd.Context(), args[0], track, version)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published stack %s version %s to track %s\n", m.Module, m.Version, m.Track)
			return nil
		},
	}
	cmd.Flags().StringVar(&track, "track", identity.TrackStable, "release track to publish to")
	cmd.Flags().StringVar(&version, "version", "", "override the manifest version")
	return cmd
}

func newCmdStackList() *cobra.Command {
	var track string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest version of every stack in a track",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			stacks, err := catalog.New(b).ListLatestStacks(cmd.Context(), track)
			if err != nil {
				return err
			}
			printModuleTable(cmd.OutOrStdout(), stacks)
			return nil
		},
	}
	cmd.Flags().StringVar(&track, "track", identity.TrackStable, "release track to list")
	return cmd
}

func newCmdStackPreview() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <dir>",
		Short: "Print the terraform a stack directory would compose to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			composed, err := catalog.New(b).PreviewStack(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# main.tf\n%s\n", composed.MainTf)
			fmt.Fprintf(out, "# variables.tf\n%s\n", composed.VariablesTf)
			fmt.Fprintf(out, "# outputs.tf\n%s\n", composed.OutputsTf)
			return nil
		},
	}
}
