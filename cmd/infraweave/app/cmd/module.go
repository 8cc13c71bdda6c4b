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
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/infraweave-io/infraweave/pkg/infraweave/catalog"
	"github.com/infraweave-io/infraweave/pkg/infraweave/identity"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

func NewCmdModule() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "module",
		Short: "Publish and inspect terraform modules",
	}
	cmd.AddCommand(newCmdModulePublish())
	cmd.AddCommand(newCmdModuleList())
	cmd.AddCommand(newCmdModulePrecheck())
	cmd.AddCommand(newCmdModuleGet())
	return cmd
}

func newCmdModulePublish() *cobra.Command {
	var track, version string
	cmd := &cobra.Command{
		Use:   "publish <dir>",
		Short: "Publish a module version from a source directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			m, err := catalog.New(b).PublishModule(cmd.Context(), args[0], track, version)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published module %s version %s to track %s\n", m.Module, m.Version, m.Track)
			return nil
		},
	}
	cmd.Flags().StringVar(&track, "track", identity.TrackStable, "release track to publish to")
	cmd.Flags().StringVar(&version, "version", "", "override the manifest version")
	return cmd
}

func newCmdModuleList() *cobra.Command {
	var track string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest version of every module in a track",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			modules, err := catalog.New(b).ListLatestModules(cmd.Context(), track)
			if err != nil {
				return err
			}
			printModuleTable(cmd.OutOrStdout(), modules)
			return nil
		},
	}
	cmd.Flags().StringVar(&track, "track", identity.TrackStable, "release track to list")
	return cmd
}

func newCmdModulePrecheck() *cobra.Command {
	var track string
	cmd := &cobra.Command{
		Use:   "precheck <dir>",
		Short: "Validate a module source directory without publishing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := catalog.PrecheckModule(args[0], track); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "precheck passed")
			return nil
		},
	}
	cmd.Flags().StringVar(&track, "track", identity.TrackStable, "release track to check against")
	return cmd
}

func newCmdModuleGet() *cobra.Command {
	var track string
	cmd := &cobra.Command{
		Use:   "get <module> [version]",
		Short: "Show one module version, or the latest",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			c := catalog.New(b)
			var m *model.Module
			if len(args) == 2 {
				m, err = c.GetModuleVersion(cmd.Context(), args[0], track, args[1])
			} else {
				m, err = c.GetLatestModuleVersion(cmd.Context(), args[0], track)
			}
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("module %s not found in track %s", args[0], track)
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().StringVar(&track, "track", identity.TrackStable, "release track to read")
	return cmd
}

func printModuleTable(out io.Writer, modules []model.Module) {
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tVERSION\tTRACK\tDESCRIPTION")
	for _, m := range modules {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Module, m.Version, m.Track, m.Description)
	}
	w.Flush()
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
