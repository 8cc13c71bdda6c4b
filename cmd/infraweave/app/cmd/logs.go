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
)

func NewCmdGetLogs() *cobra.Command {
	var project, region string
	cmd := &cobra.Command{
		Use:   "get-logs <job-id>",
		Short: "Print the runner logs of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			if project == "" {
				project = b.ProjectID()
			}
			if region == "" {
				region = b.Region()
			}
			entries, err := b.ReadLogs(cmd.Context(), project, region, args[0])
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintln(cmd.OutOrStdout(), entry.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id, defaults to the current account")
	cmd.Flags().StringVar(&region, "region", "", "region, defaults to the current region")
	return cmd
}
