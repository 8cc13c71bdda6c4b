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

// Package cmd builds the infraweave command tree.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/backend/awscloud"
	"github.com/infraweave-io/infraweave/pkg/infraweave/backend/docdb"
)

var verbosity string

// NewInfraweaveCommand builds the root command and all verbs.
func NewInfraweaveCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "infraweave",
		Short:         "infraweave is a control plane for terraform modules, stacks and deployments",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logrus.ParseLevel(verbosity)
			if err != nil {
				return fmt.Errorf("parsing verbosity %q: %w", verbosity, err)
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", logrus.WarnLevel.String(),
		"log level: debug, info, warn, error")

	root.AddCommand(NewCmdModule())
	root.AddCommand(NewCmdStack())
	root.AddCommand(NewCmdPolicy())
	root.AddCommand(NewCmdDeployment())
	root.AddCommand(NewCmdApply())
	root.AddCommand(NewCmdPlan())
	root.AddCommand(NewCmdDestroy())
	root.AddCommand(NewCmdDriftcheck())
	root.AddCommand(NewCmdGetLogs())
	root.AddCommand(NewCmdServer())
	return root
}

// newBackend builds the platform backend selected by CLOUD_PROVIDER. The
// document store may be moved to a relational database with
// INFRAWEAVE_DATABASE_URL; every other capability stays on the cloud client.
func newBackend(ctx context.Context) (backend.Backend, error) {
	provider := os.Getenv("CLOUD_PROVIDER")
	if provider == "" {
		provider = "aws"
	}
	if provider != "aws" {
		return nil, fmt.Errorf("unsupported CLOUD_PROVIDER %q", provider)
	}
	cloud, err := awscloud.New(ctx, awscloud.ConfigFromEnv())
	if err != nil {
		return nil, err
	}
	if dsn := os.Getenv("INFRAWEAVE_DATABASE_URL"); dsn != "" {
		return docdb.Connect(dsn, "infraweave_", cloud)
	}
	return cloud, nil
}
