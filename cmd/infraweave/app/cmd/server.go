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

	"github.com/infraweave-io/infraweave/pkg/infraweave/server"
)

func NewCmdServer() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv("INFRAWEAVE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("INFRAWEAVE_JWT_SECRET must be set")
			}
			b, err := newBackend(cmd.Context())
			if err != nil {
				return err
			}
			return server.New(b, server.Config{
				Addr:      addr,
				JWTSecret: []byte(secret),
			}).ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8081", "listen address")
	return cmd
}
