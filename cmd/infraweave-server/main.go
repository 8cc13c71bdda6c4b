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

// The server binary serves the REST API standalone, without the CLI wrapper.
// It is the container entrypoint for API deployments; `infraweave server`
// runs the same router for local use.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/backend/awscloud"
	"github.com/infraweave-io/infraweave/pkg/infraweave/backend/docdb"
	"github.com/infraweave-io/infraweave/pkg/infraweave/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func run(ctx context.Context) error {
	secret := os.Getenv("INFRAWEAVE_JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("INFRAWEAVE_JWT_SECRET must be set")
	}
	addr := os.Getenv("INFRAWEAVE_SERVER_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	b, err := newBackend(ctx)
	if err != nil {
		return err
	}

	logrus.Infof("serving the REST API on %s", addr)
	return server.New(b, server.Config{
		Addr:      addr,
		JWTSecret: []byte(secret),
	}).ListenAndServe(ctx)
}

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
