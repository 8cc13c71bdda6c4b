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

// The runner binary executes exactly one job inside its container. It reads
// the payload from the PAYLOAD environment variable, runs the terraform
// phase sequence and reports status back through the document store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend/awscloud"
	"github.com/infraweave-io/infraweave/pkg/infraweave/runner"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func run(ctx context.Context) error {
	payload, err := runner.ParsePayload([]byte(os.Getenv("PAYLOAD")))
	if err != nil {
		return err
	}

	workDir := os.Getenv("INFRAWEAVE_WORK_DIR")
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "infraweave-job-")
		if err != nil {
			return err
		}
	}

	b, err := awscloud.New(ctx, awscloud.ConfigFromEnv())
	if err != nil {
		return err
	}
	r := runner.New(b, runner.Config{
		StateBucket: os.Getenv("INFRAWEAVE_STATE_BUCKET"),
		LockTable:   os.Getenv("INFRAWEAVE_LOCK_TABLE"),
		WorkDir:     workDir,
	})

	logrus.Infof("running %s for deployment %s in environment %s",
		payload.Command, payload.DeploymentID, payload.Environment)
	return r.Run(ctx, payload)
}
