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

// Package backend abstracts the cloud services the control plane runs on: a
// composite-key document store, a blob store, a job launcher, log retrieval
// and notifications. Two implementations exist, selected at startup from the
// CLOUD_PROVIDER configuration value.
package backend

import (
	"context"
	"io"
	"time"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

// Logical table names. Implementations map these to physical tables.
const (
	TableModules       = "modules"
	TableDeployments   = "deployments"
	TableEvents        = "events"
	TablePolicies      = "policies"
	TableChangeRecords = "change_records"
	TableConfig        = "config"
)

// Logical bucket names.
const (
	BucketModules       = "modules"
	BucketPolicies      = "policies"
	BucketChangeRecords = "change_records"
	BucketProviders     = "providers"
)

// MaxTransactItems is the largest atomic write batch the store supports.
const MaxTransactItems = 25

// ReadResult is a page of items plus an opaque continuation cursor.
type ReadResult struct {
	Items  []map[string]any
	Cursor string
}

// Credentials are the short-lived keys returned by AssumeRole.
type Credentials struct {
	AccessKeyID     string    `json:"access_key_id"`
	SecretAccessKey string    `json:"secret_access_key"`
	SessionToken    string    `json:"session_token"`
	Expiration      time.Time `json:"expiration"`
}

// Project describes one onboarded cloud account.
type Project struct {
	ProjectID    string   `json:"project_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Regions      []string `json:"regions"`
	Repositories []string `json:"repositories,omitempty"`
}

// Backend is the capability set the rest of the system consumes. All calls
// take a context; blocking cloud calls honor its cancellation.
type Backend interface {
	// ReadItems runs one query against a logical table and returns a page.
	ReadItems(ctx context.Context, table string, q Query) (*ReadResult, error)
	// TransactWrite applies every op atomically, up to MaxTransactItems.
	TransactWrite(ctx context.Context, ops []TransactOp) error

	UploadBlob(ctx context.Context, bucket, key string, body io.Reader) error
	DownloadBlob(ctx context.Context, bucket, key string) ([]byte, error)
	PresignDownload(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)

	// LaunchJob starts a runner task for the payload and returns its job id.
	LaunchJob(ctx context.Context, payload model.InfraPayload) (string, error)
	JobStatus(ctx context.Context, jobID string) (model.JobState, error)
	// CurrentJobID identifies the job the calling process runs inside.
	CurrentJobID(ctx context.Context) (string, error)

	ReadLogs(ctx context.Context, project, region, jobID string) ([]model.LogEntry, error)
	PublishNotification(ctx context.Context, n model.Notification) error

	// AssumeRole trades the backend's own identity for temporary credentials
	// in another account, used when a job crosses project boundaries.
	AssumeRole(ctx context.Context, roleARN string, duration time.Duration) (*Credentials, error)

	// ProjectMap lists all onboarded projects; AllRegions the enabled regions.
	ProjectMap(ctx context.Context) ([]Project, error)
	AllRegions(ctx context.Context) ([]string, error)

	// ProjectID and Region identify the backend's own scope.
	ProjectID() string
	Region() string
	// UserID identifies the calling principal for initiated_by fields.
	UserID(ctx context.Context) (string, error)
}
