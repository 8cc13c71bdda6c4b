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

package model

import (
	"fmt"
	"strings"
)

// DefaultDriftDetectionInterval applies when a claim enables drift detection
// without choosing an interval.
const DefaultDriftDetectionInterval = "1h"

// StoredBool is a boolean persisted as the integer 0 or 1, because the
// store's secondary indexes cannot key on booleans. It decodes from either
// representation and marshals as a plain boolean everywhere else.
type StoredBool bool

func (b *StoredBool) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "1", "true":
		*b = true
	case "0", "false", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean marker %q", data)
	}
	return nil
}

// Webhook is a drift notification target.
type Webhook struct {
	URL string `json:"url" yaml:"url"`
}

// DriftDetection configures scheduled refresh-only plans for a deployment.
type DriftDetection struct {
	Enabled       bool      `json:"enabled" yaml:"enabled"`
	Interval      string    `json:"interval" yaml:"interval"`
	AutoRemediate bool      `json:"auto_remediate" yaml:"autoRemediate"`
	Webhooks      []Webhook `json:"webhooks" yaml:"webhooks"`
}

// Dependency is a deployment's declared upstream. The full composite key is
// carried so the dependency can live in another project or region later on.
type Dependency struct {
	ProjectID    string `json:"project_id"`
	Region       string `json:"region"`
	DeploymentID string `json:"deployment_id"`
	Environment  string `json:"environment"`
}

// Dependent is the reverse edge, stored as a sibling row under the upstream
// deployment's partition. It carries the dependent's full composite identity
// so a completed upstream can requeue it without a second lookup.
type Dependent struct {
	DependentID string `json:"dependent_id"`
	ProjectID   string `json:"project_id"`
	Region      string `json:"region"`
	Module      string `json:"module"`
	Environment string `json:"environment"`
}

// Deployment is the metadata row of one deployed claim. Exactly one such row
// exists per deployment identifier; history lives in the event trail.
type Deployment struct {
	Epoch               int64          `json:"epoch"`
	DeploymentID        string         `json:"deployment_id"`
	ProjectID           string         `json:"project_id"`
	Region              string         `json:"region"`
	Status              string         `json:"status"`
	JobID               string         `json:"job_id"`
	Environment         string         `json:"environment"`
	Module              string         `json:"module"`
	ModuleVersion       string         `json:"module_version"`
	ModuleType          string         `json:"module_type"`
	ModuleTrack         string         `json:"module_track"`
	Variables           map[string]any `json:"variables"`
	DriftDetection      DriftDetection `json:"drift_detection"`
	NextDriftCheckEpoch int64          `json:"next_drift_check_epoch"`
	HasDrifted          bool           `json:"has_drifted"`
	Output              map[string]any `json:"output"`
	PolicyResults       []PolicyResult `json:"policy_results"`
	ErrorText           string         `json:"error_text"`
	Deleted             StoredBool     `json:"deleted"`
	Dependencies        []Dependency   `json:"dependencies"`
	InitiatedBy         string         `json:"initiated_by"`
	CPU                 string         `json:"cpu"`
	Memory              string         `json:"memory"`
	Reference           string         `json:"reference"`
}

// DeploymentManifest is a user claim document.
type DeploymentManifest struct {
	APIVersion string             `json:"apiVersion" yaml:"apiVersion"`
	Kind       string             `json:"kind" yaml:"kind"`
	Metadata   DeploymentMetadata `json:"metadata" yaml:"metadata"`
	Spec       DeploymentSpec     `json:"spec" yaml:"spec"`
}

type DeploymentMetadata struct {
	Name        string            `json:"name" yaml:"name"`
	Namespace   string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

type DeploymentSpec struct {
	ModuleVersion  string               `json:"moduleVersion,omitempty" yaml:"moduleVersion,omitempty"`
	StackVersion   string               `json:"stackVersion,omitempty" yaml:"stackVersion,omitempty"`
	Region         string               `json:"region" yaml:"region"`
	Reference      string               `json:"reference,omitempty" yaml:"reference,omitempty"`
	Variables      map[string]any       `json:"variables,omitempty" yaml:"variables,omitempty"`
	Dependencies   []DependencyRef      `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	DriftDetection *DriftDetectionSpec  `json:"driftDetection,omitempty" yaml:"driftDetection,omitempty"`
}

// DependencyRef names another claim by kind and name, the way users write
// dependencies in YAML.
type DependencyRef struct {
	Kind      string `json:"kind" yaml:"kind"`
	Name      string `json:"name" yaml:"name"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

type DriftDetectionSpec struct {
	Enabled       bool      `json:"enabled" yaml:"enabled"`
	Interval      string    `json:"interval,omitempty" yaml:"interval,omitempty"`
	AutoRemediate bool      `json:"autoRemediate,omitempty" yaml:"autoRemediate,omitempty"`
	Webhooks      []Webhook `json:"webhooks,omitempty" yaml:"webhooks,omitempty"`
}
