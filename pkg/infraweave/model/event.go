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

// Event is one append-only entry in a deployment's history. Write-once per
// (epoch, job_id, status).
type Event struct {
	ID                  string         `json:"id"`
	DeploymentID        string         `json:"deployment_id"`
	ProjectID           string         `json:"project_id"`
	Region              string         `json:"region"`
	Environment         string         `json:"environment"`
	Event               string         `json:"event"` // command: apply, plan, destroy
	Epoch               int64          `json:"epoch"`
	Status              string         `json:"status"`
	Module              string         `json:"module"`
	Name                string         `json:"name"`
	JobID               string         `json:"job_id"`
	ErrorText           string         `json:"error_text"`
	Metadata            map[string]any `json:"metadata"`
	Output              map[string]any `json:"output"`
	PolicyResults       []PolicyResult `json:"policy_results"`
	DriftDetection      DriftDetection `json:"drift_detection"`
	NextDriftCheckEpoch int64          `json:"next_drift_check_epoch"`
	HasDrifted          bool           `json:"has_drifted"`
	Timestamp           string         `json:"timestamp"`
	InitiatedBy         string         `json:"initiated_by"`
	EventDuration       int64          `json:"event_duration"`
}

// ChangeRecord stores the audit trail of one plan or apply: the textual plan
// output inline (truncated), a blob pointer to the raw plan JSON, and the
// sanitized per-resource and per-variable deltas.
type ChangeRecord struct {
	DeploymentID    string           `json:"deployment_id"`
	ProjectID       string           `json:"project_id"`
	Region          string           `json:"region"`
	JobID           string           `json:"job_id"`
	Module          string           `json:"module"`
	Environment     string           `json:"environment"`
	ChangeType      string           `json:"change_type"` // "PLAN", "APPLY" or "DESTROY"
	ModuleVersion   string           `json:"module_version"`
	Epoch           int64            `json:"epoch"`
	Timestamp       string           `json:"timestamp"`
	PlanStdOutput   string           `json:"plan_std_output"`
	PlanRawJSONKey  string           `json:"plan_raw_json_key"`
	ResourceChanges []ResourceChange `json:"resource_changes,omitempty"`
	VariableChanges *VariableChanges `json:"variable_changes,omitempty"`
}

// ResourceChange is one entry of a plan's resource_changes with sensitive
// values redacted.
type ResourceChange struct {
	Address string `json:"address"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Action  string `json:"action"`
	Before  any    `json:"before,omitempty"`
	After   any    `json:"after,omitempty"`
}

// VariableChanges compares the variables of two consecutive jobs.
type VariableChanges struct {
	Added     map[string]any           `json:"added"`
	Removed   map[string]any           `json:"removed"`
	Changed   map[string]VariableDelta `json:"changed"`
	Unchanged map[string]any           `json:"unchanged"`
}

type VariableDelta struct {
	Before any `json:"before"`
	After  any `json:"after"`
}
