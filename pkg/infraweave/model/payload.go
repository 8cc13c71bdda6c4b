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

// InfraPayload is the full job description handed to a runner. It is
// serialized into the PAYLOAD environment variable of the launched task.
type InfraPayload struct {
	Command             string         `json:"command"`
	Flags               []string       `json:"flags"`
	Module              string         `json:"module"`
	ModuleVersion       string         `json:"module_version"`
	ModuleType          string         `json:"module_type"`
	ModuleTrack         string         `json:"module_track"`
	Name                string         `json:"name"`
	Environment         string         `json:"environment"`
	DeploymentID        string         `json:"deployment_id"`
	ProjectID           string         `json:"project_id"`
	Region              string         `json:"region"`
	DriftDetection      DriftDetection `json:"drift_detection"`
	NextDriftCheckEpoch int64          `json:"next_drift_check_epoch"`
	Variables           map[string]any `json:"variables"`
	Annotations         map[string]any `json:"annotations"`
	Dependencies        []Dependency   `json:"dependencies"`
	InitiatedBy         string         `json:"initiated_by"`
	CPU                 string         `json:"cpu"`
	Memory              string         `json:"memory"`
	Reference           string         `json:"reference"`
}

// JobState is the coarse status of a launched runner task.
type JobState struct {
	State         string `json:"state"`
	StoppedReason string `json:"stopped_reason,omitempty"`
}

// Notification is a message published to the platform notification topic.
type Notification struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// LogEntry is one line read back from the job log store.
type LogEntry struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}
