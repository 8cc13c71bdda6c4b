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

// Package model holds the entities stored by the control plane: modules,
// stacks, policies, deployments, events and change records. Field names in
// JSON tags match the storage schema; manifests additionally carry YAML tags
// matching the user-facing camelCase documents.
package model

import "encoding/json"

// TfVariable is one variable block extracted from a module's Terraform
// source. Type is kept as raw JSON because Terraform type expressions can be
// either a bare keyword or a constructor such as list(string).
type TfVariable struct {
	Name        string          `json:"name"`
	Type        json.RawMessage `json:"type"`
	Default     json.RawMessage `json:"default,omitempty"`
	Description string          `json:"description,omitempty"`
	Nullable    bool            `json:"nullable"`
	Sensitive   bool            `json:"sensitive"`
}

// TypeString returns the type expression as a plain string, without JSON
// quoting, e.g. "string" or "list(string)".
func (v TfVariable) TypeString() string {
	var s string
	if err := json.Unmarshal(v.Type, &s); err == nil {
		return s
	}
	return string(v.Type)
}

// Required reports whether the variable must be supplied by a claim.
func (v TfVariable) Required() bool {
	return v.Default == nil
}

type TfOutput struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// TfRequiredProvider is one entry of a required_providers block.
type TfRequiredProvider struct {
	Name    string `json:"name"`
	Source  string `json:"source"`
	Version string `json:"version"`
}

// TfLockProvider is one provider pin from .terraform.lock.hcl.
type TfLockProvider struct {
	Source  string `json:"source"`
	Version string `json:"version"`
}

// StackModule points at one module version bundled into a stack.
type StackModule struct {
	Module  string `json:"module"`
	Version string `json:"version"`
	S3Key   string `json:"s3_key"`
}

type ModuleStackData struct {
	Modules []StackModule `json:"modules"`
}

type ModuleDiffAddition struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

type ModuleDiffRemoval struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

type ModuleDiffChange struct {
	Path     string          `json:"path"`
	OldValue json.RawMessage `json:"old_value"`
	NewValue json.RawMessage `json:"new_value"`
}

// ModuleVersionDiff describes source-level changes against the previous
// version in the same track.
type ModuleVersionDiff struct {
	Added           []ModuleDiffAddition `json:"added"`
	Changed         []ModuleDiffChange   `json:"changed"`
	Removed         []ModuleDiffRemoval  `json:"removed"`
	PreviousVersion string               `json:"previous_version"`
}

// Module is a catalog row for a published module or stack version.
type Module struct {
	Track        string               `json:"track"`
	TrackVersion string               `json:"track_version"`
	Version      string               `json:"version"`
	Timestamp    string               `json:"timestamp"`
	ModuleName   string               `json:"module_name"`
	Module       string               `json:"module"`
	ModuleType   string               `json:"module_type"` // "module" or "stack"
	Description  string               `json:"description"`
	Reference    string               `json:"reference"`
	Manifest     ModuleManifest       `json:"manifest"`
	TfVariables  []TfVariable         `json:"tf_variables"`
	TfOutputs    []TfOutput           `json:"tf_outputs"`
	TfProviders  []TfRequiredProvider `json:"tf_required_providers,omitempty"`
	TfLocks      []TfLockProvider     `json:"tf_lock_providers,omitempty"`
	TfExtraEnv   []string             `json:"tf_extra_environment_variables,omitempty"`
	S3Key        string               `json:"s3_key"`
	CPU          string               `json:"cpu"`
	Memory       string               `json:"memory"`
	StackData    *ModuleStackData     `json:"stack_data,omitempty"`
	VersionDiff  *ModuleVersionDiff   `json:"version_diff,omitempty"`
	Deprecated   bool                 `json:"deprecated,omitempty"`
}

type Metadata struct {
	Name string `json:"name" yaml:"name"`
}

type ModuleExample struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Variables   map[string]any `json:"variables" yaml:"variables"`
}

type ModuleSpec struct {
	ModuleName  string          `json:"moduleName" yaml:"moduleName"`
	Version     string          `json:"version,omitempty" yaml:"version,omitempty"`
	Description string          `json:"description" yaml:"description"`
	Reference   string          `json:"reference" yaml:"reference"`
	CPU         string          `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory      string          `json:"memory,omitempty" yaml:"memory,omitempty"`
	Examples    []ModuleExample `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// ModuleManifest is the user-facing module.yaml document.
type ModuleManifest struct {
	APIVersion string     `json:"apiVersion" yaml:"apiVersion"`
	Kind       string     `json:"kind" yaml:"kind"`
	Metadata   Metadata   `json:"metadata" yaml:"metadata"`
	Spec       ModuleSpec `json:"spec" yaml:"spec"`
}

// StackModuleSpec is one instance entry of a stack manifest.
type StackModuleSpec struct {
	ModuleName   string         `json:"moduleName" yaml:"moduleName"`
	Version      string         `json:"version" yaml:"version"`
	InstanceName string         `json:"instanceName,omitempty" yaml:"instanceName,omitempty"`
	Region       string         `json:"region,omitempty" yaml:"region,omitempty"`
	Variables    map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
}

type StackSpec struct {
	StackName   string            `json:"stackName" yaml:"stackName"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Description string            `json:"description" yaml:"description"`
	Reference   string            `json:"reference" yaml:"reference"`
	Modules     []StackModuleSpec `json:"modules,omitempty" yaml:"modules,omitempty"`
	Examples    []ModuleExample   `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// StackManifest is the user-facing stack.yaml document.
type StackManifest struct {
	APIVersion string    `json:"apiVersion" yaml:"apiVersion"`
	Kind       string    `json:"kind" yaml:"kind"`
	Metadata   Metadata  `json:"metadata" yaml:"metadata"`
	Spec       StackSpec `json:"spec" yaml:"spec"`
}
