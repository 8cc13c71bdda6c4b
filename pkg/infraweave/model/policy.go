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

// Policy is a catalog row for one published policy version.
type Policy struct {
	Environment        string         `json:"environment"`
	EnvironmentVersion string         `json:"environment_version"`
	Version            string         `json:"version"`
	Timestamp          string         `json:"timestamp"`
	PolicyName         string         `json:"policy_name"`
	Policy             string         `json:"policy"`
	Description        string         `json:"description"`
	Reference          string         `json:"reference"`
	Data               map[string]any `json:"data"`
	Manifest           PolicyManifest `json:"manifest"`
	S3Key              string         `json:"s3_key"`
}

type PolicySpec struct {
	PolicyName  string         `json:"policyName" yaml:"policyName"`
	Version     string         `json:"version" yaml:"version"`
	Description string         `json:"description" yaml:"description"`
	Reference   string         `json:"reference" yaml:"reference"`
	Data        map[string]any `json:"data" yaml:"data"`
}

// PolicyManifest is the user-facing policy.yaml document.
type PolicyManifest struct {
	APIVersion string     `json:"apiVersion" yaml:"apiVersion"`
	Kind       string     `json:"kind" yaml:"kind"`
	Metadata   Metadata   `json:"metadata" yaml:"metadata"`
	Spec       PolicySpec `json:"spec" yaml:"spec"`
}

// PolicyResult is the outcome of evaluating one policy against a plan.
type PolicyResult struct {
	Policy      string `json:"policy"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Description string `json:"description"`
	PolicyName  string `json:"policy_name"`
	Failed      bool   `json:"failed"`
	Violations  any    `json:"violations"`
}
