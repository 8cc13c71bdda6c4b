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

// Package claim turns user-written deployment manifests into validated job
// payloads. A claim names a module or stack by kind, pins its version and
// supplies camelCase variables; processing resolves the catalog entry,
// validates the variable surface and emits an InfraPayload.
package claim

import (
	"fmt"
	"strings"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
	yamlutil "github.com/infraweave-io/infraweave/pkg/infraweave/yaml"
)

// APIVersion is the only accepted claim apiVersion.
const APIVersion = "infraweave.io/v1"

// Parse reads every YAML document in data as a deployment manifest.
func Parse(data []byte) ([]model.DeploymentManifest, error) {
	docs, err := yamlutil.UnmarshalAll(data)
	if err != nil {
		return nil, fmt.Errorf("parsing claim: %w", err)
	}
	manifests := make([]model.DeploymentManifest, 0, len(docs))
	for _, doc := range docs {
		var manifest model.DeploymentManifest
		if err := yamlutil.UnmarshalStrict(doc, &manifest); err != nil {
			return nil, fmt.Errorf("parsing claim: %w", err)
		}
		if manifest.APIVersion != APIVersion {
			return nil, fmt.Errorf("unsupported apiVersion %q, expected %q", manifest.APIVersion, APIVersion)
		}
		if manifest.Metadata.Name == "" {
			return nil, fmt.Errorf("claim of kind %q is missing metadata.name", manifest.Kind)
		}
		manifests = append(manifests, manifest)
	}
	return manifests, nil
}

// ModuleName returns the catalog slug a claim targets: its kind, lowercased.
func ModuleName(manifest model.DeploymentManifest) string {
	return strings.ToLower(manifest.Kind)
}

// DeploymentID returns "<kind-lowercase>/<name>".
func DeploymentID(manifest model.DeploymentManifest) string {
	return ModuleName(manifest) + "/" + manifest.Metadata.Name
}

// IsStack reports whether the claim targets a stack. Stacks pin
// spec.stackVersion instead of spec.moduleVersion.
func IsStack(manifest model.DeploymentManifest) bool {
	return manifest.Spec.ModuleVersion == "" && manifest.Spec.StackVersion != ""
}

// Version returns the pinned module or stack version.
func Version(manifest model.DeploymentManifest) (string, error) {
	if manifest.Spec.ModuleVersion != "" {
		return manifest.Spec.ModuleVersion, nil
	}
	if manifest.Spec.StackVersion != "" {
		return manifest.Spec.StackVersion, nil
	}
	return "", fmt.Errorf("claim %q pins neither moduleVersion nor stackVersion", manifest.Metadata.Name)
}

// DriftDetection applies the claim's drift settings over the defaults:
// disabled, 1h interval, no webhooks.
func DriftDetection(manifest model.DeploymentManifest) model.DriftDetection {
	dd := model.DriftDetection{
		Interval: model.DefaultDriftDetectionInterval,
		Webhooks: []model.Webhook{},
	}
	spec := manifest.Spec.DriftDetection
	if spec == nil {
		return dd
	}
	dd.Enabled = spec.Enabled
	dd.AutoRemediate = spec.AutoRemediate
	if spec.Interval != "" {
		dd.Interval = spec.Interval
	}
	if spec.Webhooks != nil {
		dd.Webhooks = spec.Webhooks
	}
	return dd
}

// Dependencies resolves the claim's dependency references to full composite
// identifiers. A reference's namespace, when set, replaces the namespace
// segment of the claim's environment.
func Dependencies(manifest model.DeploymentManifest, project, region, environment string) []model.Dependency {
	deps := make([]model.Dependency, 0, len(manifest.Spec.Dependencies))
	for _, ref := range manifest.Spec.Dependencies {
		env := environment
		if ref.Namespace != "" {
			parts := strings.SplitN(environment, "/", 2)
			env = parts[0] + "/" + ref.Namespace
		}
		deps = append(deps, model.Dependency{
			ProjectID:    project,
			Region:       region,
			DeploymentID: strings.ToLower(ref.Kind) + "/" + ref.Name,
			Environment:  env,
		})
	}
	return deps
}

// Variables converts the claim's camelCase variables to the snake_case
// surface Terraform expects. Stack claims flatten one level of nesting with
// a double-underscore join so each sub-map addresses one instance.
func Variables(manifest model.DeploymentManifest, isStack bool) map[string]any {
	if manifest.Spec.Variables == nil {
		return map[string]any{}
	}
	if isStack {
		return util.FlattenFirstLevelKeysToSnakeCase(manifest.Spec.Variables, "")
	}
	return util.ConvertFirstLevelKeysToSnakeCase(manifest.Spec.Variables).(map[string]any)
}

// ToPayload validates a claim against its resolved catalog entry and builds
// the job payload for a command.
func ToPayload(manifest model.DeploymentManifest, module model.Module, command, project, region, environment, initiatedBy string) (model.InfraPayload, error) {
	if err := VerifyVariableClaimCasing(flattenForCasing(manifest, IsStack(manifest))); err != nil {
		return model.InfraPayload{}, err
	}
	variables := Variables(manifest, IsStack(manifest))
	if err := ValidateVariables(module, variables); err != nil {
		return model.InfraPayload{}, err
	}
	version, err := Version(manifest)
	if err != nil {
		return model.InfraPayload{}, err
	}
	annotations := map[string]any{}
	for k, v := range manifest.Metadata.Annotations {
		annotations[k] = v
	}
	return model.InfraPayload{
		Command:             command,
		Module:              module.Module,
		ModuleVersion:       version,
		ModuleType:          module.ModuleType,
		ModuleTrack:         module.Track,
		Name:                manifest.Metadata.Name,
		Environment:         environment,
		DeploymentID:        DeploymentID(manifest),
		ProjectID:           project,
		Region:              region,
		DriftDetection:      DriftDetection(manifest),
		NextDriftCheckEpoch: -1,
		Variables:           variables,
		Annotations:         annotations,
		Dependencies:        Dependencies(manifest, project, region, environment),
		InitiatedBy:         initiatedBy,
		CPU:                 module.CPU,
		Memory:              module.Memory,
		Reference:           manifest.Spec.Reference,
	}, nil
}

// flattenForCasing collects the variable keys the user actually wrote. For
// stacks the first level addresses instances, so the casing rule applies to
// the nested keys.
func flattenForCasing(manifest model.DeploymentManifest, isStack bool) map[string]any {
	if !isStack {
		return manifest.Spec.Variables
	}
	flat := map[string]any{}
	for instance, value := range manifest.Spec.Variables {
		nested, ok := value.(map[string]any)
		if !ok {
			flat[instance] = value
			continue
		}
		for key, v := range nested {
			flat[key] = v
		}
	}
	return flat
}
