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

package catalog

import (
	"fmt"
	"strings"

	"github.com/infraweave-io/infraweave/pkg/infraweave/claim"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
)

// PrecheckModule validates a module directory locally, before any publish:
// manifest schema, name rules, Terraform surface extraction and every
// example claim in spec.examples against the extracted variables. It needs
// no backend and is safe to run in CI.
func PrecheckModule(dir, track string) error {
	manifest, err := readModuleManifest(dir)
	if err != nil {
		return err
	}
	if err := validateModuleName(manifest); err != nil {
		return err
	}
	if manifest.Spec.Version != "" {
		if err := ensureTrackMatchesVersion(track, manifest.Spec.Version); err != nil {
			return err
		}
	}
	files, err := readModuleDir(dir)
	if err != nil {
		return err
	}
	surface, err := extractTfSurface(files)
	if err != nil {
		return err
	}
	return checkExamples(manifest.Spec.Examples, surface.variables, manifest.Spec.ModuleName)
}

// checkExamples validates each example's camelCase variables against the
// extracted variable surface, the same way a real claim would be checked.
func checkExamples(examples []model.ModuleExample, variables []model.TfVariable, moduleName string) error {
	probe := model.Module{ModuleName: moduleName, TfVariables: variables}
	var errs []string
	for _, example := range examples {
		if err := claim.VerifyVariableClaimCasing(example.Variables); err != nil {
			errs = append(errs, fmt.Sprintf("example %q: %v", example.Name, err))
			continue
		}
		snake := util.ConvertFirstLevelKeysToSnakeCase(example.Variables).(map[string]any)
		if err := claim.ValidateVariables(probe, snake); err != nil {
			errs = append(errs, fmt.Sprintf("example %q: %v", example.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "\n"))
	}
	return nil
}
