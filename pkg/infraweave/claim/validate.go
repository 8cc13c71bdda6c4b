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

package claim

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
)

// referenceRe matches cross-claim references such as
// {{ S3Bucket::mybucket::bucketArn }}, which are resolved at compose or
// runtime and therefore skip the type check.
var referenceRe = regexp.MustCompile(`^\{\{\s*\w+::[\w-]+::[\w-]+\s*\}\}$`)

// IsReference reports whether a value is a cross-claim reference template.
func IsReference(value any) bool {
	s, ok := value.(string)
	return ok && referenceRe.MatchString(s)
}

// VerifyVariableClaimCasing requires every claim variable key to be
// camelCase; keys are converted to snake_case before they reach Terraform
// and the round trip must be lossless.
func VerifyVariableClaimCasing(variables map[string]any) error {
	var errs []string
	for key := range variables {
		if !util.IsCamelCase(key) {
			errs = append(errs, fmt.Sprintf(
				"Variable \"%s\" is not camelCase, please use \"%s\" instead",
				key, util.ToCamelCase(key)))
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// VerifyVariableExistenceAndType checks every provided variable (snake_case
// keys) against the module's extracted variables. Types are compared by
// family; reference templates bypass the check.
func VerifyVariableExistenceAndType(module model.Module, variables map[string]any) error {
	var errs []string
	for _, key := range sortedKeys(variables) {
		value := variables[key]
		tfVar, found := findVariable(module.TfVariables, key)
		if !found {
			errs = append(errs, fmt.Sprintf("Variable \"%s\" not found in this module version", key))
			continue
		}
		if IsReference(value) {
			logrus.Warnf("variable %q is a reference, skipping type check", key)
			continue
		}
		if value == nil {
			if !tfVar.Nullable {
				errs = append(errs, fmt.Sprintf(
					"Variable \"%s\" is of type null but should be of type %s", key, typeFamily(tfVar.TypeString())))
			}
			continue
		}
		provided := valueFamily(value)
		expected := typeFamily(tfVar.TypeString())
		if provided != expected {
			errs = append(errs, fmt.Sprintf(
				"Variable \"%s\" is of type %s but should be of type %s", key, provided, expected))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// VerifyRequiredVariablesAreSet requires every variable without a default.
func VerifyRequiredVariablesAreSet(module model.Module, variables map[string]any) error {
	var missing []string
	for _, tfVar := range module.TfVariables {
		if !tfVar.Required() {
			continue
		}
		if _, ok := variables[tfVar.Name]; !ok {
			missing = append(missing, tfVar.Name)
		}
	}
	if len(missing) > 0 {
		plural := ""
		if len(missing) > 1 {
			plural = "s"
		}
		return fmt.Errorf("Missing required variable%s: \"%s\"", plural, strings.Join(missing, "\", \""))
	}
	return nil
}

// ValidateVariables runs existence, type and required checks against
// snake_case variables.
func ValidateVariables(module model.Module, variables map[string]any) error {
	if err := VerifyVariableExistenceAndType(module, variables); err != nil {
		return err
	}
	return VerifyRequiredVariablesAreSet(module, variables)
}

func findVariable(tfVars []model.TfVariable, name string) (model.TfVariable, bool) {
	for _, v := range tfVars {
		if v.Name == name {
			return v, true
		}
	}
	return model.TfVariable{}, false
}

// valueFamily classifies a claim-supplied JSON value.
func valueFamily(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, int, int64, float32:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "object"
	}
}

// typeFamily classifies a Terraform type expression into the same families.
func typeFamily(tfType string) string {
	switch {
	case tfType == "string":
		return "string"
	case tfType == "number":
		return "number"
	case tfType == "bool":
		return "bool"
	case strings.HasPrefix(tfType, "list("), strings.HasPrefix(tfType, "set("), strings.HasPrefix(tfType, "tuple("):
		return "array"
	case strings.HasPrefix(tfType, "map("), strings.HasPrefix(tfType, "object("):
		return "object"
	default:
		return tfType
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
