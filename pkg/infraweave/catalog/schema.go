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

	"github.com/xeipuuv/gojsonschema"
)

const moduleManifestSchema = `{
  "type": "object",
  "required": ["apiVersion", "kind", "metadata", "spec"],
  "properties": {
    "apiVersion": {"const": "infraweave.io/v1"},
    "kind": {"const": "Module"},
    "metadata": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "pattern": "^[a-z][a-z0-9]*$"}
      }
    },
    "spec": {
      "type": "object",
      "required": ["moduleName", "description", "reference"],
      "properties": {
        "moduleName": {"type": "string"},
        "version": {"type": "string"},
        "description": {"type": "string"},
        "reference": {"type": "string"},
        "cpu": {"type": "string"},
        "memory": {"type": "string"},
        "examples": {"type": "array"}
      }
    }
  }
}`

const stackManifestSchema = `{
  "type": "object",
  "required": ["apiVersion", "kind", "metadata", "spec"],
  "properties": {
    "apiVersion": {"const": "infraweave.io/v1"},
    "kind": {"const": "Stack"},
    "metadata": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "pattern": "^[a-z][a-z0-9]*$"}
      }
    },
    "spec": {
      "type": "object",
      "required": ["stackName", "description", "reference"],
      "properties": {
        "stackName": {"type": "string"},
        "version": {"type": "string"},
        "description": {"type": "string"},
        "reference": {"type": "string"}
      }
    }
  }
}`

const policyManifestSchema = `{
  "type": "object",
  "required": ["apiVersion", "kind", "metadata", "spec"],
  "properties": {
    "apiVersion": {"const": "infraweave.io/v1"},
    "kind": {"const": "Policy"},
    "metadata": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "pattern": "^[a-z][a-z0-9]*$"}
      }
    },
    "spec": {
      "type": "object",
      "required": ["policyName", "version", "description", "reference"],
      "properties": {
        "policyName": {"type": "string"},
        "version": {"type": "string"},
        "description": {"type": "string"},
        "reference": {"type": "string"},
        "data": {"type": "object"}
      }
    }
  }
}`

// validateSchema checks a decoded manifest document against one of the
// manifest schemas and flattens violations into a single error.
func validateSchema(schema string, document any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return fmt.Errorf("validating manifest: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("invalid manifest: %s", strings.Join(msgs, "; "))
}
