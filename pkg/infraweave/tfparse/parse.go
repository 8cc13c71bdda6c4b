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

// Package tfparse extracts the variable, output and provider surface of a
// Terraform module from its sources. Modules are parsed, never evaluated;
// expressions that need runtime context are kept as source text.
package tfparse

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

type parsedFile struct {
	name string
	src  []byte
	body *hclsyntax.Body
}

func parseFiles(files map[string][]byte) ([]parsedFile, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		if strings.HasSuffix(name, ".tf") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	parsed := make([]parsedFile, 0, len(names))
	for _, name := range names {
		src := files[name]
		file, diags := hclsyntax.ParseConfig(src, name, hcl.InitialPos)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %s", name, diags.Error())
		}
		parsed = append(parsed, parsedFile{name: name, src: src, body: file.Body.(*hclsyntax.Body)})
	}
	return parsed, nil
}

// ValidateBackendNotSet rejects modules that declare their own terraform
// backend; state configuration is injected by the platform at job time.
func ValidateBackendNotSet(files map[string][]byte) error {
	parsed, err := parseFiles(files)
	if err != nil {
		return err
	}
	for _, f := range parsed {
		for _, block := range f.body.Blocks {
			if block.Type != "terraform" {
				continue
			}
			for _, inner := range block.Body.Blocks {
				if inner.Type == "backend" || inner.Type == "cloud" {
					return fmt.Errorf(
						"backend block found in %s: remove it, state storage is handled by the platform", f.name)
				}
			}
		}
	}
	return nil
}

// Variables extracts every variable block, sorted by name. A missing type
// defaults to string; nullable defaults to true.
func Variables(files map[string][]byte) ([]model.TfVariable, error) {
	parsed, err := parseFiles(files)
	if err != nil {
		return nil, err
	}
	var variables []model.TfVariable
	for _, f := range parsed {
		for _, block := range f.body.Blocks {
			if block.Type != "variable" || len(block.Labels) != 1 {
				continue
			}
			v := model.TfVariable{
				Name:     block.Labels[0],
				Type:     jsonString("string"),
				Nullable: true,
			}
			for name, attr := range block.Body.Attributes {
				switch name {
				case "type":
					v.Type = jsonString(rawText(f.src, attr.Expr))
				case "default":
					raw, err := exprToJSON(f.src, attr.Expr)
					if err != nil {
						return nil, fmt.Errorf("variable %q in %s: %w", v.Name, f.name, err)
					}
					v.Default = raw
				case "description":
					v.Description = stringValue(f.src, attr.Expr)
				case "nullable":
					v.Nullable = boolValue(attr.Expr, true)
				case "sensitive":
					v.Sensitive = boolValue(attr.Expr, false)
				}
			}
			variables = append(variables, v)
		}
	}
	sort.Slice(variables, func(i, j int) bool { return variables[i].Name < variables[j].Name })
	return variables, nil
}

// Outputs extracts every output block in source order.
func Outputs(files map[string][]byte) ([]model.TfOutput, error) {
	parsed, err := parseFiles(files)
	if err != nil {
		return nil, err
	}
	var outputs []model.TfOutput
	for _, f := range parsed {
		for _, block := range f.body.Blocks {
			if block.Type != "output" || len(block.Labels) != 1 {
				continue
			}
			out := model.TfOutput{Name: block.Labels[0]}
			for name, attr := range block.Body.Attributes {
				switch name {
				case "value":
					out.Value = rawText(f.src, attr.Expr)
				case "description":
					out.Description = stringValue(f.src, attr.Expr)
				}
			}
			outputs = append(outputs, out)
		}
	}
	return outputs, nil
}

// RequiredProviders extracts terraform.required_providers entries. Source
// and version are mandatory per entry.
func RequiredProviders(files map[string][]byte) ([]model.TfRequiredProvider, error) {
	parsed, err := parseFiles(files)
	if err != nil {
		return nil, err
	}
	var providers []model.TfRequiredProvider
	for _, f := range parsed {
		for _, block := range f.body.Blocks {
			if block.Type != "terraform" {
				continue
			}
			for _, inner := range block.Body.Blocks {
				if inner.Type != "required_providers" {
					continue
				}
				names := make([]string, 0, len(inner.Body.Attributes))
				for name := range inner.Body.Attributes {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					attr := inner.Body.Attributes[name]
					fields, err := objectFields(attr.Expr)
					if err != nil {
						return nil, fmt.Errorf("required provider %q in %s: %w", name, f.name, err)
					}
					source, ok := fields["source"]
					if !ok {
						return nil, fmt.Errorf("source is missing in %s in required_providers", name)
					}
					version, ok := fields["version"]
					if !ok {
						return nil, fmt.Errorf("version is missing in %s in required_providers", name)
					}
					providers = append(providers, model.TfRequiredProvider{
						Name:    name,
						Source:  source,
						Version: version,
					})
				}
			}
		}
	}
	return providers, nil
}

// LockProviders parses provider pins from a .terraform.lock.hcl file.
func LockProviders(lockfile []byte) ([]model.TfLockProvider, error) {
	file, diags := hclsyntax.ParseConfig(lockfile, ".terraform.lock.hcl", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing lock file: %s", diags.Error())
	}
	var providers []model.TfLockProvider
	for _, block := range file.Body.(*hclsyntax.Body).Blocks {
		if block.Type != "provider" || len(block.Labels) != 1 {
			continue
		}
		p := model.TfLockProvider{Source: block.Labels[0]}
		if attr, ok := block.Body.Attributes["version"]; ok {
			p.Version = stringValue(lockfile, attr.Expr)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func rawText(src []byte, expr hclsyntax.Expression) string {
	r := expr.Range()
	text := strings.TrimSpace(string(src[r.Start.Byte:r.End.Byte]))
	// Literal strings lose their quotes; everything else keeps source form.
	if v, diags := expr.Value(nil); !diags.HasErrors() && v.Type() == cty.String && v.IsKnown() && !v.IsNull() {
		if strings.HasPrefix(text, `"`) {
			return v.AsString()
		}
	}
	return text
}

func stringValue(src []byte, expr hclsyntax.Expression) string {
	if v, diags := expr.Value(nil); !diags.HasErrors() && v.Type() == cty.String && !v.IsNull() {
		return v.AsString()
	}
	return rawText(src, expr)
}

func boolValue(expr hclsyntax.Expression, fallback bool) bool {
	if v, diags := expr.Value(nil); !diags.HasErrors() && v.Type() == cty.Bool && !v.IsNull() {
		return v.True()
	}
	return fallback
}

func exprToJSON(src []byte, expr hclsyntax.Expression) (json.RawMessage, error) {
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		// Non-constant default, e.g. referencing another value: keep source.
		return jsonString(rawText(src, expr)), nil
	}
	raw, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return json.RawMessage(raw), nil
}

func objectFields(expr hclsyntax.Expression) (map[string]string, error) {
	obj, ok := expr.(*hclsyntax.ObjectConsExpr)
	if !ok {
		return nil, fmt.Errorf("expected an object expression")
	}
	fields := map[string]string{}
	for _, item := range obj.Items {
		key, diags := item.KeyExpr.Value(nil)
		if diags.HasErrors() || key.Type() != cty.String {
			continue
		}
		value, diags := item.ValueExpr.Value(nil)
		if diags.HasErrors() || value.Type() != cty.String {
			continue
		}
		fields[key.AsString()] = value.AsString()
	}
	return fields, nil
}

func jsonString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return json.RawMessage(raw)
}
