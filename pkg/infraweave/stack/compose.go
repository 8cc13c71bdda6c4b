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

// Package stack composes several published modules into one synthetic root
// module. Each instance of the stack manifest becomes a module block; the
// sub-modules' variables are flattened into a <instance>__<variable> surface
// and cross-instance references are wired as Terraform expressions.
package stack

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/blang/semver"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
)

// ErrStackRegionMissing marks a stack instance without a pinned region.
var ErrStackRegionMissing = errors.New("stack module instance must pin a region")

var instanceNameRe = regexp.MustCompile(`^[a-z][a-z0-9]+$`)

// referenceRe captures kind, instance and field of a cross-instance
// reference such as {{ S3Bucket::mybucket::bucketArn }}.
var referenceRe = regexp.MustCompile(`\{\{\s*(\w+)::([\w-]+)::([\w-]+)\s*\}\}`)

// Composed is the synthetic root module produced from a stack manifest.
type Composed struct {
	MainTf      []byte
	VariablesTf []byte
	OutputsTf   []byte
	TfVariables []model.TfVariable
	TfOutputs   []model.TfOutput
	TfProviders []model.TfRequiredProvider
	TfLocks     []model.TfLockProvider
	StackData   model.ModuleStackData
}

// instance is one resolved entry of the stack manifest.
type instance struct {
	name      string
	spec      model.StackModuleSpec
	module    model.Module
	overrides map[string]any // snake_case variable name to claim value
}

// Compose builds the root module. modules maps instance name to the resolved
// catalog entry of the version that instance pins.
func Compose(manifest model.StackManifest, modules map[string]model.Module) (*Composed, error) {
	instances, err := resolveInstances(manifest, modules)
	if err != nil {
		return nil, err
	}
	if err := validateReferences(instances); err != nil {
		return nil, err
	}

	composed := &Composed{}
	mainFile := hclwrite.NewEmptyFile()
	variablesFile := hclwrite.NewEmptyFile()
	outputsFile := hclwrite.NewEmptyFile()

	for _, inst := range instances {
		body := mainFile.Body().AppendNewBlock("module", []string{inst.name}).Body()
		body.SetAttributeValue("source", cty.StringVal("./"+moduleDir(inst.module)))

		for _, tfVar := range inst.module.TfVariables {
			override, bound := inst.overrides[tfVar.Name]
			if bound && containsReference(override) {
				tokens, err := referenceTokens(override.(string), inst, instances)
				if err != nil {
					return nil, err
				}
				body.SetAttributeRaw(tfVar.Name, tokens)
				continue
			}
			surfaceName := inst.name + "__" + tfVar.Name
			body.SetAttributeRaw(tfVar.Name, identTokens("var."+surfaceName))

			exposed := tfVar
			exposed.Name = surfaceName
			if bound {
				raw, err := jsonRawOf(override)
				if err != nil {
					return nil, fmt.Errorf("instance %q variable %q: %w", inst.name, tfVar.Name, err)
				}
				exposed.Default = raw
			}
			composed.TfVariables = append(composed.TfVariables, exposed)
			appendVariableBlock(variablesFile.Body(), exposed)
		}

		for _, out := range inst.module.TfOutputs {
			surfaceName := inst.name + "__" + out.Name
			value := fmt.Sprintf("module.%s.%s", inst.name, out.Name)
			outBody := outputsFile.Body().AppendNewBlock("output", []string{surfaceName}).Body()
			outBody.SetAttributeRaw("value", identTokens(value))
			if out.Description != "" {
				outBody.SetAttributeValue("description", cty.StringVal(out.Description))
			}
			composed.TfOutputs = append(composed.TfOutputs, model.TfOutput{
				Name:        surfaceName,
				Value:       value,
				Description: out.Description,
			})
		}

		composed.StackData.Modules = append(composed.StackData.Modules, model.StackModule{
			Module:  inst.module.Module,
			Version: inst.module.Version,
			S3Key:   inst.module.S3Key,
		})
	}

	providers, locks, err := mergeProviders(instances)
	if err != nil {
		return nil, err
	}
	composed.TfProviders = providers
	composed.TfLocks = locks

	composed.MainTf = mainFile.Bytes()
	composed.VariablesTf = variablesFile.Bytes()
	composed.OutputsTf = outputsFile.Bytes()
	return composed, nil
}

// ModuleDir is the bundle directory one sub-module unpacks into.
func ModuleDir(m model.Module) string {
	return moduleDir(m)
}

func moduleDir(m model.Module) string {
	return m.Module + "-" + m.Version
}

func resolveInstances(manifest model.StackManifest, modules map[string]model.Module) ([]instance, error) {
	if len(manifest.Spec.Modules) == 0 {
		return nil, fmt.Errorf("stack %s has no module instances", manifest.Metadata.Name)
	}
	seen := map[string]bool{}
	instances := make([]instance, 0, len(manifest.Spec.Modules))
	for _, spec := range manifest.Spec.Modules {
		name := spec.InstanceName
		if name == "" {
			name = strings.ToLower(spec.ModuleName)
		}
		if !instanceNameRe.MatchString(name) {
			return nil, fmt.Errorf("instance name %q must match %s", name, instanceNameRe)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate instance name %q", name)
		}
		seen[name] = true
		if spec.Region == "" {
			return nil, fmt.Errorf("instance %q: %w", name, ErrStackRegionMissing)
		}
		module, ok := modules[name]
		if !ok {
			return nil, fmt.Errorf("instance %q references unresolved module %s version %s",
				name, spec.ModuleName, spec.Version)
		}
		overrides := map[string]any{}
		for key, value := range spec.Variables {
			overrides[util.ToSnakeCase(key)] = value
		}
		instances = append(instances, instance{name: name, spec: spec, module: module, overrides: overrides})
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].name < instances[j].name })
	return instances, nil
}

// validateReferences checks that every reference names a sibling's declared
// output or variable and that the reference graph is acyclic.
func validateReferences(instances []instance) error {
	byName := map[string]instance{}
	for _, inst := range instances {
		byName[inst.name] = inst
	}
	edges := map[string][]string{}
	for _, inst := range instances {
		for field, value := range inst.overrides {
			s, ok := value.(string)
			if !ok {
				continue
			}
			for _, match := range referenceRe.FindAllStringSubmatch(s, -1) {
				target := match[2]
				if target == inst.name {
					return fmt.Errorf("instance %q variable %q references itself", inst.name, field)
				}
				sibling, ok := byName[target]
				if !ok {
					return fmt.Errorf("instance %q variable %q references unknown instance %q",
						inst.name, field, target)
				}
				fieldName := util.ToSnakeCase(match[3])
				if !hasOutput(sibling.module, fieldName) && !hasVariable(sibling.module, fieldName) {
					return fmt.Errorf("instance %q variable %q references %q which is neither an output nor a variable of %q",
						inst.name, field, match[3], target)
				}
				edges[inst.name] = append(edges[inst.name], target)
			}
		}
	}
	return detectCycle(edges)
}

// detectCycle runs a DFS over the reference edges and reports the first
// cycle with its full path.
func detectCycle(edges map[string][]string) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var path []string

	var visit func(node string) error
	visit = func(node string) error {
		switch state[node] {
		case visiting:
			start := 0
			for i, n := range path {
				if n == node {
					start = i
					break
				}
			}
			return fmt.Errorf("cyclic reference: %s", strings.Join(append(path[start:], node), " -> "))
		case done:
			return nil
		}
		state[node] = visiting
		path = append(path, node)
		for _, next := range edges[node] {
			if err := visit(next); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[node] = done
		return nil
	}

	nodes := make([]string, 0, len(edges))
	for node := range edges {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if err := visit(node); err != nil {
			return err
		}
	}
	return nil
}

// referenceTokens renders an override containing references. A value that is
// exactly one reference becomes the bare expression; text around or between
// references becomes a template with ${} interpolations.
func referenceTokens(value string, from instance, instances []instance) (hclwrite.Tokens, error) {
	byName := map[string]instance{}
	for _, inst := range instances {
		byName[inst.name] = inst
	}
	resolve := func(match []string) (string, error) {
		target, field := match[2], util.ToSnakeCase(match[3])
		sibling := byName[target]
		if hasOutput(sibling.module, field) {
			return fmt.Sprintf("module.%s.%s", target, field), nil
		}
		if hasVariable(sibling.module, field) {
			return fmt.Sprintf("var.%s__%s", target, field), nil
		}
		return "", fmt.Errorf("instance %q references unknown field %q of %q", from.name, match[3], target)
	}

	trimmed := strings.TrimSpace(value)
	if match := referenceRe.FindStringSubmatch(trimmed); match != nil && match[0] == trimmed {
		expr, err := resolve(match)
		if err != nil {
			return nil, err
		}
		return identTokens(expr), nil
	}

	var resolveErr error
	replaced := referenceRe.ReplaceAllStringFunc(value, func(raw string) string {
		expr, err := resolve(referenceRe.FindStringSubmatch(raw))
		if err != nil {
			resolveErr = err
			return raw
		}
		return "${" + expr + "}"
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return identTokens(fmt.Sprintf("%q", replaced)), nil
}

// mergeProviders merges required providers by source, failing on name or
// version conflicts, and keeps the highest lock version per source.
func mergeProviders(instances []instance) ([]model.TfRequiredProvider, []model.TfLockProvider, error) {
	required := map[string]model.TfRequiredProvider{}
	for _, inst := range instances {
		for _, p := range inst.module.TfProviders {
			existing, ok := required[p.Source]
			if !ok {
				required[p.Source] = p
				continue
			}
			if existing.Name != p.Name {
				return nil, nil, fmt.Errorf("provider source %q is named both %q and %q across stack modules",
					p.Source, existing.Name, p.Name)
			}
			if existing.Version != p.Version {
				return nil, nil, fmt.Errorf("provider %q requires conflicting versions %q and %q across stack modules",
					p.Name, existing.Version, p.Version)
			}
		}
	}

	locks := map[string]model.TfLockProvider{}
	for _, inst := range instances {
		for _, lock := range inst.module.TfLocks {
			existing, ok := locks[lock.Source]
			if !ok {
				locks[lock.Source] = lock
				continue
			}
			if newerLock(lock.Version, existing.Version) {
				locks[lock.Source] = lock
			}
		}
	}

	return sortedProviders(required), sortedLocks(locks), nil
}

func newerLock(candidate, current string) bool {
	cv, err1 := semver.Parse(candidate)
	xv, err2 := semver.Parse(current)
	if err1 != nil || err2 != nil {
		return candidate > current
	}
	return cv.GT(xv)
}

func hasOutput(m model.Module, name string) bool {
	for _, out := range m.TfOutputs {
		if out.Name == name {
			return true
		}
	}
	return false
}

func hasVariable(m model.Module, name string) bool {
	for _, v := range m.TfVariables {
		if v.Name == name {
			return true
		}
	}
	return false
}

func containsReference(value any) bool {
	s, ok := value.(string)
	return ok && referenceRe.MatchString(s)
}

func appendVariableBlock(body *hclwrite.Body, v model.TfVariable) {
	block := body.AppendNewBlock("variable", []string{v.Name}).Body()
	block.SetAttributeRaw("type", identTokens(v.TypeString()))
	if v.Default != nil {
		if value, err := ctyFromJSON(v.Default); err == nil {
			block.SetAttributeValue("default", value)
		}
	}
	if v.Description != "" {
		block.SetAttributeValue("description", cty.StringVal(v.Description))
	}
	if !v.Nullable {
		block.SetAttributeValue("nullable", cty.False)
	}
	if v.Sensitive {
		block.SetAttributeValue("sensitive", cty.True)
	}
}

func identTokens(expr string) hclwrite.Tokens {
	return hclwrite.Tokens{{Type: hclsyntax.TokenIdent, Bytes: []byte(expr)}}
}

func ctyFromJSON(raw []byte) (cty.Value, error) {
	t, err := ctyjson.ImpliedType(raw)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(raw, t)
}

func jsonRawOf(value any) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding override: %w", err)
	}
	return raw, nil
}

func sortedProviders(m map[string]model.TfRequiredProvider) []model.TfRequiredProvider {
	sources := make([]string, 0, len(m))
	for source := range m {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	out := make([]model.TfRequiredProvider, 0, len(m))
	for _, source := range sources {
		out = append(out, m[source])
	}
	return out
}

func sortedLocks(m map[string]model.TfLockProvider) []model.TfLockProvider {
	sources := make([]string, 0, len(m))
	for source := range m {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	out := make([]model.TfLockProvider, 0, len(m))
	for _, source := range sources {
		out = append(out, m[source])
	}
	return out
}
