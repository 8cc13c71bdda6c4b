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

// Package policy evaluates published rego policies against terraform plan
// documents. Policies live in the catalog; each one is a zip of rego sources
// plus an optional data block that is exposed as an OPA data document.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/catalog"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
)

// denyQuery is the entry point every policy package hangs under.
const denyQuery = "data.infraweave"

// Engine evaluates the policies active in one environment.
type Engine struct {
	catalog     *catalog.Catalog
	environment string
}

func NewEngine(c *catalog.Catalog, environment string) *Engine {
	return &Engine{catalog: c, environment: environment}
}

// EvaluateAll runs every active policy against the plan input. It returns
// one result per policy and whether any of them failed.
func (e *Engine) EvaluateAll(ctx context.Context, input, envData map[string]any) ([]model.PolicyResult, bool, error) {
	policies, err := e.catalog.ListPolicies(ctx, e.environment)
	if err != nil {
		return nil, false, err
	}
	failed := false
	results := make([]model.PolicyResult, 0, len(policies))
	for _, p := range policies {
		result, err := e.Evaluate(ctx, p, input, envData)
		if err != nil {
			return nil, false, err
		}
		if result.Failed {
			failed = true
		}
		results = append(results, result)
	}
	return results, failed, nil
}

// Evaluate compiles one policy's rego sources and queries data.infraweave.
// A fresh evaluator is built per call, so package namespaces never leak
// from one policy into the next.
func (e *Engine) Evaluate(ctx context.Context, p model.Policy, input, envData map[string]any) (model.PolicyResult, error) {
	result := model.PolicyResult{
		Policy:      p.Policy,
		Version:     p.Version,
		Environment: p.Environment,
		Description: p.Description,
		PolicyName:  p.PolicyName,
	}

	zipData, err := e.catalog.DownloadPolicyZip(ctx, &p)
	if err != nil {
		return result, err
	}
	files, err := util.UnzipToMap(zipData)
	if err != nil {
		return result, fmt.Errorf("unzipping policy %s: %w", p.Policy, err)
	}

	options := []func(*rego.Rego){
		rego.Query(denyQuery),
		rego.Input(input),
		rego.Store(inmem.NewFromObject(dataDocuments(p.Data, envData))),
	}
	sources := 0
	for _, name := range sortedNames(files) {
		if !strings.HasSuffix(name, ".rego") {
			continue
		}
		options = append(options, rego.Module(name, string(files[name])))
		sources++
	}
	if sources == 0 {
		return result, fmt.Errorf("policy %s contains no rego sources", p.Policy)
	}

	rs, err := rego.New(options...).Eval(ctx)
	if err != nil {
		return result, fmt.Errorf("evaluating policy %s: %w", p.Policy, err)
	}

	violations := collectDeny(rs)
	if len(violations) > 0 {
		result.Failed = true
		result.Violations = violations
		logrus.Warnf("policy %s failed with %d violating packages", p.Policy, len(violations))
	}
	return result, nil
}

// dataDocuments lays out the data tree for evaluation: the environment
// snapshot first, with the policy's own data block on top.
func dataDocuments(policyData, envData map[string]any) map[string]any {
	docs := map[string]any{}
	for k, v := range envData {
		docs[k] = v
	}
	for k, v := range policyData {
		docs[k] = v
	}
	return docs
}

// collectDeny walks every package under data.infraweave and gathers each
// non-empty deny set, keyed by package name.
func collectDeny(rs rego.ResultSet) map[string]any {
	violations := map[string]any{}
	for _, res := range rs {
		for _, expr := range res.Expressions {
			tree, ok := expr.Value.(map[string]any)
			if !ok {
				continue
			}
			for pkg, val := range tree {
				body, ok := val.(map[string]any)
				if !ok {
					continue
				}
				if deny, ok := body["deny"].([]any); ok && len(deny) > 0 {
					violations[pkg] = deny
				}
			}
		}
	}
	return violations
}

func sortedNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
