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

package tfparse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

type jsonRaw = json.RawMessage

// DiffModules compares two module sources block by block and reports what the
// newer source adds, changes and removes. Paths are slash-joined block
// addresses, e.g. /resource/aws_s3_bucket_object/my_object1.
func DiffModules(oldSource, newSource string) ([]model.ModuleDiffAddition, []model.ModuleDiffChange, []model.ModuleDiffRemoval, error) {
	oldTree, err := sourceTree(oldSource)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("old version: %w", err)
	}
	newTree, err := sourceTree(newSource)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("new version: %w", err)
	}
	added, changed, removed := diffTrees(oldTree, newTree, "")
	return added, changed, removed, nil
}

// sourceTree flattens parsed HCL into nested maps keyed by block type and
// labels, with attribute values as canonical JSON leaves.
func sourceTree(source string) (map[string]any, error) {
	src := []byte(source)
	file, diags := hclsyntax.ParseConfig(src, "main.tf", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing: %s", diags.Error())
	}
	return bodyTree(src, file.Body.(*hclsyntax.Body)), nil
}

func bodyTree(src []byte, body *hclsyntax.Body) map[string]any {
	tree := map[string]any{}
	for name, attr := range body.Attributes {
		raw, err := exprToJSON(src, attr.Expr)
		if err != nil {
			raw = jsonString(rawText(src, attr.Expr))
		}
		tree[name] = raw
	}
	for _, block := range body.Blocks {
		node := tree
		path := append([]string{block.Type}, block.Labels...)
		for _, key := range path[:len(path)-1] {
			next, ok := node[key].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[key] = next
			}
			node = next
		}
		leaf := path[len(path)-1]
		child := bodyTree(src, block.Body)
		if existing, ok := node[leaf].(map[string]any); ok {
			for k, v := range child {
				existing[k] = v
			}
		} else {
			node[leaf] = child
		}
	}
	return tree
}

func diffTrees(oldTree, newTree map[string]any, path string) ([]model.ModuleDiffAddition, []model.ModuleDiffChange, []model.ModuleDiffRemoval) {
	var added []model.ModuleDiffAddition
	var changed []model.ModuleDiffChange
	var removed []model.ModuleDiffRemoval

	for _, key := range sortedKeys(oldTree) {
		oldVal := oldTree[key]
		keyPath := path + "/" + key
		newVal, ok := newTree[key]
		if !ok {
			removed = append(removed, removals(keyPath, oldVal)...)
			continue
		}
		oldMap, oldIsMap := oldVal.(map[string]any)
		newMap, newIsMap := newVal.(map[string]any)
		switch {
		case oldIsMap && newIsMap:
			a, c, r := diffTrees(oldMap, newMap, keyPath)
			added = append(added, a...)
			changed = append(changed, c...)
			removed = append(removed, r...)
		case !oldIsMap && !newIsMap:
			if !bytes.Equal(oldVal.(jsonRaw), newVal.(jsonRaw)) {
				changed = append(changed, model.ModuleDiffChange{
					Path:     keyPath,
					OldValue: oldVal.(jsonRaw),
					NewValue: newVal.(jsonRaw),
				})
			}
		default:
			removed = append(removed, removals(keyPath, oldVal)...)
			added = append(added, additions(keyPath, newVal)...)
		}
	}

	for _, key := range sortedKeys(newTree) {
		if _, ok := oldTree[key]; !ok {
			added = append(added, additions(path+"/"+key, newTree[key])...)
		}
	}
	return added, changed, removed
}

// additions reports a new subtree. Objects are expanded one level so a new
// resource shows up at its full block address.
func additions(path string, value any) []model.ModuleDiffAddition {
	if sub, ok := value.(map[string]any); ok {
		out := make([]model.ModuleDiffAddition, 0, len(sub))
		for _, key := range sortedKeys(sub) {
			out = append(out, model.ModuleDiffAddition{
				Path:  path + "/" + key,
				Value: marshalNode(sub[key]),
			})
		}
		return out
	}
	return []model.ModuleDiffAddition{{Path: path, Value: value.(jsonRaw)}}
}

func removals(path string, value any) []model.ModuleDiffRemoval {
	if sub, ok := value.(map[string]any); ok {
		out := make([]model.ModuleDiffRemoval, 0, len(sub))
		for _, key := range sortedKeys(sub) {
			out = append(out, model.ModuleDiffRemoval{
				Path:  path + "/" + key,
				Value: marshalNode(sub[key]),
			})
		}
		return out
	}
	return []model.ModuleDiffRemoval{{Path: path, Value: value.(jsonRaw)}}
}

func marshalNode(value any) jsonRaw {
	if raw, ok := value.(jsonRaw); ok {
		return raw
	}
	sub := value.(map[string]any)
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range sortedKeys(sub) {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(jsonString(key))
		buf.WriteByte(':')
		buf.Write(marshalNode(sub[key]))
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
