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

package runner

import (
	"reflect"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

// sanitizeResourceChanges extracts the plan's resource_changes with every
// sensitive value redacted against the parallel sensitivity trees.
func sanitizeResourceChanges(plan map[string]any) []model.ResourceChange {
	raw, _ := plan["resource_changes"].([]any)
	changes := make([]model.ResourceChange, 0, len(raw))
	for _, entry := range raw {
		rc, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		change, _ := rc["change"].(map[string]any)
		actions, _ := change["actions"].([]any)
		before, _ := redact(change["before"], change["before_sensitive"])
		after, _ := redact(change["after"], change["after_sensitive"])
		changes = append(changes, model.ResourceChange{
			Address: stringAt(rc, "address"),
			Type:    stringAt(rc, "type"),
			Name:    stringAt(rc, "name"),
			Action:  deriveAction(actions),
			Before:  before,
			After:   after,
		})
	}
	return changes
}

// deriveAction collapses terraform's actions array into one verb.
func deriveAction(actions []any) string {
	has := func(want string) bool {
		for _, a := range actions {
			if a == want {
				return true
			}
		}
		return false
	}
	switch {
	case has("delete") && has("create"):
		return "Replace"
	case has("delete"):
		return "Delete"
	case has("create"):
		return "Create"
	case has("update"):
		return "Update"
	default:
		return "NoOp"
	}
}

// redact walks a value against its sensitivity tree. A true marker hides the
// whole subtree; partial masks in objects and arrays are descended with the
// masked members omitted. A subtree left empty after masking is absent, not
// an empty container. The second return reports whether anything survived.
func redact(value, mask any) (any, bool) {
	if b, ok := mask.(bool); ok && b {
		return nil, false
	}
	switch v := value.(type) {
	case map[string]any:
		maskMap, _ := mask.(map[string]any)
		out := map[string]any{}
		for key, val := range v {
			if kept, keep := redact(val, maskMap[key]); keep {
				out[key] = kept
			}
		}
		if len(out) == 0 && len(v) > 0 {
			return nil, false
		}
		return out, true
	case []any:
		maskList, _ := mask.([]any)
		out := []any{}
		for i, val := range v {
			var m any
			if i < len(maskList) {
				m = maskList[i]
			}
			if kept, keep := redact(val, m); keep {
				out = append(out, kept)
			}
		}
		if len(out) == 0 && len(v) > 0 {
			return nil, false
		}
		return out, true
	default:
		return value, true
	}
}

// variableChanges diffs the variables of two consecutive jobs. Nil means
// nothing was added, removed or changed.
func variableChanges(before, after map[string]any) *model.VariableChanges {
	changes := model.VariableChanges{
		Added:     map[string]any{},
		Removed:   map[string]any{},
		Changed:   map[string]model.VariableDelta{},
		Unchanged: map[string]any{},
	}
	for key, afterVal := range after {
		beforeVal, existed := before[key]
		switch {
		case !existed:
			changes.Added[key] = afterVal
		case reflect.DeepEqual(beforeVal, afterVal):
			changes.Unchanged[key] = afterVal
		default:
			changes.Changed[key] = model.VariableDelta{Before: beforeVal, After: afterVal}
		}
	}
	for key, beforeVal := range before {
		if _, kept := after[key]; !kept {
			changes.Removed[key] = beforeVal
		}
	}
	if len(changes.Added) == 0 && len(changes.Removed) == 0 && len(changes.Changed) == 0 {
		return nil
	}
	return &changes
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
