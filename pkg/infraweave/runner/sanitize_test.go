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
	"testing"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/testutil"
)

func TestDeriveAction(t *testing.T) {
	tests := []struct {
		description string
		actions     []any
		expected    string
	}{
		{"create", []any{"create"}, "Create"},
		{"update", []any{"update"}, "Update"},
		{"delete", []any{"delete"}, "Delete"},
		{"replace", []any{"delete", "create"}, "Replace"},
		{"replace reversed", []any{"create", "delete"}, "Replace"},
		{"noop", []any{"no-op"}, "NoOp"},
		{"empty", nil, "NoOp"},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			testutil.CheckErrorAndDeepEqual(t, false, nil, test.expected, deriveAction(test.actions))
		})
	}
}

func TestRedactWholeSubtree(t *testing.T) {
	value := map[string]any{"password": "hunter2"}
	_, keep := redact(value, true)
	if keep {
		t.Error("a true sensitivity marker must hide the whole subtree")
	}
}

func TestRedactPartialMap(t *testing.T) {
	value := map[string]any{
		"bucket":   "my-bucket",
		"password": "hunter2",
		"tags":     map[string]any{"team": "platform", "token": "secret"},
	}
	mask := map[string]any{
		"password": true,
		"tags":     map[string]any{"token": true},
	}
	got, keep := redact(value, mask)
	if !keep {
		t.Fatal("expected the unmasked members to survive")
	}
	testutil.CheckErrorAndDeepEqual(t, false, nil, map[string]any{
		"bucket": "my-bucket",
		"tags":   map[string]any{"team": "platform"},
	}, got)
}

func TestRedactPartialArray(t *testing.T) {
	value := []any{"public", "secret", "internal"}
	mask := []any{false, true}
	got, keep := redact(value, mask)
	if !keep {
		t.Fatal("expected the unmasked elements to survive")
	}
	testutil.CheckErrorAndDeepEqual(t, false, nil, []any{"public", "internal"}, got)
}

func TestRedactEmptiedContainerIsAbsent(t *testing.T) {
	value := map[string]any{"password": "hunter2"}
	mask := map[string]any{"password": true}
	_, keep := redact(value, mask)
	if keep {
		t.Error("a container emptied by masking must be absent, not empty")
	}

	// An originally empty container is kept as-is.
	got, keep := redact(map[string]any{}, nil)
	if !keep {
		t.Fatal("an empty input container must survive")
	}
	testutil.CheckErrorAndDeepEqual(t, false, nil, map[string]any{}, got)
}

func TestSanitizeResourceChanges(t *testing.T) {
	plan := map[string]any{
		"resource_changes": []any{
			map[string]any{
				"address": "aws_db_instance.main",
				"type":    "aws_db_instance",
				"name":    "main",
				"change": map[string]any{
					"actions":          []any{"create"},
					"before":           nil,
					"after":            map[string]any{"engine": "postgres", "password": "hunter2"},
					"before_sensitive": false,
					"after_sensitive":  map[string]any{"password": true},
				},
			},
		},
	}
	got := sanitizeResourceChanges(plan)
	testutil.CheckErrorAndDeepEqual(t, false, nil, []model.ResourceChange{{
		Address: "aws_db_instance.main",
		Type:    "aws_db_instance",
		Name:    "main",
		Action:  "Create",
		After:   map[string]any{"engine": "postgres"},
	}}, got)
}

func TestVariableChanges(t *testing.T) {
	before := map[string]any{
		"bucket_name": "old-name",
		"versioning":  true,
		"acl":         "private",
	}
	after := map[string]any{
		"bucket_name": "new-name",
		"versioning":  true,
		"tags":        map[string]any{"team": "platform"},
	}
	got := variableChanges(before, after)
	if got == nil {
		t.Fatal("expected a non-nil diff")
	}
	testutil.CheckErrorAndDeepEqual(t, false, nil, map[string]any{"tags": map[string]any{"team": "platform"}}, got.Added)
	testutil.CheckErrorAndDeepEqual(t, false, nil, map[string]any{"acl": "private"}, got.Removed)
	testutil.CheckErrorAndDeepEqual(t, false, nil, map[string]model.VariableDelta{
		"bucket_name": {Before: "old-name", After: "new-name"},
	}, got.Changed)
	testutil.CheckErrorAndDeepEqual(t, false, nil, map[string]any{"versioning": true}, got.Unchanged)
}

func TestVariableChangesNilWhenUnchanged(t *testing.T) {
	vars := map[string]any{"bucket_name": "same"}
	if got := variableChanges(vars, vars); got != nil {
		t.Errorf("expected nil for an unchanged variable set, got %+v", got)
	}
}
