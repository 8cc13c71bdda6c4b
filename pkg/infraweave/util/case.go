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

package util

import "github.com/iancoleman/strcase"

// ToSnakeCase converts camelCase or PascalCase to snake_case, matching
// Terraform variable naming.
func ToSnakeCase(s string) string {
	return strcase.ToSnake(s)
}

// ToCamelCase converts snake_case to lowerCamelCase, matching claim variable
// naming.
func ToCamelCase(s string) string {
	return strcase.ToLowerCamel(s)
}

// IsCamelCase reports whether s survives a snake_case round trip, i.e. it is
// a well-formed lowerCamelCase identifier with an unambiguous snake_case
// counterpart.
func IsCamelCase(s string) bool {
	return s == ToCamelCase(ToSnakeCase(s))
}

// ConvertFirstLevelKeysToSnakeCase converts only the top-level keys of a JSON
// object to snake_case, leaving nested values untouched. Arrays are converted
// element-wise; scalars pass through.
func ConvertFirstLevelKeysToSnakeCase(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[ToSnakeCase(key)] = val
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ConvertFirstLevelKeysToSnakeCase(item)
		}
		return out
	default:
		return value
	}
}

// FlattenFirstLevelKeysToSnakeCase flattens a two-level object into a single
// level where child keys become "<parent>__<child>", both converted to
// snake_case. Non-object children keep their (converted) top-level key.
// Deeper nesting is left as-is under the flattened key.
func FlattenFirstLevelKeysToSnakeCase(value map[string]any, prefix string) map[string]any {
	flat := map[string]any{}
	for key, val := range value {
		snakeKey := ToSnakeCase(key)
		if child, ok := val.(map[string]any); ok {
			for childKey, childVal := range child {
				newKey := snakeKey + "__" + ToSnakeCase(childKey)
				if prefix != "" {
					newKey = prefix + "__" + newKey
				}
				flat[newKey] = childVal
			}
			continue
		}
		newKey := snakeKey
		if prefix != "" {
			newKey = prefix + "__" + snakeKey
		}
		flat[newKey] = val
	}
	return flat
}
