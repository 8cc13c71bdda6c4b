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

package backend

import (
	"encoding/json"
	"fmt"
)

// MarshalItem flattens a typed row into the generic item shape the store
// writes, merging key and index attributes on top of the struct fields.
func MarshalItem(row any, attrs map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encoding row: %w", err)
	}
	item := map[string]any{}
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decoding row: %w", err)
	}
	for k, v := range attrs {
		item[k] = v
	}
	return item, nil
}

// UnmarshalItem rehydrates a typed row from a stored item.
func UnmarshalItem(item map[string]any, row any) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding item: %w", err)
	}
	if err := json.Unmarshal(raw, row); err != nil {
		return fmt.Errorf("decoding item: %w", err)
	}
	return nil
}
