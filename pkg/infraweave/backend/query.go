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

import "fmt"

// Query is a declarative read. The expression grammar is the key-condition
// subset shared by both store implementations: equality, begins_with, and
// numeric comparison on a hash plus optional range attribute, with
// :placeholder values and #name aliases for reserved words.
type Query struct {
	Index        string
	KeyCondition string
	Filter       string
	Names        map[string]string
	Values       map[string]any
	Limit        int32
	// ScanForward false reverses range-key order (newest version first).
	ScanForward *bool
	// Cursor resumes a previous page.
	Cursor string
}

// Descending is a convenience for queries wanting newest-first order.
func Descending() *bool {
	b := false
	return &b
}

// TransactOp is one write in an atomic batch: exactly one of Put or Delete.
type TransactOp struct {
	Table string
	// Put stores the full item, replacing any existing row with the same key.
	Put map[string]any
	// Delete removes the row with this PK/SK pair.
	Delete map[string]string
	// Condition optionally guards the write, e.g. "epoch = :epoch".
	Condition string
	Values    map[string]any
}

// ValidateOps rejects batches the store cannot apply atomically.
func ValidateOps(ops []TransactOp) error {
	if len(ops) == 0 {
		return NewError(ErrKindValidation, "transaction contains no operations")
	}
	if len(ops) > MaxTransactItems {
		return NewError(ErrKindValidation,
			fmt.Sprintf("transaction contains %d operations, maximum is %d", len(ops), MaxTransactItems))
	}
	for i, op := range ops {
		if (op.Put == nil) == (op.Delete == nil) {
			return NewError(ErrKindValidation,
				fmt.Sprintf("operation %d must set exactly one of Put or Delete", i))
		}
	}
	return nil
}
