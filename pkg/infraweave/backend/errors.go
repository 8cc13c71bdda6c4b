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

import "errors"

// ErrKind discriminates backend failures for retry and HTTP mapping.
type ErrKind string

const (
	ErrKindNotFound          ErrKind = "not_found"
	ErrKindConflict          ErrKind = "conflict"
	ErrKindThrottled         ErrKind = "throttled"
	ErrKindNoAvailableRunner ErrKind = "no_available_runner"
	ErrKindValidation        ErrKind = "validation"
	ErrKindInternal          ErrKind = "internal"
)

// Error is a classified backend failure.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func NewError(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func WrapError(kind ErrKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same call may succeed later.
func (e *Error) Retryable() bool {
	return e.Kind == ErrKindThrottled || e.Kind == ErrKindNoAvailableRunner
}

// IsNotFound reports whether err is a missing-row or missing-blob failure.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsConflict reports whether err is a conditional-write conflict.
func IsConflict(err error) bool {
	return kindOf(err) == ErrKindConflict
}

// IsNoAvailableRunner reports whether err means job capacity was exhausted.
func IsNoAvailableRunner(err error) bool {
	return kindOf(err) == ErrKindNoAvailableRunner
}

func kindOf(err error) ErrKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}
