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

// Package flags provides custom flag types for the command line.
package flags

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// EnvironmentValue validates the environment flag's
// <cluster-or-tenant>/<namespace> shape at parse time.
type EnvironmentValue struct {
	target *string
}

var _ pflag.Value = (*EnvironmentValue)(nil)

func NewEnvironmentValue(target *string) *EnvironmentValue {
	return &EnvironmentValue{target: target}
}

func (e *EnvironmentValue) String() string {
	if e.target == nil {
		return ""
	}
	return *e.target
}

func (e *EnvironmentValue) Set(value string) error {
	parts := strings.Split(value, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("environment must have the form <cluster-or-tenant>/<namespace>, got %q", value)
	}
	*e.target = value
	return nil
}

func (e *EnvironmentValue) Type() string {
	return "environment"
}
