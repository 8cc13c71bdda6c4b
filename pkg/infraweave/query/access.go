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

package query

import (
	"github.com/samber/lo"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
)

// AccessAll is the wildcard entry granting access to every project.
const AccessAll = "*"

// Accessible reports whether a caller with the given allowed_projects claim
// may touch project. An empty claim denies everything.
func Accessible(allowedProjects []string, project string) bool {
	return lo.Contains(allowedProjects, AccessAll) || lo.Contains(allowedProjects, project)
}

// FilterProjects narrows the project map to what the caller may see.
func FilterProjects(allowedProjects []string, projects []backend.Project) []backend.Project {
	return lo.Filter(projects, func(p backend.Project, _ int) bool {
		return Accessible(allowedProjects, p.ProjectID)
	})
}
