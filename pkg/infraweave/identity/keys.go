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

package identity

import "fmt"

// Row key prefixes.
const (
	LatestModulePK = "LATEST_MODULE"
	LatestStackPK  = "LATEST_STACK"
	CurrentPK      = "CURRENT"
	ProjectsPK     = "PROJECTS"
	MetadataSK     = "METADATA"
)

// ModulePK returns "MODULE#<track>::<module>".
func ModulePK(module, track string) string {
	return "MODULE#" + Module(module, track)
}

// VersionSK returns "VERSION#<zero-padded-semver>".
func VersionSK(version string) (string, error) {
	padded, err := ZeroPadVersion(version, 3)
	if err != nil {
		return "", err
	}
	return "VERSION#" + padded, nil
}

// LatestSK is the sort key of a LATEST_MODULE/LATEST_STACK row.
func LatestSK(module, track string) string {
	return ModulePK(module, track)
}

// PolicyPK returns "POLICY#<environment>::<policy>".
func PolicyPK(policy, environment string) string {
	return "POLICY#" + Policy(policy, environment)
}

// DeploymentPK returns "DEPLOYMENT#<project>::<region>::<environment>::<id>".
func DeploymentPK(project, region, environment, deploymentID string) string {
	return "DEPLOYMENT#" + Deployment(project, region, environment, deploymentID)
}

// PlanPK is the partition of per-job plan rows.
func PlanPK(project, region, environment, deploymentID string) string {
	return "PLAN#" + Deployment(project, region, environment, deploymentID)
}

// DependentSK returns "DEPENDENT#<dependent deployment identifier>".
func DependentSK(dependentID string) string {
	return "DEPENDENT#" + dependentID
}

// EventPK returns "EVENT#<project>::<region>::<environment>::<id>".
func EventPK(project, region, environment, deploymentID string) string {
	return "EVENT#" + Deployment(project, region, environment, deploymentID)
}

// EventSK returns "<epoch>::<job_id>::<status>", monotonic per deployment.
func EventSK(epoch int64, jobID, status string) string {
	return fmt.Sprintf("%d::%s::%s", epoch, jobID, status)
}

// ChangeRecordPK returns "MUTATE#<identifier>" for apply/destroy records and
// "PLAN#<identifier>" for plan records.
func ChangeRecordPK(changeType, project, region, environment, deploymentID string) string {
	prefix := "MUTATE"
	if changeType == "PLAN" {
		prefix = "PLAN"
	}
	return prefix + "#" + ChangeRecord(project, region, environment, deploymentID)
}

// ProjectSK returns "PROJECT#<project_id>".
func ProjectSK(projectID string) string {
	return "PROJECT#" + projectID
}

// Synthetic attributes below exist only to feed secondary indexes; the
// keyed-store backend cannot index booleans, so deleted is encoded as 0/1.

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DeletedPK returns "<0|1>|<PK>", the range key of ModuleIndex.
func DeletedPK(deleted bool, pk string) string {
	return fmt.Sprintf("%d|%s", boolInt(deleted), pk)
}

// DeletedPKBase returns "<0|1>|DEPLOYMENT#<project>::<region>", the hash key
// of DeletedIndex: all live deployments of one project and region. The
// environment narrows the range key with a PK prefix.
func DeletedPKBase(deleted bool, project, region string) string {
	return fmt.Sprintf("%d|DEPLOYMENT#%s::%s", boolInt(deleted), project, region)
}

// ModulePKBase returns "<module>|<project>::<region>", the hash key of
// ModuleIndex: deployments of one module within a project and region.
func ModulePKBase(module, project, region string) string {
	return fmt.Sprintf("%s|%s::%s", module, project, region)
}

// DeletedSKBase returns "<0|1>|<SK>", the hash key of DriftCheckIndex.
func DeletedSKBase(deleted bool, sk string) string {
	return fmt.Sprintf("%d|%s", boolInt(deleted), sk)
}

// EventPKBaseRegion returns "EVENT#<region>", the hash key of RegionIndex.
func EventPKBaseRegion(region string) string {
	return "EVENT#" + region
}
