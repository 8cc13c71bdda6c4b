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

// Package query builds the typed read queries the control plane issues
// against the backend store. Every access path lives here so the key formats
// have a single point of truth next to their tests.
package query

import (
	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/identity"
)

// LatestModuleVersion looks up the newest version of a module in a track.
func LatestModuleVersion(module, track string) backend.Query {
	return latestVersion(identity.LatestModulePK, module, track)
}

// LatestStackVersion looks up the newest version of a stack in a track.
func LatestStackVersion(stack, track string) backend.Query {
	return latestVersion(identity.LatestStackPK, stack, track)
}

func latestVersion(pk, module, track string) backend.Query {
	return backend.Query{
		KeyCondition: "PK = :latest AND SK = :sk",
		Values: map[string]any{
			":latest": pk,
			":sk":     identity.LatestSK(module, track),
		},
		Limit: 1,
	}
}

// AllLatestModules lists the newest version of every module in a track.
func AllLatestModules(track string) backend.Query {
	return allLatest(identity.LatestModulePK, track)
}

// AllLatestStacks lists the newest version of every stack in a track.
func AllLatestStacks(track string) backend.Query {
	return allLatest(identity.LatestStackPK, track)
}

func allLatest(pk, track string) backend.Query {
	return backend.Query{
		KeyCondition: "PK = :latest AND begins_with(SK, :track)",
		Values: map[string]any{
			":latest": pk,
			":track":  "MODULE#" + track + "::",
		},
	}
}

// AllModuleVersions lists every version of one module, newest first.
func AllModuleVersions(module, track string) backend.Query {
	return backend.Query{
		KeyCondition: "PK = :module AND begins_with(SK, :sk)",
		Values: map[string]any{
			":module": identity.ModulePK(module, track),
			":sk":     "VERSION#",
		},
		ScanForward: backend.Descending(),
	}
}

// ModuleVersion is the point lookup of one published version.
func ModuleVersion(module, track, version string) (backend.Query, error) {
	sk, err := identity.VersionSK(version)
	if err != nil {
		return backend.Query{}, err
	}
	return backend.Query{
		KeyCondition: "PK = :module AND SK = :sk",
		Values: map[string]any{
			":module": identity.ModulePK(module, track),
			":sk":     sk,
		},
		Limit: 1,
	}, nil
}

// AllDeployments lists live deployments of a project/region, always filtered
// to one environment prefix.
func AllDeployments(project, region, environment string) backend.Query {
	return backend.Query{
		Index:        "DeletedIndex",
		KeyCondition: "deleted_PK_base = :base AND begins_with(PK, :prefix)",
		Values: map[string]any{
			":base":   identity.DeletedPKBase(false, project, region),
			":prefix": "DEPLOYMENT#" + identity.Deployment(project, region, environment, ""),
		},
	}
}

// Deployment is the point lookup of one live deployment's metadata row.
func Deployment(project, region, environment, deploymentID string) backend.Query {
	return backend.Query{
		KeyCondition: "PK = :pk AND SK = :metadata",
		Filter:       "deleted = :deleted",
		Values: map[string]any{
			":pk":       identity.DeploymentPK(project, region, environment, deploymentID),
			":metadata": identity.MetadataSK,
			":deleted":  0,
		},
	}
}

// DeploymentAndDependants reads the metadata row together with all live
// DEPENDENT# siblings in one range scan.
func DeploymentAndDependants(project, region, environment, deploymentID string) backend.Query {
	return backend.Query{
		KeyCondition: "PK = :pk",
		Filter:       "deleted <> :deleted",
		Values: map[string]any{
			":pk":      identity.DeploymentPK(project, region, environment, deploymentID),
			":deleted": 1,
		},
	}
}

// PlanDeployment reads the plan row of one job.
func PlanDeployment(project, region, environment, deploymentID, jobID string) backend.Query {
	return backend.Query{
		KeyCondition: "PK = :pk AND SK = :job_id",
		Filter:       "deleted <> :deleted",
		Values: map[string]any{
			":pk":      identity.PlanPK(project, region, environment, deploymentID),
			":job_id":  jobID,
			":deleted": 1,
		},
	}
}

// Dependants lists the live reverse-dependency rows of a deployment.
func Dependants(project, region, environment, deploymentID string) backend.Query {
	return backend.Query{
		KeyCondition: "PK = :pk AND begins_with(SK, :dependent_prefix)",
		Filter:       "deleted = :deleted",
		Values: map[string]any{
			":pk":               identity.DeploymentPK(project, region, environment, deploymentID),
			":dependent_prefix": "DEPENDENT#",
			":deleted":          0,
		},
	}
}

// DeploymentsUsingModule lists live deployments of one module within a
// project and region.
func DeploymentsUsingModule(module, project, region string) backend.Query {
	return backend.Query{
		Index:        "ModuleIndex",
		KeyCondition: "module_PK_base = :module AND begins_with(deleted_PK, :prefix)",
		Filter:       "SK = :metadata",
		Values: map[string]any{
			":module":   identity.ModulePKBase(module, project, region),
			":prefix":   "0|DEPLOYMENT#",
			":metadata": identity.MetadataSK,
		},
	}
}

// DriftCheckCandidates finds live deployments whose scheduled drift check is
// due. Disabled deployments carry -1 and fall outside the range.
func DriftCheckCandidates(nowEpoch int64) backend.Query {
	return backend.Query{
		Index:        "DriftCheckIndex",
		KeyCondition: "deleted_SK_base = :base AND next_drift_check_epoch BETWEEN :zero AND :now",
		Values: map[string]any{
			":base": identity.DeletedSKBase(false, identity.MetadataSK),
			":zero": 0,
			":now":  nowEpoch,
		},
	}
}

// Events lists a deployment's event trail in epoch order.
func Events(project, region, environment, deploymentID string) backend.Query {
	return backend.Query{
		KeyCondition: "PK = :pk",
		Values: map[string]any{
			":pk": identity.EventPK(project, region, environment, deploymentID),
		},
	}
}

// EventsByRegion scans the event trail of a whole region, newest first.
func EventsByRegion(region string) backend.Query {
	return backend.Query{
		Index:        "RegionIndex",
		KeyCondition: "PK_base_region = :region",
		Values: map[string]any{
			":region": identity.EventPKBaseRegion(region),
		},
		ScanForward: backend.Descending(),
	}
}

// ChangeRecord reads the audit record one job wrote for a change type.
func ChangeRecord(changeType, project, region, environment, deploymentID, jobID string) backend.Query {
	return backend.Query{
		KeyCondition: "PK = :pk AND SK = :sk",
		Values: map[string]any{
			":pk": identity.ChangeRecordPK(changeType, project, region, environment, deploymentID),
			":sk": jobID,
		},
	}
}

// NewestPolicyVersion returns the newest stored version of one policy.
func NewestPolicyVersion(policy, environment string) backend.Query {
	return backend.Query{
		KeyCondition: "PK = :policy",
		Values: map[string]any{
			":policy": identity.PolicyPK(policy, environment),
		},
		ScanForward: backend.Descending(),
		Limit:       1,
	}
}

// AllPolicies lists the current version of every policy in an environment.
func AllPolicies(environment string) backend.Query {
	return backend.Query{
		KeyCondition: "PK = :current AND begins_with(SK, :policy_prefix)",
		Values: map[string]any{
			":current":       identity.CurrentPK,
			":policy_prefix": "POLICY#" + environment,
		},
	}
}

// PolicyVersion is the point lookup of one policy version.
func PolicyVersion(policy, environment, version string) (backend.Query, error) {
	sk, err := identity.VersionSK(version)
	if err != nil {
		return backend.Query{}, err
	}
	return backend.Query{
		KeyCondition: "PK = :policy AND SK = :version",
		Values: map[string]any{
			":policy":  identity.PolicyPK(policy, environment),
			":version": sk,
		},
		Limit: 1,
	}, nil
}
