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

package claim

import (
	"encoding/json"
	"testing"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/testutil"
)

const bucketClaim = `
apiVersion: infraweave.io/v1
kind: S3Bucket
metadata:
  name: my-bucket
spec:
  moduleVersion: 0.1.2
  region: eu-west-1
  variables:
    bucketName: my-unique-bucket
`

func s3bucketModule() model.Module {
	return model.Module{
		Module:     "s3bucket",
		ModuleName: "S3Bucket",
		ModuleType: "module",
		Track:      "stable",
		Version:    "0.1.2",
		CPU:        "1024",
		Memory:     "2048",
		TfVariables: []model.TfVariable{
			{Name: "bucket_name", Type: json.RawMessage(`"string"`), Nullable: true},
			{Name: "tags", Type: json.RawMessage(`"map(string)"`), Default: json.RawMessage(`{}`), Nullable: true},
			{Name: "enable_versioning", Type: json.RawMessage(`"bool"`), Default: json.RawMessage(`false`), Nullable: true},
		},
	}
}

func TestParse(t *testing.T) {
	manifests, err := Parse([]byte(bucketClaim))
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, len(manifests))
	testutil.CheckErrorAndDeepEqual(t, false, nil, "S3Bucket", manifests[0].Kind)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "s3bucket/my-bucket", DeploymentID(manifests[0]))
}

func TestParseRejectsWrongAPIVersion(t *testing.T) {
	_, err := Parse([]byte(`
apiVersion: example.com/v1
kind: S3Bucket
metadata:
  name: x
spec:
  moduleVersion: 0.1.2
  region: eu-west-1
`))
	testutil.CheckErrorContains(t, err, "unsupported apiVersion")
}

func TestParseMultipleDocuments(t *testing.T) {
	manifests, err := Parse([]byte(bucketClaim + "\n---\n" + bucketClaim))
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 2, len(manifests))
}

func TestParseSkipsEmptyDocuments(t *testing.T) {
	manifests, err := Parse([]byte("---\n" + bucketClaim + "\n---\n"))
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, len(manifests))
	testutil.CheckErrorAndDeepEqual(t, false, nil, "my-bucket", manifests[0].Metadata.Name)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
apiVersion: infraweave.io/v1
kind: S3Bucket
metadata:
  name: x
spec:
  moduleVersion: 0.1.2
  region: eu-west-1
  notAField: true
`))
	testutil.CheckError(t, true, err)
}

func TestIsStack(t *testing.T) {
	module := model.DeploymentManifest{Spec: model.DeploymentSpec{ModuleVersion: "1.0.0"}}
	stack := model.DeploymentManifest{Spec: model.DeploymentSpec{StackVersion: "1.0.0"}}
	testutil.CheckErrorAndDeepEqual(t, false, nil, false, IsStack(module))
	testutil.CheckErrorAndDeepEqual(t, false, nil, true, IsStack(stack))
}

func TestDriftDetectionDefaults(t *testing.T) {
	dd := DriftDetection(model.DeploymentManifest{})
	testutil.CheckErrorAndDeepEqual(t, false, nil, model.DriftDetection{
		Interval: "1h",
		Webhooks: []model.Webhook{},
	}, dd)

	custom := DriftDetection(model.DeploymentManifest{Spec: model.DeploymentSpec{
		DriftDetection: &model.DriftDetectionSpec{Enabled: true, Interval: "30m"},
	}})
	testutil.CheckErrorAndDeepEqual(t, false, nil, true, custom.Enabled)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "30m", custom.Interval)
}

func TestDependenciesNamespaceOverride(t *testing.T) {
	manifest := model.DeploymentManifest{Spec: model.DeploymentSpec{
		Dependencies: []model.DependencyRef{
			{Kind: "VPC", Name: "main"},
			{Kind: "Database", Name: "users", Namespace: "shared"},
		},
	}}
	deps := Dependencies(manifest, "proj", "eu-west-1", "k8s-cluster/playground")
	testutil.CheckErrorAndDeepEqual(t, false, nil, []model.Dependency{
		{ProjectID: "proj", Region: "eu-west-1", DeploymentID: "vpc/main", Environment: "k8s-cluster/playground"},
		{ProjectID: "proj", Region: "eu-west-1", DeploymentID: "database/users", Environment: "k8s-cluster/shared"},
	}, deps)
}

func TestVariablesModule(t *testing.T) {
	manifest := model.DeploymentManifest{Spec: model.DeploymentSpec{
		Variables: map[string]any{"bucketName": "b", "enableVersioning": true},
	}}
	vars := Variables(manifest, false)
	testutil.CheckErrorAndDeepEqual(t, false, nil, map[string]any{
		"bucket_name":       "b",
		"enable_versioning": true,
	}, vars)
}

func TestVariablesStackFlattens(t *testing.T) {
	manifest := model.DeploymentManifest{Spec: model.DeploymentSpec{
		Variables: map[string]any{
			"myBucket": map[string]any{"bucketName": "b"},
		},
	}}
	vars := Variables(manifest, true)
	testutil.CheckErrorAndDeepEqual(t, false, nil, map[string]any{
		"my_bucket__bucket_name": "b",
	}, vars)
}

func TestVerifyVariableClaimCasing(t *testing.T) {
	err := VerifyVariableClaimCasing(map[string]any{"bucketName": "x"})
	testutil.CheckError(t, false, err)

	err = VerifyVariableClaimCasing(map[string]any{"bucket_name": "x"})
	testutil.CheckErrorContains(t, err, `Variable "bucket_name" is not camelCase, please use "bucketName" instead`)
}

func TestVerifyVariableExistenceAndType(t *testing.T) {
	module := s3bucketModule()
	tests := []struct {
		description string
		variables   map[string]any
		expected    string
	}{
		{
			description: "valid",
			variables:   map[string]any{"bucket_name": "b", "tags": map[string]any{"Env": "dev"}},
		},
		{
			description: "unknown variable",
			variables:   map[string]any{"does_not_exist": "x"},
			expected:    `Variable "does_not_exist" not found in this module version`,
		},
		{
			description: "wrong type",
			variables:   map[string]any{"bucket_name": 5.0},
			expected:    `Variable "bucket_name" is of type number but should be of type string`,
		},
		{
			description: "map accepts object",
			variables:   map[string]any{"tags": map[string]any{}},
		},
		{
			description: "reference bypasses type check",
			variables:   map[string]any{"bucket_name": "{{ S3Bucket::other::bucketArn }}"},
		},
		{
			description: "null accepted when nullable",
			variables:   map[string]any{"bucket_name": nil},
		},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			err := VerifyVariableExistenceAndType(module, test.variables)
			if test.expected == "" {
				testutil.CheckError(t, false, err)
			} else {
				testutil.CheckErrorContains(t, err, test.expected)
			}
		})
	}
}

func TestVerifyRequiredVariablesAreSet(t *testing.T) {
	module := s3bucketModule()

	err := VerifyRequiredVariablesAreSet(module, map[string]any{"bucket_name": "b"})
	testutil.CheckError(t, false, err)

	err = VerifyRequiredVariablesAreSet(module, map[string]any{})
	testutil.CheckErrorContains(t, err, `Missing required variable: "bucket_name"`)
}

func TestToPayload(t *testing.T) {
	manifests, err := Parse([]byte(bucketClaim))
	testutil.CheckError(t, false, err)

	payload, err := ToPayload(manifests[0], s3bucketModule(), "apply", "proj", "eu-west-1", "k8s/default", "arn:user")
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "apply", payload.Command)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "s3bucket/my-bucket", payload.DeploymentID)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "0.1.2", payload.ModuleVersion)
	testutil.CheckErrorAndDeepEqual(t, false, nil, int64(-1), payload.NextDriftCheckEpoch)
	testutil.CheckErrorAndDeepEqual(t, false, nil, map[string]any{"bucket_name": "my-unique-bucket"}, payload.Variables)
}

func TestToPayloadRejectsBadVariables(t *testing.T) {
	manifest := model.DeploymentManifest{
		APIVersion: APIVersion,
		Kind:       "S3Bucket",
		Metadata:   model.DeploymentMetadata{Name: "x"},
		Spec: model.DeploymentSpec{
			ModuleVersion: "0.1.2",
			Region:        "eu-west-1",
			Variables:     map[string]any{"bucket_name": "b"},
		},
	}
	_, err := ToPayload(manifest, s3bucketModule(), "apply", "proj", "eu-west-1", "k8s/default", "")
	testutil.CheckErrorContains(t, err, "not camelCase")
}
