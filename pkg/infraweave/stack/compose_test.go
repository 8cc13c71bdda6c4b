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

package stack

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/testutil"
)

func bucketModule() model.Module {
	return model.Module{
		Module:     "s3bucket",
		ModuleName: "S3Bucket",
		Version:    "0.1.0",
		S3Key:      "s3bucket/s3bucket-0.1.0.zip",
		TfVariables: []model.TfVariable{
			{Name: "bucket_name", Type: json.RawMessage(`"string"`), Nullable: true},
		},
		TfOutputs: []model.TfOutput{
			{Name: "bucket_arn", Value: "aws_s3_bucket.bucket.arn"},
		},
		TfProviders: []model.TfRequiredProvider{
			{Name: "aws", Source: "hashicorp/aws", Version: "~> 5.0"},
		},
		TfLocks: []model.TfLockProvider{
			{Source: "registry.terraform.io/hashicorp/aws", Version: "5.30.0"},
		},
	}
}

func notifierModule() model.Module {
	return model.Module{
		Module:     "notifier",
		ModuleName: "Notifier",
		Version:    "0.2.0",
		S3Key:      "notifier/notifier-0.2.0.zip",
		TfVariables: []model.TfVariable{
			{Name: "target_arn", Type: json.RawMessage(`"string"`), Nullable: true},
			{Name: "message", Type: json.RawMessage(`"string"`), Default: json.RawMessage(`"hello"`), Nullable: true},
		},
		TfLocks: []model.TfLockProvider{
			{Source: "registry.terraform.io/hashicorp/aws", Version: "5.34.0"},
		},
	}
}

func stackManifest(modules ...model.StackModuleSpec) model.StackManifest {
	return model.StackManifest{
		APIVersion: "infraweave.io/v1",
		Kind:       "Stack",
		Metadata:   model.Metadata{Name: "bucketstack"},
		Spec: model.StackSpec{
			StackName: "BucketStack",
			Modules:   modules,
		},
	}
}

func TestComposeFlattensVariablesAndOutputs(t *testing.T) {
	manifest := stackManifest(model.StackModuleSpec{
		ModuleName:   "S3Bucket",
		Version:      "0.1.0",
		InstanceName: "mybucket",
		Region:       "eu-west-1",
	})
	composed, err := Compose(manifest, map[string]model.Module{"mybucket": bucketModule()})
	testutil.CheckError(t, false, err)

	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, len(composed.TfVariables))
	testutil.CheckErrorAndDeepEqual(t, false, nil, "mybucket__bucket_name", composed.TfVariables[0].Name)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, len(composed.TfOutputs))
	testutil.CheckErrorAndDeepEqual(t, false, nil, "mybucket__bucket_arn", composed.TfOutputs[0].Name)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "module.mybucket.bucket_arn", composed.TfOutputs[0].Value)

	main := string(composed.MainTf)
	if !strings.Contains(main, `module "mybucket"`) {
		t.Errorf("expected a module block, got:\n%s", main)
	}
	if !strings.Contains(main, "./s3bucket-0.1.0") {
		t.Errorf("expected bundled module source, got:\n%s", main)
	}
	if !strings.Contains(main, "var.mybucket__bucket_name") {
		t.Errorf("expected flattened variable wiring, got:\n%s", main)
	}
	testutil.CheckErrorAndDeepEqual(t, false, nil, model.ModuleStackData{
		Modules: []model.StackModule{{Module: "s3bucket", Version: "0.1.0", S3Key: "s3bucket/s3bucket-0.1.0.zip"}},
	}, composed.StackData)
}

func TestComposeOverrideBecomesDefault(t *testing.T) {
	manifest := stackManifest(model.StackModuleSpec{
		ModuleName:   "S3Bucket",
		Version:      "0.1.0",
		InstanceName: "mybucket",
		Region:       "eu-west-1",
		Variables:    map[string]any{"bucketName": "pinned-name"},
	})
	composed, err := Compose(manifest, map[string]model.Module{"mybucket": bucketModule()})
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, `"pinned-name"`, string(composed.TfVariables[0].Default))
}

func TestComposeWiresOutputReference(t *testing.T) {
	manifest := stackManifest(
		model.StackModuleSpec{
			ModuleName:   "S3Bucket",
			Version:      "0.1.0",
			InstanceName: "mybucket",
			Region:       "eu-west-1",
		},
		model.StackModuleSpec{
			ModuleName:   "Notifier",
			Version:      "0.2.0",
			InstanceName: "notify",
			Region:       "eu-west-1",
			Variables:    map[string]any{"targetArn": "{{ S3Bucket::mybucket::bucketArn }}"},
		},
	)
	composed, err := Compose(manifest, map[string]model.Module{
		"mybucket": bucketModule(),
		"notify":   notifierModule(),
	})
	testutil.CheckError(t, false, err)

	main := string(composed.MainTf)
	if !strings.Contains(main, "module.mybucket.bucket_arn") {
		t.Errorf("expected output reference wiring, got:\n%s", main)
	}
	// The bound variable leaves the surface; message and bucket_name stay.
	for _, v := range composed.TfVariables {
		if v.Name == "notify__target_arn" {
			t.Errorf("reference-bound variable should not be exposed, got %+v", composed.TfVariables)
		}
	}
}

func TestComposeEmbeddedReferenceInterpolates(t *testing.T) {
	manifest := stackManifest(
		model.StackModuleSpec{
			ModuleName:   "S3Bucket",
			Version:      "0.1.0",
			InstanceName: "mybucket",
			Region:       "eu-west-1",
		},
		model.StackModuleSpec{
			ModuleName:   "Notifier",
			Version:      "0.2.0",
			InstanceName: "notify",
			Region:       "eu-west-1",
			Variables:    map[string]any{"message": "bucket is {{ S3Bucket::mybucket::bucketArn }}!"},
		},
	)
	composed, err := Compose(manifest, map[string]model.Module{
		"mybucket": bucketModule(),
		"notify":   notifierModule(),
	})
	testutil.CheckError(t, false, err)
	if !strings.Contains(string(composed.MainTf), "${module.mybucket.bucket_arn}") {
		t.Errorf("expected interpolated reference, got:\n%s", string(composed.MainTf))
	}
}

func TestComposeRejectsMissingRegion(t *testing.T) {
	manifest := stackManifest(model.StackModuleSpec{
		ModuleName:   "S3Bucket",
		Version:      "0.1.0",
		InstanceName: "mybucket",
	})
	_, err := Compose(manifest, map[string]model.Module{"mybucket": bucketModule()})
	if !errors.Is(err, ErrStackRegionMissing) {
		t.Errorf("expected ErrStackRegionMissing, got %v", err)
	}
}

func TestComposeRejectsUnknownReference(t *testing.T) {
	manifest := stackManifest(model.StackModuleSpec{
		ModuleName:   "Notifier",
		Version:      "0.2.0",
		InstanceName: "notify",
		Region:       "eu-west-1",
		Variables:    map[string]any{"targetArn": "{{ S3Bucket::nosuch::bucketArn }}"},
	})
	_, err := Compose(manifest, map[string]model.Module{"notify": notifierModule()})
	testutil.CheckErrorContains(t, err, `references unknown instance "nosuch"`)
}

func TestComposeRejectsSelfReference(t *testing.T) {
	manifest := stackManifest(model.StackModuleSpec{
		ModuleName:   "Notifier",
		Version:      "0.2.0",
		InstanceName: "notify",
		Region:       "eu-west-1",
		Variables:    map[string]any{"targetArn": "{{ Notifier::notify::message }}"},
	})
	_, err := Compose(manifest, map[string]model.Module{"notify": notifierModule()})
	testutil.CheckErrorContains(t, err, "references itself")
}

func TestComposeRejectsCycle(t *testing.T) {
	a := notifierModule()
	a.Module = "notifier"
	b := bucketModule()
	b.TfVariables = append(b.TfVariables, model.TfVariable{
		Name: "callback", Type: json.RawMessage(`"string"`), Nullable: true,
	})
	b.TfOutputs = append(b.TfOutputs, model.TfOutput{Name: "endpoint"})
	a.TfOutputs = append(a.TfOutputs, model.TfOutput{Name: "topic_arn"})

	manifest := stackManifest(
		model.StackModuleSpec{
			ModuleName:   "S3Bucket",
			Version:      "0.1.0",
			InstanceName: "mybucket",
			Region:       "eu-west-1",
			Variables:    map[string]any{"callback": "{{ Notifier::notify::topicArn }}"},
		},
		model.StackModuleSpec{
			ModuleName:   "Notifier",
			Version:      "0.2.0",
			InstanceName: "notify",
			Region:       "eu-west-1",
			Variables:    map[string]any{"targetArn": "{{ S3Bucket::mybucket::endpoint }}"},
		},
	)
	_, err := Compose(manifest, map[string]model.Module{"mybucket": b, "notify": a})
	testutil.CheckErrorContains(t, err, "cyclic reference")
}

func TestComposeRejectsInstanceNameFormat(t *testing.T) {
	manifest := stackManifest(model.StackModuleSpec{
		ModuleName:   "S3Bucket",
		Version:      "0.1.0",
		InstanceName: "My-Bucket",
		Region:       "eu-west-1",
	})
	_, err := Compose(manifest, map[string]model.Module{"My-Bucket": bucketModule()})
	testutil.CheckErrorContains(t, err, "must match")
}

func TestMergeProvidersLockConflict(t *testing.T) {
	manifest := stackManifest(
		model.StackModuleSpec{ModuleName: "S3Bucket", Version: "0.1.0", InstanceName: "mybucket", Region: "eu-west-1"},
		model.StackModuleSpec{ModuleName: "Notifier", Version: "0.2.0", InstanceName: "notify", Region: "eu-west-1"},
	)
	composed, err := Compose(manifest, map[string]model.Module{
		"mybucket": bucketModule(),
		"notify":   notifierModule(),
	})
	testutil.CheckError(t, false, err)
	// Highest lock version wins per source.
	testutil.CheckErrorAndDeepEqual(t, false, nil, []model.TfLockProvider{
		{Source: "registry.terraform.io/hashicorp/aws", Version: "5.34.0"},
	}, composed.TfLocks)
}

func TestMergeProvidersVersionConflictFails(t *testing.T) {
	conflicting := notifierModule()
	conflicting.TfProviders = []model.TfRequiredProvider{
		{Name: "aws", Source: "hashicorp/aws", Version: "~> 4.0"},
	}
	manifest := stackManifest(
		model.StackModuleSpec{ModuleName: "S3Bucket", Version: "0.1.0", InstanceName: "mybucket", Region: "eu-west-1"},
		model.StackModuleSpec{ModuleName: "Notifier", Version: "0.2.0", InstanceName: "notify", Region: "eu-west-1"},
	)
	_, err := Compose(manifest, map[string]model.Module{
		"mybucket": bucketModule(),
		"notify":   conflicting,
	})
	testutil.CheckErrorContains(t, err, "conflicting versions")
}
