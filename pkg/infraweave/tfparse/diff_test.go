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

package tfparse

import (
	"testing"

	"github.com/infraweave-io/infraweave/testutil"
)

const diffBase = `
variable "bucket_name" {
  type    = string
  default = "bucket1"
}

resource "aws_s3_bucket" "bucket" {
  bucket = var.bucket_name
}
`

func TestDiffModulesAdditionAndChange(t *testing.T) {
	added, changed, removed, err := DiffModules(diffBase, `
variable "bucket_name" {
  type    = string
  default = "bucket2"
}

resource "aws_s3_bucket" "bucket" {
  bucket = var.bucket_name
}

resource "aws_s3_bucket_object" "my_object1" {
  bucket = var.bucket_name
  key    = "object1"
}
`)
	testutil.CheckError(t, false, err)

	if len(added) != 1 || added[0].Path != "/resource/aws_s3_bucket_object/my_object1" {
		t.Errorf("expected one addition at the new resource, got %+v", added)
	}
	if len(changed) != 1 || changed[0].Path != "/variable/bucket_name/default" {
		t.Errorf("expected one change at the default, got %+v", changed)
	}
	testutil.CheckErrorAndDeepEqual(t, false, nil, `"bucket1"`, string(changed[0].OldValue))
	testutil.CheckErrorAndDeepEqual(t, false, nil, `"bucket2"`, string(changed[0].NewValue))
	if len(removed) != 0 {
		t.Errorf("expected no removals, got %+v", removed)
	}
}

func TestDiffModulesMultipleAdditions(t *testing.T) {
	added, _, _, err := DiffModules(diffBase, diffBase+`
resource "aws_s3_bucket_object" "my_object1" {
  key = "object1"
}

resource "aws_s3_bucket_object" "my_object2" {
  key = "object2"
}
`)
	testutil.CheckError(t, false, err)

	paths := make([]string, len(added))
	for i, a := range added {
		paths[i] = a.Path
	}
	testutil.CheckErrorAndDeepEqual(t, false, nil, []string{
		"/resource/aws_s3_bucket_object/my_object1",
		"/resource/aws_s3_bucket_object/my_object2",
	}, paths)
}

func TestDiffModulesRemoval(t *testing.T) {
	_, _, removed, err := DiffModules(diffBase+`
resource "aws_s3_bucket_object" "my_object1" {
  key = "object1"
}
`, diffBase)
	testutil.CheckError(t, false, err)

	if len(removed) != 1 || removed[0].Path != "/resource/aws_s3_bucket_object/my_object1" {
		t.Errorf("expected one removal at the dropped resource, got %+v", removed)
	}
}

func TestDiffModulesIdentical(t *testing.T) {
	added, changed, removed, err := DiffModules(diffBase, diffBase)
	testutil.CheckError(t, false, err)
	if len(added)+len(changed)+len(removed) != 0 {
		t.Errorf("expected empty diff, got added=%+v changed=%+v removed=%+v", added, changed, removed)
	}
}
