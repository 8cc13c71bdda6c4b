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

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/infraweave-io/infraweave/testutil"
)

func TestZipRoundTrip(t *testing.T) {
	files := map[string][]byte{
		"main.tf":                 []byte(`resource "null_resource" "x" {}`),
		"nested/variables.tf":     []byte(`variable "name" {}`),
		"s3bucket-0.1.2/outputs.tf": []byte(`output "arn" { value = "" }`),
	}

	data, err := ZipFromMap(files)
	testutil.CheckError(t, false, err)

	unpacked, err := UnzipToMap(data)
	testutil.CheckErrorAndDeepEqual(t, false, err, files, unpacked)
}

func TestUnzipToDir(t *testing.T) {
	files := map[string][]byte{
		"main.tf":          []byte("a"),
		"modules/extra.tf": []byte("b"),
	}
	data, err := ZipFromMap(files)
	testutil.CheckError(t, false, err)

	dir := t.TempDir()
	err = UnzipToDir(data, dir)
	testutil.CheckError(t, false, err)

	contents, err := os.ReadFile(filepath.Join(dir, "modules", "extra.tf"))
	testutil.CheckErrorAndDeepEqual(t, false, err, []byte("b"), contents)
}

func TestUnzipToDirRejectsEscape(t *testing.T) {
	data, err := ZipFromMap(map[string][]byte{"../escape.tf": []byte("x")})
	testutil.CheckError(t, false, err)

	err = UnzipToDir(data, t.TempDir())
	testutil.CheckError(t, true, err)
}
