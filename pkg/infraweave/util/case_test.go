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
	"testing"

	"github.com/infraweave-io/infraweave/testutil"
)

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "bucketName", expected: "bucket_name"},
		{input: "BucketName", expected: "bucket_name"},
		{input: "myLongVariableName", expected: "my_long_variable_name"},
		{input: "bucket_name", expected: "bucket_name"},
		{input: "bucket", expected: "bucket"},
		{input: "BUCKET_NAME", expected: "bucket_name"},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			testutil.CheckErrorAndDeepEqual(t, false, nil, test.expected, ToSnakeCase(test.input))
		})
	}
}

func TestToCamelCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "test_abc", expected: "testAbc"},
		{input: "bucket_name", expected: "bucketName"},
		{input: "bucket", expected: "bucket"},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			testutil.CheckErrorAndDeepEqual(t, false, nil, test.expected, ToCamelCase(test.input))
		})
	}
}

func TestIsCamelCase(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{input: "bucketName", expected: true},
		{input: "enableLogging", expected: true},
		{input: "bucket", expected: true},
		{input: "bucket_name", expected: false},
		{input: "BucketName", expected: false},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			testutil.CheckErrorAndDeepEqual(t, false, nil, test.expected, IsCamelCase(test.input))
		})
	}
}

func TestConvertFirstLevelKeysToSnakeCase(t *testing.T) {
	input := map[string]any{
		"bucketName":     "some-bucket",
		"longerNameHere": "long-value",
		"nestedKeyHere": map[string]any{
			"nestedKey": "nestedValue",
		},
		"lowercaseonly": "value",
		"myVar":         nil,
	}

	expected := map[string]any{
		"bucket_name":      "some-bucket",
		"longer_name_here": "long-value",
		"nested_key_here": map[string]any{
			"nestedKey": "nestedValue",
		},
		"lowercaseonly": "value",
		"my_var":        nil,
	}

	testutil.CheckErrorAndDeepEqual(t, false, nil, expected, ConvertFirstLevelKeysToSnakeCase(input))
}

func TestFlattenFirstLevelKeysToSnakeCase(t *testing.T) {
	input := map[string]any{
		"bucket": map[string]any{
			"bucketName": "some-bucket",
			"nestedKeyHere": map[string]any{
				"nestedKey": "nestedValue",
			},
		},
		"eksCluster": map[string]any{
			"clusterName": "my-cluster",
		},
		"topLevel": "scalar",
	}

	expected := map[string]any{
		"bucket__bucket_name": "some-bucket",
		"bucket__nested_key_here": map[string]any{
			"nestedKey": "nestedValue",
		},
		"eks_cluster__cluster_name": "my-cluster",
		"top_level":                 "scalar",
	}

	testutil.CheckErrorAndDeepEqual(t, false, nil, expected, FlattenFirstLevelKeysToSnakeCase(input, ""))
}

func TestFlattenFirstLevelKeysToSnakeCaseWithPrefix(t *testing.T) {
	input := map[string]any{
		"bucketName": "some-bucket",
		"tags": map[string]any{
			"env": "prod",
		},
	}

	expected := map[string]any{
		"bucket1__bucket_name": "some-bucket",
		"bucket1__tags__env":   "prod",
	}

	testutil.CheckErrorAndDeepEqual(t, false, nil, expected, FlattenFirstLevelKeysToSnakeCase(input, "bucket1"))
}
