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

func TestLastLines(t *testing.T) {
	tests := []struct {
		description string
		input       string
		n           int
		expected    string
	}{
		{description: "empty", input: "", n: 3, expected: ""},
		{description: "fewer than n", input: "a\nb", n: 3, expected: "a\nb"},
		{description: "exactly n", input: "a\nb\nc", n: 3, expected: "a\nb\nc"},
		{description: "more than n", input: "a\nb\nc\nd", n: 2, expected: "c\nd"},
		{description: "trailing newline ignored", input: "a\nb\nc\n", n: 2, expected: "b\nc"},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			testutil.CheckErrorAndDeepEqual(t, false, nil, test.expected, LastLines(test.input, test.n))
		})
	}
}

func TestTruncateBytes(t *testing.T) {
	testutil.CheckErrorAndDeepEqual(t, false, nil, "abc", TruncateBytes("abc", 10))
	testutil.CheckErrorAndDeepEqual(t, false, nil, "ab\n... (truncated)", TruncateBytes("abcdef", 2))
}
