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

import "time"

// Now is swappable for tests.
var Now = time.Now

// Epoch returns the current time as milliseconds since the Unix epoch. All
// epochs stored by the control plane use this resolution.
func Epoch() int64 {
	return Now().UnixMilli()
}

// Timestamp returns the current time as RFC3339 with millisecond precision
// in UTC, the format used for stored timestamps.
func Timestamp() string {
	return Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
