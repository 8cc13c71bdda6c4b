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

// Package identity defines the canonical identifier and storage key formats.
// Every row written by the control plane derives its keys from these
// functions; changing any format is a breaking change to existing data.
package identity

import (
	"fmt"
	"strings"

	"github.com/blang/semver"
)

// TrackStable is the release track of versions without a pre-release tag.
const TrackStable = "stable"

// PreReleaseTracks are the accepted pre-release tags, each of which maps to
// its own release track.
var PreReleaseTracks = []string{"rc", "beta", "alpha", "dev"}

// Deployment returns "<project>::<region>::<environment>::<deployment_id>".
func Deployment(project, region, environment, deploymentID string) string {
	return fmt.Sprintf("%s::%s::%s::%s", project, region, environment, deploymentID)
}

// Module returns "<track>::<module>".
func Module(module, track string) string {
	return fmt.Sprintf("%s::%s", track, module)
}

// Policy returns "<environment>::<policy>".
func Policy(policy, environment string) string {
	return fmt.Sprintf("%s::%s", environment, policy)
}

// ChangeRecord returns the identifier shared with deployments.
func ChangeRecord(project, region, environment, deploymentID string) string {
	return Deployment(project, region, environment, deploymentID)
}

// ZeroPadVersion pads the numeric components of a semver string to width
// digits so the result sorts lexicographically in semantic order.
// "1.2.3-alpha.1" becomes "001.002.003-alpha.1"; build metadata is kept.
func ZeroPadVersion(version string, width int) (string, error) {
	v, err := semver.Parse(version)
	if err != nil {
		return "", fmt.Errorf("parsing version %q: %w", version, err)
	}
	padded := fmt.Sprintf("%0*d.%0*d.%0*d", width, v.Major, width, v.Minor, width, v.Patch)
	if len(v.Pre) > 0 {
		pre := make([]string, len(v.Pre))
		for i, p := range v.Pre {
			pre[i] = p.String()
		}
		padded += "-" + strings.Join(pre, ".")
	}
	if len(v.Build) > 0 {
		padded += "+" + strings.Join(v.Build, ".")
	}
	return padded, nil
}

// VersionTrack derives the release track from a version: the first
// pre-release token, or "stable" when there is none.
// "0.1.2-dev+test.10" is on track "dev"; "1.0.0" is on "stable".
func VersionTrack(version string) (string, error) {
	v, err := semver.Parse(version)
	if err != nil {
		return "", fmt.Errorf("parsing version %q: %w", version, err)
	}
	if len(v.Pre) == 0 {
		return TrackStable, nil
	}
	return v.Pre[0].String(), nil
}

// ValidTrack reports whether track is one the catalog accepts.
func ValidTrack(track string) bool {
	if track == TrackStable {
		return true
	}
	for _, t := range PreReleaseTracks {
		if t == track {
			return true
		}
	}
	return false
}
