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

package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blang/semver"
	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/identity"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/tfparse"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
	yamlutil "github.com/infraweave-io/infraweave/pkg/infraweave/yaml"
)

const (
	defaultCPU    = "1024"
	defaultMemory = "2048"
)

// PublishModule validates, versions and uploads a module directory, writing
// the version row and the latest row in one transaction.
func (c *Catalog) PublishModule(ctx context.Context, dir, track, versionOverride string) (*model.Module, error) {
	manifest, err := readModuleManifest(dir)
	if err != nil {
		return nil, err
	}
	if versionOverride != "" {
		manifest.Spec.Version = versionOverride
	}
	if manifest.Spec.Version == "" {
		return nil, fmt.Errorf("module %s has no version: set spec.version or pass an override", manifest.Metadata.Name)
	}
	if err := validateModuleName(manifest); err != nil {
		return nil, err
	}
	if err := ensureTrackMatchesVersion(track, manifest.Spec.Version); err != nil {
		return nil, err
	}

	files, err := readModuleDir(dir)
	if err != nil {
		return nil, err
	}
	surface, err := extractTfSurface(files)
	if err != nil {
		return nil, err
	}

	module := manifest.Metadata.Name
	version := manifest.Spec.Version
	previous, err := c.compareLatestVersion(ctx, "Module", module, version, track)
	if err != nil {
		return nil, err
	}
	versionDiff, err := c.versionDiff(ctx, previous, files)
	if err != nil {
		return nil, err
	}

	zipData, err := util.ZipFromMap(files)
	if err != nil {
		return nil, fmt.Errorf("zipping module %s: %w", module, err)
	}
	s3Key := fmt.Sprintf("%s/%s-%s.zip", module, module, version)
	if err := c.backend.UploadBlob(ctx, backend.BucketModules, s3Key, bytes.NewReader(zipData)); err != nil {
		return nil, fmt.Errorf("uploading module %s: %w", module, err)
	}

	row := model.Module{
		Track:        track,
		TrackVersion: trackVersion(track, version),
		Version:      version,
		Timestamp:    util.Timestamp(),
		ModuleName:   manifest.Spec.ModuleName,
		Module:       module,
		ModuleType:   "module",
		Description:  manifest.Spec.Description,
		Reference:    manifest.Spec.Reference,
		Manifest:     *manifest,
		TfVariables:  surface.variables,
		TfOutputs:    surface.outputs,
		TfProviders:  surface.providers,
		TfLocks:      surface.locks,
		S3Key:        s3Key,
		CPU:          orDefault(manifest.Spec.CPU, defaultCPU),
		Memory:       orDefault(manifest.Spec.Memory, defaultMemory),
		VersionDiff:  versionDiff,
	}
	if err := c.writeModuleRows(ctx, &row, identity.LatestModulePK); err != nil {
		return nil, err
	}
	logrus.Infof("published module %s version %s to track %s", module, version, track)
	return &row, nil
}

// DeprecateModuleVersion flips the deprecation marker on one published
// version, and on the latest row when it points at the same version. History
// is never deleted.
func (c *Catalog) DeprecateModuleVersion(ctx context.Context, module, track, version string) error {
	row, err := c.GetModuleVersion(ctx, module, track, version)
	if err != nil {
		return err
	}
	if row == nil {
		return backend.NewError(backend.ErrKindNotFound,
			fmt.Sprintf("module %s version %s not found in track %s", module, version, track))
	}
	row.Deprecated = true
	row.TrackVersion = deprecatedTrackVersion(row.TrackVersion)

	sk, err := identity.VersionSK(version)
	if err != nil {
		return err
	}
	item, err := backend.MarshalItem(row, map[string]any{
		"PK": identity.ModulePK(module, track),
		"SK": sk,
	})
	if err != nil {
		return err
	}
	ops := []backend.TransactOp{{Table: backend.TableModules, Put: item}}

	latestPK := identity.LatestModulePK
	var latest *model.Module
	if row.StackData != nil {
		latestPK = identity.LatestStackPK
		latest, err = c.GetLatestStackVersion(ctx, module, track)
	} else {
		latest, err = c.GetLatestModuleVersion(ctx, module, track)
	}
	if err != nil {
		return err
	}
	if latest != nil && latest.Version == version {
		latest.Deprecated = true
		latest.TrackVersion = deprecatedTrackVersion(latest.TrackVersion)
		latestItem, err := backend.MarshalItem(latest, map[string]any{
			"PK": latestPK,
			"SK": identity.LatestSK(module, track),
		})
		if err != nil {
			return err
		}
		ops = append(ops, backend.TransactOp{Table: backend.TableModules, Put: latestItem})
	}
	return c.backend.TransactWrite(ctx, ops)
}

// PublishPolicy validates, versions and uploads a policy directory.
func (c *Catalog) PublishPolicy(ctx context.Context, dir, environment string) (*model.Policy, error) {
	manifestPath := filepath.Join(dir, "policy.yaml")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", manifestPath, err)
	}
	var document any
	if err := yamlutil.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}
	if err := validateSchema(policyManifestSchema, normalizeYAML(document)); err != nil {
		return nil, err
	}
	var manifest model.PolicyManifest
	if err := yamlutil.UnmarshalStrict(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}

	policy := manifest.Metadata.Name
	version := manifest.Spec.Version
	newest, err := c.GetNewestPolicyVersion(ctx, policy, environment)
	if err != nil {
		return nil, err
	}
	if newest != nil {
		if err := comparePolicyVersions(version, newest.Version, environment); err != nil {
			return nil, err
		}
	}

	zipData, err := util.ZipDirectory(dir)
	if err != nil {
		return nil, fmt.Errorf("zipping policy %s: %w", policy, err)
	}
	s3Key := fmt.Sprintf("%s/%s-%s.zip", policy, policy, version)
	if err := c.backend.UploadBlob(ctx, backend.BucketPolicies, s3Key, bytes.NewReader(zipData)); err != nil {
		return nil, fmt.Errorf("uploading policy %s: %w", policy, err)
	}

	row := model.Policy{
		Environment:        environment,
		EnvironmentVersion: environmentVersion(environment, version),
		Version:            version,
		Timestamp:          util.Timestamp(),
		PolicyName:         manifest.Spec.PolicyName,
		Policy:             policy,
		Description:        manifest.Spec.Description,
		Reference:          manifest.Spec.Reference,
		Data:               manifest.Spec.Data,
		Manifest:           manifest,
		S3Key:              s3Key,
	}
	sk, err := identity.VersionSK(version)
	if err != nil {
		return nil, err
	}
	versionItem, err := backend.MarshalItem(row, map[string]any{
		"PK": identity.PolicyPK(policy, environment),
		"SK": sk,
	})
	if err != nil {
		return nil, err
	}
	currentItem, err := backend.MarshalItem(row, map[string]any{
		"PK": identity.CurrentPK,
		"SK": identity.PolicyPK(policy, environment),
	})
	if err != nil {
		return nil, err
	}
	err = c.backend.TransactWrite(ctx, []backend.TransactOp{
		{Table: backend.TablePolicies, Put: versionItem},
		{Table: backend.TablePolicies, Put: currentItem},
	})
	if err != nil {
		return nil, err
	}
	logrus.Infof("published policy %s version %s to environment %s", policy, version, environment)
	return &row, nil
}

// PublishProvider uploads a prebuilt provider bundle so air-gapped runners
// can install providers without reaching the public registry.
func (c *Catalog) PublishProvider(ctx context.Context, name, version, osArch string, archive []byte) error {
	if _, err := semver.Parse(version); err != nil {
		return fmt.Errorf("parsing provider version %q: %w", version, err)
	}
	key := fmt.Sprintf("%s/%s/%s.zip", name, version, osArch)
	if err := c.backend.UploadBlob(ctx, backend.BucketProviders, key, bytes.NewReader(archive)); err != nil {
		return fmt.Errorf("uploading provider %s: %w", name, err)
	}
	padded, err := identity.ZeroPadVersion(version, 3)
	if err != nil {
		return err
	}
	item := map[string]any{
		"PK":        "PROVIDER#" + name,
		"SK":        "VERSION#" + padded + "::" + osArch,
		"provider":  name,
		"version":   version,
		"os_arch":   osArch,
		"s3_key":    key,
		"timestamp": util.Timestamp(),
	}
	return c.backend.TransactWrite(ctx, []backend.TransactOp{{Table: backend.TableConfig, Put: item}})
}

// compareLatestVersion enforces per-track version monotonicity and returns
// the previous latest, or nil on first publish. A republish of the same
// version with different build metadata is accepted as a new build.
func (c *Catalog) compareLatestVersion(ctx context.Context, entity, module, version, track string) (*model.Module, error) {
	var latest *model.Module
	var err error
	if entity == "Stack" {
		latest, err = c.GetLatestStackVersion(ctx, module, track)
	} else {
		latest, err = c.GetLatestModuleVersion(ctx, module, track)
	}
	if err != nil {
		return nil, err
	}
	if latest == nil {
		logrus.Infof("no existing %s version found in track %s, this is the first version", strings.ToLower(entity), track)
		return nil, nil
	}

	manifestVersion, err := semver.Parse(version)
	if err != nil {
		return nil, fmt.Errorf("parsing version %q: %w", version, err)
	}
	latestVersion, err := semver.Parse(latest.Version)
	if err != nil {
		return nil, fmt.Errorf("parsing stored version %q: %w", latest.Version, err)
	}

	switch cmp := manifestVersion.Compare(latestVersion); {
	case cmp == 0 && buildEqual(manifestVersion, latestVersion):
		return nil, fmt.Errorf("%s version %s already exists in track %s", entity, version, track)
	case cmp < 0:
		return nil, fmt.Errorf("%s version %s is older than the latest version %s in track %s",
			entity, version, latest.Version, track)
	default:
		// Equal semver with different build metadata counts as a new build.
		return latest, nil
	}
}

// versionDiff compares the new source against the previous version's zip.
func (c *Catalog) versionDiff(ctx context.Context, previous *model.Module, files map[string][]byte) (*model.ModuleVersionDiff, error) {
	if previous == nil {
		return nil, nil
	}
	previousZip, err := c.DownloadModuleZip(ctx, previous)
	if err != nil {
		return nil, err
	}
	previousFiles, err := util.UnzipToMap(previousZip)
	if err != nil {
		return nil, fmt.Errorf("unzipping previous version %s: %w", previous.Version, err)
	}
	added, changed, removed, err := tfparse.DiffModules(concatTf(previousFiles), concatTf(files))
	if err != nil {
		return nil, fmt.Errorf("diffing against version %s: %w", previous.Version, err)
	}
	return &model.ModuleVersionDiff{
		Added:           added,
		Changed:         changed,
		Removed:         removed,
		PreviousVersion: previous.Version,
	}, nil
}

func (c *Catalog) writeModuleRows(ctx context.Context, row *model.Module, latestPK string) error {
	sk, err := identity.VersionSK(row.Version)
	if err != nil {
		return err
	}
	versionItem, err := backend.MarshalItem(row, map[string]any{
		"PK": identity.ModulePK(row.Module, row.Track),
		"SK": sk,
	})
	if err != nil {
		return err
	}
	latestItem, err := backend.MarshalItem(row, map[string]any{
		"PK": latestPK,
		"SK": identity.LatestSK(row.Module, row.Track),
	})
	if err != nil {
		return err
	}
	return c.backend.TransactWrite(ctx, []backend.TransactOp{
		{Table: backend.TableModules, Put: versionItem},
		{Table: backend.TableModules, Put: latestItem},
	})
}

// tfSurface is everything extracted from a module's Terraform source.
type tfSurface struct {
	variables []model.TfVariable
	outputs   []model.TfOutput
	providers []model.TfRequiredProvider
	locks     []model.TfLockProvider
}

func extractTfSurface(files map[string][]byte) (*tfSurface, error) {
	if err := tfparse.ValidateBackendNotSet(files); err != nil {
		return nil, fmt.Errorf("%w. Please make sure you do not set any backend block in your terraform code, this is handled by the platform", err)
	}
	variables, err := tfparse.Variables(files)
	if err != nil {
		return nil, err
	}
	outputs, err := tfparse.Outputs(files)
	if err != nil {
		return nil, err
	}
	providers, err := tfparse.RequiredProviders(files)
	if err != nil {
		return nil, err
	}
	var locks []model.TfLockProvider
	if lockfile, ok := files[".terraform.lock.hcl"]; ok {
		locks, err = tfparse.LockProviders(lockfile)
		if err != nil {
			return nil, err
		}
	}
	return &tfSurface{variables: variables, outputs: outputs, providers: providers, locks: locks}, nil
}

func readModuleManifest(dir string) (*model.ModuleManifest, error) {
	manifestPath := filepath.Join(dir, "module.yaml")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", manifestPath, err)
	}
	var document any
	if err := yamlutil.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}
	if err := validateSchema(moduleManifestSchema, normalizeYAML(document)); err != nil {
		return nil, err
	}
	var manifest model.ModuleManifest
	if err := yamlutil.UnmarshalStrict(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}
	return &manifest, nil
}

func validateModuleName(manifest *model.ModuleManifest) error {
	name := manifest.Metadata.Name
	if name != strings.ToLower(manifest.Spec.ModuleName) {
		return fmt.Errorf("metadata.name %q must be the lowercase of spec.moduleName %q", name, manifest.Spec.ModuleName)
	}
	return nil
}

// ensureTrackMatchesVersion binds tracks to pre-release tags: stable takes
// plain versions, every other track requires its own tag.
func ensureTrackMatchesVersion(track, version string) error {
	if !identity.ValidTrack(track) {
		return fmt.Errorf("invalid track %q, allowed tracks: rc, beta, alpha, dev, stable", track)
	}
	versionTrack, err := identity.VersionTrack(version)
	if err != nil {
		return err
	}
	if track == identity.TrackStable && versionTrack != identity.TrackStable {
		return fmt.Errorf("pushing to stable track should not specify pre-release version, only major.minor.patch")
	}
	if track != versionTrack {
		return fmt.Errorf("track %q must match the pre-release tag %q of version %s", track, versionTrack, version)
	}
	return nil
}

func comparePolicyVersions(version, latestVersion, environment string) error {
	v, err := semver.Parse(version)
	if err != nil {
		return fmt.Errorf("parsing version %q: %w", version, err)
	}
	latest, err := semver.Parse(latestVersion)
	if err != nil {
		return fmt.Errorf("parsing stored version %q: %w", latestVersion, err)
	}
	switch cmp := v.Compare(latest); {
	case cmp == 0:
		return fmt.Errorf("Policy version %s already exists in environment %s", version, environment)
	case cmp < 0:
		return fmt.Errorf("Policy version %s is older than the latest version %s in environment %s",
			version, latestVersion, environment)
	}
	return nil
}

// readModuleDir collects a module's files, skipping the local .terraform
// working directory.
func readModuleDir(dir string) (map[string][]byte, error) {
	files := map[string][]byte{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".terraform" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = contents
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading module directory %s: %w", dir, err)
	}
	return files, nil
}

// concatTf joins all .tf file contents in name order into one source string.
func concatTf(files map[string][]byte) string {
	names := make([]string, 0, len(files))
	for name := range files {
		if strings.HasSuffix(name, ".tf") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.Write(files[name])
		b.WriteString("\n")
	}
	return b.String()
}

func trackVersion(track, version string) string {
	padded, err := identity.ZeroPadVersion(version, 3)
	if err != nil {
		return track + "#" + version
	}
	return track + "#" + padded
}

func environmentVersion(environment, version string) string {
	padded, err := identity.ZeroPadVersion(version, 3)
	if err != nil {
		return environment + "#" + version
	}
	return environment + "#" + padded
}

func deprecatedTrackVersion(tv string) string {
	if strings.HasSuffix(tv, "#DEPRECATED") {
		return tv
	}
	return tv + "#DEPRECATED"
}

func buildEqual(a, b semver.Version) bool {
	if len(a.Build) != len(b.Build) {
		return false
	}
	for i := range a.Build {
		if a.Build[i] != b.Build[i] {
			return false
		}
	}
	return true
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// normalizeYAML converts map[any]any trees from the YAML decoder into
// map[string]any so the JSON schema validator can walk them.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[fmt.Sprintf("%v", key)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return value
	}
}
