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
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/identity"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/stack"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
	yamlutil "github.com/infraweave-io/infraweave/pkg/infraweave/yaml"
)

// PublishStack composes the stack's module instances into a synthetic root
// module, bundles every referenced module version into one zip and writes
// the version and LATEST_STACK rows.
func (c *Catalog) PublishStack(ctx context.Context, dir, track, versionOverride string) (*model.Module, error) {
	manifest, err := readStackManifest(dir)
	if err != nil {
		return nil, err
	}
	if versionOverride != "" {
		manifest.Spec.Version = versionOverride
	}
	if manifest.Spec.Version == "" {
		return nil, fmt.Errorf("stack %s has no version: set spec.version or pass an override", manifest.Metadata.Name)
	}
	if manifest.Metadata.Name != strings.ToLower(manifest.Spec.StackName) {
		return nil, fmt.Errorf("metadata.name %q must be the lowercase of spec.stackName %q",
			manifest.Metadata.Name, manifest.Spec.StackName)
	}
	if err := ensureTrackMatchesVersion(track, manifest.Spec.Version); err != nil {
		return nil, err
	}

	resolved, zips, err := c.resolveStackModules(ctx, manifest)
	if err != nil {
		return nil, err
	}
	composed, err := stack.Compose(*manifest, resolved)
	if err != nil {
		return nil, err
	}

	name := manifest.Metadata.Name
	version := manifest.Spec.Version
	previous, err := c.compareLatestVersion(ctx, "Stack", name, version, track)
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{
		"main.tf":      composed.MainTf,
		"variables.tf": composed.VariablesTf,
		"outputs.tf":   composed.OutputsTf,
	}
	versionDiff, err := c.versionDiff(ctx, previous, files)
	if err != nil {
		return nil, err
	}

	bundle := map[string][]byte{}
	for path, contents := range files {
		bundle[path] = contents
	}
	for instanceDir, zipData := range zips {
		moduleFiles, err := util.UnzipToMap(zipData)
		if err != nil {
			return nil, fmt.Errorf("unzipping bundled module for %s: %w", instanceDir, err)
		}
		for path, contents := range moduleFiles {
			bundle[instanceDir+"/"+path] = contents
		}
	}
	zipData, err := util.ZipFromMap(bundle)
	if err != nil {
		return nil, fmt.Errorf("zipping stack %s: %w", name, err)
	}
	s3Key := fmt.Sprintf("%s/%s-%s.zip", name, name, version)
	if err := c.backend.UploadBlob(ctx, backend.BucketModules, s3Key, bytes.NewReader(zipData)); err != nil {
		return nil, fmt.Errorf("uploading stack %s: %w", name, err)
	}

	row := model.Module{
		Track:        track,
		TrackVersion: trackVersion(track, version),
		Version:      version,
		Timestamp:    util.Timestamp(),
		ModuleName:   manifest.Spec.StackName,
		Module:       name,
		ModuleType:   "stack",
		Description:  manifest.Spec.Description,
		Reference:    manifest.Spec.Reference,
		Manifest:     stackAsModuleManifest(manifest),
		TfVariables:  composed.TfVariables,
		TfOutputs:    composed.TfOutputs,
		TfProviders:  composed.TfProviders,
		TfLocks:      composed.TfLocks,
		S3Key:        s3Key,
		CPU:          defaultCPU,
		Memory:       defaultMemory,
		StackData:    &composed.StackData,
		VersionDiff:  versionDiff,
	}
	if err := c.writeModuleRows(ctx, &row, identity.LatestStackPK); err != nil {
		return nil, err
	}
	logrus.Infof("published stack %s version %s to track %s", name, version, track)
	return &row, nil
}

// PreviewStack composes a stack source directory without publishing it,
// returning the synthetic root module's terraform files.
func (c *Catalog) PreviewStack(ctx context.Context, dir string) (*stack.Composed, error) {
	manifest, err := readStackManifest(dir)
	if err != nil {
		return nil, err
	}
	resolved, _, err := c.resolveStackModules(ctx, manifest)
	if err != nil {
		return nil, err
	}
	return stack.Compose(*manifest, resolved)
}

// resolveStackModules fetches the catalog row and source zip of every pinned
// module version, keyed by instance name.
func (c *Catalog) resolveStackModules(ctx context.Context, manifest *model.StackManifest) (map[string]model.Module, map[string][]byte, error) {
	resolved := map[string]model.Module{}
	zips := map[string][]byte{}
	for _, spec := range manifest.Spec.Modules {
		instanceName := spec.InstanceName
		if instanceName == "" {
			instanceName = strings.ToLower(spec.ModuleName)
		}
		moduleTrack, err := identity.VersionTrack(spec.Version)
		if err != nil {
			return nil, nil, fmt.Errorf("instance %q: %w", instanceName, err)
		}
		module, err := c.GetModuleVersion(ctx, strings.ToLower(spec.ModuleName), moduleTrack, spec.Version)
		if err != nil {
			return nil, nil, err
		}
		if module == nil {
			return nil, nil, fmt.Errorf("instance %q: module %s version %s not found in track %s",
				instanceName, spec.ModuleName, spec.Version, moduleTrack)
		}
		zipData, err := c.DownloadModuleZip(ctx, module)
		if err != nil {
			return nil, nil, err
		}
		resolved[instanceName] = *module
		zips[stack.ModuleDir(*module)] = zipData
	}
	return resolved, zips, nil
}

func readStackManifest(dir string) (*model.StackManifest, error) {
	manifestPath := filepath.Join(dir, "stack.yaml")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", manifestPath, err)
	}
	var document any
	if err := yamlutil.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}
	if err := validateSchema(stackManifestSchema, normalizeYAML(document)); err != nil {
		return nil, err
	}
	var manifest model.StackManifest
	if err := yamlutil.UnmarshalStrict(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}
	return &manifest, nil
}

// stackAsModuleManifest keeps the user's manifest alongside the stored row
// in the shared module shape.
func stackAsModuleManifest(manifest *model.StackManifest) model.ModuleManifest {
	return model.ModuleManifest{
		APIVersion: manifest.APIVersion,
		Kind:       manifest.Kind,
		Metadata:   manifest.Metadata,
		Spec: model.ModuleSpec{
			ModuleName:  manifest.Spec.StackName,
			Version:     manifest.Spec.Version,
			Description: manifest.Spec.Description,
			Reference:   manifest.Spec.Reference,
			Examples:    manifest.Spec.Examples,
		},
	}
}
