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

// Package catalog manages the published module, stack and policy inventory:
// publishing with per-track version monotonicity, latest-version lookup,
// version diffs against the previous publish and deprecation markers.
package catalog

import (
	"context"
	"fmt"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/query"
)

// Catalog reads and writes the module, stack and policy tables.
type Catalog struct {
	backend backend.Backend
}

func New(b backend.Backend) *Catalog {
	return &Catalog{backend: b}
}

// GetLatestModuleVersion returns the newest published version of a module in
// a track, or nil when the module has never been published there.
func (c *Catalog) GetLatestModuleVersion(ctx context.Context, module, track string) (*model.Module, error) {
	return c.readOneModule(ctx, query.LatestModuleVersion(module, track))
}

// GetLatestStackVersion is the stack counterpart of GetLatestModuleVersion.
func (c *Catalog) GetLatestStackVersion(ctx context.Context, stack, track string) (*model.Module, error) {
	return c.readOneModule(ctx, query.LatestStackVersion(stack, track))
}

// GetModuleVersion returns one published version, or nil when absent.
func (c *Catalog) GetModuleVersion(ctx context.Context, module, track, version string) (*model.Module, error) {
	q, err := query.ModuleVersion(module, track, version)
	if err != nil {
		return nil, err
	}
	return c.readOneModule(ctx, q)
}

// ListLatestModules lists the newest version of every module in a track.
func (c *Catalog) ListLatestModules(ctx context.Context, track string) ([]model.Module, error) {
	return c.readModules(ctx, query.AllLatestModules(track))
}

// ListLatestStacks lists the newest version of every stack in a track.
func (c *Catalog) ListLatestStacks(ctx context.Context, track string) ([]model.Module, error) {
	return c.readModules(ctx, query.AllLatestStacks(track))
}

// ListModuleVersions lists every version of one module, newest first.
func (c *Catalog) ListModuleVersions(ctx context.Context, module, track string) ([]model.Module, error) {
	return c.readModules(ctx, query.AllModuleVersions(module, track))
}

// DownloadModuleZip fetches the source bundle of a published version.
func (c *Catalog) DownloadModuleZip(ctx context.Context, m *model.Module) ([]byte, error) {
	data, err := c.backend.DownloadBlob(ctx, backend.BucketModules, m.S3Key)
	if err != nil {
		return nil, fmt.Errorf("downloading module %s version %s: %w", m.Module, m.Version, err)
	}
	return data, nil
}

// GetNewestPolicyVersion returns the newest stored version of one policy.
func (c *Catalog) GetNewestPolicyVersion(ctx context.Context, policy, environment string) (*model.Policy, error) {
	return c.readOnePolicy(ctx, query.NewestPolicyVersion(policy, environment))
}

// GetPolicyVersion returns one published policy version, or nil when absent.
func (c *Catalog) GetPolicyVersion(ctx context.Context, policy, environment, version string) (*model.Policy, error) {
	q, err := query.PolicyVersion(policy, environment, version)
	if err != nil {
		return nil, err
	}
	return c.readOnePolicy(ctx, q)
}

// ListPolicies lists the current version of every policy in an environment.
func (c *Catalog) ListPolicies(ctx context.Context, environment string) ([]model.Policy, error) {
	res, err := c.backend.ReadItems(ctx, backend.TablePolicies, query.AllPolicies(environment))
	if err != nil {
		return nil, err
	}
	policies := make([]model.Policy, 0, len(res.Items))
	for _, item := range res.Items {
		var p model.Policy
		if err := backend.UnmarshalItem(item, &p); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// DownloadPolicyZip fetches the rego bundle of a policy version.
func (c *Catalog) DownloadPolicyZip(ctx context.Context, p *model.Policy) ([]byte, error) {
	data, err := c.backend.DownloadBlob(ctx, backend.BucketPolicies, p.S3Key)
	if err != nil {
		return nil, fmt.Errorf("downloading policy %s version %s: %w", p.Policy, p.Version, err)
	}
	return data, nil
}

func (c *Catalog) readOneModule(ctx context.Context, q backend.Query) (*model.Module, error) {
	modules, err := c.readModules(ctx, q)
	if err != nil {
		if backend.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(modules) == 0 {
		return nil, nil
	}
	return &modules[0], nil
}

func (c *Catalog) readModules(ctx context.Context, q backend.Query) ([]model.Module, error) {
	res, err := c.backend.ReadItems(ctx, backend.TableModules, q)
	if err != nil {
		return nil, err
	}
	modules := make([]model.Module, 0, len(res.Items))
	for _, item := range res.Items {
		var m model.Module
		if err := backend.UnmarshalItem(item, &m); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func (c *Catalog) readOnePolicy(ctx context.Context, q backend.Query) (*model.Policy, error) {
	res, err := c.backend.ReadItems(ctx, backend.TablePolicies, q)
	if err != nil {
		if backend.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	var p model.Policy
	if err := backend.UnmarshalItem(res.Items[0], &p); err != nil {
		return nil, err
	}
	return &p, nil
}
