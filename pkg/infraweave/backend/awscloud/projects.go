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

package awscloud

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/identity"
)

// Project rows change rarely; cache them briefly to keep the config table
// out of hot request paths.
var projectCache = gocache.New(time.Minute, 5*time.Minute)

func (c *Client) ProjectMap(ctx context.Context) ([]backend.Project, error) {
	if cached, ok := projectCache.Get("projects"); ok {
		return cached.([]backend.Project), nil
	}

	result, err := c.ReadItems(ctx, backend.TableConfig, backend.Query{
		KeyCondition: "PK = :pk AND begins_with(SK, :prefix)",
		Values: map[string]any{
			":pk":     identity.ProjectsPK,
			":prefix": "PROJECT#",
		},
	})
	if err != nil {
		return nil, err
	}

	projects := make([]backend.Project, 0, len(result.Items))
	for _, item := range result.Items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		var p backend.Project
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	projectCache.Set("projects", projects, gocache.DefaultExpiration)
	return projects, nil
}

func (c *Client) AllRegions(ctx context.Context) ([]string, error) {
	if cached, ok := projectCache.Get("all_regions"); ok {
		return cached.([]string), nil
	}

	result, err := c.ReadItems(ctx, backend.TableConfig, backend.Query{
		KeyCondition: "PK = :pk",
		Values:       map[string]any{":pk": "all_regions"},
		Limit:        1,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, backend.NewError(backend.ErrKindNotFound, "all_regions config row missing")
	}

	var regions []string
	if raw, ok := result.Items[0]["regions"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				regions = append(regions, s)
			}
		}
	}
	projectCache.Set("all_regions", regions, gocache.DefaultExpiration)
	return regions, nil
}
