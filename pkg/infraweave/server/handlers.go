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

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/claim"
	"github.com/infraweave-io/infraweave/pkg/infraweave/identity"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/query"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
)

// maxPublishBytes bounds the zip accepted by the publish endpoint.
const maxPublishBytes = 64 << 20

// listItems runs one paginated read and decodes every row.
func listItems[T any](r *http.Request, b backend.Backend, table string, q backend.Query) ([]T, string, error) {
	q.Limit, q.Cursor = pageParams(r)
	res, err := b.ReadItems(r.Context(), table, q)
	if err != nil {
		return nil, "", err
	}
	items := make([]T, 0, len(res.Items))
	for _, item := range res.Items {
		var decoded T
		if err := backend.UnmarshalItem(item, &decoded); err != nil {
			return nil, "", err
		}
		items = append(items, decoded)
	}
	return items, res.Cursor, nil
}

// deploymentScope parses the trailing <cluster>/<namespace>/<kind>/<name>
// path segments into an environment and a deployment id.
func deploymentScope(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	parts := strings.Split(strings.Trim(chi.URLParam(r, "*"), "/"), "/")
	if len(parts) < 4 {
		writeError(w, http.StatusBadRequest, "path must end with <cluster>/<namespace>/<kind>/<name>")
		return "", "", false
	}
	return strings.Join(parts[:2], "/"), strings.Join(parts[2:], "/"), true
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.backend.ProjectMap(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	visible := query.FilterProjects(callerFrom(r.Context()).allowedProjects, projects)
	writeJSON(w, http.StatusOK, listResponse{Items: visible, Count: len(visible)})
}

func (s *Server) listDeployments(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	region := chi.URLParam(r, "region")
	if !s.authorizeProject(w, r, project) {
		return
	}
	environment := r.URL.Query().Get("environment")
	if environment == "" {
		writeError(w, http.StatusBadRequest, "environment query parameter is required")
		return
	}
	items, cursor, err := listItems[model.Deployment](r, s.backend, backend.TableDeployments,
		query.AllDeployments(project, region, environment))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Count: len(items), NextToken: cursor})
}

func (s *Server) getDeployment(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	region := chi.URLParam(r, "region")
	if !s.authorizeProject(w, r, project) {
		return
	}
	environment, deploymentID, ok := deploymentScope(w, r)
	if !ok {
		return
	}
	d, err := s.deployments.GetDeployment(r.Context(), project, region, environment, deploymentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	region := chi.URLParam(r, "region")
	if !s.authorizeProject(w, r, project) {
		return
	}
	environment, deploymentID, ok := deploymentScope(w, r)
	if !ok {
		return
	}
	items, cursor, err := listItems[model.Event](r, s.backend, backend.TableEvents,
		query.Events(project, region, environment, deploymentID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Count: len(items), NextToken: cursor})
}

func (s *Server) getChangeRecord(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	region := chi.URLParam(r, "region")
	jobID := chi.URLParam(r, "job")
	if !s.authorizeProject(w, r, project) {
		return
	}
	environment, deploymentID, ok := deploymentScope(w, r)
	if !ok {
		return
	}
	changeType := strings.ToUpper(r.URL.Query().Get("change_type"))
	if changeType == "" {
		changeType = "PLAN"
	}
	if changeType != "PLAN" && changeType != "APPLY" && changeType != "DESTROY" {
		writeError(w, http.StatusBadRequest, "change_type must be PLAN, APPLY or DESTROY")
		return
	}
	record, err := s.deployments.GetChangeRecord(r.Context(), changeType, project, region, environment, deploymentID, jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	if !s.authorizeProject(w, r, project) {
		return
	}
	entries, err := s.backend.ReadLogs(r.Context(), project, chi.URLParam(r, "region"), chi.URLParam(r, "job"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: entries, Count: len(entries)})
}

func (s *Server) listModules(w http.ResponseWriter, r *http.Request) {
	s.listLatest(w, r, query.AllLatestModules(chi.URLParam(r, "track")))
}

func (s *Server) listStacks(w http.ResponseWriter, r *http.Request) {
	s.listLatest(w, r, query.AllLatestStacks(chi.URLParam(r, "track")))
}

func (s *Server) listLatest(w http.ResponseWriter, r *http.Request, q backend.Query) {
	items, cursor, err := listItems[model.Module](r, s.backend, backend.TableModules, q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Count: len(items), NextToken: cursor})
}

func (s *Server) getModule(w http.ResponseWriter, r *http.Request) {
	s.getModuleVersion(w, r, chi.URLParam(r, "module"), false)
}

func (s *Server) getStack(w http.ResponseWriter, r *http.Request) {
	s.getModuleVersion(w, r, chi.URLParam(r, "stack"), true)
}

func (s *Server) getModuleVersion(w http.ResponseWriter, r *http.Request, name string, isStack bool) {
	track := chi.URLParam(r, "track")
	version := chi.URLParam(r, "version")

	var m *model.Module
	var err error
	switch {
	case version == "latest" && isStack:
		m, err = s.catalog.GetLatestStackVersion(r.Context(), name, track)
	case version == "latest":
		m, err = s.catalog.GetLatestModuleVersion(r.Context(), name, track)
	default:
		m, err = s.catalog.GetModuleVersion(r.Context(), name, track, version)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	items, cursor, err := listItems[model.Policy](r, s.backend, backend.TablePolicies,
		query.AllPolicies(chi.URLParam(r, "environment")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Count: len(items), NextToken: cursor})
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	environment := chi.URLParam(r, "environment")
	name := chi.URLParam(r, "policy")
	version := chi.URLParam(r, "version")

	var p *model.Policy
	var err error
	if version == "latest" {
		p, err = s.catalog.GetNewestPolicyVersion(r.Context(), name, environment)
	} else {
		p, err = s.catalog.GetPolicyVersion(r.Context(), name, environment, version)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// publishModule accepts a module or stack source zip in the request body and
// publishes it to the given track.
func (s *Server) publishModule(w http.ResponseWriter, r *http.Request) {
	track := r.URL.Query().Get("track")
	if track == "" {
		writeError(w, http.StatusBadRequest, "track query parameter is required")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPublishBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("reading module zip: %v", err))
		return
	}
	files, err := util.UnzipToMap(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unpacking module zip: %v", err))
		return
	}
	dir, err := os.MkdirTemp("", "infraweave-publish-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.RemoveAll(dir)
	for path, contents := range files {
		target := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := os.WriteFile(target, contents, 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	var m *model.Module
	if r.URL.Query().Get("type") == "stack" {
		m, err = s.catalog.PublishStack(r.Context(), dir, track, "")
	} else {
		m, err = s.catalog.PublishModule(r.Context(), dir, track, "")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type runClaimRequest struct {
	Claim       string `json:"claim"`
	ProjectID   string `json:"project_id"`
	Region      string `json:"region"`
	Environment string `json:"environment"`
	Command     string `json:"command"`
}

type runClaimResult struct {
	DeploymentID string `json:"deployment_id"`
	JobID        string `json:"job_id"`
}

// runClaim dispatches every manifest in the claim document as one job.
func (s *Server) runClaim(w http.ResponseWriter, r *http.Request) {
	var req runClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}
	if req.Command != model.CommandApply && req.Command != model.CommandPlan && req.Command != model.CommandDestroy {
		writeError(w, http.StatusBadRequest, "command must be apply, plan or destroy")
		return
	}
	if !s.authorizeProject(w, r, req.ProjectID) {
		return
	}
	manifests, err := claim.Parse([]byte(req.Claim))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := make([]runClaimResult, 0, len(manifests))
	for _, manifest := range manifests {
		deploymentID := claim.DeploymentID(manifest)
		var jobID string
		if req.Command == model.CommandDestroy {
			jobID, err = s.deployments.Destroy(r.Context(), req.ProjectID, req.Region, req.Environment, deploymentID)
		} else {
			jobID, err = s.dispatchClaim(r, req, manifest)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		results = append(results, runClaimResult{DeploymentID: deploymentID, JobID: jobID})
	}
	writeJSON(w, http.StatusAccepted, listResponse{Items: results, Count: len(results)})
}

func (s *Server) dispatchClaim(r *http.Request, req runClaimRequest, manifest model.DeploymentManifest) (string, error) {
	version, err := claim.Version(manifest)
	if err != nil {
		return "", err
	}
	track, err := identity.VersionTrack(version)
	if err != nil {
		return "", err
	}
	m, err := s.catalog.GetModuleVersion(r.Context(), claim.ModuleName(manifest), track, version)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("module %s version %s not found in track %s", claim.ModuleName(manifest), version, track)
	}
	payload, err := claim.ToPayload(manifest, *m, req.Command, req.ProjectID, req.Region, req.Environment, callerFrom(r.Context()).userID)
	if err != nil {
		return "", err
	}
	return s.deployments.SubmitJob(r.Context(), payload)
}
