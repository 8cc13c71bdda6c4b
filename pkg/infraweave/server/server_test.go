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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend/backendtest"
	"github.com/infraweave-io/infraweave/pkg/infraweave/catalog"
	"github.com/infraweave-io/infraweave/pkg/infraweave/deployment"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/testutil"
)

const (
	testProject = "111111111111"
	testRegion  = "eu-west-1"
	testEnv     = "platform/dev"
)

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T) (*Server, *backendtest.Fake) {
	t.Helper()
	fake := backendtest.New(testProject, testRegion)
	return New(fake, Config{JWTSecret: testSecret}), fake
}

func signToken(t *testing.T, allowedProjects ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":                "user@example.com",
		allowedProjectsClaim: allowedProjects,
	})
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func doRequest(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func seedDeployment(t *testing.T, fake *backendtest.Fake, deploymentID string) {
	t.Helper()
	svc := deployment.New(fake)
	err := svc.SetDeployment(context.Background(), model.Deployment{
		DeploymentID: deploymentID,
		ProjectID:    testProject,
		Region:       testRegion,
		Environment:  testEnv,
		Module:       "s3bucket",
		Status:       model.StatusSuccessful,
	}, false)
	testutil.CheckError(t, false, err)
}

func publishTestModule(t *testing.T, fake *backendtest.Fake) {
	t.Helper()
	manifest := `apiVersion: infraweave.io/v1
kind: Module
metadata:
  name: s3bucket
spec:
  moduleName: S3Bucket
  version: 0.1.0
  description: S3 bucket
  reference: https://github.com/example/s3bucket
`
	tf := `variable "bucket_name" {
  type = string
}

resource "aws_s3_bucket" "bucket" {
  bucket = var.bucket_name
}
`
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "module.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.tf"), []byte(tf), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := catalog.New(fake).PublishModule(context.Background(), dir, "stable", ""); err != nil {
		t.Fatal(err)
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/projects", "", "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusUnauthorized, rec.Code)
}

func TestForgedTokenIsUnauthorized(t *testing.T) {
	s, _ := newTestServer(t)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "intruder"}).
		SignedString([]byte("wrong-secret"))
	testutil.CheckError(t, false, err)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/projects", forged, "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusUnauthorized, rec.Code)
}

func TestInaccessibleProjectIsNotFound(t *testing.T) {
	s, fake := newTestServer(t)
	seedDeployment(t, fake, "s3bucket/my-bucket")

	token := signToken(t, "222222222222")
	rec := doRequest(t, s, http.MethodGet,
		"/api/v1/deployments/"+testProject+"/"+testRegion+"?environment="+testEnv, token, "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusNotFound, rec.Code)

	var resp errorResponse
	decodeBody(t, rec, &resp)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "not found", resp.Error)
}

func TestListDeployments(t *testing.T) {
	s, fake := newTestServer(t)
	seedDeployment(t, fake, "s3bucket/my-bucket")
	seedDeployment(t, fake, "s3bucket/other-bucket")

	token := signToken(t, testProject)
	rec := doRequest(t, s, http.MethodGet,
		"/api/v1/deployments/"+testProject+"/"+testRegion+"?environment="+testEnv, token, "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusOK, rec.Code)

	var resp struct {
		Items []model.Deployment `json:"items"`
		Count int                `json:"count"`
	}
	decodeBody(t, rec, &resp)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 2, resp.Count)
}

func TestWildcardProjectAccess(t *testing.T) {
	s, fake := newTestServer(t)
	seedDeployment(t, fake, "s3bucket/my-bucket")

	token := signToken(t, "*")
	rec := doRequest(t, s, http.MethodGet,
		"/api/v1/deployment/"+testProject+"/"+testRegion+"/platform/dev/s3bucket/my-bucket", token, "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusOK, rec.Code)

	var d model.Deployment
	decodeBody(t, rec, &d)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "s3bucket/my-bucket", d.DeploymentID)
}

func TestGetDeploymentNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	token := signToken(t, testProject)
	rec := doRequest(t, s, http.MethodGet,
		"/api/v1/deployment/"+testProject+"/"+testRegion+"/platform/dev/s3bucket/missing", token, "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusNotFound, rec.Code)
}

func TestGetModuleVersions(t *testing.T) {
	s, fake := newTestServer(t)
	publishTestModule(t, fake)
	token := signToken(t, testProject)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/module/stable/s3bucket/latest", token, "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusOK, rec.Code)
	var m model.Module
	decodeBody(t, rec, &m)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "0.1.0", m.Version)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/modules/stable", token, "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusOK, rec.Code)
	var list struct {
		Items []model.Module `json:"items"`
		Count int            `json:"count"`
	}
	decodeBody(t, rec, &list)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, list.Count)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/module/stable/s3bucket/9.9.9", token, "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusNotFound, rec.Code)
}

func TestRunClaimDispatchesJob(t *testing.T) {
	s, fake := newTestServer(t)
	publishTestModule(t, fake)
	token := signToken(t, testProject)

	claimYAML := `apiVersion: infraweave.io/v1
kind: S3Bucket
metadata:
  name: my-bucket
spec:
  moduleVersion: 0.1.0
  variables:
    bucketName: my-test-bucket
`
	body, err := json.Marshal(runClaimRequest{
		Claim:       claimYAML,
		ProjectID:   testProject,
		Region:      testRegion,
		Environment: testEnv,
		Command:     model.CommandApply,
	})
	testutil.CheckError(t, false, err)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/claim/run", token, string(body))
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusAccepted, rec.Code)

	var resp struct {
		Items []runClaimResult `json:"items"`
		Count int              `json:"count"`
	}
	decodeBody(t, rec, &resp)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, resp.Count)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "s3bucket/my-bucket", resp.Items[0].DeploymentID)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "job-1", resp.Items[0].JobID)

	d, err := deployment.New(fake).GetDeployment(context.Background(), testProject, testRegion, testEnv, "s3bucket/my-bucket")
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, model.StatusRequested, d.Status)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "user@example.com", d.InitiatedBy)
}

func TestRunClaimRejectsUnknownVariable(t *testing.T) {
	s, fake := newTestServer(t)
	publishTestModule(t, fake)
	token := signToken(t, testProject)

	claimYAML := `apiVersion: infraweave.io/v1
kind: S3Bucket
metadata:
  name: my-bucket
spec:
  moduleVersion: 0.1.0
  variables:
    nonexistentVariable: oops
`
	body, err := json.Marshal(runClaimRequest{
		Claim:       claimYAML,
		ProjectID:   testProject,
		Region:      testRegion,
		Environment: testEnv,
		Command:     model.CommandApply,
	})
	testutil.CheckError(t, false, err)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/claim/run", token, string(body))
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusBadRequest, rec.Code)
}

func TestRunClaimDestroy(t *testing.T) {
	s, fake := newTestServer(t)
	seedDeployment(t, fake, "s3bucket/my-bucket")
	token := signToken(t, testProject)

	claimYAML := `apiVersion: infraweave.io/v1
kind: S3Bucket
metadata:
  name: my-bucket
spec:
  moduleVersion: 0.1.0
`
	body, err := json.Marshal(runClaimRequest{
		Claim:       claimYAML,
		ProjectID:   testProject,
		Region:      testRegion,
		Environment: testEnv,
		Command:     model.CommandDestroy,
	})
	testutil.CheckError(t, false, err)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/claim/run", token, string(body))
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusAccepted, rec.Code)

	d, err := deployment.New(fake).GetDeployment(context.Background(), testProject, testRegion, testEnv, "s3bucket/my-bucket")
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, model.StatusRequested, d.Status)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "arn:test:user", d.InitiatedBy)
}

func TestGetDestroyChangeRecord(t *testing.T) {
	s, fake := newTestServer(t)
	token := signToken(t, testProject)

	svc := deployment.New(fake)
	err := svc.InsertChangeRecord(context.Background(), model.ChangeRecord{
		DeploymentID: "s3bucket/my-bucket",
		ProjectID:    testProject,
		Region:       testRegion,
		Environment:  testEnv,
		JobID:        "job-9",
		ChangeType:   "DESTROY",
		ResourceChanges: []model.ResourceChange{
			{Address: "aws_s3_bucket.bucket", Type: "aws_s3_bucket", Name: "bucket", Action: "Delete"},
		},
	})
	testutil.CheckError(t, false, err)

	rec := doRequest(t, s, http.MethodGet,
		"/api/v1/change_record/"+testProject+"/"+testRegion+"/job-9/platform/dev/s3bucket/my-bucket?change_type=DESTROY",
		token, "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusOK, rec.Code)

	var record model.ChangeRecord
	decodeBody(t, rec, &record)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "DESTROY", record.ChangeType)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "Delete", record.ResourceChanges[0].Action)

	rec = doRequest(t, s, http.MethodGet,
		"/api/v1/change_record/"+testProject+"/"+testRegion+"/job-9/platform/dev/s3bucket/my-bucket?change_type=REPLACE",
		token, "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusBadRequest, rec.Code)
}

func TestListEvents(t *testing.T) {
	s, fake := newTestServer(t)
	token := signToken(t, testProject)

	svc := deployment.New(fake)
	err := svc.InsertEvent(context.Background(), model.Event{
		DeploymentID: "s3bucket/my-bucket",
		ProjectID:    testProject,
		Region:       testRegion,
		Environment:  testEnv,
		JobID:        "job-1",
		Status:       model.StatusInitiated,
		Epoch:        1000,
	})
	testutil.CheckError(t, false, err)

	rec := doRequest(t, s, http.MethodGet,
		"/api/v1/events/"+testProject+"/"+testRegion+"/platform/dev/s3bucket/my-bucket", token, "")
	testutil.CheckErrorAndDeepEqual(t, false, nil, http.StatusOK, rec.Code)

	var resp struct {
		Items []model.Event `json:"items"`
		Count int           `json:"count"`
	}
	decodeBody(t, rec, &resp)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, resp.Count)
	testutil.CheckErrorAndDeepEqual(t, false, nil, model.StatusInitiated, resp.Items[0].Status)
}
