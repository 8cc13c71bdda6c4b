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

// Package runner executes one infrastructure job inside its container: the
// terraform phase sequence, policy evaluation, change recording and status
// reporting back to the control plane.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/catalog"
	"github.com/infraweave-io/infraweave/pkg/infraweave/deployment"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/policy"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
)

const (
	// maxStderrLines bounds the error text stored on a failed deployment.
	maxStderrLines = 50
	// planOutputLimit bounds the inline plan text of a change record; the
	// full plan JSON always lives in the change-record bucket.
	planOutputLimit = 50 * 1024
	// policyEnvironment is the environment whose policies gate every job.
	policyEnvironment = "stable"
)

// Config carries the runner's deploy-time settings.
type Config struct {
	// StateBucket and LockTable configure the terraform s3 backend.
	StateBucket string
	LockTable   string
	// WorkDir is the job's scratch directory; the module is unzipped here.
	WorkDir string
}

// Runner drives one job to completion.
type Runner struct {
	svc      *deployment.Service
	catalog  *catalog.Catalog
	policies *policy.Engine
	cfg      Config
	tf       terraformCLI
	client   *http.Client
}

func New(b backend.Backend, cfg Config) *Runner {
	c := catalog.New(b)
	return &Runner{
		svc:      deployment.New(b),
		catalog:  c,
		policies: policy.NewEngine(c, policyEnvironment),
		cfg:      cfg,
		tf:       terraformCLI{dir: cfg.WorkDir},
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// ParsePayload decodes the PAYLOAD document handed to the container.
func ParsePayload(raw []byte) (model.InfraPayload, error) {
	var payload model.InfraPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("parsing job payload: %w", err)
	}
	if payload.DeploymentID == "" {
		return payload, fmt.Errorf("job payload has no deployment_id")
	}
	return payload, nil
}

// Run executes the phase sequence for one payload. Phase failures are
// reported through the status handler and end the job cleanly; only
// infrastructure errors (state store unreachable) surface as errors.
func (r *Runner) Run(ctx context.Context, payload model.InfraPayload) error {
	jobID, err := r.svc.Backend().CurrentJobID(ctx)
	if err != nil {
		handler := deployment.NewStatusHandler(r.svc, payload, model.StatusFailed, "")
		handler.SetErrorText(fmt.Sprintf("resolving job id: %v", err))
		if terr := handler.Transition(ctx, model.StatusFailed); terr != nil {
			logrus.Errorf("reporting job id failure: %v", terr)
		}
		return err
	}

	isDriftCheck := payload.Command == model.CommandPlan && hasFlag(payload.Flags, "-refresh-only")
	handler := deployment.NewStatusHandler(r.svc, payload, model.StatusInitiated, jobID)
	if isDriftCheck {
		handler.SetIsDriftCheck()
	}

	// Prior outputs and policy results carry across re-runs until this job
	// produces its own.
	prior, err := r.svc.GetDeployment(ctx, payload.ProjectID, payload.Region, payload.Environment, payload.DeploymentID)
	if err != nil {
		return err
	}
	var priorVariables map[string]any
	if prior != nil {
		handler.SetOutput(prior.Output)
		handler.SetPolicyResults(prior.PolicyResults)
		priorVariables = prior.Variables
	}

	if err := handler.Transition(ctx, model.StatusInitiated); err != nil {
		return err
	}

	switch payload.Command {
	case model.CommandApply:
		unready, err := r.svc.UnreadyDependencies(ctx, payload.Dependencies)
		if err != nil {
			return err
		}
		if len(unready) > 0 {
			handler.SetErrorText(fmt.Sprintf("waiting on dependencies: %s", strings.Join(unready, ", ")))
			return handler.Transition(ctx, model.StatusWaitingOnDependency)
		}
	case model.CommandDestroy:
		blocked, err := r.svc.HasLiveDependants(ctx, payload.ProjectID, payload.Region, payload.Environment, payload.DeploymentID)
		if err != nil {
			return err
		}
		if blocked {
			handler.SetErrorText("other deployments still depend on this one")
			return handler.Transition(ctx, model.StatusHasDependants)
		}
	}

	if err := r.fetchModule(ctx, payload); err != nil {
		handler.SetErrorText(err.Error())
		return handler.Transition(ctx, model.StatusFailed)
	}
	if err := writeTfVars(r.cfg.WorkDir, payload.Variables); err != nil {
		return err
	}
	if err := writeBackendOverride(r.cfg.WorkDir); err != nil {
		return err
	}

	initArgs := append([]string{"init", "-no-color", "-input=false"}, backendConfigArgs(r.cfg, payload)...)
	if _, err := r.tf.run(ctx, initArgs...); err != nil {
		return r.fail(ctx, handler, model.StatusFailedInit, err)
	}
	if _, err := r.tf.run(ctx, "validate", "-no-color"); err != nil {
		return r.fail(ctx, handler, model.StatusFailedValidate, err)
	}

	planArgs := []string{"plan", "-no-color", "-input=false", "-lock=false", "-out=" + planFile}
	if isDriftCheck {
		planArgs = append(planArgs, "-refresh-only")
	}
	if payload.Command == model.CommandDestroy {
		planArgs = append(planArgs, "-destroy")
	}
	planStdout, err := r.tf.run(ctx, planArgs...)
	if err != nil {
		return r.fail(ctx, handler, model.StatusFailedPlan, err)
	}

	rawPlan, err := r.tf.run(ctx, "show", "-json", planFile)
	if err != nil {
		return r.fail(ctx, handler, model.StatusFailedShowPlan, err)
	}
	var plan map[string]any
	if err := json.Unmarshal([]byte(rawPlan), &plan); err != nil {
		return r.fail(ctx, handler, model.StatusFailedShowPlan, err)
	}

	if isDriftCheck {
		drifted := hasResourceDrift(plan)
		handler.SetDriftHasOccurred(drifted)
		if drifted {
			message := fmt.Sprintf("Drift detected in deployment %s in environment %s",
				payload.DeploymentID, payload.Environment)
			r.notifyWebhooks(ctx, payload.DriftDetection.Webhooks, message)
		}
	}

	if err := r.recordChange(ctx, payload, jobID, plan, rawPlan, planStdout, priorVariables); err != nil {
		return err
	}

	envData := map[string]any{
		"project_id":  payload.ProjectID,
		"region":      payload.Region,
		"environment": payload.Environment,
	}
	results, rejected, err := r.policies.EvaluateAll(ctx, plan, envData)
	if err != nil {
		return r.fail(ctx, handler, model.StatusFailedPolicy, err)
	}
	handler.SetPolicyResults(results)
	if rejected {
		handler.SetErrorText("one or more policies rejected the planned changes")
		return handler.Transition(ctx, model.StatusFailedPolicy)
	}

	if payload.Command == model.CommandApply || payload.Command == model.CommandDestroy {
		if _, err := r.tf.run(ctx, payload.Command, "-no-color", "-auto-approve", "-input=false"); err != nil {
			return r.fail(ctx, handler, model.StatusError, err)
		}
		if payload.Command == model.CommandDestroy {
			handler.SetDeleted(true)
		}
	}

	if payload.Command == model.CommandApply {
		rawOutputs, err := r.tf.run(ctx, "output", "-no-color", "-json")
		if err != nil {
			return r.fail(ctx, handler, model.StatusFailedOutput, err)
		}
		outputs, err := parseOutputs(rawOutputs)
		if err != nil {
			return r.fail(ctx, handler, model.StatusFailedOutput, err)
		}
		handler.SetOutput(outputs)
	}

	if err := handler.Transition(ctx, model.StatusSuccessful); err != nil {
		return err
	}

	// A freshly successful apply unblocks whoever depends on it.
	if payload.Command == model.CommandApply {
		if err := r.svc.RequeueDependants(ctx, payload.ProjectID, payload.Region, payload.Environment, payload.DeploymentID); err != nil {
			logrus.Warnf("requeueing dependants of %s: %v", payload.DeploymentID, err)
		}
	}
	return nil
}

// fail records a phase failure with the tail of the command's stderr and
// ends the job cleanly; the failure lives in the deployment row and trail.
func (r *Runner) fail(ctx context.Context, handler *deployment.StatusHandler, status string, err error) error {
	text := strings.TrimSpace(string(util.CmdStderr(err)))
	if text == "" {
		text = err.Error()
	}
	handler.SetErrorText(util.LastLines(text, maxStderrLines))
	return handler.Transition(ctx, status)
}

// fetchModule downloads the pinned module or stack zip and unpacks it into
// the working directory.
func (r *Runner) fetchModule(ctx context.Context, payload model.InfraPayload) error {
	m, err := r.catalog.GetModuleVersion(ctx, payload.Module, payload.ModuleTrack, payload.ModuleVersion)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("module %s version %s not found in track %s",
			payload.Module, payload.ModuleVersion, payload.ModuleTrack)
	}
	zipData, err := r.catalog.DownloadModuleZip(ctx, m)
	if err != nil {
		return err
	}
	files, err := util.UnzipToMap(zipData)
	if err != nil {
		return fmt.Errorf("unpacking module %s: %w", payload.Module, err)
	}
	for path, contents := range files {
		target := filepath.Join(r.cfg.WorkDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, contents, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// recordChange uploads the raw plan JSON and stores the audit record with
// sanitized resource changes and the variable diff against the prior job.
func (r *Runner) recordChange(ctx context.Context, payload model.InfraPayload, jobID string, plan map[string]any, rawPlan, planStdout string, priorVariables map[string]any) error {
	key := fmt.Sprintf("%s/%s/%s/%s_%s_plan_output.json",
		payload.ProjectID, payload.Environment, payload.DeploymentID, payload.Command, jobID)
	if err := r.svc.Backend().UploadBlob(ctx, backend.BucketChangeRecords, key, strings.NewReader(rawPlan)); err != nil {
		return fmt.Errorf("uploading plan output: %w", err)
	}

	changeType := "APPLY"
	switch payload.Command {
	case model.CommandPlan:
		changeType = "PLAN"
	case model.CommandDestroy:
		changeType = "DESTROY"
	}
	return r.svc.InsertChangeRecord(ctx, model.ChangeRecord{
		DeploymentID:    payload.DeploymentID,
		ProjectID:       payload.ProjectID,
		Region:          payload.Region,
		JobID:           jobID,
		Module:          payload.Module,
		Environment:     payload.Environment,
		ChangeType:      changeType,
		ModuleVersion:   payload.ModuleVersion,
		Epoch:           util.Epoch(),
		Timestamp:       util.Timestamp(),
		PlanStdOutput:   util.TruncateBytes(planStdout, planOutputLimit),
		PlanRawJSONKey:  key,
		ResourceChanges: sanitizeResourceChanges(plan),
		VariableChanges: variableChanges(priorVariables, payload.Variables),
	})
}

func hasResourceDrift(plan map[string]any) bool {
	drift, _ := plan["resource_drift"].([]any)
	return len(drift) > 0
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
