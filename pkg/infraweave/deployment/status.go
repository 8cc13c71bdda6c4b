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

package deployment

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
)

// StatusHandler is the single writer of deployment state during a job. It
// accumulates field changes across phases and, on each transition, emits an
// event append plus a deployment row upsert.
type StatusHandler struct {
	svc *Service

	command       string
	module        string
	moduleVersion string
	moduleType    string
	moduleTrack   string
	status        string
	environment   string
	deploymentID  string
	projectID     string
	region        string
	errorText     string
	jobID         string
	name          string
	variables     map[string]any
	drift         model.DriftDetection
	hasDrifted    bool
	isDriftCheck  bool
	deleted       bool
	dependencies  []model.Dependency
	output        map[string]any
	policyResults []model.PolicyResult
	initiatedBy   string
	cpu           string
	memory        string
	reference     string

	lastEventEpoch int64
}

// NewStatusHandler builds a handler from a job payload.
func NewStatusHandler(svc *Service, payload model.InfraPayload, status, jobID string) *StatusHandler {
	return &StatusHandler{
		svc:           svc,
		command:       payload.Command,
		module:        payload.Module,
		moduleVersion: payload.ModuleVersion,
		moduleType:    payload.ModuleType,
		moduleTrack:   payload.ModuleTrack,
		status:        status,
		environment:   payload.Environment,
		deploymentID:  payload.DeploymentID,
		projectID:     payload.ProjectID,
		region:        payload.Region,
		jobID:         jobID,
		name:          payload.Name,
		variables:     payload.Variables,
		drift:         payload.DriftDetection,
		dependencies:  payload.Dependencies,
		initiatedBy:   payload.InitiatedBy,
		cpu:           payload.CPU,
		memory:        payload.Memory,
		reference:     payload.Reference,
	}
}

func (h *StatusHandler) SetStatus(status string)    { h.status = status }
func (h *StatusHandler) SetCommand(command string)  { h.command = command }
func (h *StatusHandler) SetErrorText(text string)   { h.errorText = text }
func (h *StatusHandler) SetDeleted(deleted bool)    { h.deleted = deleted }
func (h *StatusHandler) SetOutput(o map[string]any) { h.output = o }
func (h *StatusHandler) SetDriftHasOccurred(d bool) { h.hasDrifted = d }
func (h *StatusHandler) SetIsDriftCheck()           { h.isDriftCheck = true }
func (h *StatusHandler) Status() string             { return h.status }

func (h *StatusHandler) SetPolicyResults(results []model.PolicyResult) {
	h.policyResults = results
}

// Transition sets the status and persists both writes. Convenience for the
// common event-then-deployment sequence.
func (h *StatusHandler) Transition(ctx context.Context, status string) error {
	h.SetStatus(status)
	if err := h.SendEvent(ctx); err != nil {
		return err
	}
	return h.SendDeployment(ctx)
}

// SendEvent appends one event for the current state. The duration since the
// previous event of this handler is recorded alongside.
func (h *StatusHandler) SendEvent(ctx context.Context) error {
	epoch := util.Epoch()
	var duration int64
	if h.lastEventEpoch > 0 {
		duration = epoch - h.lastEventEpoch
	}
	h.lastEventEpoch = epoch

	event := model.Event{
		ID: fmt.Sprintf("%s-%s-%d-%s-%s",
			h.module, h.deploymentID, epoch, h.command, h.status),
		DeploymentID:        h.deploymentID,
		ProjectID:           h.projectID,
		Region:              h.region,
		Environment:         h.environment,
		Event:               h.command,
		Epoch:               epoch,
		Status:              h.status,
		Module:              h.module,
		Name:                h.name,
		JobID:               h.jobID,
		ErrorText:           h.errorText,
		Output:              h.output,
		PolicyResults:       h.policyResults,
		DriftDetection:      h.drift,
		NextDriftCheckEpoch: -1,
		HasDrifted:          h.hasDrifted,
		Timestamp:           util.Timestamp(),
		InitiatedBy:         h.initiatedBy,
		EventDuration:       duration,
	}
	if err := h.svc.InsertEvent(ctx, event); err != nil {
		return fmt.Errorf("inserting event %s: %w", event.ID, err)
	}
	return nil
}

// SendDeployment upserts the deployment (or plan) row for the current state.
// A finished drift check additionally updates the live deployment row so the
// drift flag is visible outside the plan trail.
func (h *StatusHandler) SendDeployment(ctx context.Context) error {
	d := model.Deployment{
		DeploymentID:        h.deploymentID,
		ProjectID:           h.projectID,
		Region:              h.region,
		Status:              h.status,
		JobID:               h.jobID,
		Environment:         h.environment,
		Module:              h.module,
		ModuleVersion:       h.moduleVersion,
		ModuleType:          h.moduleType,
		ModuleTrack:         h.moduleTrack,
		Variables:           h.variables,
		DriftDetection:      h.drift,
		NextDriftCheckEpoch: h.nextDriftCheckEpoch(),
		HasDrifted:          h.hasDrifted,
		Output:              h.output,
		PolicyResults:       h.policyResults,
		ErrorText:           h.errorText,
		Deleted:             model.StoredBool(h.deleted),
		Dependencies:        h.dependencies,
		InitiatedBy:         h.initiatedBy,
		CPU:                 h.cpu,
		Memory:              h.memory,
		Reference:           h.reference,
	}
	if err := h.svc.SetDeployment(ctx, d, h.isPlan()); err != nil {
		return fmt.Errorf("writing deployment %s: %w", h.deploymentID, err)
	}
	if h.isDriftCheck && h.isFinalUpdate() {
		if err := h.svc.SetDeployment(ctx, d, false); err != nil {
			return fmt.Errorf("writing drifted deployment %s: %w", h.deploymentID, err)
		}
	}
	return nil
}

func (h *StatusHandler) isPlan() bool {
	return h.command == model.CommandPlan
}

func (h *StatusHandler) isFinalUpdate() bool {
	return model.IsTerminal(h.status)
}

// nextDriftCheckEpoch schedules the next drift check only when a non-destroy
// job reaches a terminal state with drift detection enabled. -1 keeps the
// deployment out of the reconciler's index while a job is in flight.
func (h *StatusHandler) nextDriftCheckEpoch() int64 {
	if !h.drift.Enabled || h.drift.Interval == "" {
		return -1
	}
	if !h.isFinalUpdate() {
		return -1
	}
	if h.command == model.CommandDestroy {
		return -1
	}
	interval, err := time.ParseDuration(h.drift.Interval)
	if err != nil {
		logrus.Errorf("parsing drift interval %q: %v", h.drift.Interval, err)
		return -1
	}
	return util.Epoch() + interval.Milliseconds()
}
