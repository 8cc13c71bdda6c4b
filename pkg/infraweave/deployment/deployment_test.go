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
	"testing"
	"time"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/backend/backendtest"
	"github.com/infraweave-io/infraweave/pkg/infraweave/identity"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
	"github.com/infraweave-io/infraweave/pkg/infraweave/util"
	"github.com/infraweave-io/infraweave/testutil"
)

const (
	testProject = "111111111111"
	testRegion  = "eu-west-1"
	testEnv     = "platform/dev"
)

func newService() (*Service, *backendtest.Fake) {
	fake := backendtest.New(testProject, testRegion)
	return New(fake), fake
}

func sampleDeployment(id, status string, deps ...model.Dependency) model.Deployment {
	return model.Deployment{
		DeploymentID:        id,
		ProjectID:           testProject,
		Region:              testRegion,
		Status:              status,
		JobID:               "job-0",
		Environment:         testEnv,
		Module:              "s3bucket",
		ModuleVersion:       "0.1.0",
		ModuleType:          "module",
		ModuleTrack:         "stable",
		Variables:           map[string]any{"bucket_name": "test"},
		NextDriftCheckEpoch: -1,
		Dependencies:        deps,
		InitiatedBy:         "arn:test:user",
		CPU:                 "1024",
		Memory:              "2048",
	}
}

func dependencyOn(id string) model.Dependency {
	return model.Dependency{
		ProjectID:    testProject,
		Region:       testRegion,
		DeploymentID: id,
		Environment:  testEnv,
	}
}

func TestSetDeploymentWritesMetadataRow(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	err := svc.SetDeployment(ctx, sampleDeployment("s3bucket/my-bucket", model.StatusSuccessful), false)
	testutil.CheckError(t, false, err)

	pk := identity.DeploymentPK(testProject, testRegion, testEnv, "s3bucket/my-bucket")
	row := fake.Get(backend.TableDeployments, pk, identity.MetadataSK)
	if row == nil {
		t.Fatalf("expected metadata row at %s", pk)
	}
	testutil.CheckErrorAndDeepEqual(t, false, nil, 0, row["deleted"])
	testutil.CheckErrorAndDeepEqual(t, false, nil,
		"0|DEPLOYMENT#"+testProject+"::"+testRegion, row["deleted_PK_base"])
	testutil.CheckErrorAndDeepEqual(t, false, nil,
		"s3bucket|"+testProject+"::"+testRegion, row["module_PK_base"])

	d, err := svc.GetDeployment(ctx, testProject, testRegion, testEnv, "s3bucket/my-bucket")
	testutil.CheckError(t, false, err)
	if d == nil {
		t.Fatal("expected deployment to be readable")
	}
	testutil.CheckErrorAndDeepEqual(t, false, nil, model.StatusSuccessful, d.Status)
}

func TestDeletedMarkerRoundTrip(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	testutil.CheckError(t, false, svc.SetDeployment(ctx,
		sampleDeployment("s3bucket/my-bucket", model.StatusSuccessful), false))

	// On disk the marker is the integer 0 or 1 so the indexes can key on it.
	pk := identity.DeploymentPK(testProject, testRegion, testEnv, "s3bucket/my-bucket")
	row := fake.Get(backend.TableDeployments, pk, identity.MetadataSK)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 0, row["deleted"])

	d, err := svc.GetDeployment(ctx, testProject, testRegion, testEnv, "s3bucket/my-bucket")
	testutil.CheckError(t, false, err)
	if d == nil {
		t.Fatal("expected the stored integer marker to decode back into the row")
	}
	if d.Deleted {
		t.Error("expected deleted to surface as false")
	}

	destroyed := sampleDeployment("s3bucket/my-bucket", model.StatusSuccessful)
	destroyed.Deleted = true
	testutil.CheckError(t, false, svc.SetDeployment(ctx, destroyed, false))

	row = fake.Get(backend.TableDeployments, pk, identity.MetadataSK)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, row["deleted"])
	var back model.Deployment
	testutil.CheckError(t, false, backend.UnmarshalItem(row, &back))
	if !back.Deleted {
		t.Error("expected deleted to surface as true on the destroyed row")
	}
}

func TestSetDeploymentPlanRowKeyedByJob(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	d := sampleDeployment("s3bucket/my-bucket", model.StatusInitiated)
	d.JobID = "job-42"
	err := svc.SetDeployment(ctx, d, true)
	testutil.CheckError(t, false, err)

	pk := identity.PlanPK(testProject, testRegion, testEnv, "s3bucket/my-bucket")
	row := fake.Get(backend.TableDeployments, pk, "job-42")
	if row == nil {
		t.Fatalf("expected plan row keyed by job id at %s", pk)
	}
	if _, indexed := row["deleted_PK_base"]; indexed {
		t.Error("plan rows must not carry deployment index attributes")
	}

	plan, err := svc.GetPlanDeployment(ctx, testProject, testRegion, testEnv, "s3bucket/my-bucket", "job-42")
	testutil.CheckError(t, false, err)
	if plan == nil {
		t.Fatal("expected plan row to be readable")
	}
}

func TestSetDeploymentDiffsDependencyEdges(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	err := svc.SetDeployment(ctx,
		sampleDeployment("s3bucket/downstream", model.StatusSuccessful, dependencyOn("vpc/main")), false)
	testutil.CheckError(t, false, err)

	vpcPK := identity.DeploymentPK(testProject, testRegion, testEnv, "vpc/main")
	edgeSK := identity.DependentSK(identity.Deployment(testProject, testRegion, testEnv, "s3bucket/downstream"))
	if fake.Get(backend.TableDeployments, vpcPK, edgeSK) == nil {
		t.Fatal("expected dependent edge under the dependency's partition")
	}

	// Rewriting with a different dependency moves the edge.
	err = svc.SetDeployment(ctx,
		sampleDeployment("s3bucket/downstream", model.StatusSuccessful, dependencyOn("network/shared")), false)
	testutil.CheckError(t, false, err)

	if fake.Get(backend.TableDeployments, vpcPK, edgeSK) != nil {
		t.Error("expected departed dependency's edge to be removed")
	}
	sharedPK := identity.DeploymentPK(testProject, testRegion, testEnv, "network/shared")
	if fake.Get(backend.TableDeployments, sharedPK, edgeSK) == nil {
		t.Error("expected new dependency's edge to be added")
	}

	dependents, err := svc.GetDependants(ctx, testProject, testRegion, testEnv, "network/shared")
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, []model.Dependent{{
		DependentID: "s3bucket/downstream",
		ProjectID:   testProject,
		Region:      testRegion,
		Module:      "s3bucket",
		Environment: testEnv,
	}}, dependents)
}

func TestSetDeploymentRejectsDependencyCycle(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	testutil.CheckError(t, false, svc.SetDeployment(ctx,
		sampleDeployment("vpc/main", model.StatusSuccessful), false))
	testutil.CheckError(t, false, svc.SetDeployment(ctx,
		sampleDeployment("database/main", model.StatusSuccessful, dependencyOn("vpc/main")), false))

	// vpc/main -> database/main would close the loop through the edge
	// database/main -> vpc/main written above.
	err := svc.SetDeployment(ctx,
		sampleDeployment("vpc/main", model.StatusSuccessful, dependencyOn("database/main")), false)
	testutil.CheckErrorContains(t, err, "dependency cycle")

	// Self references are the degenerate cycle.
	err = svc.SetDeployment(ctx,
		sampleDeployment("app/solo", model.StatusSuccessful, dependencyOn("app/solo")), false)
	testutil.CheckErrorContains(t, err, "dependency cycle")
}

func TestDestroyFinalizationRemovesEdgesBothWays(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	err := svc.SetDeployment(ctx,
		sampleDeployment("s3bucket/downstream", model.StatusSuccessful, dependencyOn("vpc/main")), false)
	testutil.CheckError(t, false, err)

	destroyed := sampleDeployment("s3bucket/downstream", model.StatusSuccessful, dependencyOn("vpc/main"))
	destroyed.Deleted = true
	err = svc.SetDeployment(ctx, destroyed, false)
	testutil.CheckError(t, false, err)

	vpcPK := identity.DeploymentPK(testProject, testRegion, testEnv, "vpc/main")
	edgeSK := identity.DependentSK(identity.Deployment(testProject, testRegion, testEnv, "s3bucket/downstream"))
	if fake.Get(backend.TableDeployments, vpcPK, edgeSK) != nil {
		t.Error("expected destroy to remove the edge under the dependency")
	}

	// The destroyed row stays for history but is invisible to live reads.
	d, err := svc.GetDeployment(ctx, testProject, testRegion, testEnv, "s3bucket/downstream")
	testutil.CheckError(t, false, err)
	if d != nil {
		t.Errorf("expected destroyed deployment to be hidden, got %+v", d)
	}
}

func TestListDeploymentsFiltersEnvironment(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	testutil.CheckError(t, false, svc.SetDeployment(ctx, sampleDeployment("s3bucket/a", model.StatusSuccessful), false))
	other := sampleDeployment("s3bucket/b", model.StatusSuccessful)
	other.Environment = "platform/prod"
	testutil.CheckError(t, false, svc.SetDeployment(ctx, other, false))

	deployments, err := svc.ListDeployments(ctx, testProject, testRegion, testEnv)
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, len(deployments))
	testutil.CheckErrorAndDeepEqual(t, false, nil, "s3bucket/a", deployments[0].DeploymentID)
}

func TestSubmitJobWritesRequestedState(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	payload := payloadFromDeployment(ptr(sampleDeployment("s3bucket/my-bucket", "")), model.CommandApply, nil, "arn:test:user")
	jobID, err := svc.SubmitJob(ctx, payload)
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "job-1", jobID)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, len(fake.LaunchedPayloads))

	d, err := svc.GetDeployment(ctx, testProject, testRegion, testEnv, "s3bucket/my-bucket")
	testutil.CheckError(t, false, err)
	if d == nil {
		t.Fatal("expected requested deployment row")
	}
	testutil.CheckErrorAndDeepEqual(t, false, nil, model.StatusRequested, d.Status)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "job-1", d.JobID)

	events, err := svc.ListEvents(ctx, testProject, testRegion, testEnv, "s3bucket/my-bucket")
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, len(events))
	testutil.CheckErrorAndDeepEqual(t, false, nil, model.StatusRequested, events[0].Status)
}

func TestSubmitJobSkipsBusyDeployment(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	busy := sampleDeployment("s3bucket/my-bucket", model.StatusRequested)
	busy.JobID = "job-9"
	testutil.CheckError(t, false, svc.SetDeployment(ctx, busy, false))

	payload := payloadFromDeployment(&busy, model.CommandApply, nil, "arn:test:user")
	jobID, err := svc.SubmitJob(ctx, payload)
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "job-9", jobID)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 0, len(fake.LaunchedPayloads))
}

func TestSubmitJobWaitsForRunnerCapacity(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	restore := launchRetryInterval
	launchRetryInterval = time.Millisecond
	defer func() { launchRetryInterval = restore }()

	fake.LaunchErr = backend.NewError(backend.ErrKindNoAvailableRunner, "no runner capacity")
	fake.FailLaunches = 3

	payload := payloadFromDeployment(ptr(sampleDeployment("s3bucket/my-bucket", "")), model.CommandApply, nil, "arn:test:user")
	jobID, err := svc.SubmitJob(ctx, payload)
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "job-1", jobID)
}

func TestSubmitJobPermanentLaunchFailure(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	fake.LaunchErr = backend.NewError(backend.ErrKindInternal, "task definition missing")
	fake.FailLaunches = -1

	payload := payloadFromDeployment(ptr(sampleDeployment("s3bucket/my-bucket", "")), model.CommandApply, nil, "arn:test:user")
	_, err := svc.SubmitJob(ctx, payload)
	testutil.CheckErrorContains(t, err, "task definition missing")
}

func TestStatusHandlerSchedulesNextDriftCheck(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	restore := util.Now
	util.Now = func() time.Time { return time.UnixMilli(1_000_000) }
	defer func() { util.Now = restore }()

	payload := payloadFromDeployment(ptr(sampleDeployment("s3bucket/my-bucket", "")), model.CommandApply, nil, "arn:test:user")
	payload.DriftDetection = model.DriftDetection{Enabled: true, Interval: "1h"}

	handler := NewStatusHandler(svc, payload, model.StatusInitiated, "job-7")
	testutil.CheckError(t, false, handler.SendDeployment(ctx))

	pk := identity.DeploymentPK(testProject, testRegion, testEnv, "s3bucket/my-bucket")
	row := fake.Get(backend.TableDeployments, pk, identity.MetadataSK)
	testutil.CheckErrorAndDeepEqual(t, false, nil, float64(-1), row["next_drift_check_epoch"])

	testutil.CheckError(t, false, handler.Transition(ctx, model.StatusSuccessful))
	row = fake.Get(backend.TableDeployments, pk, identity.MetadataSK)
	testutil.CheckErrorAndDeepEqual(t, false, nil, float64(1_000_000+3_600_000), row["next_drift_check_epoch"])

	candidates, err := svc.ListDriftCheckCandidates(ctx, 1_000_000+3_600_000)
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, len(candidates))
}

func TestStatusHandlerDestroyNeverSchedulesDriftCheck(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	payload := payloadFromDeployment(ptr(sampleDeployment("s3bucket/my-bucket", "")), model.CommandDestroy, nil, "arn:test:user")
	payload.DriftDetection = model.DriftDetection{Enabled: true, Interval: "1h"}

	handler := NewStatusHandler(svc, payload, model.StatusSuccessful, "job-7")
	handler.SetDeleted(true)
	testutil.CheckError(t, false, handler.SendDeployment(ctx))

	pk := identity.DeploymentPK(testProject, testRegion, testEnv, "s3bucket/my-bucket")
	row := fake.Get(backend.TableDeployments, pk, identity.MetadataSK)
	testutil.CheckErrorAndDeepEqual(t, false, nil, float64(-1), row["next_drift_check_epoch"])
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, row["deleted"])
}

func TestStatusHandlerDriftCheckUpdatesLiveRow(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	payload := payloadFromDeployment(ptr(sampleDeployment("s3bucket/my-bucket", "")), model.CommandPlan, []string{"-refresh-only"}, "arn:test:user")
	handler := NewStatusHandler(svc, payload, model.StatusInitiated, "job-7")
	handler.SetIsDriftCheck()
	handler.SetDriftHasOccurred(true)
	testutil.CheckError(t, false, handler.Transition(ctx, model.StatusSuccessful))

	planPK := identity.PlanPK(testProject, testRegion, testEnv, "s3bucket/my-bucket")
	if fake.Get(backend.TableDeployments, planPK, "job-7") == nil {
		t.Error("expected plan row for the drift check job")
	}
	d, err := svc.GetDeployment(ctx, testProject, testRegion, testEnv, "s3bucket/my-bucket")
	testutil.CheckError(t, false, err)
	if d == nil {
		t.Fatal("expected drift check to upsert the live row")
	}
	if !d.HasDrifted {
		t.Error("expected has_drifted on the live row")
	}
}

func TestStatusHandlerEventDuration(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	now := time.UnixMilli(1_000_000)
	restore := util.Now
	util.Now = func() time.Time { return now }
	defer func() { util.Now = restore }()

	payload := payloadFromDeployment(ptr(sampleDeployment("s3bucket/my-bucket", "")), model.CommandApply, nil, "arn:test:user")
	handler := NewStatusHandler(svc, payload, model.StatusInitiated, "job-7")
	testutil.CheckError(t, false, handler.SendEvent(ctx))

	now = time.UnixMilli(1_004_500)
	handler.SetStatus(model.StatusSuccessful)
	testutil.CheckError(t, false, handler.SendEvent(ctx))

	events, err := svc.ListEvents(ctx, testProject, testRegion, testEnv, "s3bucket/my-bucket")
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 2, len(events))
	testutil.CheckErrorAndDeepEqual(t, false, nil, int64(0), events[0].EventDuration)
	testutil.CheckErrorAndDeepEqual(t, false, nil, int64(4500), events[1].EventDuration)
	testutil.CheckErrorAndDeepEqual(t, false, nil,
		"s3bucket-s3bucket/my-bucket-1004500-apply-successful", events[1].ID)
}

func TestUnreadyDependencies(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	testutil.CheckError(t, false, svc.SetDeployment(ctx, sampleDeployment("vpc/main", model.StatusSuccessful), false))
	testutil.CheckError(t, false, svc.SetDeployment(ctx, sampleDeployment("database/main", model.StatusInitiated), false))

	unready, err := svc.UnreadyDependencies(ctx, []model.Dependency{
		dependencyOn("vpc/main"),
		dependencyOn("database/main"),
		dependencyOn("missing/one"),
	})
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, []string{"database/main", "missing/one"}, unready)
}

func TestDestroyGateAndRequeue(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	testutil.CheckError(t, false, svc.SetDeployment(ctx, sampleDeployment("vpc/main", model.StatusSuccessful), false))
	testutil.CheckError(t, false, svc.SetDeployment(ctx,
		sampleDeployment("s3bucket/downstream", model.StatusSuccessful, dependencyOn("vpc/main")), false))

	blocked, err := svc.HasLiveDependants(ctx, testProject, testRegion, testEnv, "vpc/main")
	testutil.CheckError(t, false, err)
	if !blocked {
		t.Error("expected the dependency to be blocked from destroy")
	}

	// A completed upstream requeues its dependents as remediating drift checks.
	err = svc.RequeueDependants(ctx, testProject, testRegion, testEnv, "vpc/main")
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, 1, len(fake.LaunchedPayloads))
	testutil.CheckErrorAndDeepEqual(t, false, nil, model.CommandApply, fake.LaunchedPayloads[0].Command)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "s3bucket/downstream", fake.LaunchedPayloads[0].DeploymentID)
}

func TestDriftCheckKeepsOriginalInitiator(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	d := sampleDeployment("s3bucket/my-bucket", model.StatusSuccessful)
	d.InitiatedBy = "arn:original:owner"
	testutil.CheckError(t, false, svc.SetDeployment(ctx, d, false))

	_, err := svc.DriftCheck(ctx, testProject, testRegion, testEnv, "s3bucket/my-bucket", false)
	testutil.CheckError(t, false, err)

	launched := fake.LaunchedPayloads[0]
	testutil.CheckErrorAndDeepEqual(t, false, nil, model.CommandPlan, launched.Command)
	testutil.CheckErrorAndDeepEqual(t, false, nil, []string{"-refresh-only"}, launched.Flags)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "arn:original:owner", launched.InitiatedBy)
}

func TestDestroyDispatch(t *testing.T) {
	svc, fake := newService()
	ctx := context.Background()

	testutil.CheckError(t, false, svc.SetDeployment(ctx, sampleDeployment("s3bucket/my-bucket", model.StatusSuccessful), false))

	jobID, err := svc.Destroy(ctx, testProject, testRegion, testEnv, "s3bucket/my-bucket")
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, "job-1", jobID)
	testutil.CheckErrorAndDeepEqual(t, false, nil, model.CommandDestroy, fake.LaunchedPayloads[0].Command)

	_, err = svc.Destroy(ctx, testProject, testRegion, testEnv, "nosuch/deployment")
	testutil.CheckErrorContains(t, err, "not found")
}

func TestChangeRecordRoundTrip(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	record := model.ChangeRecord{
		DeploymentID:   "s3bucket/my-bucket",
		ProjectID:      testProject,
		Region:         testRegion,
		JobID:          "job-3",
		Module:         "s3bucket",
		Environment:    testEnv,
		ChangeType:     "PLAN",
		ModuleVersion:  "0.1.0",
		PlanStdOutput:  "Plan: 1 to add, 0 to change, 0 to destroy.",
		PlanRawJSONKey: testProject + "/platform/dev/s3bucket/my-bucket/plan_job-3_plan_output.json",
	}
	testutil.CheckError(t, false, svc.InsertChangeRecord(ctx, record))

	got, err := svc.GetChangeRecord(ctx, "PLAN", testProject, testRegion, testEnv, "s3bucket/my-bucket", "job-3")
	testutil.CheckError(t, false, err)
	testutil.CheckErrorAndDeepEqual(t, false, nil, &record, got)

	missing, err := svc.GetChangeRecord(ctx, "APPLY", testProject, testRegion, testEnv, "s3bucket/my-bucket", "job-3")
	testutil.CheckError(t, false, err)
	if missing != nil {
		t.Errorf("expected no APPLY record, got %+v", missing)
	}
}

func ptr(d model.Deployment) *model.Deployment {
	return &d
}
