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
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

const runnerContainerName = "runner"

// LaunchJob starts one ECS task running the payload. Capacity exhaustion is
// surfaced as a no-available-runner error so callers can retry.
func (c *Client) LaunchJob(ctx context.Context, payload model.InfraPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshalling payload: %w", err)
	}

	input := &ecs.RunTaskInput{
		Cluster:        aws.String(c.cfg.EcsCluster),
		TaskDefinition: aws.String(c.cfg.EcsTaskDefinition),
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          aws.Int32(1),
		Overrides: &ecstypes.TaskOverride{
			Cpu:    aws.String(payload.CPU),
			Memory: aws.String(payload.Memory),
			ContainerOverrides: []ecstypes.ContainerOverride{{
				Name: aws.String(runnerContainerName),
				Environment: []ecstypes.KeyValuePair{{
					Name:  aws.String("PAYLOAD"),
					Value: aws.String(string(raw)),
				}},
			}},
		},
	}
	if len(c.cfg.EcsSubnets) > 0 {
		input.NetworkConfiguration = &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        c.cfg.EcsSubnets,
				SecurityGroups: c.cfg.EcsSecurityGroups,
			},
		}
	}

	out, err := c.ecs.RunTask(ctx, input)
	if err != nil {
		return "", backend.WrapError(backend.ErrKindInternal, "launching runner task", err)
	}
	if len(out.Failures) > 0 {
		reason := aws.ToString(out.Failures[0].Reason)
		if strings.HasPrefix(reason, "RESOURCE") || strings.Contains(reason, "capacity") {
			return "", backend.NewError(backend.ErrKindNoAvailableRunner, "no available runner: "+reason)
		}
		return "", backend.NewError(backend.ErrKindInternal, "launching runner task: "+reason)
	}
	if len(out.Tasks) == 0 {
		return "", backend.NewError(backend.ErrKindInternal, "launching runner task: no task returned")
	}
	return jobIDFromTaskArn(aws.ToString(out.Tasks[0].TaskArn)), nil
}

func (c *Client) JobStatus(ctx context.Context, jobID string) (model.JobState, error) {
	out, err := c.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(c.cfg.EcsCluster),
		Tasks:   []string{jobID},
	})
	if err != nil {
		return model.JobState{}, backend.WrapError(backend.ErrKindInternal, "describing task "+jobID, err)
	}
	if len(out.Tasks) == 0 {
		return model.JobState{}, backend.NewError(backend.ErrKindNotFound, "job not found: "+jobID)
	}
	task := out.Tasks[0]
	return model.JobState{
		State:         aws.ToString(task.LastStatus),
		StoppedReason: aws.ToString(task.StoppedReason),
	}, nil
}

// CurrentJobID resolves the task id of the process's own container from the
// ECS metadata endpoint.
func (c *Client) CurrentJobID(ctx context.Context) (string, error) {
	endpoint := os.Getenv("ECS_CONTAINER_METADATA_URI_V4")
	if endpoint == "" {
		return "", backend.NewError(backend.ErrKindNotFound, "not running inside an ECS task")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/task", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", backend.WrapError(backend.ErrKindInternal, "querying task metadata", err)
	}
	defer resp.Body.Close()
	var metadata struct {
		TaskARN string `json:"TaskARN"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return "", backend.WrapError(backend.ErrKindInternal, "decoding task metadata", err)
	}
	return jobIDFromTaskArn(metadata.TaskARN), nil
}

// jobIDFromTaskArn keeps the final path segment of a task ARN, which is the
// stable task id used as job id everywhere.
func jobIDFromTaskArn(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}
