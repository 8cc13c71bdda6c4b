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
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

// ReadLogs returns the log lines of one runner job, oldest first.
func (c *Client) ReadLogs(ctx context.Context, project, region, jobID string) ([]model.LogEntry, error) {
	stream := fmt.Sprintf("runner/%s/%s", runnerContainerName, jobID)
	var entries []model.LogEntry
	var token *string
	for {
		out, err := c.logs.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
			LogGroupName:  aws.String(c.cfg.LogGroup),
			LogStreamName: aws.String(stream),
			StartFromHead: aws.Bool(true),
			NextToken:     token,
		})
		if err != nil {
			var notFound *cwltypes.ResourceNotFoundException
			if errors.As(err, &notFound) {
				return nil, backend.WrapError(backend.ErrKindNotFound, "no logs for job "+jobID, err)
			}
			return nil, backend.WrapError(backend.ErrKindInternal, "reading logs for job "+jobID, err)
		}
		for _, event := range out.Events {
			entries = append(entries, model.LogEntry{
				Timestamp: aws.ToInt64(event.Timestamp),
				Message:   aws.ToString(event.Message),
			})
		}
		// GetLogEvents signals the end by returning the same token again.
		if out.NextForwardToken == nil || (token != nil && aws.ToString(out.NextForwardToken) == aws.ToString(token)) {
			break
		}
		token = out.NextForwardToken
	}
	return entries, nil
}

func (c *Client) PublishNotification(ctx context.Context, n model.Notification) error {
	if c.cfg.NotificationTopic == "" {
		return nil
	}
	_, err := c.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(c.cfg.NotificationTopic),
		Subject:  aws.String(n.Subject),
		Message:  aws.String(n.Message),
	})
	if err != nil {
		return backend.WrapError(backend.ErrKindInternal, "publishing notification", err)
	}
	return nil
}

// UserID returns the caller's STS identity ARN.
func (c *Client) UserID(ctx context.Context) (string, error) {
	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", backend.WrapError(backend.ErrKindInternal, "resolving caller identity", err)
	}
	return aws.ToString(out.Arn), nil
}

func (c *Client) AssumeRole(ctx context.Context, roleARN string, duration time.Duration) (*backend.Credentials, error) {
	out, err := c.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String("infraweave"),
		DurationSeconds: aws.Int32(int32(duration.Seconds())),
	})
	if err != nil {
		return nil, backend.WrapError(backend.ErrKindInternal, "assuming role "+roleARN, err)
	}
	creds := out.Credentials
	return &backend.Credentials{
		AccessKeyID:     aws.ToString(creds.AccessKeyId),
		SecretAccessKey: aws.ToString(creds.SecretAccessKey),
		SessionToken:    aws.ToString(creds.SessionToken),
		Expiration:      aws.ToTime(creds.Expiration),
	}, nil
}
