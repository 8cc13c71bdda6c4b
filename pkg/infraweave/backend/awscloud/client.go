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

// Package awscloud implements the backend on AWS: DynamoDB for the document
// store, S3 for blobs, ECS for runner jobs, CloudWatch Logs for job logs and
// SNS for notifications.
package awscloud

import (
	"context"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
)

// Config carries the physical resource names of one InfraWeave installation.
// Fields default from INFRAWEAVE_* environment variables.
type Config struct {
	Region    string
	ProjectID string

	Tables  map[string]string // logical -> physical table name
	Buckets map[string]string // logical -> physical bucket name

	EcsCluster        string
	EcsTaskDefinition string
	EcsSubnets        []string
	EcsSecurityGroups []string

	LogGroup          string
	NotificationTopic string
}

// ConfigFromEnv assembles a Config from the environment. Physical names
// follow the installation naming scheme "infraweave-<thing>-<env>" unless
// overridden per table or bucket.
func ConfigFromEnv() Config {
	env := getEnv("INFRAWEAVE_ENV", "prod")
	name := func(kind string) string {
		return fmt.Sprintf("infraweave-%s-%s", kind, env)
	}
	return Config{
		Region:    getEnv("INFRAWEAVE_REGION", os.Getenv("AWS_REGION")),
		ProjectID: os.Getenv("INFRAWEAVE_PROJECT_ID"),
		Tables: map[string]string{
			backend.TableModules:       getEnv("INFRAWEAVE_TABLE_MODULES", name("modules")),
			backend.TableDeployments:   getEnv("INFRAWEAVE_TABLE_DEPLOYMENTS", name("deployments")),
			backend.TableEvents:        getEnv("INFRAWEAVE_TABLE_EVENTS", name("events")),
			backend.TablePolicies:      getEnv("INFRAWEAVE_TABLE_POLICIES", name("policies")),
			backend.TableChangeRecords: getEnv("INFRAWEAVE_TABLE_CHANGE_RECORDS", name("change-records")),
			backend.TableConfig:        getEnv("INFRAWEAVE_TABLE_CONFIG", name("config")),
		},
		Buckets: map[string]string{
			backend.BucketModules:       getEnv("INFRAWEAVE_BUCKET_MODULES", name("modules")),
			backend.BucketPolicies:      getEnv("INFRAWEAVE_BUCKET_POLICIES", name("policies")),
			backend.BucketChangeRecords: getEnv("INFRAWEAVE_BUCKET_CHANGE_RECORDS", name("change-records")),
			backend.BucketProviders:     getEnv("INFRAWEAVE_BUCKET_PROVIDERS", name("providers")),
		},
		EcsCluster:        getEnv("INFRAWEAVE_ECS_CLUSTER", name("cluster")),
		EcsTaskDefinition: getEnv("INFRAWEAVE_ECS_TASK_DEFINITION", name("runner")),
		EcsSubnets:        splitNonEmpty(os.Getenv("INFRAWEAVE_ECS_SUBNETS")),
		EcsSecurityGroups: splitNonEmpty(os.Getenv("INFRAWEAVE_ECS_SECURITY_GROUPS")),
		LogGroup:          getEnv("INFRAWEAVE_LOG_GROUP", name("runner-logs")),
		NotificationTopic: os.Getenv("INFRAWEAVE_NOTIFICATION_TOPIC"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Client is the AWS implementation of backend.Backend.
type Client struct {
	cfg Config

	ddb  *dynamodb.Client
	s3   *s3.Client
	ecs  *ecs.Client
	logs *cloudwatchlogs.Client
	sns  *sns.Client
	sts  *sts.Client
}

var _ backend.Backend = (*Client)(nil)

// New builds a Client from the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return &Client{
		cfg:  cfg,
		ddb:  dynamodb.NewFromConfig(awsCfg),
		s3:   s3.NewFromConfig(awsCfg),
		ecs:  ecs.NewFromConfig(awsCfg),
		logs: cloudwatchlogs.NewFromConfig(awsCfg),
		sns:  sns.NewFromConfig(awsCfg),
		sts:  sts.NewFromConfig(awsCfg),
	}, nil
}

func (c *Client) ProjectID() string {
	return c.cfg.ProjectID
}

func (c *Client) Region() string {
	return c.cfg.Region
}

func (c *Client) tableName(logical string) (string, error) {
	if physical, ok := c.cfg.Tables[logical]; ok {
		return physical, nil
	}
	return "", backend.NewError(backend.ErrKindValidation, fmt.Sprintf("unknown table %q", logical))
}

func (c *Client) bucketName(logical string) (string, error) {
	if physical, ok := c.cfg.Buckets[logical]; ok {
		return physical, nil
	}
	return "", backend.NewError(backend.ErrKindValidation, fmt.Sprintf("unknown bucket %q", logical))
}
