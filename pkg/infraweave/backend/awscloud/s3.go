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
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
)

func (c *Client) UploadBlob(ctx context.Context, bucket, key string, body io.Reader) error {
	physical, err := c.bucketName(bucket)
	if err != nil {
		return err
	}
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(physical),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return backend.WrapError(backend.ErrKindInternal, "uploading s3://"+physical+"/"+key, err)
	}
	return nil
}

func (c *Client) DownloadBlob(ctx context.Context, bucket, key string) ([]byte, error) {
	physical, err := c.bucketName(bucket)
	if err != nil {
		return nil, err
	}
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(physical),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, backend.WrapError(backend.ErrKindNotFound, "downloading s3://"+physical+"/"+key, err)
		}
		return nil, backend.WrapError(backend.ErrKindInternal, "downloading s3://"+physical+"/"+key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (c *Client) PresignDownload(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	physical, err := c.bucketName(bucket)
	if err != nil {
		return "", err
	}
	presigner := s3.NewPresignClient(c.s3)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(physical),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", backend.WrapError(backend.ErrKindInternal, "presigning s3://"+physical+"/"+key, err)
	}
	return req.URL, nil
}
