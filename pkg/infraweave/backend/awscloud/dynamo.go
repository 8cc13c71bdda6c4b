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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
)

func (c *Client) ReadItems(ctx context.Context, table string, q backend.Query) (*backend.ReadResult, error) {
	physical, err := c.tableName(table)
	if err != nil {
		return nil, err
	}

	values, err := attributevalue.MarshalMap(q.Values)
	if err != nil {
		return nil, fmt.Errorf("marshalling query values: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(physical),
		KeyConditionExpression:    aws.String(q.KeyCondition),
		ExpressionAttributeValues: values,
	}
	if q.Index != "" {
		input.IndexName = aws.String(q.Index)
	}
	if q.Filter != "" {
		input.FilterExpression = aws.String(q.Filter)
	}
	if len(q.Names) > 0 {
		input.ExpressionAttributeNames = q.Names
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(q.Limit)
	}
	if q.ScanForward != nil {
		input.ScanIndexForward = q.ScanForward
	}
	if q.Cursor != "" {
		startKey, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		input.ExclusiveStartKey = startKey
	}

	out, err := c.ddb.Query(ctx, input)
	if err != nil {
		return nil, classifyDynamoError("querying "+table, err)
	}

	items := make([]map[string]any, 0, len(out.Items))
	for _, raw := range out.Items {
		var item map[string]any
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshalling item from %s: %w", table, err)
		}
		items = append(items, item)
	}

	result := &backend.ReadResult{Items: items}
	if len(out.LastEvaluatedKey) > 0 {
		cursor, err := encodeCursor(out.LastEvaluatedKey)
		if err != nil {
			return nil, err
		}
		result.Cursor = cursor
	}
	return result, nil
}

func (c *Client) TransactWrite(ctx context.Context, ops []backend.TransactOp) error {
	if err := backend.ValidateOps(ops); err != nil {
		return err
	}

	items := make([]ddbtypes.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		physical, err := c.tableName(op.Table)
		if err != nil {
			return err
		}
		var conditionValues map[string]ddbtypes.AttributeValue
		if len(op.Values) > 0 {
			conditionValues, err = attributevalue.MarshalMap(op.Values)
			if err != nil {
				return fmt.Errorf("marshalling condition values: %w", err)
			}
		}
		switch {
		case op.Put != nil:
			item, err := attributevalue.MarshalMap(op.Put)
			if err != nil {
				return fmt.Errorf("marshalling item for %s: %w", op.Table, err)
			}
			put := &ddbtypes.Put{TableName: aws.String(physical), Item: item}
			if op.Condition != "" {
				put.ConditionExpression = aws.String(op.Condition)
				put.ExpressionAttributeValues = conditionValues
			}
			items = append(items, ddbtypes.TransactWriteItem{Put: put})
		case op.Delete != nil:
			key := map[string]ddbtypes.AttributeValue{}
			for k, v := range op.Delete {
				key[k] = &ddbtypes.AttributeValueMemberS{Value: v}
			}
			del := &ddbtypes.Delete{TableName: aws.String(physical), Key: key}
			if op.Condition != "" {
				del.ConditionExpression = aws.String(op.Condition)
				del.ExpressionAttributeValues = conditionValues
			}
			items = append(items, ddbtypes.TransactWriteItem{Delete: del})
		}
	}

	// The request token makes SDK-level retries idempotent.
	_, err := c.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return classifyDynamoError("transactional write", err)
	}
	return nil
}

func encodeCursor(key map[string]ddbtypes.AttributeValue) (string, error) {
	var plain map[string]any
	if err := attributevalue.UnmarshalMap(key, &plain); err != nil {
		return "", fmt.Errorf("unmarshalling continuation key: %w", err)
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (map[string]ddbtypes.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, backend.WrapError(backend.ErrKindValidation, "decoding cursor", err)
	}
	var plain map[string]any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, backend.WrapError(backend.ErrKindValidation, "decoding cursor", err)
	}
	key, err := attributevalue.MarshalMap(plain)
	if err != nil {
		return nil, backend.WrapError(backend.ErrKindValidation, "decoding cursor", err)
	}
	return key, nil
}

func classifyDynamoError(op string, err error) error {
	var conditional *ddbtypes.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		return backend.WrapError(backend.ErrKindConflict, op, err)
	}
	var canceled *ddbtypes.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return backend.WrapError(backend.ErrKindConflict, op, err)
			}
		}
		return backend.WrapError(backend.ErrKindInternal, op, err)
	}
	var throttled *ddbtypes.ProvisionedThroughputExceededException
	if errors.As(err, &throttled) {
		return backend.WrapError(backend.ErrKindThrottled, op, err)
	}
	var notFound *ddbtypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return backend.WrapError(backend.ErrKindNotFound, op, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "RequestLimitExceeded":
			return backend.WrapError(backend.ErrKindThrottled, op, err)
		}
	}
	return backend.WrapError(backend.ErrKindInternal, op, err)
}
