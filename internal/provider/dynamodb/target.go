package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

func (p *DynamoDBProvider) targetItem(target types.Target) (map[string]ddbtypes.AttributeValue, error) {
	data, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("marshaling target: %w", err)
	}
	return map[string]ddbtypes.AttributeValue{
		"PK":     strAttr(targetPK(target.ID)),
		"SK":     strAttr(configSK()),
		"GSI1PK": strAttr(prefixType + "target"),
		"GSI1SK": strAttr(targetPK(target.ID)),
		"data":   strAttr(string(data)),
	}, nil
}

// CreateTarget stores a target only if no target with the same ID exists.
func (p *DynamoDBProvider) CreateTarget(ctx context.Context, target types.Target) (bool, error) {
	item, err := p.targetItem(target)
	if err != nil {
		return false, err
	}
	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &p.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PutTarget overwrites a target.
func (p *DynamoDBProvider) PutTarget(ctx context.Context, target types.Target) error {
	item, err := p.targetItem(target)
	if err != nil {
		return err
	}
	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &p.tableName,
		Item:      item,
	})
	return err
}

// GetTarget retrieves a target.
func (p *DynamoDBProvider) GetTarget(ctx context.Context, id string) (*types.Target, error) {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &p.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": strAttr(targetPK(id)),
			"SK": strAttr(configSK()),
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}

	data, err := attributeStr(out.Item, "data")
	if err != nil {
		return nil, err
	}
	var target types.Target
	if err := json.Unmarshal([]byte(data), &target); err != nil {
		return nil, err
	}
	return &target, nil
}

// ListTargets returns all registered targets via GSI1.
func (p *DynamoDBProvider) ListTargets(ctx context.Context) ([]types.Target, error) {
	items, err := p.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              &p.tableName,
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": strAttr(prefixType + "target"),
		},
	})
	if err != nil {
		return nil, err
	}

	var targets []types.Target
	for _, item := range items {
		data, err := attributeStr(item, "data")
		if err != nil {
			p.logger.Warn("skipping corrupt target entry", "error", err)
			continue
		}
		var target types.Target
		if err := json.Unmarshal([]byte(data), &target); err != nil {
			p.logger.Warn("skipping corrupt target data", "error", err)
			continue
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// queryAll follows LastEvaluatedKey until the query is exhausted.
func (p *DynamoDBProvider) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]ddbtypes.AttributeValue, error) {
	var items []map[string]ddbtypes.AttributeValue
	for {
		out, err := p.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
