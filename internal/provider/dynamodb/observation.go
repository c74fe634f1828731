package dynamodb

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// PutObservation appends a run observation to its target's partition.
func (p *DynamoDBProvider) PutObservation(ctx context.Context, obs types.RunObservation) error {
	data, err := json.Marshal(obs)
	if err != nil {
		return err
	}

	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &p.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":    strAttr(targetPK(obs.TargetID)),
			"SK":    strAttr(observationSK(obs.ObservedAt, obs.ID)),
			"data":  strAttr(string(data)),
			"runId": strAttr(obs.RunID),
			"ttl":   numAttr(ttlEpoch(p.retentionTTL)),
		},
	})
	return err
}

// ListObservations returns a target's observations, newest first.
func (p *DynamoDBProvider) ListObservations(ctx context.Context, targetID string, limit int) ([]types.RunObservation, error) {
	input := &dynamodb.QueryInput{
		TableName:              &p.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     strAttr(targetPK(targetID)),
			":prefix": strAttr(prefixObs),
		},
		ScanIndexForward: aws.Bool(false),
	}

	var items []map[string]ddbtypes.AttributeValue
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
		out, err := p.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		items = out.Items
	} else {
		var err error
		if items, err = p.queryAll(ctx, input); err != nil {
			return nil, err
		}
	}

	var observations []types.RunObservation
	for _, item := range items {
		ttlVal, _ := attributeInt(item, "ttl")
		if isExpired(ttlVal) {
			continue
		}
		data, err := attributeStr(item, "data")
		if err != nil {
			p.logger.Warn("skipping corrupt observation entry", "target", targetID, "error", err)
			continue
		}
		var obs types.RunObservation
		if err := json.Unmarshal([]byte(data), &obs); err != nil {
			p.logger.Warn("skipping corrupt observation data", "target", targetID, "error", err)
			continue
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

// DeleteObservation removes an aged-out observation.
func (p *DynamoDBProvider) DeleteObservation(ctx context.Context, obs types.RunObservation) error {
	_, err := p.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &p.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": strAttr(targetPK(obs.TargetID)),
			"SK": strAttr(observationSK(obs.ObservedAt, obs.ID)),
		},
	})
	return err
}
