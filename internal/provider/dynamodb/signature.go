package dynamodb

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// PutSignature stores the state of a failure signature.
func (p *DynamoDBProvider) PutSignature(ctx context.Context, state types.SignatureState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &p.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":     strAttr(signaturePK(state.Signature)),
			"SK":     strAttr(stateSK()),
			"GSI1PK": strAttr(targetSignaturesPK(state.TargetID)),
			"GSI1SK": strAttr(signaturePK(state.Signature)),
			"status": strAttr(string(state.Status)),
			"data":   strAttr(string(data)),
		},
	})
	return err
}

// GetSignature retrieves the state of a failure signature.
func (p *DynamoDBProvider) GetSignature(ctx context.Context, sig types.FailureSignature) (*types.SignatureState, error) {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &p.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": strAttr(signaturePK(sig)),
			"SK": strAttr(stateSK()),
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
	var state types.SignatureState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListSignatures returns every signature recorded for a target via GSI1.
func (p *DynamoDBProvider) ListSignatures(ctx context.Context, targetID string) ([]types.SignatureState, error) {
	items, err := p.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              &p.tableName,
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": strAttr(targetSignaturesPK(targetID)),
		},
	})
	if err != nil {
		return nil, err
	}

	var states []types.SignatureState
	for _, item := range items {
		data, err := attributeStr(item, "data")
		if err != nil {
			p.logger.Warn("skipping corrupt signature entry", "target", targetID, "error", err)
			continue
		}
		var state types.SignatureState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			p.logger.Warn("skipping corrupt signature data", "target", targetID, "error", err)
			continue
		}
		states = append(states, state)
	}
	return states, nil
}
