package dynamodb

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// PutVerdict caches a verdict with a TTL.
func (p *DynamoDBProvider) PutVerdict(ctx context.Context, verdict types.Verdict) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return err
	}

	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &p.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":   strAttr(verdictPK(verdict.RunID)),
			"SK":   strAttr(verdictSK()),
			"data": strAttr(string(data)),
			"ttl":  numAttr(ttlEpoch(p.verdictTTL)),
		},
	})
	return err
}

// GetVerdict returns the cached verdict for a run, ignoring expired items
// that DynamoDB has not reaped yet.
func (p *DynamoDBProvider) GetVerdict(ctx context.Context, runID string) (*types.Verdict, error) {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &p.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": strAttr(verdictPK(runID)),
			"SK": strAttr(verdictSK()),
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}

	ttlVal, _ := attributeInt(out.Item, "ttl")
	if isExpired(ttlVal) {
		return nil, nil
	}

	data, err := attributeStr(out.Item, "data")
	if err != nil {
		return nil, err
	}
	var verdict types.Verdict
	if err := json.Unmarshal([]byte(data), &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// DeleteVerdict evicts a cached verdict.
func (p *DynamoDBProvider) DeleteVerdict(ctx context.Context, runID string) error {
	_, err := p.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &p.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": strAttr(verdictPK(runID)),
			"SK": strAttr(verdictSK()),
		},
	})
	return err
}
