package dynamodb

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// AppendAttempt writes an attempt to its ledger. The conditional put makes
// the attempt number unique within the ledger even across processes.
func (p *DynamoDBProvider) AppendAttempt(ctx context.Context, ledgerKey string, attempt types.RemediationAttempt) (bool, error) {
	data, err := json.Marshal(attempt)
	if err != nil {
		return false, err
	}

	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &p.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":   strAttr(ledgerPK(ledgerKey)),
			"SK":   strAttr(attemptSK(attempt.AttemptNumber)),
			"data": strAttr(string(data)),
			"ttl":  numAttr(ttlEpoch(p.retentionTTL)),
		},
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

// ListAttempts returns a ledger's attempts in attempt-number order.
func (p *DynamoDBProvider) ListAttempts(ctx context.Context, ledgerKey string) ([]types.RemediationAttempt, error) {
	items, err := p.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              &p.tableName,
		ConsistentRead:         aws.Bool(true),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     strAttr(ledgerPK(ledgerKey)),
			":prefix": strAttr(prefixAttempt),
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}

	var attempts []types.RemediationAttempt
	for _, item := range items {
		data, err := attributeStr(item, "data")
		if err != nil {
			p.logger.Warn("skipping corrupt attempt entry", "ledger", ledgerKey, "error", err)
			continue
		}
		var attempt types.RemediationAttempt
		if err := json.Unmarshal([]byte(data), &attempt); err != nil {
			p.logger.Warn("skipping corrupt attempt data", "ledger", ledgerKey, "error", err)
			continue
		}
		attempts = append(attempts, attempt)
	}
	return attempts, nil
}
