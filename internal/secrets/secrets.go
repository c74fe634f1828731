// Package secrets loads per-account platform tokens from AWS Secrets
// Manager.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/dwsmith1983/runwarden/internal/platform"
)

// API is the subset of the Secrets Manager client used here.
type API interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Tokens reads a JSON object secret mapping account ids (or PAT_<ACCOUNT>
// names) to tokens. The secret is fetched once per process.
type Tokens struct {
	client   API
	secretID string

	mu     sync.Mutex
	tokens map[string]string
}

// NewTokens creates a token source over secretID.
func NewTokens(client API, secretID string) *Tokens {
	return &Tokens{client: client, secretID: secretID}
}

// Token implements platform.TokenSource.
func (t *Tokens) Token(ctx context.Context, account string) (string, error) {
	tokens, err := t.load(ctx)
	if err != nil {
		return "", err
	}
	if tok := tokens[account]; tok != "" {
		return tok, nil
	}
	return tokens[platform.EnvVar(account)], nil
}

func (t *Tokens) load(ctx context.Context) (map[string]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tokens != nil {
		return t.tokens, nil
	}

	out, err := t.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(t.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("reading secret %s: %w", t.secretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", t.secretID)
	}
	tokens := make(map[string]string)
	if err := json.Unmarshal([]byte(*out.SecretString), &tokens); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object of strings: %w", t.secretID, err)
	}
	t.tokens = tokens
	return tokens, nil
}
