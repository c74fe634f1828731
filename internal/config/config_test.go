package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

const minimal = `provider: sqlite
sqlite:
  path: ./rw.db
policy:
  confidenceThreshold: 0.7
  maxAttempts: 3
  cooldown: 15m
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(Sample), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Provider)
	assert.Equal(t, "./runwarden.db", cfg.SQLite.Path)
	assert.Equal(t, 2, cfg.Policy.MaxAttempts)
	assert.Equal(t, "failed-jobs", cfg.Platform.RerunMode)
	require.NotNil(t, cfg.Messaging.Telegram)
	assert.Equal(t, "123456789", cfg.Messaging.Telegram.ChatID)
	require.Len(t, cfg.Alerts, 1)
	assert.Equal(t, types.AlertConsole, cfg.Alerts[0].Type)
	require.Len(t, cfg.Targets, 1)
	assert.Equal(t, "octo/app", cfg.Targets[0].Project)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent")
	assert.Error(t, err)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("invalid: [yaml"), noEnv)
	assert.ErrorContains(t, err, "parsing config")
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte(minimal+"bogus: true\n"), noEnv)
	assert.ErrorContains(t, err, "bogus")
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"missing provider", "policy: {confidenceThreshold: 0.5, maxAttempts: 1, cooldown: 1m}\n", "Provider"},
		{"unknown provider", "provider: redis\npolicy: {confidenceThreshold: 0.5, maxAttempts: 1, cooldown: 1m}\n", "oneof"},
		{"dynamodb without table", "provider: dynamodb\npolicy: {confidenceThreshold: 0.5, maxAttempts: 1, cooldown: 1m}\n", "DynamoDB"},
		{"missing policy", "provider: sqlite\nsqlite: {path: x.db}\n", "policy"},
		{"threshold out of range", "provider: sqlite\nsqlite: {path: x.db}\npolicy: {confidenceThreshold: 1.5, maxAttempts: 1, cooldown: 1m}\n", "ConfidenceThreshold"},
		{"bad cooldown", "provider: sqlite\nsqlite: {path: x.db}\npolicy: {confidenceThreshold: 0.5, maxAttempts: 1, cooldown: soon}\n", "cooldown"},
		{"bad cycle duration", minimal + "cycle: {deadline: -1m}\n", "cycle.deadline"},
		{"too many workers", minimal + "cycle: {workers: 500}\n", "Workers"},
		{"bad rerun mode", minimal + "platform: {rerunMode: sometimes}\n", "RerunMode"},
		{"webhook without url", minimal + "alerts: [{type: webhook}]\n", "URL"},
		{"file alert without path", minimal + "alerts: [{type: file}]\n", "Path"},
		{"target without project", minimal + "targets: [{account: acc1}]\n", "Project"},
		{"bad target policy", minimal + "targets: [{account: a, project: o/r, policy: {cooldown: nope}}]\n", "target a/o/r policy"},
		{"bad ttl", "provider: dynamodb\ndynamodb: {tableName: t, verdictTtl: forever}\npolicy: {confidenceThreshold: 0.5, maxAttempts: 1, cooldown: 1m}\n", "dynamodb.verdictTtl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), noEnv)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	doc := `provider: sqlite
sqlite: {path: x.db}
policy: {confidenceThreshold: 0.5, maxAttempts: 1, cooldown: 1m}
`
	cfg, err := Parse([]byte(doc), envMap(map[string]string{
		"RUNWARDEN_PROVIDER":        "dynamodb",
		"TABLE_NAME":                "runwarden-prod",
		"AWS_REGION":                "eu-west-1",
		"TELEGRAM_CHAT_ID":          "-100",
		"RUNWARDEN_OTLP_ENDPOINT":   "collector:4317",
		"RUNWARDEN_TOKEN_SECRET_ID": "runwarden/pats",
	}))
	require.NoError(t, err)
	assert.Equal(t, "dynamodb", cfg.Provider)
	assert.Equal(t, "runwarden-prod", cfg.DynamoDB.TableName)
	assert.Equal(t, "eu-west-1", cfg.DynamoDB.Region)
	assert.Equal(t, "-100", cfg.Messaging.Telegram.ChatID)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "runwarden/pats", cfg.Platform.TokenSecretID)
}

func TestParseCycle_Defaults(t *testing.T) {
	s, err := ParseCycle(types.CycleConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, s.Interval)
	assert.Equal(t, DefaultDeadline, s.Deadline)
	assert.Equal(t, DefaultWorkers, s.Workers)
	assert.Equal(t, DefaultPageSize, s.PageSize)
	assert.Equal(t, 20, s.ObservationRetention)
	assert.Equal(t, DefaultLogExcerptBytes, s.LogExcerptBytes)
	assert.Equal(t, 30*time.Second, s.InferenceTimeout)
	assert.Equal(t, DefaultCallTimeout, s.RerunTimeout)
}

func TestParseCycle_Explicit(t *testing.T) {
	s, err := ParseCycle(types.CycleConfig{Interval: "1h", Deadline: "5m", Workers: 8, RerunTimeout: "10s"})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, s.Interval)
	assert.Equal(t, 5*time.Minute, s.Deadline)
	assert.Equal(t, 8, s.Workers)
	assert.Equal(t, 10*time.Second, s.RerunTimeout)
}

func TestCredentials(t *testing.T) {
	t.Setenv("MY_BOT", " bot-token ")
	t.Setenv(DefaultInferenceKeyEnv, "sk-test")

	cfg := &types.ProjectConfig{}
	assert.Empty(t, TelegramToken(cfg))
	assert.Equal(t, "sk-test", InferenceAPIKey(cfg))

	cfg.Messaging.Telegram = &types.TelegramConfig{TokenEnv: "MY_BOT"}
	assert.Equal(t, "bot-token", TelegramToken(cfg))
}
