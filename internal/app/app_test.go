package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

func testConfig(t *testing.T) *types.ProjectConfig {
	t.Helper()
	return &types.ProjectConfig{
		Provider: "sqlite",
		SQLite:   &types.SQLiteConfig{Path: filepath.Join(t.TempDir(), "runwarden.db")},
		Policy:   types.RemediationPolicy{ConfidenceThreshold: 0.8, MaxAttempts: 2, Cooldown: "30m"},
		Alerts:   []types.AlertConfig{{Type: types.AlertConsole}},
		Targets: []types.TargetConfig{
			{Account: "acc1", Project: "octo/app", Label: "app", Channel: "@app"},
		},
	}
}

func TestBuild_SeedsTargets(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close(ctx)) }()

	assert.NotNil(t, a.Supervisor)
	assert.NotNil(t, a.Handler)
	assert.Nil(t, a.Telegram)
	assert.Nil(t, a.Inbox)

	targets, err := a.Registry.ListTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "octo/app", targets[0].ProjectID)
	assert.Equal(t, types.AllWorkflows, targets[0].WorkflowID)
}

func TestBuild_Telegram(t *testing.T) {
	t.Setenv("RUNWARDEN_TEST_BOT_TOKEN", "123:abc")
	cfg := testConfig(t)
	cfg.Messaging.Telegram = &types.TelegramConfig{TokenEnv: "RUNWARDEN_TEST_BOT_TOKEN", ChatID: "42"}
	cfg.Alerts = append(cfg.Alerts, types.AlertConfig{Type: types.AlertMessaging})

	ctx := context.Background()
	a, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	defer func() { _ = a.Close(ctx) }()

	assert.NotNil(t, a.Telegram)
	assert.NotNil(t, a.Inbox)
	assert.Len(t, a.Dispatcher.Sinks(), 2)
}

func TestBuild_TelegramWithoutToken(t *testing.T) {
	t.Setenv("RUNWARDEN_TEST_BOT_TOKEN", "")
	cfg := testConfig(t)
	cfg.Messaging.Telegram = &types.TelegramConfig{TokenEnv: "RUNWARDEN_TEST_BOT_TOKEN", ChatID: "42"}

	_, err := Build(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "bot token")
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(&types.ProjectConfig{Provider: "etcd"})
	assert.Error(t, err)
	_, err = NewProvider(&types.ProjectConfig{Provider: "dynamodb"})
	assert.Error(t, err)

	p, err := NewProvider(&types.ProjectConfig{Provider: "sqlite", SQLite: &types.SQLiteConfig{Path: ":memory:"}})
	require.NoError(t, err)
	assert.NotNil(t, p)
}
