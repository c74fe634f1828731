package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dwsmith1983/runwarden/internal/app"
	"github.com/dwsmith1983/runwarden/internal/config"
)

// DefaultConfigPath is where the deployment package carries runwarden.yaml.
const DefaultConfigPath = "/var/task/runwarden.yaml"

// Init builds the shared dependencies of the Lambda handlers.
// Reads: TABLE_NAME, AWS_REGION, RUNWARDEN_CONFIG plus the overrides that
// config.Load applies.
func Init(ctx context.Context) (*app.App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if os.Getenv("TABLE_NAME") == "" {
		return nil, fmt.Errorf("TABLE_NAME environment variable required")
	}
	if os.Getenv("AWS_REGION") == "" {
		return nil, fmt.Errorf("AWS_REGION environment variable required")
	}

	cfg, err := config.LoadFile(envOrDefault("RUNWARDEN_CONFIG", DefaultConfigPath))
	if err != nil {
		return nil, err
	}
	if cfg.Provider != "dynamodb" {
		return nil, fmt.Errorf("lambda deployments require the dynamodb provider, got %q", cfg.Provider)
	}
	return app.Build(ctx, cfg, logger)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
