package config

import (
	"os"
	"strings"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Default environment variables holding credentials. Credentials are never
// read from the configuration file.
const (
	DefaultTelegramTokenEnv = "TELEGRAM_TOKEN"
	DefaultInferenceKeyEnv  = "OPENAI_API_KEY"
)

// TelegramToken returns the bot token, or "" when Telegram is not
// configured.
func TelegramToken(cfg *types.ProjectConfig) string {
	if cfg.Messaging.Telegram == nil {
		return ""
	}
	return envOr(cfg.Messaging.Telegram.TokenEnv, DefaultTelegramTokenEnv)
}

// InferenceAPIKey returns the inference endpoint's API key.
func InferenceAPIKey(cfg *types.ProjectConfig) string {
	return envOr(cfg.Inference.APIKeyEnv, DefaultInferenceKeyEnv)
}

func envOr(name, fallback string) string {
	if name == "" {
		name = fallback
	}
	return strings.TrimSpace(os.Getenv(name))
}
