// Package config handles loading and validation of runwarden.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/runwarden/internal/gate"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// FileName is the configuration file looked up in a project directory.
const FileName = "runwarden.yaml"

var validate = validator.New()

// Load reads runwarden.yaml from dir, applies environment overrides and
// validates the result.
func Load(dir string) (*types.ProjectConfig, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes a configuration document. Unknown keys are rejected.
// lookupEnv supplies the environment overrides.
func Parse(data []byte, lookupEnv func(string) (string, bool)) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnv(&cfg, lookupEnv)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays deployment settings that Lambda and containers pass
// through the environment.
func applyEnv(cfg *types.ProjectConfig, lookupEnv func(string) (string, bool)) {
	get := func(key string) string {
		v, _ := lookupEnv(key)
		return strings.TrimSpace(v)
	}

	if v := get("RUNWARDEN_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := get("TABLE_NAME"); v != "" {
		if cfg.DynamoDB == nil {
			cfg.DynamoDB = &types.DynamoDBConfig{}
		}
		cfg.DynamoDB.TableName = v
	}
	if v := get("AWS_REGION"); v != "" && cfg.DynamoDB != nil && cfg.DynamoDB.Region == "" {
		cfg.DynamoDB.Region = v
	}
	if v := get("RUNWARDEN_SQLITE_PATH"); v != "" {
		if cfg.SQLite == nil {
			cfg.SQLite = &types.SQLiteConfig{}
		}
		cfg.SQLite.Path = v
	}
	if v := get("TELEGRAM_CHAT_ID"); v != "" {
		if cfg.Messaging.Telegram == nil {
			cfg.Messaging.Telegram = &types.TelegramConfig{}
		}
		cfg.Messaging.Telegram.ChatID = v
	}
	if v := get("RUNWARDEN_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := get("RUNWARDEN_TOKEN_SECRET_ID"); v != "" {
		cfg.Platform.TokenSecretID = v
	}
}

// Validate checks struct tags, the remediation policies and every
// duration string.
func Validate(cfg *types.ProjectConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	var errs []error
	if _, err := gate.ParsePolicy(cfg.Policy); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}
	for _, tc := range cfg.Targets {
		if tc.Policy == nil {
			continue
		}
		if _, err := gate.ParsePolicy(cfg.Policy.Merge(tc.Policy)); err != nil {
			errs = append(errs, fmt.Errorf("target %s/%s policy: %w", tc.Account, tc.Project, err))
		}
	}
	if _, err := ParseCycle(cfg.Cycle); err != nil {
		errs = append(errs, err)
	}
	if cfg.DynamoDB != nil {
		errs = append(errs,
			durationErr("dynamodb.verdictTtl", cfg.DynamoDB.VerdictTTL),
			durationErr("dynamodb.retentionTtl", cfg.DynamoDB.RetentionTTL),
		)
	}
	return errors.Join(errs...)
}

func durationErr(field, s string) error {
	_, err := parseDuration(field, s, 0)
	return err
}

func parseDuration(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, s)
	}
	return d, nil
}
