// Package app wires the runwarden components from a project configuration.
// The CLI and the Lambda handlers share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/dwsmith1983/runwarden/internal/alert"
	"github.com/dwsmith1983/runwarden/internal/classifier"
	"github.com/dwsmith1983/runwarden/internal/command"
	"github.com/dwsmith1983/runwarden/internal/config"
	"github.com/dwsmith1983/runwarden/internal/gate"
	"github.com/dwsmith1983/runwarden/internal/inference"
	"github.com/dwsmith1983/runwarden/internal/messaging"
	"github.com/dwsmith1983/runwarden/internal/metrics"
	"github.com/dwsmith1983/runwarden/internal/platform"
	"github.com/dwsmith1983/runwarden/internal/provider"
	ddbprov "github.com/dwsmith1983/runwarden/internal/provider/dynamodb"
	"github.com/dwsmith1983/runwarden/internal/provider/sqlite"
	"github.com/dwsmith1983/runwarden/internal/registry"
	"github.com/dwsmith1983/runwarden/internal/remediation"
	"github.com/dwsmith1983/runwarden/internal/secrets"
	"github.com/dwsmith1983/runwarden/internal/supervisor"
	"github.com/dwsmith1983/runwarden/internal/telemetry"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// App holds the wired components. Telegram and Inbox are nil when no
// messaging transport is configured.
type App struct {
	Config      *types.ProjectConfig
	Settings    config.CycleSettings
	Provider    provider.Provider
	Registry    *registry.Registry
	Classifier  *classifier.Classifier
	Platform    *platform.Client
	Coordinator *remediation.Coordinator
	Telegram    *messaging.Telegram
	Dispatcher  *alert.Dispatcher
	Handler     *command.Handler
	Inbox       *command.Inbox
	Supervisor  *supervisor.Supervisor
	Metrics     *metrics.Recorder
	Logger      *slog.Logger

	shutdown telemetry.Shutdown
}

// NewProvider creates the configured storage provider.
func NewProvider(cfg *types.ProjectConfig) (provider.Provider, error) {
	switch cfg.Provider {
	case "dynamodb":
		if cfg.DynamoDB == nil {
			return nil, fmt.Errorf("dynamodb config is required when provider is dynamodb")
		}
		return ddbprov.New(cfg.DynamoDB)
	case "sqlite":
		if cfg.SQLite == nil {
			return nil, fmt.Errorf("sqlite config is required when provider is sqlite")
		}
		return sqlite.New(cfg.SQLite)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// OpenRegistry starts the provider and returns a registry over it. The
// returned close func stops the provider.
func OpenRegistry(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (*registry.Registry, func(context.Context) error, error) {
	prov, err := NewProvider(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating provider: %w", err)
	}
	if err := prov.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("starting provider: %w", err)
	}
	settings, err := config.ParseCycle(cfg.Cycle)
	if err != nil {
		_ = prov.Stop(ctx)
		return nil, nil, err
	}
	reg := registry.New(prov, cfg.Policy,
		registry.WithLogger(logger),
		registry.WithRetention(settings.ObservationRetention),
	)
	return reg, prov.Stop, nil
}

// Build creates every component and seeds the configured targets. Call
// Close when done.
func Build(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	settings, err := config.ParseCycle(cfg.Cycle)
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a := &App{Config: cfg, Settings: settings, Logger: logger, shutdown: shutdown}
	a.Metrics = metrics.Global()

	reg, _, err := OpenRegistry(ctx, cfg, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	a.Registry = reg
	a.Provider = reg.Provider()

	if err := a.wire(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if err := reg.SeedTargets(ctx, cfg.Targets); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	infer := inference.New(cfg.Inference, config.InferenceAPIKey(cfg))
	a.Classifier = classifier.New(infer, a.Provider,
		classifier.WithTimeout(a.Settings.InferenceTimeout),
		classifier.WithMaxPromptBytes(cfg.Inference.MaxPromptBytes),
		classifier.WithObserver(a.Metrics),
		classifier.WithLogger(a.Logger),
	)
	a.Registry.SetEvictHook(a.Classifier.Evict)

	tokens, err := a.tokenSource(ctx)
	if err != nil {
		return err
	}
	a.Platform = platform.New(cfg.Platform, tokens, platform.WithLogger(a.Logger))

	var alertDeps alert.Deps
	if tg := cfg.Messaging.Telegram; tg != nil {
		token := config.TelegramToken(cfg)
		if token == "" {
			return fmt.Errorf("messaging.telegram is configured but no bot token is set")
		}
		a.Telegram = messaging.NewTelegram(*tg, token, messaging.WithLogger(a.Logger))
		alertDeps.Messenger = a.Telegram
	}
	a.Dispatcher, err = alert.NewDispatcher(cfg.Alerts, alertDeps)
	if err != nil {
		return fmt.Errorf("creating alert dispatcher: %w", err)
	}

	a.Coordinator = remediation.New(a.Registry, a.Platform,
		remediation.WithAlerter(a.Dispatcher),
		remediation.WithObserver(a.Metrics),
		remediation.WithTimeout(a.Settings.RerunTimeout),
		remediation.WithLogger(a.Logger),
	)

	handlerOpts := []command.HandlerOption{
		command.WithObserver(a.Metrics),
		command.WithLogger(a.Logger),
	}
	if a.Telegram != nil {
		handlerOpts = append(handlerOpts,
			command.WithReplier(a.Telegram),
			command.WithAllowedChats(cfg.Messaging.Telegram.AllowedChatIDs...),
		)
	}
	a.Handler = command.NewHandler(a.Registry, handlerOpts...)

	deps := supervisor.Deps{
		Registry:    a.Registry,
		Platform:    a.Platform,
		Classifier:  a.Classifier,
		Gate:        gate.New(a.Registry.PolicyFor),
		Coordinator: a.Coordinator,
		Alerter:     a.Dispatcher,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
	}
	if a.Telegram != nil {
		a.Inbox = command.NewInbox(a.Telegram, a.Provider, a.Handler, a.Logger)
		deps.Messenger = a.Telegram
		deps.Inbox = a.Inbox
	}
	a.Supervisor = supervisor.New(deps, a.Settings)
	return nil
}

// tokenSource reads PAT_<ACCOUNT> variables first and falls back to the
// Secrets Manager map when one is configured.
func (a *App) tokenSource(ctx context.Context) (platform.TokenSource, error) {
	chain := platform.ChainTokens{platform.NewEnvTokens()}
	if id := a.Config.Platform.TokenSecretID; id != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		chain = append(chain, secrets.NewTokens(secretsmanager.NewFromConfig(awsCfg), id))
	}
	return chain, nil
}

// Close stops the provider and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Provider != nil {
		errs = append(errs, a.Provider.Stop(ctx))
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	return errors.Join(errs...)
}
