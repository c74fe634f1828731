// Package alert implements alert dispatching to multiple sinks.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Sink is an alert destination.
type Sink interface {
	Send(ctx context.Context, alert types.Alert) error
	Name() string
}

// ReportPublisher is a sink that also publishes cycle reports.
type ReportPublisher interface {
	PublishReport(ctx context.Context, report types.CycleReport) error
}

// Dispatcher routes alerts to configured sinks.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

// Deps carries the clients that some sink types need.
type Deps struct {
	Messenger   Messenger
	EventBridge EventBridgeAPI
}

// NewDispatcher creates a dispatcher from alert configs.
func NewDispatcher(configs []types.AlertConfig, deps Deps) (*Dispatcher, error) {
	d := &Dispatcher{logger: slog.Default()}
	for _, cfg := range configs {
		sink, err := newSink(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", cfg.Type, err)
		}
		d.sinks = append(d.sinks, sink)
	}
	return d, nil
}

// NewDispatcherWithSinks creates a dispatcher over explicit sinks.
func NewDispatcherWithSinks(sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: slog.Default()}
}

// Dispatch sends an alert to all configured sinks. Sink failures are logged
// and never stop delivery to the remaining sinks.
func (d *Dispatcher) Dispatch(ctx context.Context, alert types.Alert) {
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			d.logger.Error("alert delivery failed", "sink", sink.Name(), "error", err)
		}
	}
}

// PublishReport hands a cycle report to every sink that publishes reports.
// Like Dispatch, failures are logged and delivery continues.
func (d *Dispatcher) PublishReport(ctx context.Context, report types.CycleReport) {
	for _, sink := range d.sinks {
		pub, ok := sink.(ReportPublisher)
		if !ok {
			continue
		}
		if err := pub.PublishReport(ctx, report); err != nil {
			d.logger.Error("report publish failed", "sink", sink.Name(), "error", err)
		}
	}
}

// Sinks returns the configured sinks.
func (d *Dispatcher) Sinks() []Sink {
	return d.sinks
}

func newSink(cfg types.AlertConfig, deps Deps) (Sink, error) {
	switch cfg.Type {
	case types.AlertConsole:
		return NewConsoleSink(os.Stderr), nil
	case types.AlertWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.AlertFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.AlertEventBridge:
		var opts []EventBridgeSinkOption
		if deps.EventBridge != nil {
			opts = append(opts, WithEventBridgeClient(deps.EventBridge))
		}
		return NewEventBridgeSink(cfg.EventBusName, opts...)
	case types.AlertMessaging:
		if deps.Messenger == nil {
			return nil, fmt.Errorf("messaging transport not configured")
		}
		return NewMessagingSink(deps.Messenger), nil
	default:
		return nil, fmt.Errorf("unknown alert type %q", cfg.Type)
	}
}
