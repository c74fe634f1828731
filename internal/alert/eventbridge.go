package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Event source and detail types published to EventBridge.
const (
	EventSource           = "runwarden"
	DetailTypeAlert       = "Runwarden Alert"
	DetailTypeCycleReport = "Runwarden Cycle Report"
)

// EventBridgeAPI is the subset of the EventBridge client used by the sink.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, input *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeSink publishes alerts and cycle reports to an event bus.
type EventBridgeSink struct {
	client  EventBridgeAPI
	busName string
}

// EventBridgeSinkOption configures an EventBridgeSink.
type EventBridgeSinkOption func(*EventBridgeSink)

// WithEventBridgeClient sets a custom client (useful for testing).
func WithEventBridgeClient(c EventBridgeAPI) EventBridgeSinkOption {
	return func(s *EventBridgeSink) { s.client = c }
}

// NewEventBridgeSink creates a sink on the named bus.
func NewEventBridgeSink(busName string, opts ...EventBridgeSinkOption) (*EventBridgeSink, error) {
	if busName == "" {
		return nil, fmt.Errorf("event bus name required")
	}
	s := &EventBridgeSink{busName: busName}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.client = eventbridge.NewFromConfig(cfg)
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *EventBridgeSink) Name() string { return "eventbridge" }

// Send publishes the alert as an event.
func (s *EventBridgeSink) Send(ctx context.Context, alert types.Alert) error {
	return s.put(ctx, DetailTypeAlert, alert)
}

// PublishReport publishes a cycle report for downstream consumers.
func (s *EventBridgeSink) PublishReport(ctx context.Context, report types.CycleReport) error {
	return s.put(ctx, DetailTypeCycleReport, report)
}

func (s *EventBridgeSink) put(ctx context.Context, detailType string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(s.busName),
			Source:       aws.String(EventSource),
			DetailType:   aws.String(detailType),
			Detail:       aws.String(string(data)),
		}},
	})
	if err != nil {
		return fmt.Errorf("publishing to EventBridge: %w", err)
	}
	if out.FailedEntryCount > 0 {
		msg := "unknown"
		if len(out.Entries) > 0 && out.Entries[0].ErrorMessage != nil {
			msg = *out.Entries[0].ErrorMessage
		}
		return fmt.Errorf("EventBridge rejected event: %s", msg)
	}
	return nil
}
