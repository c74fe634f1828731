package alert

import (
	"context"
	"fmt"
	"strings"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Messenger delivers plain text to the operator channel.
type Messenger interface {
	Send(ctx context.Context, text string) error
}

// MessagingSink forwards alerts to the operator chat.
type MessagingSink struct {
	messenger Messenger
}

// NewMessagingSink creates a sink over a messaging transport.
func NewMessagingSink(m Messenger) *MessagingSink {
	return &MessagingSink{messenger: m}
}

// Name returns the sink identifier.
func (s *MessagingSink) Name() string { return "messaging" }

// Send renders the alert as a short chat message.
func (s *MessagingSink) Send(ctx context.Context, alert types.Alert) error {
	var b strings.Builder
	switch alert.Level {
	case types.AlertLevelError:
		b.WriteString("🚨 ")
	case types.AlertLevelWarning:
		b.WriteString("⚠️ ")
	default:
		b.WriteString("ℹ️ ")
	}
	b.WriteString(alert.Message)
	if alert.TargetID != "" {
		fmt.Fprintf(&b, "\ntarget: %s", alert.TargetID)
	}
	return s.messenger.Send(ctx, b.String())
}
