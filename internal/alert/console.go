package alert

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// ConsoleSink writes alerts to a terminal with color.
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink creates a new console alert sink.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

// Send writes an alert with color-coded severity.
func (s *ConsoleSink) Send(_ context.Context, alert types.Alert) error {
	var prefix string
	switch alert.Level {
	case types.AlertLevelError:
		prefix = color.RedString("[ERROR]")
	case types.AlertLevelWarning:
		prefix = color.YellowString("[WARN]")
	default:
		prefix = color.CyanString("[INFO]")
	}

	var err error
	if alert.TargetID != "" {
		_, err = fmt.Fprintf(s.w, "%s [%s] %s\n", prefix, alert.TargetID, alert.Message)
	} else {
		_, err = fmt.Fprintf(s.w, "%s %s\n", prefix, alert.Message)
	}
	return err
}
