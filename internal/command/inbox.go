package command

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// CursorName is the persisted cursor holding the next inbound update id.
const CursorName = "telegram"

// Receiver pulls inbound messages with update ids >= offset.
type Receiver interface {
	Receive(ctx context.Context, offset int64) ([]types.InboundMessage, error)
}

// CursorStore persists the inbox position.
type CursorStore interface {
	GetCursor(ctx context.Context, name string) (int64, error)
	PutCursor(ctx context.Context, name string, value int64) error
}

// Inbox feeds inbound messages to a Handler exactly once each.
type Inbox struct {
	receiver Receiver
	cursors  CursorStore
	handler  *Handler
	logger   *slog.Logger
}

// NewInbox creates an Inbox. receiver may be nil when messages arrive only
// through Deliver.
func NewInbox(receiver Receiver, cursors CursorStore, handler *Handler, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{receiver: receiver, cursors: cursors, handler: handler, logger: logger}
}

// Poll receives pending messages and handles them in update order. It
// returns the number of commands applied.
func (i *Inbox) Poll(ctx context.Context) (int, error) {
	if i.receiver == nil {
		return 0, nil
	}
	offset, err := i.cursors.GetCursor(ctx, CursorName)
	if err != nil {
		return 0, fmt.Errorf("loading inbox cursor: %w", err)
	}
	msgs, err := i.receiver.Receive(ctx, offset)
	if err != nil {
		return 0, fmt.Errorf("receiving messages: %w", err)
	}
	slices.SortFunc(msgs, func(a, b types.InboundMessage) int {
		switch {
		case a.UpdateID < b.UpdateID:
			return -1
		case a.UpdateID > b.UpdateID:
			return 1
		}
		return 0
	})

	applied := 0
	for _, msg := range msgs {
		ok, err := i.Deliver(ctx, msg)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

// Deliver handles one message unless the cursor shows it was already
// handled, then advances the cursor past it. When the handler fails the
// cursor stays put so the message is handled again on the next poll.
func (i *Inbox) Deliver(ctx context.Context, msg types.InboundMessage) (bool, error) {
	offset, err := i.cursors.GetCursor(ctx, CursorName)
	if err != nil {
		return false, fmt.Errorf("loading inbox cursor: %w", err)
	}
	if msg.UpdateID < offset {
		i.logger.Debug("skipping already handled update", "update", msg.UpdateID)
		return false, nil
	}

	res, err := i.handler.Handle(ctx, msg)
	if err != nil {
		i.logger.Error("command failed", "update", msg.UpdateID, "chat", msg.ChatID, "error", err)
		return false, err
	}
	if err := i.cursors.PutCursor(ctx, CursorName, msg.UpdateID+1); err != nil {
		return res.Applied, fmt.Errorf("advancing inbox cursor: %w", err)
	}
	return res.Applied, nil
}
