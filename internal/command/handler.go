package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dwsmith1983/runwarden/internal/registry"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// TargetStore is the part of the registry commands write to.
type TargetStore interface {
	UpsertTarget(ctx context.Context, t types.Target, opts registry.UpsertOptions) (string, error)
}

// Replier answers the chat a command came from.
type Replier interface {
	SendTo(ctx context.Context, chatID, text string) error
}

// Observer is notified of every applied command.
type Observer interface {
	CommandApplied(ctx context.Context, kind types.CommandKind)
}

// Result describes what Handle did with a message.
type Result struct {
	Command  types.Command
	TargetID string
	Applied  bool
}

// Handler applies operator commands to the registry.
type Handler struct {
	targets  TargetStore
	replier  Replier
	allowed  map[string]bool
	observer Observer
	logger   *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAllowedChats restricts commands to the given chat ids. An empty list
// accepts every chat.
func WithAllowedChats(ids ...string) HandlerOption {
	return func(h *Handler) {
		for _, id := range ids {
			h.allowed[id] = true
		}
	}
}

// WithReplier sets where acknowledgements go.
func WithReplier(r Replier) HandlerOption {
	return func(h *Handler) { h.replier = r }
}

// WithObserver sets the command observer.
func WithObserver(o Observer) HandlerOption {
	return func(h *Handler) { h.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a Handler.
func NewHandler(targets TargetStore, opts ...HandlerOption) *Handler {
	h := &Handler{
		targets: targets,
		allowed: make(map[string]bool),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle interprets one message and applies it. Unknown commands and
// messages from chats outside the allow list are ignored. A duplicate
// registration is answered to the operator and is not an error.
func (h *Handler) Handle(ctx context.Context, msg types.InboundMessage) (Result, error) {
	if len(h.allowed) > 0 && !h.allowed[msg.ChatID] {
		h.logger.Debug("ignoring message from unlisted chat", "chat", msg.ChatID)
		return Result{Command: types.Command{Kind: types.CommandUnknown}}, nil
	}

	cmd := Interpret(msg.Text)
	res := Result{Command: cmd}
	if cmd.Kind != types.CommandAddTarget {
		return res, nil
	}

	args := cmd.AddTarget
	id, err := h.targets.UpsertTarget(ctx, types.Target{
		AccountID:  args.AccountID,
		ProjectID:  args.ProjectID,
		WorkflowID: args.WorkflowID,
		Label:      args.Label,
		Channel:    args.Channel,
		RepoURL:    args.RepoURL,
	}, registry.UpsertOptions{})
	switch {
	case errors.Is(err, types.ErrDuplicateTarget):
		h.logger.Warn("add-target rejected", "chat", msg.ChatID, "project", args.ProjectID, "error", err)
		h.reply(ctx, msg.ChatID, fmt.Sprintf("⚠️ %s/%s is already monitored with different settings.", args.AccountID, args.ProjectID))
		return res, nil
	case err != nil:
		h.reply(ctx, msg.ChatID, "❌ Failed to add bot, it will be retried shortly.")
		return res, fmt.Errorf("adding target from chat %s: %w", msg.ChatID, err)
	}

	res.TargetID = id
	res.Applied = true
	h.logger.Info("target added by command", "target", id, "chat", msg.ChatID, "project", args.ProjectID, "workflow", args.WorkflowID)
	if h.observer != nil {
		h.observer.CommandApplied(ctx, cmd.Kind)
	}
	h.reply(ctx, msg.ChatID, fmt.Sprintf("✅ New bot added successfully!\n%s (%s) will be included in the next daily report.", args.Label, args.Channel))
	return res, nil
}

func (h *Handler) reply(ctx context.Context, chatID, text string) {
	if h.replier == nil {
		return
	}
	if err := h.replier.SendTo(ctx, chatID, text); err != nil {
		h.logger.Warn("failed to reply to operator", "chat", chatID, "error", err)
	}
}
