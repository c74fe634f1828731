// Package lambda provides initialization and handler logic for the Lambda
// deployment.
package lambda

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/dwsmith1983/runwarden/internal/messaging"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// SecretHeader carries the webhook secret Telegram echoes on every update.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// CycleRunner runs one monitoring cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*types.CycleReport, error)
}

// Deliverer applies one inbound message.
type Deliverer interface {
	Deliver(ctx context.Context, msg types.InboundMessage) (bool, error)
}

// CycleResult is the output of the cycle Lambda.
type CycleResult struct {
	GeneratedAt time.Time          `json:"generatedAt,omitempty"`
	Counts      types.ReportCounts `json:"counts"`
	Healthy     bool               `json:"healthy"`
	Skipped     bool               `json:"skipped,omitempty"`
}

// HandleCycle runs a cycle. A cycle already running elsewhere is not an
// error, so the scheduler does not retry it.
func HandleCycle(ctx context.Context, runner CycleRunner, logger *slog.Logger) (CycleResult, error) {
	rep, err := runner.RunCycle(ctx)
	if errors.Is(err, types.ErrCycleInProgress) {
		logger.Info("cycle skipped, another cycle holds the lock")
		return CycleResult{Skipped: true}, nil
	}
	if err != nil {
		return CycleResult{}, err
	}
	logger.Info("cycle complete",
		"targets", rep.Counts.Targets,
		"retried", rep.Counts.Retried,
		"escalated", rep.Counts.Escalated,
		"errors", rep.Counts.Errors,
	)
	return CycleResult{GeneratedAt: rep.GeneratedAt, Counts: rep.Counts, Healthy: rep.Healthy()}, nil
}

// HandleWebhook applies a Telegram update delivered through a Lambda
// Function URL. Malformed updates are acknowledged and dropped; a failed
// delivery returns 500 so Telegram redelivers it.
func HandleWebhook(ctx context.Context, inbox Deliverer, secret string, req events.LambdaFunctionURLRequest, logger *slog.Logger) events.LambdaFunctionURLResponse {
	if secret != "" && subtle.ConstantTimeCompare([]byte(header(req.Headers, SecretHeader)), []byte(secret)) != 1 {
		logger.Warn("rejecting webhook with bad secret")
		return respond(http.StatusUnauthorized)
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			logger.Warn("dropping undecodable webhook body", "error", err)
			return respond(http.StatusOK)
		}
		body = decoded
	}

	msg, err := messaging.ParseUpdate(body)
	if err != nil {
		logger.Warn("dropping malformed update", "error", err)
		return respond(http.StatusOK)
	}

	applied, err := inbox.Deliver(ctx, msg)
	if err != nil {
		logger.Error("update delivery failed", "update", msg.UpdateID, "error", err)
		return respond(http.StatusInternalServerError)
	}
	logger.Info("update handled", "update", msg.UpdateID, "applied", applied)
	return respond(http.StatusOK)
}

func header(h map[string]string, name string) string {
	if v, ok := h[strings.ToLower(name)]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func respond(status int) events.LambdaFunctionURLResponse {
	return events.LambdaFunctionURLResponse{StatusCode: status, Body: http.StatusText(status)}
}
