// Package inference calls an OpenAI-compatible chat completion endpoint.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = "You classify CI failures. You answer with a single JSON object and no prose."

// Client implements classifier.Inferer over the chat completions API.
type Client struct {
	client  *openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New creates a client. An empty BaseURL targets api.openai.com; any
// OpenAI-compatible endpoint (Gemini, local gateways) works by URL.
func New(cfg types.InferenceConfig, apiKey string) *Client {
	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "inference",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		logger: slog.Default(),
	}
}

// Infer sends the prompt and returns the first choice's content. Every
// failure is a *types.TransportError.
func (c *Client) Infer(ctx context.Context, prompt string) (string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			// The API treats 0 as unset, so ask for the smallest positive value.
			Temperature: math.SmallestNonzeroFloat32,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("no choices returned")
		}
		c.logger.Debug("inference reply received", "model", c.model, "finish_reason", resp.Choices[0].FinishReason)
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", &types.TransportError{Op: "inference", Err: fmt.Errorf("%s: %w", c.model, err)}
	}
	return out.(string), nil
}
