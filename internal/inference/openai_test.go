package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

func completion(content string) map[string]interface{} {
	return map[string]interface{}{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]interface{}{
			{"index": 0, "finish_reason": "stop", "message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func TestInfer_ReturnsContent(t *testing.T) {
	var gotModel, gotAuth string
	var gotMessages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Model    string            `json:"model"`
			Messages []json.RawMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model
		gotMessages = len(req.Messages)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(`{"category":"flaky_test"}`))
	}))
	defer srv.Close()

	c := New(types.InferenceConfig{BaseURL: srv.URL + "/v1", Model: "gemini-2.0-flash"}, "secret")
	out, err := c.Infer(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"category":"flaky_test"}`, out)
	assert.Equal(t, "gemini-2.0-flash", gotModel)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, 2, gotMessages)
}

func TestInfer_ServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	c := New(types.InferenceConfig{BaseURL: srv.URL + "/v1"}, "k")
	_, err := c.Infer(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
}

func TestInfer_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	c := New(types.InferenceConfig{BaseURL: srv.URL + "/v1"}, "k")
	_, err := c.Infer(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
}

func TestInfer_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(types.InferenceConfig{BaseURL: srv.URL + "/v1"}, "k")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Infer(ctx, "prompt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestInfer_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(types.InferenceConfig{BaseURL: srv.URL + "/v1"}, "k")
	for i := 0; i < 7; i++ {
		_, _ = c.Infer(context.Background(), "prompt")
	}
	// go-openai does not retry, so the server sees exactly the calls made
	// before the breaker opened.
	assert.Equal(t, 5, calls)
}
