// Package platform talks to the workflow hosting platform (the GitHub
// Actions REST API, or a GitHub Enterprise endpoint).
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/dwsmith1983/runwarden/internal/classifier"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

// Rerun modes.
const (
	RerunFailedJobs = "failed-jobs"
	RerunAll        = "all"
)

// maxLogBytes caps how much of one job log is read before tailing.
const maxLogBytes = 8 << 20

// ErrMissingToken is returned when no token is configured for an account.
var ErrMissingToken = errors.New("missing access token")

// APIError is a non-2xx response from the platform.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("platform returned %d", e.Status)
	}
	return fmt.Sprintf("platform returned %d: %s", e.Status, e.Message)
}

// Client is a GitHub Actions client scoped to the operations the cycle
// needs.
type Client struct {
	http      *http.Client
	baseURL   string
	tokens    TokenSource
	rerunMode string
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a Client. A zero RequestsPerSecond disables client-side rate
// limiting.
func New(cfg types.PlatformConfig, tokens TokenSource, opts ...Option) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	mode := cfg.RerunMode
	if mode == "" {
		mode = RerunFailedJobs
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		baseURL:   base,
		tokens:    tokens,
		rerunMode: mode,
		limiter:   rate.NewLimiter(limit, max(1, int(cfg.RequestsPerSecond))),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "platform",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Client errors say nothing about platform health.
			IsSuccessful: func(err error) bool {
				var apiErr *APIError
				return err == nil || (errors.As(err, &apiErr) && apiErr.Status < 500)
			},
		}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type workflowRun struct {
	ID           int64     `json:"id"`
	WorkflowID   int64     `json:"workflow_id"`
	Path         string    `json:"path"`
	RunAttempt   int       `json:"run_attempt"`
	Status       string    `json:"status"`
	Conclusion   string    `json:"conclusion"`
	DisplayTitle string    `json:"display_title"`
	HTMLURL      string    `json:"html_url"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type runsPage struct {
	WorkflowRuns []workflowRun `json:"workflow_runs"`
}

type job struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Conclusion string `json:"conclusion"`
}

type jobsPage struct {
	Jobs []job `json:"jobs"`
}

// MapStatus folds a run's status and conclusion into a RunStatus.
func MapStatus(status, conclusion string) types.RunStatus {
	if status != "completed" {
		return types.RunInProgress
	}
	switch conclusion {
	case "success", "neutral":
		return types.RunSuccess
	case "cancelled", "skipped", "stale":
		return types.RunCancelled
	case "action_required":
		return types.RunInProgress
	default:
		return types.RunFailure
	}
}

// ListRuns returns a target's most recent runs, newest first.
func (c *Client) ListRuns(ctx context.Context, target types.Target, limit int) ([]types.RunObservation, error) {
	if limit <= 0 {
		limit = 1
	}
	path := fmt.Sprintf("/repos/%s/actions/runs", target.ProjectID)
	if target.WorkflowID != "" && target.WorkflowID != types.AllWorkflows {
		path = fmt.Sprintf("/repos/%s/actions/workflows/%s/runs", target.ProjectID, url.PathEscape(target.WorkflowID))
	}
	path += "?per_page=" + strconv.Itoa(limit)

	var page runsPage
	if err := c.getJSON(ctx, "list_runs", target.AccountID, path, &page); err != nil {
		return nil, err
	}

	runs := make([]types.RunObservation, 0, len(page.WorkflowRuns))
	for _, r := range page.WorkflowRuns {
		runs = append(runs, types.RunObservation{
			TargetID:   target.ID,
			WorkflowID: workflowFile(r, target),
			RunID:      strconv.FormatInt(r.ID, 10),
			RunAttempt: r.RunAttempt,
			Status:     MapStatus(r.Status, r.Conclusion),
			Title:      r.DisplayTitle,
			URL:        r.HTMLURL,
		})
	}
	return runs, nil
}

// workflowFile names the workflow a run belongs to: the file name of its
// definition, as used in workflow URLs.
func workflowFile(r workflowRun, target types.Target) string {
	if r.Path != "" {
		return r.Path[strings.LastIndex(r.Path, "/")+1:]
	}
	if target.WorkflowID != "" && target.WorkflowID != types.AllWorkflows {
		return target.WorkflowID
	}
	if r.WorkflowID != 0 {
		return strconv.FormatInt(r.WorkflowID, 10)
	}
	return ""
}

// LogExcerpt returns the tail of the failed jobs' logs of a run, clipped to
// maxBytes, and whether anything was dropped.
func (c *Client) LogExcerpt(ctx context.Context, target types.Target, runID string, maxBytes int) (string, bool, error) {
	var page jobsPage
	path := fmt.Sprintf("/repos/%s/actions/runs/%s/jobs?filter=latest&per_page=100", target.ProjectID, url.PathEscape(runID))
	if err := c.getJSON(ctx, "list_jobs", target.AccountID, path, &page); err != nil {
		return "", false, err
	}

	var b strings.Builder
	for _, j := range page.Jobs {
		if j.Conclusion != "failure" && j.Conclusion != "timed_out" {
			continue
		}
		body, err := c.do(ctx, "job_logs", target.AccountID, http.MethodGet, fmt.Sprintf("/repos/%s/actions/jobs/%d/logs", target.ProjectID, j.ID), maxLogBytes)
		if err != nil {
			c.logger.Warn("skipping job log", "target", target.ID, "run", runID, "job", j.Name, "error", err)
			continue
		}
		fmt.Fprintf(&b, "=== job: %s ===\n", j.Name)
		b.Write(body)
		if len(body) > 0 && body[len(body)-1] != '\n' {
			b.WriteByte('\n')
		}
	}

	full := b.String()
	excerpt := classifier.Tail(full, maxBytes)
	return excerpt, excerpt != full, nil
}

// Rerun asks the platform to re-run a run. A run that already succeeded is
// left alone and reported as AttemptSucceeded.
func (c *Client) Rerun(ctx context.Context, target types.Target, runID string) (types.AttemptOutcome, error) {
	var run workflowRun
	if err := c.getJSON(ctx, "get_run", target.AccountID, fmt.Sprintf("/repos/%s/actions/runs/%s", target.ProjectID, url.PathEscape(runID)), &run); err != nil {
		return "", err
	}
	if MapStatus(run.Status, run.Conclusion) == types.RunSuccess {
		c.logger.Info("run already succeeded, skipping re-run", "target", target.ID, "run", runID)
		return types.AttemptSucceeded, nil
	}

	endpoint := "rerun-failed-jobs"
	if c.rerunMode == RerunAll {
		endpoint = "rerun"
	}
	path := fmt.Sprintf("/repos/%s/actions/runs/%s/%s", target.ProjectID, url.PathEscape(runID), endpoint)
	if _, err := c.do(ctx, "rerun", target.AccountID, http.MethodPost, path, 1<<16); err != nil {
		return "", err
	}
	return types.AttemptPending, nil
}

func (c *Client) getJSON(ctx context.Context, op, account, path string, out interface{}) error {
	body, err := c.do(ctx, op, account, http.MethodGet, path, maxLogBytes)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &types.TransportError{Op: "platform." + op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// do performs one rate-limited, breaker-guarded request and returns at most
// limit bytes of the response body. Failures are *types.TransportError
// except a missing token.
func (c *Client) do(ctx context.Context, op, account, method, path string, limit int64) ([]byte, error) {
	token, err := c.tokens.Token(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("resolving token for %s: %w", account, err)
	}
	if token == "" {
		return nil, fmt.Errorf("%w for account %s", ErrMissingToken, account)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Message: apiMessage(body)}
		}
		return body, nil
	})
	if err != nil {
		return nil, &types.TransportError{Op: "platform." + op, Err: err}
	}
	return out.([]byte), nil
}

func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
