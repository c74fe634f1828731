// Package classifier turns a failed run into a Verdict. The reasoning is
// delegated to an inference endpoint; this package owns the prompt, the
// strict response parser and the per-run verdict cache.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// DefaultTimeout bounds one inference call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Inferer sends a prompt to a language model and returns its raw reply.
type Inferer interface {
	Infer(ctx context.Context, prompt string) (string, error)
}

// VerdictStore persists verdicts across processes.
type VerdictStore interface {
	GetVerdict(ctx context.Context, runID string) (*types.Verdict, error)
	PutVerdict(ctx context.Context, verdict types.Verdict) error
	DeleteVerdict(ctx context.Context, runID string) error
}

// Observer is notified of every classification outcome.
type Observer interface {
	VerdictIssued(ctx context.Context, v types.Verdict, cached bool)
	InferenceFailed(ctx context.Context, err error)
}

// Classifier classifies failed runs at most once per run id.
type Classifier struct {
	inferer        Inferer
	store          VerdictStore
	observer       Observer
	timeout        time.Duration
	maxPromptBytes int
	logger         *slog.Logger
	now            func() time.Time

	mu    sync.RWMutex
	cache map[string]types.Verdict
	group singleflight.Group
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTimeout bounds each inference call.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxPromptBytes bounds the log excerpt embedded in the prompt.
func WithMaxPromptBytes(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxPromptBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// WithObserver registers a classification observer.
func WithObserver(o Observer) Option {
	return func(c *Classifier) { c.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// New creates a Classifier. store may be nil for a memory-only cache.
func New(inferer Inferer, store VerdictStore, opts ...Option) *Classifier {
	c := &Classifier{
		inferer:        inferer,
		store:          store,
		timeout:        DefaultTimeout,
		maxPromptBytes: DefaultMaxPromptBytes,
		logger:         slog.Default(),
		now:            time.Now,
		cache:          make(map[string]types.Verdict),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the verdict for a failed run. A run id is sent to the
// inference endpoint at most once; later calls are served from the cache.
//
// When the inference call fails or times out, Classify returns the fallback
// verdict (unknown, confidence 0) together with an error wrapping
// ErrClassificationUnavailable. Fallback verdicts are not cached, so the next
// cycle asks again. An unparseable reply yields a cached unknown verdict and
// no error.
func (c *Classifier) Classify(ctx context.Context, target types.Target, obs types.RunObservation) (types.Verdict, error) {
	if v, ok := c.cached(obs.RunID); ok {
		c.notify(ctx, v, true)
		return v, nil
	}

	type result struct {
		verdict types.Verdict
		cached  bool
	}
	// The shared call outlives any one waiter; a cancelled caller must not
	// fail the others.
	ch := c.group.DoChan(obs.RunID, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		if v, ok := c.cached(obs.RunID); ok {
			return result{v, true}, nil
		}
		if v := c.load(callCtx, obs.RunID); v != nil {
			c.remember(*v)
			return result{*v, true}, nil
		}
		v, err := c.infer(callCtx, target, obs)
		if err != nil {
			return result{verdict: v}, err
		}
		c.remember(v)
		if c.store != nil {
			if perr := c.store.PutVerdict(callCtx, v); perr != nil {
				c.logger.Warn("persisting verdict failed", "run", obs.RunID, "error", perr)
			}
		}
		return result{verdict: v}, nil
	})

	select {
	case res := <-ch:
		r := res.Val.(result)
		if res.Err != nil {
			return r.verdict, res.Err
		}
		c.notify(ctx, r.verdict, r.cached)
		return r.verdict, nil
	case <-ctx.Done():
		return types.FallbackVerdict(obs.RunID, c.now()), fmt.Errorf("%w: %w", types.ErrClassificationUnavailable, ctx.Err())
	}
}

func (c *Classifier) infer(ctx context.Context, target types.Target, obs types.RunObservation) (types.Verdict, error) {
	prompt := BuildPrompt(target, obs, c.maxPromptBytes)
	reply, err := c.inferer.Infer(ctx, prompt)
	if err != nil {
		if c.observer != nil {
			c.observer.InferenceFailed(ctx, err)
		}
		c.logger.Warn("inference unavailable, using fallback verdict", "run", obs.RunID, "error", err)
		return types.FallbackVerdict(obs.RunID, c.now()), fmt.Errorf("%w: %w", types.ErrClassificationUnavailable, err)
	}

	verdict, err := ParseVerdict(reply)
	if err != nil {
		var pe *types.ParseError
		if errors.As(err, &pe) {
			c.logger.Warn("unparseable inference reply", "run", obs.RunID, "reason", pe.Reason)
		}
		verdict = types.Verdict{Category: types.CategoryUnknown}
	}
	verdict.RunID = obs.RunID
	verdict.Source = types.VerdictFromInference
	verdict.RetryCandidate = verdict.Category.Retryable()
	verdict.ClassifiedAt = c.now()
	return verdict, nil
}

func (c *Classifier) load(ctx context.Context, runID string) *types.Verdict {
	if c.store == nil {
		return nil
	}
	v, err := c.store.GetVerdict(ctx, runID)
	if err != nil {
		c.logger.Warn("loading cached verdict failed", "run", runID, "error", err)
		return nil
	}
	return v
}

func (c *Classifier) cached(runID string) (types.Verdict, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cache[runID]
	return v, ok
}

func (c *Classifier) remember(v types.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[v.RunID] = v
}

func (c *Classifier) notify(ctx context.Context, v types.Verdict, cached bool) {
	if c.observer != nil {
		c.observer.VerdictIssued(ctx, v, cached)
	}
}

// Evict drops cached verdicts for runs whose observations aged out.
func (c *Classifier) Evict(ctx context.Context, runIDs ...string) {
	c.mu.Lock()
	for _, id := range runIDs {
		delete(c.cache, id)
	}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	for _, id := range runIDs {
		if err := c.store.DeleteVerdict(ctx, id); err != nil {
			c.logger.Warn("evicting verdict failed", "run", id, "error", err)
		}
	}
}
