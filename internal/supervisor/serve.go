package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/dwsmith1983/runwarden/internal/report"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// DefaultInboxInterval is how often Serve polls for operator commands.
const DefaultInboxInterval = 30 * time.Second

// Start begins the cycle loop and, when an inbox is configured, the command
// poller. The first cycle runs immediately.
func (s *Supervisor) Start(ctx context.Context, interval, inboxInterval time.Duration) {
	ctx, s.cancel = context.WithCancel(ctx)
	if interval <= 0 {
		interval = s.settings.Interval
	}
	if inboxInterval <= 0 {
		inboxInterval = DefaultInboxInterval
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("supervisor started", "interval", interval)
		s.loop(ctx, interval, s.tick)
		s.logger.Info("supervisor stopping")
	}()

	if s.deps.Inbox == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, inboxInterval, s.pollInbox)
	}()
}

// Stop cancels the loops and waits for the running cycle to finish, or
// for ctx to expire.
func (s *Supervisor) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("supervisor stopped")
	case <-ctx.Done():
		s.logger.Warn("supervisor stop timed out")
	}
}

// Serve runs the loops until ctx is cancelled, then stops them.
func (s *Supervisor) Serve(ctx context.Context, interval time.Duration) error {
	s.Start(ctx, interval, 0)
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.Deadline)
	defer cancel()
	s.Stop(stopCtx)
	return nil
}

func (s *Supervisor) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	rep, err := s.RunCycle(ctx)
	switch {
	case errors.Is(err, types.ErrCycleInProgress):
		s.logger.Info("cycle skipped, another cycle is running")
	case err != nil:
		s.logger.Error("cycle failed", "error", err)
	default:
		s.logger.Debug("cycle digest", "digest", report.Render(*rep))
	}
}

func (s *Supervisor) pollInbox(ctx context.Context) {
	n, err := s.deps.Inbox.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("inbox poll failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("operator commands processed", "count", n)
	}
}
