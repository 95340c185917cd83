// Package safeio provides the best-effort write helpers named in
// spec.md §5/§9: safe_publish and safe_log. Both wrap a call with a
// bounded timeout and a shared token-bucket limiter, translating
// timeouts and rejections into a counter bump and a logged warning
// rather than a propagated error. Never use these for security-critical
// writes (governance decisions, execution, voting) — those must
// propagate failures per spec.md §7.
package safeio

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Helper wraps best-effort operations with a timeout and a rate limiter.
type Helper struct {
	timeout  time.Duration
	limiter  *rate.Limiter
	dropped  atomic.Int64
	timedOut atomic.Int64
}

// New creates a Helper. ratePerSec/burst bound how often best-effort
// writes may be attempted; timeout bounds how long a single attempt may
// block before it is abandoned.
func New(timeout time.Duration, ratePerSec float64, burst int) *Helper {
	return &Helper{
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

// Do runs fn with the configured timeout. If the limiter has no tokens
// available, fn is skipped entirely (dropped) rather than queued.
func (h *Helper) Do(ctx context.Context, op string, fn func(ctx context.Context) error) {
	if !h.limiter.Allow() {
		h.dropped.Add(1)
		slog.Warn("safeio: dropped best-effort write", "op", op, "reason", "rate_limited")
		return
	}

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	select {
	case err := <-done:
		if err != nil {
			slog.Warn("safeio: best-effort write failed", "op", op, "error", err)
		}
	case <-cctx.Done():
		h.timedOut.Add(1)
		slog.Warn("safeio: best-effort write timed out", "op", op, "timeout", h.timeout)
	}
}

// Dropped returns the count of writes skipped due to rate limiting.
func (h *Helper) Dropped() int64 { return h.dropped.Load() }

// TimedOut returns the count of writes abandoned after timeout.
func (h *Helper) TimedOut() int64 { return h.timedOut.Load() }
