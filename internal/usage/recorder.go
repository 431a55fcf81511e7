package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/widgetly-platform/widgetly/internal/metrics"
)

// Recorder advances usage counters after billable work has completed.
type Recorder struct {
	store  Store
	policy ResetPolicy
	opts   options
}

// NewRecorder creates a new Recorder.
func NewRecorder(store Store, policy ResetPolicy, opts ...Option) *Recorder {
	return &Recorder{
		store:  store,
		policy: policy,
		opts:   buildOptions(opts),
	}
}

// RecordMessage counts one assistant reply against key.
func (r *Recorder) RecordMessage(ctx context.Context, key EntityKey) error {
	return r.record(ctx, key, "message", messageDeltas)
}

// RecordSession counts one new chat session against key.
func (r *Recorder) RecordSession(ctx context.Context, key EntityKey) error {
	return r.record(ctx, key, "session", sessionDeltas)
}

// record re-applies the reset policy, then increments in place. The whole
// sequence is retried on store failures; a missing entity is final.
func (r *Recorder) record(ctx context.Context, key EntityKey, kind string, deltas Deltas) error {
	now := r.opts.now()
	attempt := 0

	op := func() error {
		attempt++
		if _, _, err := refresh(ctx, r.store, r.policy, key, now, r.opts); err != nil {
			return retryable(err)
		}
		return retryable(r.store.IncrementFields(ctx, key, deltas))
	}

	if err := backoff.Retry(op, r.opts.backOff(ctx)); err != nil {
		metrics.UsageIncrementsTotal.WithLabelValues(string(key.Kind), kind, "failed").Inc()
		slog.Error("usage: recording failed", "entity", key.String(), "kind", kind, "attempts", attempt, "error", err)
		return fmt.Errorf("recording %s for %s: %w", kind, key, err)
	}

	if attempt > 1 {
		slog.Warn("usage: recorded after retry", "entity", key.String(), "kind", kind, "attempts", attempt)
	}
	metrics.UsageIncrementsTotal.WithLabelValues(string(key.Kind), kind, "ok").Inc()
	return nil
}

func retryable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEntityNotFound) {
		return backoff.Permanent(err)
	}
	return err
}
