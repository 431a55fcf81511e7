package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	inats "github.com/widgetly-platform/widgetly/internal/nats"
)

const defaultRetries = 3

// Notifier receives usage events (limit hits, period resets). Delivery is
// best effort; a failing notifier never affects admission.
type Notifier interface {
	PublishUsageEvent(ctx context.Context, event inats.UsageEvent) error
}

type options struct {
	now      func() time.Time
	notifier Notifier
	retries  uint64
	interval time.Duration
	timezone string
}

// Option configures a Gate, Recorder, or Service.
type Option func(*options)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithNotifier publishes usage events to n.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithRetries sets how many times a conflicting or failed write is retried.
// Values below 1 are raised to 1.
func WithRetries(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.retries = uint64(n)
	}
}

// WithDefaultTimezone sets the timezone given to counters provisioned without one.
func WithDefaultTimezone(name string) Option {
	return func(o *options) { o.timezone = name }
}

// WithRetryInterval sets the initial backoff between write retries.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

func buildOptions(opts []Option) options {
	o := options{
		now:      time.Now,
		retries:  defaultRetries,
		interval: 10 * time.Millisecond,
		timezone: "UTC",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) backOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.interval
	eb.MaxInterval = 20 * o.interval
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, o.retries), ctx)
}

func (o options) notify(ctx context.Context, event inats.UsageEvent) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.PublishUsageEvent(ctx, event); err != nil {
		slog.Warn("usage: publishing event failed", "error", err, "event_type", event.EventType)
	}
}

// refresh loads key and persists any elapsed-period reset. A save that loses
// a race to a concurrent writer is retried against a fresh read; when the
// retries run out the error wraps both ErrStoreUnavailable and ErrVersionConflict.
func refresh(ctx context.Context, store Store, policy ResetPolicy, key EntityKey, now time.Time, o options) (*Counter, ResetResult, error) {
	var res ResetResult
	op := func() (*Counter, error) {
		c, err := store.Get(ctx, key)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		next, r := policy.Apply(*c, now, c.Location())
		if !r.Changed() {
			res = ResetResult{}
			return c, nil
		}
		if err := store.Save(ctx, &next); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		res = r
		return &next, nil
	}

	c, err := backoff.RetryWithData(op, o.backOff(ctx))
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// Contention that outlasts the retries is reported like any
			// other store that cannot take the write right now.
			return nil, ResetResult{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return nil, ResetResult{}, err
	}
	if res.Changed() {
		onReset(ctx, c, res, o)
	}
	return c, res, nil
}
