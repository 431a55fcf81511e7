package usage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	inats "github.com/widgetly-platform/widgetly/internal/nats"
)

var (
	botKey    = EntityKey{Kind: KindClient, ID: "bot-1"}
	tenantKey = EntityKey{Kind: KindTenant, ID: "acme"}
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func clock(s string) func() time.Time {
	t := at(s)
	return func() time.Time { return t }
}

// seed stores a counter for key provisioned at since with the given period counts.
func seed(t *testing.T, s Store, key EntityKey, plan string, since time.Time, day, month int64) {
	t.Helper()
	c := NewCounter(key, plan, "UTC", since)
	c.CurrentDayMessages = day
	c.CurrentMonthMessages = month
	c.TotalMessages = month
	require.NoError(t, s.Create(context.Background(), c))
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []inats.UsageEvent
}

func (n *recordingNotifier) PublishUsageEvent(_ context.Context, e inats.UsageEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) ofType(eventType string) []inats.UsageEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []inats.UsageEvent
	for _, e := range n.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// unavailableStore fails every call as an unreachable backend would.
type unavailableStore struct{}

func (unavailableStore) err() error {
	return fmt.Errorf("fetching usage counter: %w: %w", ErrStoreUnavailable, fmt.Errorf("dial tcp: connection refused"))
}

func (s unavailableStore) Get(context.Context, EntityKey) (*Counter, error) { return nil, s.err() }
func (s unavailableStore) IncrementFields(context.Context, EntityKey, Deltas) error {
	return s.err()
}
func (s unavailableStore) Save(context.Context, *Counter) error             { return s.err() }
func (s unavailableStore) Create(context.Context, *Counter) error           { return s.err() }
func (s unavailableStore) SetPlan(context.Context, EntityKey, string) error { return s.err() }
func (s unavailableStore) Delete(context.Context, EntityKey) error          { return s.err() }

// flakyStore wraps a Store, failing the first saveConflicts saves with a
// version conflict and the first incrementFailures increments as unavailable.
type flakyStore struct {
	Store
	mu                sync.Mutex
	saveConflicts     int
	incrementFailures int
	increments        int
}

func (s *flakyStore) Save(ctx context.Context, c *Counter) error {
	s.mu.Lock()
	if s.saveConflicts > 0 {
		s.saveConflicts--
		s.mu.Unlock()
		// Simulate a concurrent writer moving the version on.
		if err := s.Store.IncrementFields(ctx, c.Key, Deltas{FieldTotalSessions: 0}); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	s.mu.Unlock()
	return s.Store.Save(ctx, c)
}

func (s *flakyStore) IncrementFields(ctx context.Context, key EntityKey, d Deltas) error {
	s.mu.Lock()
	s.increments++
	if s.incrementFailures > 0 {
		s.incrementFailures--
		s.mu.Unlock()
		return fmt.Errorf("incrementing usage counter: %w", ErrStoreUnavailable)
	}
	s.mu.Unlock()
	return s.Store.IncrementFields(ctx, key, d)
}
