package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process. It serves single-node development
// and tests; counts are lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[EntityKey]*Counter
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: map[EntityKey]*Counter{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key EntityKey) (*Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok {
		return nil, ErrEntityNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) IncrementFields(_ context.Context, key EntityKey, deltas Deltas) error {
	if err := deltas.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok {
		return ErrEntityNotFound
	}
	deltas.apply(c)
	c.LastActive = s.now()
	c.Version++
	return nil
}

func (s *MemoryStore) Save(_ context.Context, c *Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.counters[c.Key]
	if !ok {
		return ErrEntityNotFound
	}
	if cur.Version != c.Version {
		return ErrVersionConflict
	}
	cur.CurrentDayMessages = c.CurrentDayMessages
	cur.CurrentMonthMessages = c.CurrentMonthMessages
	cur.CurrentMonthSessions = c.CurrentMonthSessions
	cur.LastDayReset = c.LastDayReset
	cur.LastMonthReset = c.LastMonthReset
	cur.Version++
	c.Version = cur.Version
	return nil
}

func (s *MemoryStore) Create(_ context.Context, c *Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[c.Key]; ok {
		return ErrEntityExists
	}
	cp := *c
	s.counters[c.Key] = &cp
	return nil
}

func (s *MemoryStore) SetPlan(_ context.Context, key EntityKey, plan string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok {
		return ErrEntityNotFound
	}
	*c = ApplyPlanChange(*c, plan)
	c.Version++
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key EntityKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[key]; !ok {
		return ErrEntityNotFound
	}
	delete(s.counters, key)
	return nil
}
