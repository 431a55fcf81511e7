package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// runStoreContract checks the behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	since := at("2024-03-10T08:00:00Z")

	t.Run("get missing", func(t *testing.T) {
		_, err := newStore(t).Get(ctx, botKey)
		assert.ErrorIs(t, err, ErrEntityNotFound)
	})

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		created := NewCounter(botKey, "", "America/Mexico_City", since)
		created.TenantID = "acme"
		require.NoError(t, s.Create(ctx, created))

		c, err := s.Get(ctx, botKey)
		require.NoError(t, err)
		assert.Equal(t, botKey, c.Key)
		assert.Equal(t, "acme", c.TenantID)
		assert.Equal(t, PlanFree, c.Plan)
		assert.Equal(t, "America/Mexico_City", c.Timezone)
		assert.Zero(t, c.TotalMessages)
		assert.Zero(t, c.CurrentDayMessages)
		assert.True(t, c.LastDayReset.Equal(since))
		assert.True(t, c.LastMonthReset.Equal(since))

		assert.ErrorIs(t, s.Create(ctx, NewCounter(botKey, "", "", since)), ErrEntityExists)
	})

	t.Run("increment fields", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewCounter(botKey, "", "", since)))
		before, err := s.Get(ctx, botKey)
		require.NoError(t, err)

		require.NoError(t, s.IncrementFields(ctx, botKey, messageDeltas))
		require.NoError(t, s.IncrementFields(ctx, botKey, sessionDeltas))

		c, err := s.Get(ctx, botKey)
		require.NoError(t, err)
		assert.EqualValues(t, 1, c.TotalMessages)
		assert.EqualValues(t, 1, c.CurrentDayMessages)
		assert.EqualValues(t, 1, c.CurrentMonthMessages)
		assert.EqualValues(t, 1, c.TotalSessions)
		assert.EqualValues(t, 1, c.CurrentMonthSessions)
		assert.Greater(t, c.Version, before.Version)
		assert.False(t, c.LastActive.IsZero())

		assert.ErrorIs(t, s.IncrementFields(ctx, tenantKey, messageDeltas), ErrEntityNotFound)
		assert.Error(t, s.IncrementFields(ctx, botKey, Deltas{"plan": 1}))
		assert.Error(t, s.IncrementFields(ctx, botKey, Deltas{FieldTotalMessages: -1}))
	})

	t.Run("save is version guarded", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewCounter(botKey, "", "", since)))
		require.NoError(t, s.IncrementFields(ctx, botKey, messageDeltas))

		stale, err := s.Get(ctx, botKey)
		require.NoError(t, err)

		require.NoError(t, s.IncrementFields(ctx, botKey, messageDeltas))

		now := since.Add(24 * time.Hour)
		stale.CurrentDayMessages = 0
		stale.LastDayReset = now
		assert.ErrorIs(t, s.Save(ctx, stale), ErrVersionConflict)

		current, err := s.Get(ctx, botKey)
		require.NoError(t, err)
		assert.EqualValues(t, 2, current.CurrentDayMessages, "lost save must not clobber increments")

		fresh := *current
		fresh.CurrentDayMessages = 0
		fresh.LastDayReset = now
		require.NoError(t, s.Save(ctx, &fresh))
		assert.Greater(t, fresh.Version, current.Version)

		saved, err := s.Get(ctx, botKey)
		require.NoError(t, err)
		assert.Zero(t, saved.CurrentDayMessages)
		assert.EqualValues(t, 2, saved.TotalMessages, "totals are not part of the reset state")
		assert.True(t, saved.LastDayReset.Equal(now))
		assert.Equal(t, fresh.Version, saved.Version)

		missing := NewCounter(tenantKey, "", "", since)
		assert.ErrorIs(t, s.Save(ctx, missing), ErrEntityNotFound)
	})

	t.Run("set plan keeps counts", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewCounter(botKey, "", "", since)))
		require.NoError(t, s.IncrementFields(ctx, botKey, messageDeltas))

		require.NoError(t, s.SetPlan(ctx, botKey, PlanPaid))
		c, err := s.Get(ctx, botKey)
		require.NoError(t, err)
		assert.Equal(t, PlanPaid, c.Plan)
		assert.EqualValues(t, 1, c.CurrentDayMessages)

		assert.ErrorIs(t, s.SetPlan(ctx, tenantKey, PlanPro), ErrEntityNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewCounter(botKey, "", "", since)))
		require.NoError(t, s.Delete(ctx, botKey))

		_, err := s.Get(ctx, botKey)
		assert.ErrorIs(t, err, ErrEntityNotFound)
		assert.ErrorIs(t, s.Delete(ctx, botKey), ErrEntityNotFound)
	})

	t.Run("kinds are separate namespaces", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewCounter(EntityKey{Kind: KindClient, ID: "x"}, "", "", since)))
		require.NoError(t, s.Create(ctx, NewCounter(EntityKey{Kind: KindTenant, ID: "x"}, "", "", since)))
		require.NoError(t, s.IncrementFields(ctx, EntityKey{Kind: KindClient, ID: "x"}, messageDeltas))

		c, err := s.Get(ctx, EntityKey{Kind: KindTenant, ID: "x"})
		require.NoError(t, err)
		assert.Zero(t, c.TotalMessages)
		assert.Equal(t, PlanTrial, c.Plan)
	})

	t.Run("concurrent increments", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewCounter(botKey, "", "", since)))

		const n = 50
		var g errgroup.Group
		for i := 0; i < n; i++ {
			g.Go(func() error { return s.IncrementFields(ctx, botKey, messageDeltas) })
		}
		require.NoError(t, g.Wait())

		c, err := s.Get(ctx, botKey)
		require.NoError(t, err)
		assert.EqualValues(t, n, c.TotalMessages)
		assert.EqualValues(t, n, c.CurrentDayMessages)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, NewCounter(botKey, "", "", time.Now())))

	c, err := s.Get(ctx, botKey)
	require.NoError(t, err)
	c.CurrentDayMessages = 99

	again, err := s.Get(ctx, botKey)
	require.NoError(t, err)
	assert.Zero(t, again.CurrentDayMessages)
}
