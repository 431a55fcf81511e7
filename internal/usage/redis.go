package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const counterKeyPrefix = "usage:counter:"

var (
	// KEYS[1] counter hash; ARGV field/delta pairs followed by last_active.
	incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
for i = 1, #ARGV - 1, 2 do
  redis.call('HINCRBY', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('HSET', KEYS[1], 'last_active', ARGV[#ARGV])
return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

	// KEYS[1] counter hash; ARGV expected version then reset state.
	saveScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
  return -1
end
if v ~= ARGV[1] then
  return -2
end
redis.call('HSET', KEYS[1],
  'current_day_messages', ARGV[2],
  'current_month_messages', ARGV[3],
  'current_month_sessions', ARGV[4],
  'last_day_reset', ARGV[5],
  'last_month_reset', ARGV[6])
return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

	setPlanScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('HSET', KEYS[1], 'plan', ARGV[1])
return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)
)

// RedisStore keeps each counter in a Redis hash. All writes run as Lua scripts
// so they are atomic on the server.
type RedisStore struct {
	rdb redis.Cmdable
	now func() time.Time
}

// NewRedisStore creates a new Redis-backed counter store.
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func counterKey(key EntityKey) string {
	return counterKeyPrefix + string(key.Kind) + ":" + key.ID
}

func (s *RedisStore) Get(ctx context.Context, key EntityKey) (*Counter, error) {
	vals, err := s.rdb.HGetAll(ctx, counterKey(key)).Result()
	if err != nil {
		return nil, redisError("fetching usage counter", err)
	}
	if len(vals) == 0 {
		return nil, ErrEntityNotFound
	}

	c := &Counter{
		Key:      key,
		TenantID: vals["tenant_id"],
		Plan:     vals["plan"],
		Timezone: vals["timezone"],
	}
	ints := []struct {
		field string
		dst   *int64
	}{
		{FieldTotalMessages, &c.TotalMessages},
		{FieldTotalSessions, &c.TotalSessions},
		{FieldCurrentDayMessages, &c.CurrentDayMessages},
		{FieldCurrentMonthMessages, &c.CurrentMonthMessages},
		{FieldCurrentMonthSessions, &c.CurrentMonthSessions},
		{"version", &c.Version},
	}
	for _, f := range ints {
		if err := parseInt(vals, f.field, f.dst); err != nil {
			return nil, err
		}
	}
	times := []struct {
		field string
		dst   *time.Time
	}{
		{"last_day_reset", &c.LastDayReset},
		{"last_month_reset", &c.LastMonthReset},
		{"last_active", &c.LastActive},
	}
	for _, f := range times {
		if err := parseTime(vals, f.field, f.dst); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *RedisStore) IncrementFields(ctx context.Context, key EntityKey, deltas Deltas) error {
	if err := deltas.validate(); err != nil {
		return err
	}

	fields := make([]string, 0, len(deltas))
	for f := range deltas {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	args := make([]any, 0, 2*len(fields)+1)
	for _, f := range fields {
		args = append(args, f, deltas[f])
	}
	args = append(args, formatTime(s.now()))

	res, err := incrementScript.Run(ctx, s.rdb, []string{counterKey(key)}, args...).Int64()
	if err != nil {
		return redisError("incrementing usage counter", err)
	}
	if res == -1 {
		return ErrEntityNotFound
	}
	return nil
}

func (s *RedisStore) Save(ctx context.Context, c *Counter) error {
	res, err := saveScript.Run(ctx, s.rdb, []string{counterKey(c.Key)},
		c.Version,
		c.CurrentDayMessages,
		c.CurrentMonthMessages,
		c.CurrentMonthSessions,
		formatTime(c.LastDayReset),
		formatTime(c.LastMonthReset),
	).Int64()
	if err != nil {
		return redisError("saving usage counter", err)
	}
	switch res {
	case -1:
		return ErrEntityNotFound
	case -2:
		return ErrVersionConflict
	}
	c.Version = res
	return nil
}

func (s *RedisStore) Create(ctx context.Context, c *Counter) error {
	res, err := createScript.Run(ctx, s.rdb, []string{counterKey(c.Key)},
		"tenant_id", c.TenantID,
		"plan", c.Plan,
		"timezone", c.Timezone,
		FieldTotalMessages, c.TotalMessages,
		FieldTotalSessions, c.TotalSessions,
		FieldCurrentDayMessages, c.CurrentDayMessages,
		FieldCurrentMonthMessages, c.CurrentMonthMessages,
		FieldCurrentMonthSessions, c.CurrentMonthSessions,
		"last_day_reset", formatTime(c.LastDayReset),
		"last_month_reset", formatTime(c.LastMonthReset),
		"version", c.Version,
	).Int64()
	if err != nil {
		return redisError("creating usage counter", err)
	}
	if res == 0 {
		return ErrEntityExists
	}
	return nil
}

func (s *RedisStore) SetPlan(ctx context.Context, key EntityKey, plan string) error {
	res, err := setPlanScript.Run(ctx, s.rdb, []string{counterKey(key)}, plan).Int64()
	if err != nil {
		return redisError("updating plan", err)
	}
	if res == -1 {
		return ErrEntityNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key EntityKey) error {
	n, err := s.rdb.Del(ctx, counterKey(key)).Result()
	if err != nil {
		return redisError("deleting usage counter", err)
	}
	if n == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseTime(vals map[string]string, field string, dst *time.Time) error {
	raw := vals[field]
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", field, err)
	}
	*dst = time.Unix(0, n).UTC()
	return nil
}

func parseInt(vals map[string]string, field string, dst *int64) error {
	raw := vals[field]
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", field, err)
	}
	*dst = n
	return nil
}

func redisError(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrEntityNotFound
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
