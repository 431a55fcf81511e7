package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const counterColumns = `entity_kind, entity_id, tenant_id, plan, timezone,
	total_messages, total_sessions, current_day_messages, current_month_messages, current_month_sessions,
	last_day_reset, last_month_reset, last_active, version`

// PostgresStore handles usage_counters PostgreSQL operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, key EntityKey) (*Counter, error) {
	var c Counter
	var kind string
	var lastActive *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT `+counterColumns+` FROM usage_counters WHERE entity_kind = $1 AND entity_id = $2`,
		string(key.Kind), key.ID,
	).Scan(&kind, &c.Key.ID, &c.TenantID, &c.Plan, &c.Timezone,
		&c.TotalMessages, &c.TotalSessions, &c.CurrentDayMessages, &c.CurrentMonthMessages, &c.CurrentMonthSessions,
		&c.LastDayReset, &c.LastMonthReset, &lastActive, &c.Version)
	if err != nil {
		return nil, pgError("fetching usage counter", err)
	}
	c.Key.Kind = EntityKind(kind)
	if lastActive != nil {
		c.LastActive = *lastActive
	}
	return &c, nil
}

// IncrementFields advances the given columns in a single UPDATE so concurrent
// writers never lose each other's increments.
func (s *PostgresStore) IncrementFields(ctx context.Context, key EntityKey, deltas Deltas) error {
	if err := deltas.validate(); err != nil {
		return err
	}

	fields := make([]string, 0, len(deltas))
	for f := range deltas {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	sets := make([]string, 0, len(fields)+3)
	args := []any{string(key.Kind), key.ID}
	for i, f := range fields {
		sets = append(sets, fmt.Sprintf("%s = %s + $%d", f, f, i+3))
		args = append(args, deltas[f])
	}
	sets = append(sets, "version = version + 1", "last_active = NOW()", "updated_at = NOW()")

	query := fmt.Sprintf(`UPDATE usage_counters SET %s WHERE entity_kind = $1 AND entity_id = $2`,
		strings.Join(sets, ", "))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return pgError("incrementing usage counter", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// Save writes the reset state of c if nobody else wrote since c was read.
func (s *PostgresStore) Save(ctx context.Context, c *Counter) error {
	var version int64
	err := s.pool.QueryRow(ctx,
		`UPDATE usage_counters
		 SET current_day_messages = $3,
		     current_month_messages = $4,
		     current_month_sessions = $5,
		     last_day_reset = $6,
		     last_month_reset = $7,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE entity_kind = $1 AND entity_id = $2 AND version = $8
		 RETURNING version`,
		string(c.Key.Kind), c.Key.ID,
		c.CurrentDayMessages, c.CurrentMonthMessages, c.CurrentMonthSessions,
		c.LastDayReset, c.LastMonthReset, c.Version,
	).Scan(&version)
	if err == nil {
		c.Version = version
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return pgError("saving usage counter", err)
	}

	// Either the row is gone or the version moved on.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM usage_counters WHERE entity_kind = $1 AND entity_id = $2)`,
		string(c.Key.Kind), c.Key.ID,
	).Scan(&exists); err != nil {
		return pgError("checking usage counter", err)
	}
	if !exists {
		return ErrEntityNotFound
	}
	return ErrVersionConflict
}

func (s *PostgresStore) Create(ctx context.Context, c *Counter) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_counters (entity_kind, entity_id, tenant_id, plan, timezone,
		     total_messages, total_sessions, current_day_messages, current_month_messages, current_month_sessions,
		     last_day_reset, last_month_reset, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		string(c.Key.Kind), c.Key.ID, c.TenantID, c.Plan, c.Timezone,
		c.TotalMessages, c.TotalSessions, c.CurrentDayMessages, c.CurrentMonthMessages, c.CurrentMonthSessions,
		c.LastDayReset, c.LastMonthReset, c.Version)
	if err != nil {
		return pgError("inserting usage counter", err)
	}
	return nil
}

func (s *PostgresStore) SetPlan(ctx context.Context, key EntityKey, plan string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE usage_counters SET plan = $3, version = version + 1, updated_at = NOW()
		 WHERE entity_kind = $1 AND entity_id = $2`, string(key.Kind), key.ID, plan)
	if err != nil {
		return pgError("updating plan", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key EntityKey) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM usage_counters WHERE entity_kind = $1 AND entity_id = $2`, string(key.Kind), key.ID)
	if err != nil {
		return pgError("deleting usage counter", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// pgError maps driver errors onto the store's sentinel errors. Anything that is
// not a server-side SQL error is treated as the database being unreachable.
func pgError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrEntityNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return ErrEntityExists
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
