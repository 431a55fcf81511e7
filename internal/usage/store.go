package usage

import (
	"context"
	"errors"
)

var (
	// ErrEntityNotFound means no counter exists for the requested entity.
	ErrEntityNotFound = errors.New("usage entity not found")
	// ErrStoreUnavailable wraps any failure to reach the backing store.
	ErrStoreUnavailable = errors.New("usage store unavailable")
	// ErrVersionConflict is returned by Save when the stored version moved on.
	ErrVersionConflict = errors.New("usage counter version conflict")
	// ErrEntityExists is returned by Create for an already provisioned entity.
	ErrEntityExists = errors.New("usage entity already exists")
)

// Store persists usage counters keyed by entity.
//
// IncrementFields must advance the named fields atomically in the store itself;
// callers never read-modify-write counts. Every successful IncrementFields or Save
// bumps the counter's Version. Save only writes the reset state (day/month counts
// and reset timestamps) and fails with ErrVersionConflict when c.Version no longer
// matches the stored version.
type Store interface {
	Get(ctx context.Context, key EntityKey) (*Counter, error)
	IncrementFields(ctx context.Context, key EntityKey, deltas Deltas) error
	Save(ctx context.Context, c *Counter) error
	Create(ctx context.Context, c *Counter) error
	SetPlan(ctx context.Context, key EntityKey, plan string) error
	Delete(ctx context.Context, key EntityKey) error
}
