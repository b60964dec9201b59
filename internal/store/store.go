// Package store persists the pool engine's committed state. Every engine
// call that commits produces one model.ChangeSet; stores apply it atomically
// and can hand the accumulated state back as a snapshot on restart.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache) and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/liquidity-pool/internal/model"
)

// ErrLeaseHeld is returned when another process holds the writer lease.
var ErrLeaseHeld = errors.New("store: writer lease held by another process")

// Store is the persistence interface. It satisfies orderbook.Persister.
type Store interface {
	// Apply records one committed change set atomically.
	Apply(ctx context.Context, cs model.ChangeSet) error

	// Load returns the persisted state. ok is false when nothing has ever
	// been applied.
	Load(ctx context.Context) (snap model.Snapshot, ok bool, err error)

	// ListEvents returns persisted events matching f in sequence order.
	ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error)
}
