// Package store defines the node store contract the engine reads the
// referral forest through. Implementations include PostgreSQL (source of
// truth), Redis (read-through cache), and in-memory (for testing and
// development). The engine never writes through this interface.
package store

import (
	"context"
	"errors"

	"github.com/nupips/team-engine/internal/model"
)

var (
	// ErrNotFound is returned when a node ID is unknown to the store.
	// Surfaced to the caller; never retried.
	ErrNotFound = errors.New("store: node not found")

	// ErrUnavailable is returned when the backing store cannot be reached
	// after bounded retries. Safe to retry at the request level.
	ErrUnavailable = errors.New("store: unavailable")
)

// NodeStore is the read-only contract over the referral forest. A given
// implementation must return a consistent snapshot for the duration of one
// traversal; the engine tolerates staleness across traversals.
type NodeStore interface {
	// GetNode retrieves one node by ID, or ErrNotFound.
	GetNode(ctx context.Context, id string) (*model.UserNode, error)

	// GetChildren returns all nodes whose parent ID is in parentIDs,
	// sorted by node ID ascending. Missing parents contribute no rows;
	// they are not an error.
	GetChildren(ctx context.Context, parentIDs []string) ([]model.UserNode, error)
}
