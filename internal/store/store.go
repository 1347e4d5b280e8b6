// Package store provides the chunk storage interface and its file and SQLite
// implementations.
package store

import (
	"context"

	"github.com/stixyie/protogen-memory/internal/model"
)

// SearchParams holds parameters for searching chunk content.
type SearchParams struct {
	EntityID string // empty means all entities
	Category string // empty means all categories
	Query    string
	Limit    int
}

// Store defines the chunk storage interface. Implementations persist one
// record per chunk and must make Put atomic: after a successful Put the full
// chunk is durably readable, after a failed Put the store is unchanged.
type Store interface {
	// Put persists a chunk. The chunk's SizeBytes is normalized to the byte
	// length of its content.
	Put(ctx context.Context, c *model.Chunk) error

	// Get retrieves a chunk by entity and id.
	Get(ctx context.Context, entityID, chunkID string) (*model.Chunk, error)

	// Delete removes a chunk. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, entityID, chunkID string) error

	// ListEntity returns metadata for all of an entity's chunks ordered by
	// creation time. Content is loaded lazily via Get. Corrupt records are
	// skipped and logged, never returned.
	ListEntity(ctx context.Context, entityID string) ([]model.Info, error)

	// Entities returns all entity ids present in the store.
	Entities(ctx context.Context) ([]string, error)

	// Walk streams every readable chunk to fn. Corrupt records are skipped
	// and logged. A non-nil error from fn aborts the walk.
	Walk(ctx context.Context, fn func(*model.Chunk) error) error

	// MarkAnalyzed sets the analyzed flag on a chunk by rewriting its
	// record through the atomic write path.
	MarkAnalyzed(ctx context.Context, entityID, chunkID string) error

	// Search finds chunks whose content contains the query substring,
	// case-insensitively.
	Search(ctx context.Context, p SearchParams) ([]model.Chunk, error)

	// Close releases store resources.
	Close() error
}

const defaultSearchLimit = 20
