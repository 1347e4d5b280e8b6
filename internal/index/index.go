// Package index maintains the in-memory (entity, category) -> chunk mapping.
//
// The index is rebuilt from the chunk store at startup; the rebuild is the
// source of truth that reconciles any divergence between memory and disk.
// Mutations are serialized per entity, so concurrent writes for different
// entities never contend.
package index

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stixyie/protogen-memory/internal/model"
)

// Entry is one indexed chunk reference.
type Entry struct {
	ChunkID   string
	Category  string
	CreatedAt time.Time
	Sequence  int
	SizeBytes int64
}

// entityIndex holds one entity's category lists. Guarded by its own mutex.
type entityIndex struct {
	mu         sync.Mutex
	categories map[string][]Entry // each slice ordered by CreatedAt ascending
	lastCat    string             // most recently written category
	lastWrite  time.Time
}

// CategoryIndex maps (entity, category) to ordered chunk references.
type CategoryIndex struct {
	mu       sync.RWMutex // guards the entities map only
	entities map[string]*entityIndex
}

// New returns an empty index.
func New() *CategoryIndex {
	return &CategoryIndex{entities: make(map[string]*entityIndex)}
}

// Walker is the subset of the store the index needs for rebuilding.
type Walker interface {
	Walk(ctx context.Context, fn func(*model.Chunk) error) error
}

// Rebuild replaces the index contents by enumerating the store once.
// Records the store cannot read are skipped by the store's walk, so the
// rebuilt index holds no dangling references.
func (ix *CategoryIndex) Rebuild(ctx context.Context, w Walker) error {
	fresh := make(map[string]*entityIndex)
	err := w.Walk(ctx, func(c *model.Chunk) error {
		ei := fresh[c.EntityID]
		if ei == nil {
			ei = &entityIndex{categories: make(map[string][]Entry)}
			fresh[c.EntityID] = ei
		}
		ei.insert(Entry{
			ChunkID:   c.ID,
			Category:  c.Category,
			CreatedAt: c.CreatedAt,
			Sequence:  c.Sequence,
			SizeBytes: c.SizeBytes,
		})
		return nil
	})
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.entities = fresh
	ix.mu.Unlock()
	return nil
}

// entity returns the per-entity index, creating it when create is set.
func (ix *CategoryIndex) entity(entityID string, create bool) *entityIndex {
	ix.mu.RLock()
	ei := ix.entities[entityID]
	ix.mu.RUnlock()
	if ei != nil || !create {
		return ei
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ei = ix.entities[entityID]; ei == nil {
		ei = &entityIndex{categories: make(map[string][]Entry)}
		ix.entities[entityID] = ei
	}
	return ei
}

// insert adds e keeping the category slice ordered. Caller holds ei.mu (or
// has exclusive access during rebuild).
func (ei *entityIndex) insert(e Entry) {
	list := ei.categories[e.Category]
	i := sort.Search(len(list), func(i int) bool {
		if !list[i].CreatedAt.Equal(e.CreatedAt) {
			return list[i].CreatedAt.After(e.CreatedAt)
		}
		return list[i].Sequence > e.Sequence
	})
	list = append(list, Entry{})
	copy(list[i+1:], list[i:])
	list[i] = e
	ei.categories[e.Category] = list

	if e.CreatedAt.After(ei.lastWrite) || ei.lastWrite.IsZero() {
		ei.lastWrite = e.CreatedAt
		ei.lastCat = e.Category
	}
}

// Add records a chunk reference.
func (ix *CategoryIndex) Add(entityID, category, chunkID string, createdAt time.Time, sequence int, sizeBytes int64) {
	ei := ix.entity(entityID, true)
	ei.mu.Lock()
	defer ei.mu.Unlock()
	ei.insert(Entry{
		ChunkID:   chunkID,
		Category:  category,
		CreatedAt: createdAt,
		Sequence:  sequence,
		SizeBytes: sizeBytes,
	})
}

// Remove drops a chunk reference. Unknown ids are a no-op.
func (ix *CategoryIndex) Remove(entityID, category, chunkID string) {
	ei := ix.entity(entityID, false)
	if ei == nil {
		return
	}
	ei.mu.Lock()
	defer ei.mu.Unlock()
	list := ei.categories[category]
	for i, e := range list {
		if e.ChunkID == chunkID {
			ei.categories[category] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(ei.categories[category]) == 0 {
		delete(ei.categories, category)
	}
}

// List returns the entity's chunk references for a category, ordered by
// creation time ascending.
func (ix *CategoryIndex) List(entityID, category string) []Entry {
	ei := ix.entity(entityID, false)
	if ei == nil {
		return nil
	}
	ei.mu.Lock()
	defer ei.mu.Unlock()
	out := make([]Entry, len(ei.categories[category]))
	copy(out, ei.categories[category])
	return out
}

// ListAll returns all of the entity's chunk references across categories,
// ordered by creation time ascending.
func (ix *CategoryIndex) ListAll(entityID string) []Entry {
	ei := ix.entity(entityID, false)
	if ei == nil {
		return nil
	}
	ei.mu.Lock()
	defer ei.mu.Unlock()
	return ei.mergedLocked("")
}

// EvictionCandidates returns the entity's chunk references oldest first,
// excluding its most-recently-written category. The snapshot is taken under
// the entity lock, so chunks written after the call are never included.
func (ix *CategoryIndex) EvictionCandidates(entityID string) []Entry {
	ei := ix.entity(entityID, false)
	if ei == nil {
		return nil
	}
	ei.mu.Lock()
	defer ei.mu.Unlock()
	return ei.mergedLocked(ei.lastCat)
}

// mergedLocked merges all category lists except skip into one slice ordered
// by creation time ascending. Caller holds ei.mu.
func (ei *entityIndex) mergedLocked(skip string) []Entry {
	var out []Entry
	for cat, list := range ei.categories {
		if cat == skip {
			continue
		}
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// Entities returns all entity ids present in the index.
func (ix *CategoryIndex) Entities() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.entities))
	for id := range ix.entities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the entity's total chunk count.
func (ix *CategoryIndex) Count(entityID string) int {
	ei := ix.entity(entityID, false)
	if ei == nil {
		return 0
	}
	ei.mu.Lock()
	defer ei.mu.Unlock()
	n := 0
	for _, list := range ei.categories {
		n += len(list)
	}
	return n
}

// Forget drops the entity from the index entirely, returning how many
// references were removed.
func (ix *CategoryIndex) Forget(entityID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ei := ix.entities[entityID]
	if ei == nil {
		return 0
	}
	ei.mu.Lock()
	n := 0
	for _, list := range ei.categories {
		n += len(list)
	}
	ei.mu.Unlock()
	delete(ix.entities, entityID)
	return n
}
