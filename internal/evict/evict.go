// Package evict removes the oldest chunks when global usage approaches the
// quota ceiling.
//
// Candidates are selected per entity under the category index's entity lock,
// oldest first across categories, excluding each entity's most-recently
// written category. A sweep removes the globally oldest candidate at a time
// until usage drops to the low-water target or no candidates remain.
package evict

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stixyie/protogen-memory/internal/index"
	"github.com/stixyie/protogen-memory/internal/quota"
	"github.com/stixyie/protogen-memory/internal/store"
)

// Result summarizes one eviction sweep.
type Result struct {
	Evicted    int   `json:"evicted"`
	FreedBytes int64 `json:"freed_bytes"`
	// Degraded is set when no evictable candidates remain but usage is
	// still above the target; new writes keep being rejected until space
	// frees. Non-fatal.
	Degraded bool `json:"degraded,omitempty"`
}

// Evictor frees space by deleting old chunks.
type Evictor struct {
	mu     sync.Mutex // serializes sweeps
	store  store.Store
	index  *index.CategoryIndex
	quota  *quota.Manager
	logger *zap.Logger

	// maxPerEntity is an optional secondary cap on chunks per entity,
	// enforced after the byte-ceiling pass. Zero disables it.
	maxPerEntity int
}

// New creates an evictor over the given store, index and quota manager.
func New(s store.Store, ix *index.CategoryIndex, q *quota.Manager, maxPerEntity int, logger *zap.Logger) *Evictor {
	return &Evictor{store: s, index: ix, quota: q, logger: logger, maxPerEntity: maxPerEntity}
}

// queue is one entity's eviction candidates with a consumption cursor.
type queue struct {
	entityID string
	entries  []index.Entry
	pos      int
}

func (q *queue) head() *index.Entry {
	if q.pos >= len(q.entries) {
		return nil
	}
	return &q.entries[q.pos]
}

// Sweep evicts candidates until global usage is at or below the low-water
// target or no candidates remain, then applies the per-entity count cap.
func (e *Evictor) Sweep(ctx context.Context) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res Result
	target := e.quota.LowWaterBytes()

	if e.quota.Used() > target {
		e.sweepBytes(ctx, target, &res)
	}
	if e.maxPerEntity > 0 {
		e.sweepCounts(ctx, &res)
	}

	if res.Evicted > 0 || res.Degraded {
		e.logger.Info("eviction sweep finished",
			zap.Int("evicted", res.Evicted),
			zap.Int64("freed_bytes", res.FreedBytes),
			zap.Int64("used_bytes", e.quota.Used()),
			zap.Bool("degraded", res.Degraded))
	}
	return res
}

// sweepBytes runs the oldest-first byte-ceiling pass.
func (e *Evictor) sweepBytes(ctx context.Context, target int64, res *Result) {
	var queues []*queue
	for _, entityID := range e.index.Entities() {
		entries := e.index.EvictionCandidates(entityID)
		if len(entries) > 0 {
			queues = append(queues, &queue{entityID: entityID, entries: entries})
		}
	}

	for e.quota.Used() > target {
		if ctx.Err() != nil {
			return
		}

		// Pick the queue whose head is globally oldest.
		var oldest *queue
		for _, q := range queues {
			h := q.head()
			if h == nil {
				continue
			}
			if oldest == nil || h.CreatedAt.Before(oldest.head().CreatedAt) {
				oldest = q
			}
		}
		if oldest == nil {
			e.logger.Warn("degraded capacity: no evictable candidates remain",
				zap.Int64("used_bytes", e.quota.Used()), zap.Int64("target_bytes", target))
			res.Degraded = true
			return
		}

		entry := *oldest.head()
		oldest.pos++
		if e.remove(ctx, oldest.entityID, entry) {
			res.Evicted++
			res.FreedBytes += entry.SizeBytes
		}
	}
}

// sweepCounts enforces the optional per-entity chunk count cap.
func (e *Evictor) sweepCounts(ctx context.Context, res *Result) {
	for _, entityID := range e.index.Entities() {
		if ctx.Err() != nil {
			return
		}
		over := e.index.Count(entityID) - e.maxPerEntity
		if over <= 0 {
			continue
		}
		entries := e.index.ListAll(entityID)
		for _, entry := range entries[:min(over, len(entries))] {
			if e.remove(ctx, entityID, entry) {
				res.Evicted++
				res.FreedBytes += entry.SizeBytes
			}
		}
	}
}

// remove deletes one chunk and updates index and quota. Reports whether the
// chunk's bytes were released.
func (e *Evictor) remove(ctx context.Context, entityID string, entry index.Entry) bool {
	if err := e.store.Delete(ctx, entityID, entry.ChunkID); err != nil && !store.IsNotFound(err) {
		// Transient storage error: keep the chunk accounted for and let a
		// later sweep retry it.
		e.logger.Warn("evicting chunk failed",
			zap.String("entity", entityID), zap.String("chunk", entry.ChunkID), zap.Error(err))
		return false
	}
	e.index.Remove(entityID, entry.Category, entry.ChunkID)
	e.quota.Release(entityID, entry.SizeBytes)
	e.logger.Debug("evicted chunk",
		zap.String("entity", entityID), zap.String("chunk", entry.ChunkID),
		zap.String("category", entry.Category), zap.Int64("size_bytes", entry.SizeBytes))
	return true
}
