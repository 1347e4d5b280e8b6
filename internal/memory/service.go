// Package memory provides the public façade over the chunked, quota-bounded
// memory subsystem.
//
// A write enters here, is split by the chunker, admitted by the quota
// manager, persisted by the chunk store and indexed by the category index, in
// that order. A multi-segment write is all-or-nothing: if any reservation or
// persist fails partway, segments already written by the call are rolled
// back.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/stixyie/protogen-memory/internal/chunker"
	"github.com/stixyie/protogen-memory/internal/evict"
	"github.com/stixyie/protogen-memory/internal/index"
	"github.com/stixyie/protogen-memory/internal/model"
	"github.com/stixyie/protogen-memory/internal/quota"
	"github.com/stixyie/protogen-memory/internal/store"
)

// Options configures a Service.
type Options struct {
	MaxChunkSize       int     // bytes per chunk, default chunker.DefaultMaxSize
	CeilingBytes       int64   // global capacity, default quota.DefaultCeilingBytes
	HighWaterRatio     float64 // eviction trigger, default 0.90
	LowWaterRatio      float64 // eviction target, default 0.75
	MaxChunksPerEntity int     // optional secondary cap, 0 disables
}

// Service composes the chunker, store, index, quota manager and evictor.
type Service struct {
	store   store.Store
	index   *index.CategoryIndex
	quota   *quota.Manager
	evictor *evict.Evictor
	logger  *zap.Logger

	maxChunkSize int

	idMu    sync.Mutex
	entropy io.Reader
}

// WriteParams holds parameters for a memory write.
type WriteParams struct {
	EntityID string
	Content  string
	Role     string         // model.RoleUser or model.RoleAssistant
	Category string         // defaults to model.CategoryConversation
	Metadata map[string]any // opaque scalar values
}

// UsageReport is the current quota accounting snapshot.
type UsageReport struct {
	GlobalUsedBytes int64            `json:"global_used_bytes"`
	CeilingBytes    int64            `json:"ceiling_bytes"`
	PerEntityBytes  map[string]int64 `json:"per_entity_bytes,omitempty"`
}

// NewService builds a service over st, rebuilds the category index from it
// and reconciles quota accounting against the rebuilt index.
func NewService(ctx context.Context, st store.Store, opts Options, logger *zap.Logger) (*Service, error) {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = chunker.DefaultMaxSize
	}

	ix := index.New()
	if err := ix.Rebuild(ctx, st); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}

	q := quota.NewManager(opts.CeilingBytes, opts.HighWaterRatio, opts.LowWaterRatio, logger)
	perEntity := make(map[string]int64)
	for _, entityID := range ix.Entities() {
		var sum int64
		for _, e := range ix.ListAll(entityID) {
			sum += e.SizeBytes
		}
		perEntity[entityID] = sum
	}
	q.Reconcile(perEntity)

	s := &Service{
		store:        st,
		index:        ix,
		quota:        q,
		logger:       logger,
		maxChunkSize: opts.MaxChunkSize,
		entropy:      ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	s.evictor = evict.New(st, ix, q, opts.MaxChunksPerEntity, logger)

	logger.Info("memory service ready",
		zap.Int("entities", len(perEntity)),
		zap.Int64("used_bytes", q.Used()),
		zap.Int64("ceiling_bytes", q.Ceiling()))
	return s, nil
}

func (s *Service) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// WriteMessage stores content for an entity, splitting it into chunks as
// needed. Returns metadata for the chunks created. Empty content is a no-op.
func (s *Service) WriteMessage(ctx context.Context, p WriteParams) ([]model.Info, error) {
	if err := model.ValidEntityID(p.EntityID); err != nil {
		return nil, err
	}
	if p.Category == "" {
		p.Category = model.CategoryConversation
	}
	if err := model.ValidCategory(p.Category); err != nil {
		return nil, err
	}
	if p.Role == "" {
		p.Role = model.RoleUser
	}
	if !model.ValidRoles[p.Role] {
		return nil, fmt.Errorf("invalid role %q", p.Role)
	}

	segments := chunker.Split(p.Content, s.maxChunkSize)
	if len(segments) == 0 {
		return nil, nil
	}

	createdAt := time.Now().UTC().Truncate(time.Millisecond)
	writeID := uuid.NewString()

	var written []*model.Chunk
	for seq, segment := range segments {
		size := int64(len(segment))
		if err := s.reserve(ctx, p.EntityID, size); err != nil {
			s.rollback(ctx, written)
			return nil, err
		}

		c := &model.Chunk{
			ID:        s.newID(),
			EntityID:  p.EntityID,
			Category:  p.Category,
			Content:   segment,
			Sequence:  seq,
			CreatedAt: createdAt,
			SizeBytes: size,
			Metadata:  writeMetadata(p.Metadata, writeID),
			Role:      p.Role,
		}
		if err := s.store.Put(ctx, c); err != nil {
			s.quota.Release(p.EntityID, size)
			s.rollback(ctx, written)
			return nil, fmt.Errorf("persist chunk: %w", err)
		}
		s.index.Add(c.EntityID, c.Category, c.ID, c.CreatedAt, c.Sequence, c.SizeBytes)
		written = append(written, c)
	}

	infos := make([]model.Info, len(written))
	for i, c := range written {
		infos[i] = c.Info()
	}
	return infos, nil
}

// reserve admits size bytes, running one eviction sweep and retrying when
// the first reservation is rejected for lack of space.
func (s *Service) reserve(ctx context.Context, entityID string, size int64) error {
	err := s.quota.Reserve(entityID, size)
	if err != quota.ErrOverQuota {
		return err
	}
	s.logger.Debug("reservation rejected, running eviction sweep",
		zap.String("entity", entityID), zap.Int64("size_bytes", size))
	s.evictor.Sweep(ctx)
	return s.quota.Reserve(entityID, size)
}

// rollback undoes the segments a failed multi-segment write already
// persisted, so the write is all-or-nothing for the caller.
func (s *Service) rollback(ctx context.Context, written []*model.Chunk) {
	for _, c := range written {
		if err := s.store.Delete(ctx, c.EntityID, c.ID); err != nil && !store.IsNotFound(err) {
			s.logger.Warn("rollback delete failed",
				zap.String("entity", c.EntityID), zap.String("chunk", c.ID), zap.Error(err))
		}
		s.index.Remove(c.EntityID, c.Category, c.ID)
		s.quota.Release(c.EntityID, c.SizeBytes)
	}
	if len(written) > 0 {
		s.logger.Info("rolled back partial write",
			zap.String("entity", written[0].EntityID), zap.Int("segments", len(written)))
	}
}

// writeMetadata copies user metadata and stamps the logical write id.
func writeMetadata(meta map[string]any, writeID string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["write_id"] = writeID
	return out
}

// ReadHistory returns up to limit chunks of one entity's category, ordered
// oldest to newest (most recent last). limit <= 0 returns everything.
func (s *Service) ReadHistory(ctx context.Context, entityID, category string, limit int) ([]model.Chunk, error) {
	if err := model.ValidEntityID(entityID); err != nil {
		return nil, err
	}
	entries := s.index.List(entityID, category)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	chunks := make([]model.Chunk, 0, len(entries))
	for _, e := range entries {
		c, err := s.store.Get(ctx, entityID, e.ChunkID)
		if err != nil {
			if store.IsNotFound(err) || store.IsCorrupt(err) {
				s.logger.Warn("skipping unreadable indexed chunk",
					zap.String("entity", entityID), zap.String("chunk", e.ChunkID), zap.Error(err))
				continue
			}
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, nil
}

// DeleteEntityMemory removes all of an entity's chunks, returning the number
// deleted.
func (s *Service) DeleteEntityMemory(ctx context.Context, entityID string) (int, error) {
	if err := model.ValidEntityID(entityID); err != nil {
		return 0, err
	}

	count := 0
	for _, e := range s.index.ListAll(entityID) {
		if err := s.store.Delete(ctx, entityID, e.ChunkID); err != nil && !store.IsNotFound(err) {
			return count, fmt.Errorf("delete chunk %s: %w", e.ChunkID, err)
		}
		s.index.Remove(entityID, e.Category, e.ChunkID)
		s.quota.Release(entityID, e.SizeBytes)
		count++
	}

	s.logger.Info("deleted entity memory", zap.String("entity", entityID), zap.Int("chunks", count))
	return count, nil
}

// MarkAnalyzed flags a chunk as processed by the analysis pipeline.
func (s *Service) MarkAnalyzed(ctx context.Context, entityID, chunkID string) error {
	return s.store.MarkAnalyzed(ctx, entityID, chunkID)
}

// Usage returns the current global and per-entity quota accounting.
func (s *Service) Usage() UsageReport {
	snap := s.quota.Snapshot()
	return UsageReport{
		GlobalUsedBytes: snap.GlobalUsedBytes,
		CeilingBytes:    snap.CeilingBytes,
		PerEntityBytes:  s.quota.PerEntity(),
	}
}

// EntityUsage returns the bytes attributed to one entity.
func (s *Service) EntityUsage(entityID string) int64 {
	return s.quota.EntityUsed(entityID)
}

// Evict runs one eviction sweep immediately.
func (s *Service) Evict(ctx context.Context) evict.Result {
	return s.evictor.Sweep(ctx)
}

// Evictor exposes the evictor for the maintenance scheduler.
func (s *Service) Evictor() *evict.Evictor { return s.evictor }

// Quota exposes the quota manager for the maintenance scheduler.
func (s *Service) Quota() *quota.Manager { return s.quota }

// WriteReward records a reward value for a conversation under the
// reward-history category.
func (s *Service) WriteReward(ctx context.Context, entityID, conversationID string, value float64) error {
	payload, err := json.Marshal(map[string]any{
		"conversation_id": conversationID,
		"reward_value":    value,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode reward: %w", err)
	}
	_, err = s.WriteMessage(ctx, WriteParams{
		EntityID: entityID,
		Content:  string(payload),
		Role:     model.RoleAssistant,
		Category: model.CategoryRewardHistory,
		Metadata: map[string]any{"conversation_id": conversationID},
	})
	return err
}

// WriteLearningEvent records a learning/evolution event under the
// learning-history category.
func (s *Service) WriteLearningEvent(ctx context.Context, entityID, eventType string, details map[string]any) error {
	payload, err := json.Marshal(map[string]any{
		"event_type": eventType,
		"details":    details,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode learning event: %w", err)
	}
	_, err = s.WriteMessage(ctx, WriteParams{
		EntityID: entityID,
		Content:  string(payload),
		Role:     model.RoleAssistant,
		Category: model.CategoryLearningHistory,
		Metadata: map[string]any{"event_type": eventType},
	})
	return err
}

// WriteSystemState upserts one key of an entity's system state. The previous
// chunk for the key, if any, is deleted first: updates are delete-then-create,
// never in-place mutation.
func (s *Service) WriteSystemState(ctx context.Context, entityID, key string, value any) error {
	if key == "" {
		return fmt.Errorf("state key is empty")
	}

	for _, e := range s.index.List(entityID, model.CategorySystemState) {
		c, err := s.store.Get(ctx, entityID, e.ChunkID)
		if err != nil {
			continue
		}
		if k, _ := c.Metadata["state_key"].(string); k != key {
			continue
		}
		if err := s.store.Delete(ctx, entityID, e.ChunkID); err != nil && !store.IsNotFound(err) {
			return fmt.Errorf("replace state chunk: %w", err)
		}
		s.index.Remove(entityID, e.Category, e.ChunkID)
		s.quota.Release(entityID, e.SizeBytes)
	}

	payload, err := json.Marshal(map[string]any{"key": key, "value": value})
	if err != nil {
		return fmt.Errorf("encode system state: %w", err)
	}
	_, err = s.WriteMessage(ctx, WriteParams{
		EntityID: entityID,
		Content:  string(payload),
		Role:     model.RoleAssistant,
		Category: model.CategorySystemState,
		Metadata: map[string]any{"state_key": key},
	})
	return err
}
