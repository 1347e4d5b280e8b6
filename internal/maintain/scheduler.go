// Package maintain runs the periodic background maintenance loop: eviction
// sweep checks and dispatch of unanalyzed chunks to the analysis
// collaborator.
//
// Ticks never overlap; a tick due while the previous one is still running is
// skipped and logged. A tick that fails partway does not roll back completed
// steps; remaining work is retried on the next tick. No error crashes the
// loop.
package maintain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stixyie/protogen-memory/internal/analyzer"
	"github.com/stixyie/protogen-memory/internal/memory"
	"github.com/stixyie/protogen-memory/internal/model"
	"github.com/stixyie/protogen-memory/internal/store"
)

const (
	// DefaultInterval between maintenance ticks.
	DefaultInterval = time.Hour

	// DefaultDebounce keeps very fresh chunks out of analysis batches.
	DefaultDebounce = 10 * time.Minute

	// DefaultBatchSize is the number of chunks per analysis dispatch.
	DefaultBatchSize = 10
)

// Config configures a Scheduler.
type Config struct {
	Interval  time.Duration
	Debounce  time.Duration
	BatchSize int
	// WatchDir, when set, nudges the loop early on file changes under the
	// storage directory. Optional; correctness never depends on it.
	WatchDir string
}

// Scheduler drives periodic maintenance against the memory service.
type Scheduler struct {
	svc      *memory.Service
	store    store.Store
	analyzer analyzer.Analyzer
	cfg      Config
	logger   *zap.Logger

	tickMu sync.Mutex // a tick holds this for its whole duration
	wg     sync.WaitGroup
	nudge  chan struct{}
}

// New creates a scheduler. Zero config fields fall back to defaults.
func New(svc *memory.Service, st store.Store, az analyzer.Analyzer, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Scheduler{
		svc:      svc,
		store:    st,
		analyzer: az,
		cfg:      cfg,
		logger:   logger,
		nudge:    make(chan struct{}, 1),
	}
}

// Run blocks until ctx is cancelled, firing a tick every interval. On
// shutdown an in-flight tick may finish its current batch but starts no new
// one; Run returns once it has drained.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var stopWatch func()
	if s.cfg.WatchDir != "" {
		var err error
		stopWatch, err = s.watch(ctx, s.cfg.WatchDir)
		if err != nil {
			s.logger.Warn("storage watch disabled", zap.Error(err))
		}
	}
	if stopWatch != nil {
		defer stopWatch()
	}

	s.logger.Info("maintenance scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("debounce", s.cfg.Debounce))

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("maintenance scheduler stopped")
			return nil
		case <-ticker.C:
			s.spawnTick(ctx)
		case <-s.nudge:
			s.spawnTick(ctx)
		}
	}
}

// spawnTick starts a tick unless one is already running.
func (s *Scheduler) spawnTick(ctx context.Context) {
	if !s.tickMu.TryLock() {
		s.logger.Warn("maintenance tick skipped: previous tick still running")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.tickMu.Unlock()
		s.Tick(ctx)
	}()
}

// Tick performs one maintenance pass: eviction check, then analysis
// dispatch. Each step is isolated; a failing step is logged and does not
// prevent the next.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()

	if s.svc.Quota().AboveHighWater() {
		s.svc.Evictor().Sweep(ctx)
	}

	s.dispatchAnalysis(ctx)

	s.logger.Debug("maintenance tick finished", zap.Duration("took", time.Since(start)))
}

// candidate is one chunk eligible for analysis.
type candidate struct {
	chunkID string
	content string
}

// dispatchAnalysis collects unanalyzed chunks older than the debounce
// window and sends them to the analyzer in bounded batches, per entity. Each
// successful batch is persisted as an analysis chunk and its sources marked
// analyzed; a failed batch is left untouched for the next tick.
func (s *Scheduler) dispatchAnalysis(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.Debounce)

	byEntity := make(map[string][]candidate)
	err := s.store.Walk(ctx, func(c *model.Chunk) error {
		if c.Analyzed || c.Category == model.CategoryAnalysis {
			return nil
		}
		if !c.CreatedAt.Before(cutoff) {
			return nil
		}
		byEntity[c.EntityID] = append(byEntity[c.EntityID], candidate{chunkID: c.ID, content: c.Content})
		return nil
	})
	if err != nil {
		s.logger.Warn("analysis collection failed", zap.Error(err))
		return
	}

	for entityID, candidates := range byEntity {
		for len(candidates) > 0 {
			if ctx.Err() != nil {
				return // shutdown: no new batch
			}
			n := min(s.cfg.BatchSize, len(candidates))
			batch := candidates[:n]
			candidates = candidates[n:]
			s.analyzeBatch(ctx, entityID, batch)
		}
	}
}

// analyzeBatch runs one batch through the analyzer and records the result.
func (s *Scheduler) analyzeBatch(ctx context.Context, entityID string, batch []candidate) {
	batchID := uuid.NewString()
	contents := make([]string, len(batch))
	for i, c := range batch {
		contents[i] = c.content
	}

	result, err := s.analyzer.Analyze(ctx, contents)
	if err != nil {
		// Retryable: sources stay unanalyzed and are picked up next tick.
		s.logger.Warn("analysis batch failed",
			zap.String("entity", entityID), zap.String("batch", batchID),
			zap.Int("chunks", len(batch)), zap.Error(err))
		return
	}
	if result == "" {
		return
	}

	_, err = s.svc.WriteMessage(ctx, memory.WriteParams{
		EntityID: entityID,
		Content:  result,
		Role:     model.RoleAssistant,
		Category: model.CategoryAnalysis,
		Metadata: map[string]any{"batch_id": batchID, "source_count": len(batch)},
	})
	if err != nil {
		s.logger.Warn("storing analysis result failed",
			zap.String("entity", entityID), zap.String("batch", batchID), zap.Error(err))
		return
	}

	for _, c := range batch {
		if err := s.svc.MarkAnalyzed(ctx, entityID, c.chunkID); err != nil && !store.IsNotFound(err) {
			s.logger.Warn("marking chunk analyzed failed",
				zap.String("entity", entityID), zap.String("chunk", c.chunkID), zap.Error(err))
		}
	}

	s.logger.Info("analysis batch stored",
		zap.String("entity", entityID), zap.String("batch", batchID), zap.Int("chunks", len(batch)))
}
