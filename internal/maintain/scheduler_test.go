package maintain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stixyie/protogen-memory/internal/analyzer"
	"github.com/stixyie/protogen-memory/internal/memory"
	"github.com/stixyie/protogen-memory/internal/model"
	"github.com/stixyie/protogen-memory/internal/store"
)

type fixture struct {
	store store.Store
	svc   *memory.Service
	mock  *analyzer.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return &fixture{store: st, mock: analyzer.NewMock()}
}

// seed persists a chunk directly, bypassing the service, so tests control the
// creation time.
func (f *fixture) seed(t *testing.T, entityID string, n int, category string, createdAt time.Time) string {
	t.Helper()
	id := fmt.Sprintf("seed-%s-%03d", category, n)
	err := f.store.Put(context.Background(), &model.Chunk{
		ID:        id,
		EntityID:  entityID,
		Category:  category,
		Content:   fmt.Sprintf("message %d", n),
		CreatedAt: createdAt,
		Role:      model.RoleUser,
	})
	if err != nil {
		t.Fatalf("seed put: %v", err)
	}
	return id
}

// start builds the service over the seeded store and a scheduler around it.
func (f *fixture) start(t *testing.T, opts memory.Options, cfg Config) *Scheduler {
	t.Helper()
	svc, err := memory.NewService(context.Background(), f.store, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	f.svc = svc
	return New(svc, f.store, f.mock, cfg, zap.NewNop())
}

func TestConfigDefaults(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, memory.Options{}, Config{})
	if s.cfg.Interval != DefaultInterval || s.cfg.Debounce != DefaultDebounce || s.cfg.BatchSize != DefaultBatchSize {
		t.Errorf("defaults not applied: %+v", s.cfg)
	}
}

func TestTickDispatchesBatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.seed(t, "alice", i, model.CategoryConversation, old.Add(time.Duration(i)*time.Second)))
	}

	s := f.start(t, memory.Options{}, Config{Debounce: time.Minute, BatchSize: 2})
	s.Tick(ctx)

	batches := f.mock.Batches()
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches of size <= 2, got %d", len(batches))
	}
	total := 0
	for _, b := range batches {
		if len(b) > 2 {
			t.Errorf("batch exceeds size cap: %d", len(b))
		}
		total += len(b)
	}
	if total != 5 {
		t.Errorf("expected 5 chunks dispatched, got %d", total)
	}

	// Every source is marked analyzed and each batch produced one analysis
	// chunk.
	for _, id := range ids {
		c, err := f.store.Get(ctx, "alice", id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if !c.Analyzed {
			t.Errorf("chunk %s not marked analyzed", id)
		}
	}
	results, err := f.svc.ReadHistory(ctx, "alice", model.CategoryAnalysis, 0)
	if err != nil {
		t.Fatalf("read analysis: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 analysis chunks, got %d", len(results))
	}
	for _, c := range results {
		if c.Role != model.RoleAssistant {
			t.Errorf("analysis chunk role: %s", c.Role)
		}
		if c.Metadata["batch_id"] == nil {
			t.Error("analysis chunk missing batch_id")
		}
	}

	// A second tick finds nothing left to analyze. Analysis chunks are never
	// re-analyzed.
	s.Tick(ctx)
	if got := len(f.mock.Batches()); got != 3 {
		t.Errorf("second tick dispatched more batches: %d", got)
	}
}

func TestTickDebouncesFreshChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "alice", 0, model.CategoryConversation, time.Now().UTC())

	s := f.start(t, memory.Options{}, Config{Debounce: time.Minute})
	s.Tick(ctx)

	if got := len(f.mock.Batches()); got != 0 {
		t.Errorf("fresh chunk dispatched despite debounce: %d batches", got)
	}
}

func TestTickAnalyzerFailureRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := time.Now().UTC().Add(-time.Hour)
	id := f.seed(t, "alice", 0, model.CategoryConversation, old)

	s := f.start(t, memory.Options{}, Config{Debounce: time.Minute})

	f.mock.Err = errors.New("collaborator down")
	s.Tick(ctx)

	c, _ := f.store.Get(ctx, "alice", id)
	if c.Analyzed {
		t.Error("chunk marked analyzed despite analyzer failure")
	}
	if results, _ := f.svc.ReadHistory(ctx, "alice", model.CategoryAnalysis, 0); len(results) != 0 {
		t.Errorf("analysis chunk written despite failure: %d", len(results))
	}

	// The next tick picks the same chunk up again.
	f.mock.Err = nil
	s.Tick(ctx)

	c, _ = f.store.Get(ctx, "alice", id)
	if !c.Analyzed {
		t.Error("chunk not analyzed after analyzer recovered")
	}
}

func TestTickEvictsAboveHighWater(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()

	// 950 bytes against a 1000-byte ceiling, split across two categories so
	// eviction has candidates. Fresh timestamps keep the analysis dispatch
	// quiet.
	for i := 0; i < 9; i++ {
		err := f.store.Put(ctx, &model.Chunk{
			ID: fmt.Sprintf("conv-%03d", i), EntityID: "alice",
			Category: model.CategoryConversation, Content: string(make([]byte, 100)),
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond), Role: model.RoleUser,
		})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	err := f.store.Put(ctx, &model.Chunk{
		ID: "ana-000", EntityID: "alice", Category: model.CategoryAnalysis,
		Content: string(make([]byte, 50)), CreatedAt: now.Add(time.Second), Role: model.RoleAssistant,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	s := f.start(t, memory.Options{CeilingBytes: 1000}, Config{Debounce: time.Hour})
	if !f.svc.Quota().AboveHighWater() {
		t.Fatalf("setup: usage %d below high water", f.svc.Quota().Used())
	}

	s.Tick(ctx)

	if used := f.svc.Quota().Used(); used > f.svc.Quota().LowWaterBytes() {
		t.Errorf("usage %d still above low water after tick", used)
	}
}

func TestSpawnTickSkipsWhileRunning(t *testing.T) {
	f := newFixture(t)
	old := time.Now().UTC().Add(-time.Hour)
	f.seed(t, "alice", 0, model.CategoryConversation, old)

	s := f.start(t, memory.Options{}, Config{Debounce: time.Minute})

	// Simulate an in-flight tick holding the lock: the spawn is dropped, not
	// queued.
	s.tickMu.Lock()
	s.spawnTick(context.Background())
	s.wg.Wait()
	s.tickMu.Unlock()

	if got := len(f.mock.Batches()); got != 0 {
		t.Errorf("tick ran despite held lock: %d batches", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, memory.Options{}, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
