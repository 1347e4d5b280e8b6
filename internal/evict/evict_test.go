package evict

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stixyie/protogen-memory/internal/index"
	"github.com/stixyie/protogen-memory/internal/model"
	"github.com/stixyie/protogen-memory/internal/quota"
	"github.com/stixyie/protogen-memory/internal/store"
)

type fixture struct {
	store store.Store
	index *index.CategoryIndex
	quota *quota.Manager
}

func newFixture(t *testing.T, ceiling int64) *fixture {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &fixture{
		store: s,
		index: index.New(),
		quota: quota.NewManager(ceiling, 0.9, 0.75, zap.NewNop()),
	}
}

// seed persists a chunk and registers it with the index and quota manager.
func (f *fixture) seed(t *testing.T, entityID, category string, n int, size int, createdAt time.Time) {
	t.Helper()
	id := fmt.Sprintf("%s-%s-%03d", entityID, category, n)
	content := make([]byte, size)
	for i := range content {
		content[i] = 'x'
	}
	c := &model.Chunk{
		ID:        id,
		EntityID:  entityID,
		Category:  category,
		Content:   string(content),
		CreatedAt: createdAt,
		Role:      model.RoleUser,
	}
	if err := f.store.Put(context.Background(), c); err != nil {
		t.Fatalf("seed put: %v", err)
	}
	f.index.Add(entityID, category, id, createdAt, 0, c.SizeBytes)
	if err := f.quota.Reserve(entityID, c.SizeBytes); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
}

func TestSweepToLowWater(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000)
	base := time.Now().UTC().Add(-time.Hour)

	// 8 conversation chunks, then 2 analysis chunks. The analysis category is
	// the most recently written and therefore protected.
	for i := 0; i < 8; i++ {
		f.seed(t, "alice", model.CategoryConversation, i, 100, base.Add(time.Duration(i)*time.Minute))
	}
	for i := 0; i < 2; i++ {
		f.seed(t, "alice", model.CategoryAnalysis, i, 100, base.Add(time.Duration(10+i)*time.Minute))
	}
	if f.quota.Used() != 1000 {
		t.Fatalf("setup: used %d", f.quota.Used())
	}

	e := New(f.store, f.index, f.quota, 0, zap.NewNop())
	res := e.Sweep(ctx)

	if f.quota.Used() > f.quota.LowWaterBytes() {
		t.Errorf("usage %d still above low water %d", f.quota.Used(), f.quota.LowWaterBytes())
	}
	if res.Evicted != 3 || res.FreedBytes != 300 {
		t.Errorf("expected 3 chunks / 300 bytes evicted, got %d / %d", res.Evicted, res.FreedBytes)
	}
	if res.Degraded {
		t.Error("unexpected degraded flag")
	}

	// The oldest conversation chunks go first; the analysis chunks survive.
	for _, id := range []string{"alice-conversation-000", "alice-conversation-001", "alice-conversation-002"} {
		if _, err := f.store.Get(ctx, "alice", id); !store.IsNotFound(err) {
			t.Errorf("expected %s evicted, got %v", id, err)
		}
	}
	if _, err := f.store.Get(ctx, "alice", "alice-analysis-000"); err != nil {
		t.Errorf("protected chunk evicted: %v", err)
	}
}

func TestSweepOldestAcrossEntities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000)
	base := time.Now().UTC().Add(-time.Hour)

	// bob's chunk is globally oldest. Both entities write a second category so
	// candidates exist.
	f.seed(t, "bob", model.CategoryConversation, 0, 400, base)
	f.seed(t, "alice", model.CategoryConversation, 0, 400, base.Add(time.Minute))
	f.seed(t, "bob", model.CategoryAnalysis, 0, 100, base.Add(2*time.Minute))
	f.seed(t, "alice", model.CategoryAnalysis, 0, 100, base.Add(3*time.Minute))

	e := New(f.store, f.index, f.quota, 0, zap.NewNop())
	e.Sweep(ctx)

	if _, err := f.store.Get(ctx, "bob", "bob-conversation-000"); !store.IsNotFound(err) {
		t.Errorf("expected globally oldest chunk evicted, got %v", err)
	}
	if _, err := f.store.Get(ctx, "alice", "alice-conversation-000"); err != nil {
		t.Errorf("newer chunk evicted early: %v", err)
	}
}

func TestSweepDegraded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000)
	base := time.Now().UTC().Add(-time.Hour)

	// Everything lives in one category per entity, so every chunk is
	// protected and nothing can be evicted.
	for i := 0; i < 10; i++ {
		f.seed(t, "alice", model.CategoryConversation, i, 100, base.Add(time.Duration(i)*time.Minute))
	}

	e := New(f.store, f.index, f.quota, 0, zap.NewNop())
	res := e.Sweep(ctx)

	if !res.Degraded {
		t.Error("expected degraded flag")
	}
	if res.Evicted != 0 {
		t.Errorf("expected nothing evicted, got %d", res.Evicted)
	}
	if f.quota.Used() != 1000 {
		t.Errorf("usage changed: %d", f.quota.Used())
	}
}

func TestSweepNoopBelowTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000)
	f.seed(t, "alice", model.CategoryConversation, 0, 100, time.Now().UTC())

	e := New(f.store, f.index, f.quota, 0, zap.NewNop())
	res := e.Sweep(ctx)
	if res.Evicted != 0 || res.Degraded {
		t.Errorf("expected no-op sweep, got %+v", res)
	}
}

func TestSweepCountCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		f.seed(t, "alice", model.CategoryConversation, i, 10, base.Add(time.Duration(i)*time.Minute))
	}

	e := New(f.store, f.index, f.quota, 3, zap.NewNop())
	res := e.Sweep(ctx)

	if res.Evicted != 2 {
		t.Errorf("expected 2 evicted by count cap, got %d", res.Evicted)
	}
	if f.index.Count("alice") != 3 {
		t.Errorf("expected 3 chunks remaining, got %d", f.index.Count("alice"))
	}
	// Oldest go first.
	if _, err := f.store.Get(ctx, "alice", "alice-conversation-000"); !store.IsNotFound(err) {
		t.Errorf("expected oldest evicted, got %v", err)
	}
	if _, err := f.store.Get(ctx, "alice", "alice-conversation-004"); err != nil {
		t.Errorf("newest chunk evicted: %v", err)
	}
}

func TestSweepReleasesMissingChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000)
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 9; i++ {
		f.seed(t, "alice", model.CategoryConversation, i, 100, base.Add(time.Duration(i)*time.Minute))
	}
	f.seed(t, "alice", model.CategoryAnalysis, 0, 100, base.Add(time.Hour))

	// A chunk deleted behind the index's back is still released from quota.
	if err := f.store.Delete(ctx, "alice", "alice-conversation-000"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	e := New(f.store, f.index, f.quota, 0, zap.NewNop())
	res := e.Sweep(ctx)
	if f.quota.Used() > f.quota.LowWaterBytes() {
		t.Errorf("usage %d still above low water", f.quota.Used())
	}
	if res.Evicted == 0 {
		t.Error("expected evictions")
	}
}
