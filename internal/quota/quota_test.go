package quota

import (
	"testing"

	"go.uber.org/zap"
)

func TestReserveRelease(t *testing.T) {
	m := NewManager(1000, 0.9, 0.75, zap.NewNop())

	if err := m.Reserve("alice", 400); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := m.Reserve("bob", 300); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if m.Used() != 700 {
		t.Errorf("used: got %d, want 700", m.Used())
	}
	if m.EntityUsed("alice") != 400 {
		t.Errorf("alice used: got %d", m.EntityUsed("alice"))
	}

	m.Release("alice", 400)
	if m.Used() != 300 {
		t.Errorf("used after release: got %d, want 300", m.Used())
	}
	if m.EntityUsed("alice") != 0 {
		t.Errorf("alice used after release: got %d", m.EntityUsed("alice"))
	}
}

func TestReserveOverQuota(t *testing.T) {
	m := NewManager(1000, 0.9, 0.75, zap.NewNop())

	if err := m.Reserve("alice", 900); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := m.Reserve("alice", 200); err != ErrOverQuota {
		t.Errorf("expected ErrOverQuota, got %v", err)
	}
	// Rejected reservation must not change the totals.
	if m.Used() != 900 {
		t.Errorf("used after rejection: got %d, want 900", m.Used())
	}
	// Exactly filling the ceiling is allowed.
	if err := m.Reserve("alice", 100); err != nil {
		t.Errorf("reserve to ceiling: %v", err)
	}
}

func TestReserveChunkTooLarge(t *testing.T) {
	m := NewManager(1000, 0.9, 0.75, zap.NewNop())

	// Larger than the ceiling itself: rejected even though the store is empty.
	if err := m.Reserve("alice", 1001); err != ErrChunkTooLarge {
		t.Errorf("expected ErrChunkTooLarge, got %v", err)
	}
	if m.Used() != 0 {
		t.Errorf("used after rejection: got %d", m.Used())
	}
}

func TestReleaseUnderflowClamped(t *testing.T) {
	m := NewManager(1000, 0.9, 0.75, zap.NewNop())

	m.Reserve("alice", 100)
	m.Release("alice", 500)
	if m.Used() != 0 {
		t.Errorf("expected clamp to zero, got %d", m.Used())
	}
	if m.EntityUsed("alice") != 0 {
		t.Errorf("expected entity clamp to zero, got %d", m.EntityUsed("alice"))
	}
}

func TestAboveHighWater(t *testing.T) {
	m := NewManager(1000, 0.9, 0.75, zap.NewNop())

	m.Reserve("alice", 899)
	if m.AboveHighWater() {
		t.Error("below high water reported as above")
	}
	m.Reserve("alice", 1)
	if !m.AboveHighWater() {
		t.Error("at high water not reported as above")
	}
	if m.LowWaterBytes() != 750 {
		t.Errorf("low water: got %d, want 750", m.LowWaterBytes())
	}
}

func TestReconcile(t *testing.T) {
	m := NewManager(1000, 0.9, 0.75, zap.NewNop())
	m.Reserve("stale", 500)

	m.Reconcile(map[string]int64{"alice": 100, "bob": 200})
	if m.Used() != 300 {
		t.Errorf("used after reconcile: got %d, want 300", m.Used())
	}
	if m.EntityUsed("stale") != 0 {
		t.Errorf("stale entity survived reconcile: %d", m.EntityUsed("stale"))
	}
	if m.EntityUsed("bob") != 200 {
		t.Errorf("bob used: got %d", m.EntityUsed("bob"))
	}
}

func TestDefaultsApplied(t *testing.T) {
	m := NewManager(0, 0, 0, zap.NewNop())
	if m.Ceiling() != DefaultCeilingBytes {
		t.Errorf("ceiling default: got %d", m.Ceiling())
	}
	if m.LowWaterBytes() != int64(float64(DefaultCeilingBytes)*DefaultLowWaterRatio) {
		t.Errorf("low water default: got %d", m.LowWaterBytes())
	}
}

func TestSnapshot(t *testing.T) {
	m := NewManager(1000, 0.9, 0.75, zap.NewNop())
	m.Reserve("alice", 250)

	snap := m.Snapshot()
	if snap.GlobalUsedBytes != 250 || snap.CeilingBytes != 1000 {
		t.Errorf("snapshot: %+v", snap)
	}

	per := m.PerEntity()
	per["alice"] = 9999 // copy, not a live view
	if m.EntityUsed("alice") != 250 {
		t.Error("PerEntity returned a live map")
	}
}
