// Package quota tracks aggregate stored bytes against a global ceiling.
//
// The manager's running totals are authoritative; they are reconciled against
// the chunk store once at startup and updated on every reserve/release. All
// accounting happens under one short-held mutex with no I/O inside.
package quota

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultCeilingBytes is the default global capacity, 10 GiB.
	DefaultCeilingBytes = 10 << 30

	// DefaultHighWaterRatio triggers eviction sweeps.
	DefaultHighWaterRatio = 0.90

	// DefaultLowWaterRatio is the eviction target.
	DefaultLowWaterRatio = 0.75
)

// ErrOverQuota is returned when a reservation would exceed the ceiling.
var ErrOverQuota = errors.New("over quota")

// ErrChunkTooLarge is returned when a single chunk cannot fit even into an
// empty store; rejecting it outright avoids an unbounded eviction loop.
var ErrChunkTooLarge = errors.New("chunk exceeds quota ceiling")

// Manager tracks global and per-entity used bytes.
type Manager struct {
	mu        sync.Mutex
	used      int64
	perEntity map[string]int64

	ceiling   int64
	highWater int64
	lowWater  int64

	logger *zap.Logger
}

// Usage is a point-in-time snapshot of quota accounting.
type Usage struct {
	GlobalUsedBytes int64 `json:"global_used_bytes"`
	CeilingBytes    int64 `json:"ceiling_bytes"`
}

// NewManager creates a quota manager. Non-positive ceiling and out-of-range
// ratios fall back to the defaults.
func NewManager(ceilingBytes int64, highWaterRatio, lowWaterRatio float64, logger *zap.Logger) *Manager {
	if ceilingBytes <= 0 {
		ceilingBytes = DefaultCeilingBytes
	}
	if highWaterRatio <= 0 || highWaterRatio > 1 {
		highWaterRatio = DefaultHighWaterRatio
	}
	if lowWaterRatio <= 0 || lowWaterRatio >= highWaterRatio {
		lowWaterRatio = DefaultLowWaterRatio
	}
	return &Manager{
		perEntity: make(map[string]int64),
		ceiling:   ceilingBytes,
		highWater: int64(float64(ceilingBytes) * highWaterRatio),
		lowWater:  int64(float64(ceilingBytes) * lowWaterRatio),
		logger:    logger,
	}
}

// Reserve admits sizeBytes for entityID or rejects the write. On success the
// reservation is added to the running totals atomically.
func (m *Manager) Reserve(entityID string, sizeBytes int64) error {
	if sizeBytes > m.ceiling {
		return ErrChunkTooLarge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used+sizeBytes > m.ceiling {
		return ErrOverQuota
	}
	m.used += sizeBytes
	m.perEntity[entityID] += sizeBytes
	return nil
}

// Release returns sizeBytes to the pool after a chunk is deleted or evicted.
// Accounting never goes negative: underflow is clamped to zero and logged as
// an inconsistency.
func (m *Manager) Release(entityID string, sizeBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used -= sizeBytes
	if m.used < 0 {
		m.logger.Warn("quota accounting underflow clamped",
			zap.Int64("global_used", m.used), zap.Int64("released", sizeBytes))
		m.used = 0
	}

	m.perEntity[entityID] -= sizeBytes
	if m.perEntity[entityID] <= 0 {
		if m.perEntity[entityID] < 0 {
			m.logger.Warn("entity quota accounting underflow clamped",
				zap.String("entity", entityID), zap.Int64("released", sizeBytes))
		}
		delete(m.perEntity, entityID)
	}
}

// Reconcile replaces the running totals with authoritative values computed
// from the store, typically at startup.
func (m *Manager) Reconcile(perEntity map[string]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = 0
	m.perEntity = make(map[string]int64, len(perEntity))
	for entityID, n := range perEntity {
		m.used += n
		m.perEntity[entityID] = n
	}
}

// Used returns the current global used bytes.
func (m *Manager) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Ceiling returns the configured global capacity in bytes.
func (m *Manager) Ceiling() int64 { return m.ceiling }

// LowWaterBytes is the eviction target usage.
func (m *Manager) LowWaterBytes() int64 { return m.lowWater }

// AboveHighWater reports whether usage has crossed the eviction trigger.
func (m *Manager) AboveHighWater() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used >= m.highWater
}

// EntityUsed returns the bytes attributed to one entity.
func (m *Manager) EntityUsed(entityID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perEntity[entityID]
}

// PerEntity returns a copy of the per-entity byte totals.
func (m *Manager) PerEntity() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.perEntity))
	for k, v := range m.perEntity {
		out[k] = v
	}
	return out
}

// Snapshot returns the current usage totals.
func (m *Manager) Snapshot() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Usage{GlobalUsedBytes: m.used, CeilingBytes: m.ceiling}
}
