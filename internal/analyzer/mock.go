package analyzer

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a deterministic Analyzer for tests. It records the batches it
// receives and can be made to fail.
type Mock struct {
	mu      sync.Mutex
	batches [][]string

	// Err, when set, is returned from every Analyze call.
	Err error
}

// NewMock returns a mock analyzer.
func NewMock() *Mock { return &Mock{} }

// Analyze returns a canned summary naming the batch size.
func (m *Mock) Analyze(ctx context.Context, batch []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	cp := make([]string, len(batch))
	copy(cp, batch)
	m.batches = append(m.batches, cp)
	return fmt.Sprintf("summary of %d chunks", len(batch)), nil
}

// Batches returns the batches received so far.
func (m *Mock) Batches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.batches))
	copy(out, m.batches)
	return out
}
