// Package analyzer defines the external analysis collaborator interface and
// its Anthropic-backed implementation.
//
// The maintenance scheduler hands batches of chunk content to an Analyzer and
// stores the result as a new chunk in the analysis category. Any analyzer
// error is retryable on the next tick; source chunks are never deleted on
// failure.
package analyzer

import (
	"context"
	"errors"
)

// ErrUnavailable marks an analyzer failure that should be retried on the
// next maintenance tick.
var ErrUnavailable = errors.New("analyzer unavailable")

// Analyzer derives summarized context from a batch of raw chunk contents.
type Analyzer interface {
	// Analyze returns a distilled text summary of the batch. Errors wrap
	// ErrUnavailable when the failure is transient.
	Analyze(ctx context.Context, batch []string) (string, error)
}
