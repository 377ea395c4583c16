// Package ping detects sustained negative affect in a student's emotion
// stream and raises at most one concern ping per batch of observations.
package ping

import (
	"fmt"
	"time"
)

const (
	// MinElapsed is how long a session must run before it is evaluated.
	MinElapsed = 10 * time.Minute
	// WindowSize is the number of most recent observations evaluated.
	WindowSize = 10
	// NegativeThreshold is the minimum negative count in a window that raises a ping.
	NegativeThreshold = 5
	// BatchSize is the number of observations per deduplication batch.
	BatchSize = 10
	// MinLabelObservations is the minimum history for per-sample sources.
	MinLabelObservations = 10
	// MinCountObservations is the minimum history for aggregated-counter sources.
	MinCountObservations = 20
)

// Rules bundles the sensitivity constants used by the engine.
type Rules struct {
	MinElapsed           time.Duration
	WindowSize           int
	NegativeThreshold    int
	BatchSize            int
	MinLabelObservations int
	MinCountObservations int
}

// DefaultRules returns the product defaults.
func DefaultRules() Rules {
	return Rules{
		MinElapsed:           MinElapsed,
		WindowSize:           WindowSize,
		NegativeThreshold:    NegativeThreshold,
		BatchSize:            BatchSize,
		MinLabelObservations: MinLabelObservations,
		MinCountObservations: MinCountObservations,
	}
}

// Validate checks that the rules describe a usable window.
func (r Rules) Validate() error {
	if r.MinElapsed < 0 {
		return fmt.Errorf("min elapsed must be >= 0")
	}
	if r.WindowSize <= 0 {
		return fmt.Errorf("window size must be > 0")
	}
	if r.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0")
	}
	if r.NegativeThreshold <= 0 || r.NegativeThreshold > r.WindowSize {
		return fmt.Errorf("negative threshold must be in [1, %d]", r.WindowSize)
	}
	if r.MinLabelObservations < r.WindowSize || r.MinCountObservations < r.WindowSize {
		return fmt.Errorf("minimum observations must be >= window size %d", r.WindowSize)
	}
	return nil
}

// MinObservations returns the history required before evaluating a source.
func (r Rules) MinObservations(mode SourceMode) int {
	if mode == ModeCounts {
		return r.MinCountObservations
	}
	return r.MinLabelObservations
}

// BatchIndex maps a total observation count to its deduplication batch.
// It depends only on total, so replaying the log yields the same index.
func (r Rules) BatchIndex(total int) int {
	if total < r.WindowSize {
		return 0
	}
	return (total - r.WindowSize) / r.BatchSize
}
