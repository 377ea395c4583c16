package ping

import (
	"context"
	"fmt"

	"github.com/visemo/visemo/internal/domain"
)

// Window is the slice of the observation stream evaluated for one check.
type Window struct {
	// Total is the number of observations recorded so far.
	Total int
	// Required is the minimum history for the source.
	Required int
	// Sufficient is false when Total is below Required.
	Sufficient bool
	// BatchIndex identifies the deduplication batch for Total.
	BatchIndex int
	// Recent holds the latest observations in arrival order.
	Recent []domain.Observation
}

// NegativeCount returns how many observations in the window are negative.
func (w Window) NegativeCount() int {
	n := 0
	for _, o := range w.Recent {
		if o.Negative() {
			n++
		}
	}
	return n
}

// Windower derives batch indexes and evaluation windows from an EmotionSource.
type Windower struct {
	source EmotionSource
	rules  Rules
}

// NewWindower creates a windower over source.
func NewWindower(source EmotionSource, rules Rules) *Windower {
	return &Windower{source: source, rules: rules}
}

// ComputeWindow reads the pair's history and returns the current window.
// Insufficient history is reported through Window.Sufficient, not as an error.
func (w *Windower) ComputeWindow(ctx context.Context, userID, activityID int64) (Window, error) {
	required := w.rules.MinObservations(w.source.Mode())

	total, err := w.source.Count(ctx, userID, activityID)
	if err != nil {
		return Window{}, fmt.Errorf("count observations: %w", err)
	}

	win := Window{Total: total, Required: required}
	if total < required {
		return win, nil
	}

	recent, err := w.source.Recent(ctx, userID, activityID, w.rules.WindowSize)
	if err != nil {
		return Window{}, fmt.Errorf("load recent observations: %w", err)
	}
	if len(recent) < w.rules.WindowSize {
		return win, nil
	}

	win.Sufficient = true
	win.BatchIndex = w.rules.BatchIndex(total)
	win.Recent = recent
	return win, nil
}
