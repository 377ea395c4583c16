package ping

import (
	"context"
	"fmt"

	"github.com/visemo/visemo/internal/domain"
	"github.com/visemo/visemo/internal/store"
)

// SourceMode names how emotions are represented in the event store.
type SourceMode string

const (
	// ModeLabels reads one row per classified camera sample.
	ModeLabels SourceMode = "labels"
	// ModeCounts reads pre-summed positive/negative/neutral batches.
	ModeCounts SourceMode = "counts"
)

// ParseSourceMode converts a config value into a SourceMode.
func ParseSourceMode(s string) (SourceMode, error) {
	switch SourceMode(s) {
	case ModeLabels, ModeCounts:
		return SourceMode(s), nil
	}
	return "", fmt.Errorf("unknown emotion source %q (want %q or %q)", s, ModeLabels, ModeCounts)
}

// EmotionSource exposes an ordered observation stream for one (user, activity) pair.
type EmotionSource interface {
	// Mode identifies the representation, which sets the minimum history.
	Mode() SourceMode

	// Count returns the total number of observations recorded so far.
	Count(ctx context.Context, userID, activityID int64) (int, error)

	// Recent returns at most n of the latest observations, oldest first.
	Recent(ctx context.Context, userID, activityID int64, n int) ([]domain.Observation, error)
}

// LabelSource reads the raw per-sample emotion log.
type LabelSource struct {
	store store.EmotionStore
}

// NewLabelSource creates a source over per-sample labels.
func NewLabelSource(s store.EmotionStore) *LabelSource {
	return &LabelSource{store: s}
}

// Mode implements EmotionSource.
func (s *LabelSource) Mode() SourceMode { return ModeLabels }

// Count implements EmotionSource.
func (s *LabelSource) Count(ctx context.Context, userID, activityID int64) (int, error) {
	return s.store.CountObservations(ctx, userID, activityID)
}

// Recent implements EmotionSource.
func (s *LabelSource) Recent(ctx context.Context, userID, activityID int64, n int) ([]domain.Observation, error) {
	obs, err := s.store.RecentObservations(ctx, userID, activityID, n)
	if err != nil {
		return nil, err
	}
	for i := range obs {
		// Rows written before valence was stored, or by other writers, are reclassified.
		if obs[i].Valence == "" {
			obs[i].Valence = domain.ClassifyLabel(obs[i].Label)
		}
	}
	return obs, nil
}

// CountSource reads aggregated counter batches and flattens them into a
// virtual sequence so windowing matches the per-sample representation.
type CountSource struct {
	store store.EmotionStore
}

// NewCountSource creates a source over aggregated counters.
func NewCountSource(s store.EmotionStore) *CountSource {
	return &CountSource{store: s}
}

// Mode implements EmotionSource.
func (s *CountSource) Mode() SourceMode { return ModeCounts }

// Count implements EmotionSource.
func (s *CountSource) Count(ctx context.Context, userID, activityID int64) (int, error) {
	return s.store.SumEmotionCounts(ctx, userID, activityID)
}

// Recent implements EmotionSource. Every stored batch is non-empty, so n
// batches always cover at least n virtual observations when available.
func (s *CountSource) Recent(ctx context.Context, userID, activityID int64, n int) ([]domain.Observation, error) {
	batches, err := s.store.RecentEmotionCounts(ctx, userID, activityID, n)
	if err != nil {
		return nil, err
	}

	var seq []domain.Observation
	for _, b := range batches {
		seq = append(seq, b.Flatten()...)
	}
	if len(seq) > n {
		seq = seq[len(seq)-n:]
	}
	return seq, nil
}

// NewSource builds the adapter for mode.
func NewSource(mode SourceMode, s store.EmotionStore) (EmotionSource, error) {
	switch mode {
	case ModeLabels:
		return NewLabelSource(s), nil
	case ModeCounts:
		return NewCountSource(s), nil
	}
	return nil, fmt.Errorf("unknown emotion source %q", mode)
}

var (
	_ EmotionSource = (*LabelSource)(nil)
	_ EmotionSource = (*CountSource)(nil)
)
