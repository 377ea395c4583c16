// Package domain contains core domain types for the Visemo activity platform.
package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyLabel is returned when an emotion sample carries no label.
var ErrEmptyLabel = errors.New("emotion label is required")

// Valence is the coarse polarity of an emotion sample.
type Valence string

const (
	ValencePositive Valence = "positive"
	ValenceNeutral  Valence = "neutral"
	ValenceNegative Valence = "negative"
)

// negativeLabels is the fixed set of detector labels treated as negative affect.
var negativeLabels = map[string]struct{}{
	"anger":   {},
	"disgust": {},
	"sad":     {},
	"fear":    {},
}

// positiveLabels are detector labels counted as positive in aggregates.
var positiveLabels = map[string]struct{}{
	"happy":    {},
	"surprise": {},
}

// NormalizeLabel lowercases and trims a detector label.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// IsNegativeLabel reports whether label belongs to the negative set.
// Comparison is case-insensitive.
func IsNegativeLabel(label string) bool {
	_, ok := negativeLabels[NormalizeLabel(label)]
	return ok
}

// ClassifyLabel maps a detector label to its valence. Unknown labels are neutral.
func ClassifyLabel(label string) Valence {
	l := NormalizeLabel(label)
	if _, ok := negativeLabels[l]; ok {
		return ValenceNegative
	}
	if _, ok := positiveLabels[l]; ok {
		return ValencePositive
	}
	return ValenceNeutral
}

// Observation is a single emotion sample for a (user, activity) pair.
type Observation struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	ActivityID int64     `json:"activity_id"`
	Label      string    `json:"label"`
	Valence    Valence   `json:"valence"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewObservation builds a classified sample from a detector label.
func NewObservation(userID, activityID int64, label string, at time.Time) (*Observation, error) {
	l := NormalizeLabel(label)
	if l == "" {
		return nil, ErrEmptyLabel
	}
	return &Observation{
		UserID:     userID,
		ActivityID: activityID,
		Label:      l,
		Valence:    ClassifyLabel(l),
		RecordedAt: at,
	}, nil
}

// Negative reports whether the observation counts toward the negative threshold.
func (o Observation) Negative() bool {
	return o.Valence == ValenceNegative
}

// EmotionCounts is one pre-aggregated detection batch.
type EmotionCounts struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	ActivityID int64     `json:"activity_id"`
	Positive   int       `json:"positive"`
	Negative   int       `json:"negative"`
	Neutral    int       `json:"neutral"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Total returns the number of samples the batch stands for.
func (c EmotionCounts) Total() int {
	return c.Positive + c.Negative + c.Neutral
}

// Flatten expands the counters into a virtual observation sequence.
// Labels are emitted grouped in the order positive, negative, neutral.
func (c EmotionCounts) Flatten() []Observation {
	out := make([]Observation, 0, c.Total())
	emit := func(v Valence, n int) {
		for i := 0; i < n; i++ {
			out = append(out, Observation{
				ID:         c.ID,
				UserID:     c.UserID,
				ActivityID: c.ActivityID,
				Label:      string(v),
				Valence:    v,
				RecordedAt: c.RecordedAt,
			})
		}
	}
	emit(ValencePositive, c.Positive)
	emit(ValenceNegative, c.Negative)
	emit(ValenceNeutral, c.Neutral)
	return out
}

// EmotionSummary holds valence totals for dashboards.
type EmotionSummary struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Add folds other into s.
func (s *EmotionSummary) Add(other EmotionSummary) {
	s.Positive += other.Positive
	s.Negative += other.Negative
	s.Neutral += other.Neutral
}
