// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/visemo/visemo/internal/domain"
)

// ErrPingExists is returned by InsertPing when a ping for the same
// (user, activity, batch) already exists.
var ErrPingExists = errors.New("ping already exists for batch")

// SessionStore tracks when students started an activity.
type SessionStore interface {
	// GetSession retrieves the activity session, or nil if none exists.
	GetSession(ctx context.Context, userID, activityID int64) (*domain.ActivitySession, error)

	// StartSession records a session start. Returns false if one already existed.
	StartSession(ctx context.Context, userID, activityID int64, startedAt time.Time) (bool, error)
}

// EmotionStore is the append-only emotion event log.
type EmotionStore interface {
	// AppendObservation records a single classified sample and returns its ID.
	AppendObservation(ctx context.Context, obs *domain.Observation) (int64, error)

	// CountObservations returns the number of samples recorded for the pair.
	CountObservations(ctx context.Context, userID, activityID int64) (int, error)

	// RecentObservations returns at most limit of the latest samples, oldest first.
	RecentObservations(ctx context.Context, userID, activityID int64, limit int) ([]domain.Observation, error)

	// AppendEmotionCounts records a pre-aggregated detection batch and returns its ID.
	AppendEmotionCounts(ctx context.Context, counts *domain.EmotionCounts) (int64, error)

	// SumEmotionCounts returns the total number of samples across all batches.
	SumEmotionCounts(ctx context.Context, userID, activityID int64) (int, error)

	// RecentEmotionCounts returns at most limit of the latest non-empty batches, oldest first.
	RecentEmotionCounts(ctx context.Context, userID, activityID int64, limit int) ([]domain.EmotionCounts, error)

	// AggregateUserEmotions totals both representations for one student.
	AggregateUserEmotions(ctx context.Context, userID, activityID int64) (domain.EmotionSummary, error)

	// AggregateActivityEmotions totals both representations for a whole activity.
	AggregateActivityEmotions(ctx context.Context, activityID int64) (domain.EmotionSummary, error)
}

// PingStore persists raised pings and their acknowledgement state.
type PingStore interface {
	// GetPing retrieves the ping for a batch, or nil if none exists.
	GetPing(ctx context.Context, userID, activityID int64, batchIndex int) (*domain.PingRecord, error)

	// InsertPing creates a ping record. Returns ErrPingExists on a duplicate key.
	InsertPing(ctx context.Context, rec *domain.PingRecord) error

	// AcknowledgePing flips an unacknowledged ping to acknowledged.
	// Returns false when no unacknowledged record matched.
	AcknowledgePing(ctx context.Context, userID, activityID int64, batchIndex int, at time.Time) (bool, error)

	// ListPings returns pings for an activity, newest first.
	ListPings(ctx context.Context, activityID int64, pendingOnly bool) ([]*domain.PingRecord, error)
}

// Repository is the full persistence surface used by the server.
type Repository interface {
	SessionStore
	EmotionStore
	PingStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
