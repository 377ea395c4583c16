package domain

import (
	"time"
)

// ActivitySession records when a student began an activity.
type ActivitySession struct {
	UserID     int64     `json:"user_id"`
	ActivityID int64     `json:"activity_id"`
	StartTime  time.Time `json:"start_time"`
}

// Elapsed returns how long the session has been running at now.
// Returns 0 if now is before the start time.
func (s *ActivitySession) Elapsed(now time.Time) time.Duration {
	d := now.Sub(s.StartTime)
	if d < 0 {
		return 0
	}
	return d
}
