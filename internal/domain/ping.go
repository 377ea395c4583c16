package domain

import (
	"time"
)

// PingRecord is a raised concern ping for one batch of observations.
// At most one record exists per (UserID, ActivityID, BatchIndex).
type PingRecord struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	ActivityID     int64      `json:"activity_id"`
	BatchIndex     int        `json:"batch_index"`
	Acknowledged   bool       `json:"acknowledged"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}
