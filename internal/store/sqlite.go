package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/visemo/visemo/internal/domain"
	"github.com/visemo/visemo/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a ping insert holds the write lock.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS activity_sessions (
		user_id INTEGER NOT NULL,
		activity_id INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		PRIMARY KEY (user_id, activity_id)
	);

	CREATE TABLE IF NOT EXISTS emotion_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		activity_id INTEGER NOT NULL,
		detected_emotion TEXT NOT NULL,
		valence TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_emotion_logs_pair ON emotion_logs(user_id, activity_id, id);
	CREATE INDEX IF NOT EXISTS idx_emotion_logs_activity ON emotion_logs(activity_id);

	CREATE TABLE IF NOT EXISTS user_emotions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		activity_id INTEGER NOT NULL,
		positive INTEGER NOT NULL DEFAULT 0 CHECK (positive >= 0),
		negative INTEGER NOT NULL DEFAULT 0 CHECK (negative >= 0),
		neutral INTEGER NOT NULL DEFAULT 0 CHECK (neutral >= 0),
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_user_emotions_pair ON user_emotions(user_id, activity_id, id);
	CREATE INDEX IF NOT EXISTS idx_user_emotions_activity ON user_emotions(activity_id);

	CREATE TABLE IF NOT EXISTS ping_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		activity_id INTEGER NOT NULL,
		batch_index INTEGER NOT NULL CHECK (batch_index >= 0),
		acknowledged INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		acknowledged_at INTEGER
	);
	CREATE UNIQUE INDEX IF NOT EXISTS ux_ping_logs_batch ON ping_logs(user_id, activity_id, batch_index);
	CREATE INDEX IF NOT EXISTS idx_ping_logs_activity ON ping_logs(activity_id, acknowledged);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying with exponential backoff on SQLITE_BUSY
// and "database is locked" errors.
func withRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("Database busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves the activity session for a student.
func (s *SQLiteStore) GetSession(ctx context.Context, userID, activityID int64) (*domain.ActivitySession, error) {
	query := `SELECT user_id, activity_id, start_time FROM activity_sessions WHERE user_id = ? AND activity_id = ?`

	var sess domain.ActivitySession
	var startTime int64
	err := s.db.QueryRowContext(ctx, query, userID, activityID).Scan(&sess.UserID, &sess.ActivityID, &startTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.StartTime = time.Unix(startTime, 0)
	return &sess, nil
}

// StartSession records the start of a student's activity session.
// A second call for the same pair leaves the original start time in place.
func (s *SQLiteStore) StartSession(ctx context.Context, userID, activityID int64, startedAt time.Time) (bool, error) {
	query := `
	INSERT INTO activity_sessions (user_id, activity_id, start_time)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id, activity_id) DO NOTHING`

	var rows int64
	err := withRetry(ctx, "start session", func() error {
		result, err := s.db.ExecContext(ctx, query, userID, activityID, startedAt.Unix())
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("start session: %w", err)
	}
	return rows == 1, nil
}

// AppendObservation records a classified emotion sample.
func (s *SQLiteStore) AppendObservation(ctx context.Context, obs *domain.Observation) (int64, error) {
	query := `
	INSERT INTO emotion_logs (user_id, activity_id, detected_emotion, valence, recorded_at)
	VALUES (?, ?, ?, ?, ?)`

	var id int64
	err := withRetry(ctx, "append observation", func() error {
		result, err := s.db.ExecContext(ctx, query,
			obs.UserID, obs.ActivityID, obs.Label, string(obs.Valence), obs.RecordedAt.Unix(),
		)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("append observation: %w", err)
	}
	obs.ID = id
	return id, nil
}

// CountObservations returns the number of samples recorded for a student.
func (s *SQLiteStore) CountObservations(ctx context.Context, userID, activityID int64) (int, error) {
	query := `SELECT COUNT(*) FROM emotion_logs WHERE user_id = ? AND activity_id = ?`

	var n int
	if err := s.db.QueryRowContext(ctx, query, userID, activityID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

// RecentObservations returns the latest samples in arrival order.
func (s *SQLiteStore) RecentObservations(ctx context.Context, userID, activityID int64, limit int) ([]domain.Observation, error) {
	query := `
		SELECT id, user_id, activity_id, detected_emotion, valence, recorded_at
		FROM emotion_logs WHERE user_id = ? AND activity_id = ?
		ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, activityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent observations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close observation rows", "error", closeErr)
		}
	}()

	var out []domain.Observation
	for rows.Next() {
		var obs domain.Observation
		var valence string
		var recordedAt int64
		if err := rows.Scan(&obs.ID, &obs.UserID, &obs.ActivityID, &obs.Label, &valence, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		obs.Valence = domain.Valence(valence)
		obs.RecordedAt = time.Unix(recordedAt, 0)
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}

	reverse(out)
	return out, nil
}

// AppendEmotionCounts records a pre-aggregated detection batch.
func (s *SQLiteStore) AppendEmotionCounts(ctx context.Context, counts *domain.EmotionCounts) (int64, error) {
	query := `
	INSERT INTO user_emotions (user_id, activity_id, positive, negative, neutral, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	var id int64
	err := withRetry(ctx, "append emotion counts", func() error {
		result, err := s.db.ExecContext(ctx, query,
			counts.UserID, counts.ActivityID,
			counts.Positive, counts.Negative, counts.Neutral,
			counts.RecordedAt.Unix(),
		)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("append emotion counts: %w", err)
	}
	counts.ID = id
	return id, nil
}

// SumEmotionCounts returns the total samples across a student's batches.
func (s *SQLiteStore) SumEmotionCounts(ctx context.Context, userID, activityID int64) (int, error) {
	query := `
		SELECT COALESCE(SUM(positive + negative + neutral), 0)
		FROM user_emotions WHERE user_id = ? AND activity_id = ?`

	var n int
	if err := s.db.QueryRowContext(ctx, query, userID, activityID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum emotion counts: %w", err)
	}
	return n, nil
}

// RecentEmotionCounts returns the latest non-empty batches in arrival order.
func (s *SQLiteStore) RecentEmotionCounts(ctx context.Context, userID, activityID int64, limit int) ([]domain.EmotionCounts, error) {
	query := `
		SELECT id, user_id, activity_id, positive, negative, neutral, recorded_at
		FROM user_emotions
		WHERE user_id = ? AND activity_id = ? AND positive + negative + neutral > 0
		ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, activityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent emotion counts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close emotion count rows", "error", closeErr)
		}
	}()

	var out []domain.EmotionCounts
	for rows.Next() {
		var c domain.EmotionCounts
		var recordedAt int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.ActivityID, &c.Positive, &c.Negative, &c.Neutral, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan emotion count row: %w", err)
		}
		c.RecordedAt = time.Unix(recordedAt, 0)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emotion counts: %w", err)
	}

	reverse(out)
	return out, nil
}

// AggregateUserEmotions totals a student's samples by valence.
func (s *SQLiteStore) AggregateUserEmotions(ctx context.Context, userID, activityID int64) (domain.EmotionSummary, error) {
	return s.aggregate(ctx, "user_id = ? AND activity_id = ?", userID, activityID)
}

// AggregateActivityEmotions totals all students' samples by valence.
func (s *SQLiteStore) AggregateActivityEmotions(ctx context.Context, activityID int64) (domain.EmotionSummary, error) {
	return s.aggregate(ctx, "activity_id = ?", activityID)
}

func (s *SQLiteStore) aggregate(ctx context.Context, where string, args ...interface{}) (domain.EmotionSummary, error) {
	var sum domain.EmotionSummary

	rows, err := s.db.QueryContext(ctx,
		`SELECT valence, COUNT(*) FROM emotion_logs WHERE `+where+` GROUP BY valence`, args...)
	if err != nil {
		return sum, fmt.Errorf("aggregate emotion logs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close aggregate rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var valence string
		var n int
		if err := rows.Scan(&valence, &n); err != nil {
			return sum, fmt.Errorf("scan aggregate row: %w", err)
		}
		switch domain.Valence(valence) {
		case domain.ValencePositive:
			sum.Positive += n
		case domain.ValenceNegative:
			sum.Negative += n
		default:
			sum.Neutral += n
		}
	}
	if err := rows.Err(); err != nil {
		return sum, fmt.Errorf("iterate aggregate rows: %w", err)
	}

	var counters domain.EmotionSummary
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(positive), 0), COALESCE(SUM(negative), 0), COALESCE(SUM(neutral), 0)
		 FROM user_emotions WHERE `+where, args...,
	).Scan(&counters.Positive, &counters.Negative, &counters.Neutral)
	if err != nil {
		return sum, fmt.Errorf("aggregate emotion counts: %w", err)
	}

	sum.Add(counters)
	return sum, nil
}

const pingColumns = `id, user_id, activity_id, batch_index, acknowledged, created_at, acknowledged_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPing(row rowScanner) (*domain.PingRecord, error) {
	var rec domain.PingRecord
	var createdAt int64
	var acknowledgedAt sql.NullInt64

	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.ActivityID, &rec.BatchIndex,
		&rec.Acknowledged, &createdAt, &acknowledgedAt,
	); err != nil {
		return nil, err
	}

	rec.CreatedAt = time.Unix(createdAt, 0)
	if acknowledgedAt.Valid {
		ts := time.Unix(acknowledgedAt.Int64, 0)
		rec.AcknowledgedAt = &ts
	}
	return &rec, nil
}

// GetPing retrieves the ping raised for a batch.
func (s *SQLiteStore) GetPing(ctx context.Context, userID, activityID int64, batchIndex int) (*domain.PingRecord, error) {
	query := `SELECT ` + pingColumns + ` FROM ping_logs
		WHERE user_id = ? AND activity_id = ? AND batch_index = ?`

	rec, err := scanPing(s.db.QueryRowContext(ctx, query, userID, activityID, batchIndex))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan ping row: %w", err)
	}
	return rec, nil
}

// InsertPing creates a ping record. The unique index on
// (user_id, activity_id, batch_index) makes this the at-most-once guard.
func (s *SQLiteStore) InsertPing(ctx context.Context, rec *domain.PingRecord) error {
	query := `
	INSERT INTO ping_logs (user_id, activity_id, batch_index, acknowledged, created_at)
	VALUES (?, ?, ?, ?, ?)`

	var id int64
	err := withRetry(ctx, "insert ping", func() error {
		result, err := s.db.ExecContext(ctx, query,
			rec.UserID, rec.ActivityID, rec.BatchIndex, rec.Acknowledged, rec.CreatedAt.Unix(),
		)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if shared.IsSQLiteUniqueError(err) {
		return ErrPingExists
	}
	if err != nil {
		return fmt.Errorf("insert ping: %w", err)
	}
	rec.ID = id
	return nil
}

// AcknowledgePing marks an unacknowledged ping as acknowledged.
func (s *SQLiteStore) AcknowledgePing(ctx context.Context, userID, activityID int64, batchIndex int, at time.Time) (bool, error) {
	query := `
	UPDATE ping_logs SET acknowledged = 1, acknowledged_at = ?
	WHERE user_id = ? AND activity_id = ? AND batch_index = ? AND acknowledged = 0`

	var rows int64
	err := withRetry(ctx, "acknowledge ping", func() error {
		result, err := s.db.ExecContext(ctx, query, at.Unix(), userID, activityID, batchIndex)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("acknowledge ping: %w", err)
	}
	return rows > 0, nil
}

// ListPings returns the pings raised during an activity, newest first.
func (s *SQLiteStore) ListPings(ctx context.Context, activityID int64, pendingOnly bool) ([]*domain.PingRecord, error) {
	query := `SELECT ` + pingColumns + ` FROM ping_logs WHERE activity_id = ?`
	if pendingOnly {
		query += ` AND acknowledged = 0`
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("query pings: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close ping rows", "error", closeErr)
		}
	}()

	var out []*domain.PingRecord
	for rows.Next() {
		rec, err := scanPing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ping row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pings: %w", err)
	}
	return out, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

var _ Repository = (*SQLiteStore)(nil)
