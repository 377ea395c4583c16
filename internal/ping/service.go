package ping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/visemo/visemo/internal/domain"
	"github.com/visemo/visemo/internal/store"
)

// Outcome tags the result of a ping check.
type Outcome string

const (
	OutcomeNoSession        Outcome = "no_session"
	OutcomeBelowTime        Outcome = "below_time_threshold"
	OutcomeInsufficientData Outcome = "insufficient_data"
	OutcomeAlreadyPinged    Outcome = "already_pinged"
	OutcomePinged           Outcome = "pinged"
	OutcomeThresholdNotMet  Outcome = "threshold_not_met"
)

// CheckResult is returned for every ping check that reached storage.
// Precondition failures are encoded in Outcome, not as errors.
type CheckResult struct {
	Outcome          Outcome `json:"outcome"`
	Pinged           bool    `json:"pinged"`
	Reason           string  `json:"reason"`
	Acknowledged     bool    `json:"acknowledged"`
	BatchIndex       *int    `json:"pingBatchIndex,omitempty"`
	NegativeCount    int     `json:"negativeCount,omitempty"`
	ObservationCount int     `json:"observationCount,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service is the ping decision engine and acknowledgement log.
type Service struct {
	sessions store.SessionStore
	pings    store.PingStore
	windower *Windower
	rules    Rules
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a ping service reading emotions from source.
func NewService(sessions store.SessionStore, pings store.PingStore, source EmotionSource, rules Rules, opts ...Option) (*Service, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ping rules: %w", err)
	}
	s := &Service{
		sessions: sessions,
		pings:    pings,
		windower: NewWindower(source, rules),
		rules:    rules,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Rules returns the thresholds the service evaluates with.
func (s *Service) Rules() Rules {
	return s.rules
}

// CheckForPing evaluates the student's recent emotions and raises a ping
// when the negative threshold is met for a batch not yet pinged.
func (s *Service) CheckForPing(ctx context.Context, userID, activityID int64) (CheckResult, error) {
	sess, err := s.sessions.GetSession(ctx, userID, activityID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return CheckResult{Outcome: OutcomeNoSession, Reason: "No activity session found"}, nil
	}

	if sess.Elapsed(s.now()) < s.rules.MinElapsed {
		return CheckResult{
			Outcome: OutcomeBelowTime,
			Reason:  fmt.Sprintf("Activity has not yet passed %s threshold", formatThreshold(s.rules.MinElapsed)),
		}, nil
	}

	win, err := s.windower.ComputeWindow(ctx, userID, activityID)
	if err != nil {
		return CheckResult{}, err
	}
	if !win.Sufficient {
		return CheckResult{
			Outcome:          OutcomeInsufficientData,
			Reason:           fmt.Sprintf("Only %d recent emotion logs. Minimum required: %d.", win.Total, win.Required),
			ObservationCount: win.Total,
		}, nil
	}

	batch := win.BatchIndex
	existing, err := s.pings.GetPing(ctx, userID, activityID, batch)
	if err != nil {
		return CheckResult{}, fmt.Errorf("get ping: %w", err)
	}
	if existing != nil {
		return alreadyPinged(existing, win.Total), nil
	}

	negatives := win.NegativeCount()
	if negatives < s.rules.NegativeThreshold {
		return CheckResult{
			Outcome: OutcomeThresholdNotMet,
			Reason: fmt.Sprintf("Only %d negative emotions in recent %d. Minimum required: %d.",
				negatives, len(win.Recent), s.rules.NegativeThreshold),
			NegativeCount:    negatives,
			ObservationCount: win.Total,
		}, nil
	}

	rec := &domain.PingRecord{
		UserID:     userID,
		ActivityID: activityID,
		BatchIndex: batch,
		CreatedAt:  s.now(),
	}
	if err := s.pings.InsertPing(ctx, rec); err != nil {
		if !errors.Is(err, store.ErrPingExists) {
			return CheckResult{}, fmt.Errorf("insert ping: %w", err)
		}
		// A concurrent check won the insert; report its record.
		winner, getErr := s.pings.GetPing(ctx, userID, activityID, batch)
		if getErr != nil {
			return CheckResult{}, fmt.Errorf("reload ping after conflict: %w", getErr)
		}
		if winner == nil {
			return CheckResult{}, fmt.Errorf("ping for batch %d missing after conflict", batch)
		}
		s.logger.Debug("Ping insert lost race",
			"user_id", userID, "activity_id", activityID, "batch_index", batch)
		return alreadyPinged(winner, win.Total), nil
	}

	s.logger.Info("Ping raised",
		"user_id", userID,
		"activity_id", activityID,
		"batch_index", batch,
		"negative_count", negatives,
		"observation_count", win.Total)

	return CheckResult{
		Outcome: OutcomePinged,
		Pinged:  true,
		Reason: fmt.Sprintf("Ping triggered: at least %d negative emotions in recent %d",
			s.rules.NegativeThreshold, len(win.Recent)),
		BatchIndex:       intPtr(batch),
		NegativeCount:    negatives,
		ObservationCount: win.Total,
	}, nil
}

// AcknowledgePing marks the batch's ping as acknowledged. Missing or
// already acknowledged pings are left untouched.
func (s *Service) AcknowledgePing(ctx context.Context, userID, activityID int64, batchIndex int) error {
	changed, err := s.pings.AcknowledgePing(ctx, userID, activityID, batchIndex, s.now())
	if err != nil {
		return fmt.Errorf("acknowledge ping: %w", err)
	}
	if changed {
		s.logger.Info("Ping acknowledged",
			"user_id", userID, "activity_id", activityID, "batch_index", batchIndex)
	}
	return nil
}

// HasAcknowledgedPing reports whether the batch's ping was acknowledged.
// A missing ping is reported as not acknowledged.
func (s *Service) HasAcknowledgedPing(ctx context.Context, userID, activityID int64, batchIndex int) (bool, error) {
	rec, err := s.pings.GetPing(ctx, userID, activityID, batchIndex)
	if err != nil {
		return false, fmt.Errorf("get ping: %w", err)
	}
	if rec == nil {
		return false, nil
	}
	return rec.Acknowledged, nil
}

// ListPings returns an activity's pings for the instructor dashboard.
func (s *Service) ListPings(ctx context.Context, activityID int64, pendingOnly bool) ([]*domain.PingRecord, error) {
	pings, err := s.pings.ListPings(ctx, activityID, pendingOnly)
	if err != nil {
		return nil, fmt.Errorf("list pings: %w", err)
	}
	return pings, nil
}

func alreadyPinged(rec *domain.PingRecord, total int) CheckResult {
	return CheckResult{
		Outcome:          OutcomeAlreadyPinged,
		Reason:           fmt.Sprintf("Ping already triggered for batch %d", rec.BatchIndex),
		Acknowledged:     rec.Acknowledged,
		BatchIndex:       intPtr(rec.BatchIndex),
		ObservationCount: total,
	}
}

func formatThreshold(d time.Duration) string {
	if m := d.Minutes(); m == math.Trunc(m) {
		return fmt.Sprintf("%d-minute", int(m))
	}
	return d.String()
}

func intPtr(v int) *int {
	return &v
}
