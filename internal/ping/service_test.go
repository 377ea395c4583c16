package ping

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/visemo/visemo/internal/domain"
)

var testNow = time.Date(2025, 7, 24, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, fs *fakeStore, source EmotionSource) *Service {
	t.Helper()
	if source == nil {
		source = NewLabelSource(fs)
	}
	svc, err := NewService(fs, fs, source, DefaultRules(),
		WithClock(func() time.Time { return testNow }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func startedAgo(fs *fakeStore, userID, activityID int64, d time.Duration) {
	_, _ = fs.StartSession(context.Background(), userID, activityID, testNow.Add(-d))
}

func TestCheckForPingNoSession(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)

	res, err := svc.CheckForPing(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("CheckForPing failed: %v", err)
	}
	if res.Outcome != OutcomeNoSession || res.Pinged {
		t.Fatalf("Expected no_session, got %+v", res)
	}
}

func TestCheckForPingBelowTimeThreshold(t *testing.T) {
	fs := newFakeStore()
	startedAgo(fs, 1, 1, 9*time.Minute+59*time.Second)
	fs.addLabels(1, 1, repeat("anger", 10)...)
	svc := newTestService(t, fs, nil)

	res, err := svc.CheckForPing(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("CheckForPing failed: %v", err)
	}
	if res.Outcome != OutcomeBelowTime || res.Pinged {
		t.Fatalf("Expected below_time_threshold, got %+v", res)
	}
	if !strings.Contains(res.Reason, "10-minute") {
		t.Errorf("Expected reason to mention threshold, got %q", res.Reason)
	}
}

func TestCheckForPingInsufficientObservations(t *testing.T) {
	for n := 0; n < MinLabelObservations; n++ {
		fs := newFakeStore()
		startedAgo(fs, 1, 1, 15*time.Minute)
		fs.addLabels(1, 1, repeat("fear", n)...)
		svc := newTestService(t, fs, nil)

		res, err := svc.CheckForPing(context.Background(), 1, 1)
		if err != nil {
			t.Fatalf("n=%d: CheckForPing failed: %v", n, err)
		}
		if res.Outcome != OutcomeInsufficientData || res.Pinged {
			t.Fatalf("n=%d: expected insufficient_data, got %+v", n, res)
		}
		if res.ObservationCount != n {
			t.Errorf("n=%d: expected observation count %d, got %d", n, n, res.ObservationCount)
		}
	}
}

func TestCheckForPingInsufficientCounts(t *testing.T) {
	fs := newFakeStore()
	startedAgo(fs, 1, 1, 15*time.Minute)
	fs.addCounts(1, 1, 0, 19, 0)
	svc := newTestService(t, fs, NewCountSource(fs))

	res, err := svc.CheckForPing(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("CheckForPing failed: %v", err)
	}
	if res.Outcome != OutcomeInsufficientData {
		t.Fatalf("Expected insufficient_data below 20 counted samples, got %+v", res)
	}
	if !strings.Contains(res.Reason, "20") {
		t.Errorf("Expected reason to mention minimum 20, got %q", res.Reason)
	}
}

func TestCheckForPingThresholdMet(t *testing.T) {
	fs := newFakeStore()
	startedAgo(fs, 1, 1, 15*time.Minute)
	fs.addLabels(1, 1, "anger", "sad", "happy", "fear", "disgust", "happy", "happy", "sad", "happy", "happy")
	svc := newTestService(t, fs, nil)

	res, err := svc.CheckForPing(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("CheckForPing failed: %v", err)
	}
	if !res.Pinged || res.Outcome != OutcomePinged || res.Acknowledged {
		t.Fatalf("Expected fresh ping, got %+v", res)
	}
	if res.BatchIndex == nil || *res.BatchIndex != 0 {
		t.Fatalf("Expected batch 0, got %v", res.BatchIndex)
	}
	if fs.pingCount() != 1 {
		t.Fatalf("Expected one stored ping, got %d", fs.pingCount())
	}
}

func TestCheckForPingThresholdNotMet(t *testing.T) {
	fs := newFakeStore()
	startedAgo(fs, 1, 1, 15*time.Minute)
	fs.addLabels(1, 1, "anger", "sad", "happy", "fear", "happy", "happy", "happy", "neutral", "happy", "disgust")
	svc := newTestService(t, fs, nil)

	res, err := svc.CheckForPing(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("CheckForPing failed: %v", err)
	}
	if res.Pinged || res.Outcome != OutcomeThresholdNotMet {
		t.Fatalf("Expected threshold_not_met, got %+v", res)
	}
	if res.NegativeCount != 4 || !strings.Contains(res.Reason, "4") {
		t.Errorf("Expected 4 negatives in result, got %d / %q", res.NegativeCount, res.Reason)
	}
	if res.BatchIndex != nil {
		t.Errorf("Expected no batch index, got %d", *res.BatchIndex)
	}
	if fs.pingCount() != 0 {
		t.Fatalf("Expected no stored ping, got %d", fs.pingCount())
	}
}

func TestCheckForPingCaseInsensitiveLabels(t *testing.T) {
	fs := newFakeStore()
	startedAgo(fs, 1, 1, 15*time.Minute)
	// Stored without valence, as an external detector might write them.
	for _, l := range []string{"ANGER", "Sad", "FEAR", "Disgust", "sad", "happy", "happy", "happy", "happy", "happy"} {
		_, _ = fs.AppendObservation(context.Background(), &domain.Observation{UserID: 1, ActivityID: 1, Label: l})
	}
	svc := newTestService(t, fs, nil)

	res, err := svc.CheckForPing(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("CheckForPing failed: %v", err)
	}
	if !res.Pinged {
		t.Fatalf("Expected mixed-case negative labels to trigger a ping, got %+v", res)
	}
}

func TestCheckForPingIdempotentWithinBatch(t *testing.T) {
	fs := newFakeStore()
	startedAgo(fs, 1, 1, 15*time.Minute)
	fs.addLabels(1, 1, repeat("sad", 12)...)
	svc := newTestService(t, fs, nil)
	ctx := context.Background()

	first, err := svc.CheckForPing(ctx, 1, 1)
	if err != nil {
		t.Fatalf("first CheckForPing failed: %v", err)
	}
	second, err := svc.CheckForPing(ctx, 1, 1)
	if err != nil {
		t.Fatalf("second CheckForPing failed: %v", err)
	}

	if !first.Pinged {
		t.Fatalf("Expected first call to ping, got %+v", first)
	}
	if second.Pinged || second.Outcome != OutcomeAlreadyPinged {
		t.Fatalf("Expected already_pinged, got %+v", second)
	}
	if *first.BatchIndex != *second.BatchIndex {
		t.Errorf("Batch index changed: %d -> %d", *first.BatchIndex, *second.BatchIndex)
	}
	if fs.pingCount() != 1 {
		t.Fatalf("Expected one stored ping, got %d", fs.pingCount())
	}
}

func TestCheckForPingNextBatchPingsAgain(t *testing.T) {
	fs := newFakeStore()
	startedAgo(fs, 1, 1, 30*time.Minute)
	fs.addLabels(1, 1, repeat("fear", 10)...)
	svc := newTestService(t, fs, nil)
	ctx := context.Background()

	if res, _ := svc.CheckForPing(ctx, 1, 1); !res.Pinged || *res.BatchIndex != 0 {
		t.Fatalf("Expected ping for batch 0, got %+v", res)
	}

	fs.addLabels(1, 1, repeat("fear", 9)...)
	res, err := svc.CheckForPing(ctx, 1, 1)
	if err != nil {
		t.Fatalf("CheckForPing failed: %v", err)
	}
	if res.Outcome != OutcomeAlreadyPinged || *res.BatchIndex != 0 {
		t.Fatalf("Expected batch 0 to stay deduplicated at 19 samples, got %+v", res)
	}

	fs.addLabels(1, 1, "fear")
	res, err = svc.CheckForPing(ctx, 1, 1)
	if err != nil {
		t.Fatalf("CheckForPing failed: %v", err)
	}
	if !res.Pinged || *res.BatchIndex != 1 {
		t.Fatalf("Expected new ping for batch 1, got %+v", res)
	}
}

func TestCheckForPingSurfacesAcknowledgement(t *testing.T) {
	fs := newFakeStore()
	startedAgo(fs, 1, 1, 15*time.Minute)
	fs.addLabels(1, 1, repeat("anger", 10)...)
	svc := newTestService(t, fs, nil)
	ctx := context.Background()

	if _, err := svc.CheckForPing(ctx, 1, 1); err != nil {
		t.Fatalf("CheckForPing failed: %v", err)
	}
	if err := svc.AcknowledgePing(ctx, 1, 1, 0); err != nil {
		t.Fatalf("AcknowledgePing failed: %v", err)
	}

	res, err := svc.CheckForPing(ctx, 1, 1)
	if err != nil {
		t.Fatalf("CheckForPing failed: %v", err)
	}
	if res.Outcome != OutcomeAlreadyPinged || !res.Acknowledged {
		t.Fatalf("Expected acknowledged already_pinged result, got %+v", res)
	}
}

func TestCheckForPingRecoversFromInsertRace(t *testing.T) {
	fs := newFakeStore()
	startedAgo(fs, 1, 1, 15*time.Minute)
	fs.addLabels(1, 1, repeat("disgust", 10)...)
	svc := newTestService(t, fs, nil)

	// Another evaluation inserts the same batch between lookup and insert.
	fs.beforeInsert = func() {
		fs.beforeInsert = nil
		_ = fs.InsertPing(context.Background(), &domain.PingRecord{UserID: 1, ActivityID: 1, BatchIndex: 0, CreatedAt: testNow})
	}

	res, err := svc.CheckForPing(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Expected race to be absorbed, got error: %v", err)
	}
	if res.Pinged || res.Outcome != OutcomeAlreadyPinged {
		t.Fatalf("Expected already_pinged after losing race, got %+v", res)
	}
	if res.BatchIndex == nil || *res.BatchIndex != 0 {
		t.Fatalf("Expected batch 0, got %v", res.BatchIndex)
	}
	if fs.pingCount() != 1 {
		t.Fatalf("Expected exactly one stored ping, got %d", fs.pingCount())
	}
}

func TestCheckForPingStorageError(t *testing.T) {
	fs := newFakeStore()
	fs.err = errors.New("disk I/O error")
	svc := newTestService(t, fs, nil)

	if _, err := svc.CheckForPing(context.Background(), 1, 1); err == nil {
		t.Fatal("Expected storage failure to surface as error")
	}
}

func TestAcknowledgePingIdempotent(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)
	ctx := context.Background()

	// Missing record is a no-op.
	if err := svc.AcknowledgePing(ctx, 1, 1, 0); err != nil {
		t.Fatalf("AcknowledgePing on missing ping failed: %v", err)
	}
	if ok, err := svc.HasAcknowledgedPing(ctx, 1, 1, 0); err != nil || ok {
		t.Fatalf("Expected missing ping to be unacknowledged, got %v, %v", ok, err)
	}

	_ = fs.InsertPing(ctx, &domain.PingRecord{UserID: 1, ActivityID: 1, BatchIndex: 0, CreatedAt: testNow})

	for i := 0; i < 2; i++ {
		if err := svc.AcknowledgePing(ctx, 1, 1, 0); err != nil {
			t.Fatalf("AcknowledgePing #%d failed: %v", i+1, err)
		}
		ok, err := svc.HasAcknowledgedPing(ctx, 1, 1, 0)
		if err != nil || !ok {
			t.Fatalf("Expected acknowledged after call #%d, got %v, %v", i+1, ok, err)
		}
	}
}

func TestListPingsPendingOnly(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, nil)
	ctx := context.Background()
	_ = fs.InsertPing(ctx, &domain.PingRecord{UserID: 1, ActivityID: 5, BatchIndex: 0})
	_ = fs.InsertPing(ctx, &domain.PingRecord{UserID: 2, ActivityID: 5, BatchIndex: 0})
	_ = svc.AcknowledgePing(ctx, 1, 5, 0)

	pending, err := svc.ListPings(ctx, 5, true)
	if err != nil {
		t.Fatalf("ListPings failed: %v", err)
	}
	if len(pending) != 1 || pending[0].UserID != 2 {
		t.Fatalf("Expected only user 2 pending, got %+v", pending)
	}
}

func TestNewServiceRejectsInvalidRules(t *testing.T) {
	fs := newFakeStore()
	r := DefaultRules()
	r.WindowSize = 0
	if _, err := NewService(fs, fs, NewLabelSource(fs), r); err == nil {
		t.Fatal("Expected invalid rules to be rejected")
	}
}
