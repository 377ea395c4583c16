package ping

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/visemo/visemo/internal/domain"
	"github.com/visemo/visemo/internal/store"
)

// TestConcurrentCheckForPingSQLite runs several evaluations of the same
// batch against a real database and expects a single stored ping.
func TestConcurrentCheckForPingSQLite(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "ping.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	if _, err := repo.StartSession(ctx, 1, 1, time.Now().Add(-20*time.Minute)); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := repo.AppendObservation(ctx, &domain.Observation{
			UserID: 1, ActivityID: 1, Label: "sad", Valence: domain.ValenceNegative, RecordedAt: time.Now(),
		}); err != nil {
			t.Fatalf("AppendObservation failed: %v", err)
		}
	}

	svc, err := NewService(repo, repo, NewLabelSource(repo), DefaultRules(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	const workers = 6
	results := make([]CheckResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.CheckForPing(ctx, 1, 1)
		}(i)
	}
	wg.Wait()

	pinged := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: unexpected error: %v", i, errs[i])
		}
		switch results[i].Outcome {
		case OutcomePinged:
			pinged++
		case OutcomeAlreadyPinged:
		default:
			t.Fatalf("worker %d: unexpected outcome %+v", i, results[i])
		}
		if results[i].BatchIndex == nil || *results[i].BatchIndex != 0 {
			t.Fatalf("worker %d: expected batch 0, got %v", i, results[i].BatchIndex)
		}
	}
	if pinged != 1 {
		t.Fatalf("Expected exactly one pinged result, got %d", pinged)
	}

	pings, err := repo.ListPings(ctx, 1, false)
	if err != nil {
		t.Fatalf("ListPings failed: %v", err)
	}
	if len(pings) != 1 {
		t.Fatalf("Expected one stored ping, got %d", len(pings))
	}
}
