package ping

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/visemo/visemo/internal/domain"
	"github.com/visemo/visemo/internal/store"
)

type pingKey struct {
	userID, activityID int64
	batch              int
}

type pairKey struct {
	userID, activityID int64
}

// fakeStore is an in-memory SessionStore, EmotionStore and PingStore.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[pairKey]domain.ActivitySession
	obs      map[pairKey][]domain.Observation
	counts   map[pairKey][]domain.EmotionCounts
	pings    map[pingKey]*domain.PingRecord
	nextID   int64

	// beforeInsert runs before InsertPing takes the lock, to stage races.
	beforeInsert func()
	err          error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[pairKey]domain.ActivitySession),
		obs:      make(map[pairKey][]domain.Observation),
		counts:   make(map[pairKey][]domain.EmotionCounts),
		pings:    make(map[pingKey]*domain.PingRecord),
	}
}

func (f *fakeStore) GetSession(_ context.Context, userID, activityID int64) (*domain.ActivitySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[pairKey{userID, activityID}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStore) StartSession(_ context.Context, userID, activityID int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := pairKey{userID, activityID}
	if _, ok := f.sessions[k]; ok {
		return false, nil
	}
	f.sessions[k] = domain.ActivitySession{UserID: userID, ActivityID: activityID, StartTime: at}
	return true, nil
}

func (f *fakeStore) AppendObservation(_ context.Context, o *domain.Observation) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o.ID = f.nextID
	k := pairKey{o.UserID, o.ActivityID}
	f.obs[k] = append(f.obs[k], *o)
	return o.ID, nil
}

func (f *fakeStore) CountObservations(_ context.Context, userID, activityID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return len(f.obs[pairKey{userID, activityID}]), nil
}

func (f *fakeStore) RecentObservations(_ context.Context, userID, activityID int64, limit int) ([]domain.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.obs[pairKey{userID, activityID}]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]domain.Observation(nil), all...), nil
}

func (f *fakeStore) AppendEmotionCounts(_ context.Context, c *domain.EmotionCounts) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	k := pairKey{c.UserID, c.ActivityID}
	f.counts[k] = append(f.counts[k], *c)
	return c.ID, nil
}

func (f *fakeStore) SumEmotionCounts(_ context.Context, userID, activityID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.counts[pairKey{userID, activityID}] {
		n += c.Total()
	}
	return n, nil
}

func (f *fakeStore) RecentEmotionCounts(_ context.Context, userID, activityID int64, limit int) ([]domain.EmotionCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var nonEmpty []domain.EmotionCounts
	for _, c := range f.counts[pairKey{userID, activityID}] {
		if c.Total() > 0 {
			nonEmpty = append(nonEmpty, c)
		}
	}
	if len(nonEmpty) > limit {
		nonEmpty = nonEmpty[len(nonEmpty)-limit:]
	}
	return nonEmpty, nil
}

func (f *fakeStore) AggregateUserEmotions(context.Context, int64, int64) (domain.EmotionSummary, error) {
	return domain.EmotionSummary{}, nil
}

func (f *fakeStore) AggregateActivityEmotions(context.Context, int64) (domain.EmotionSummary, error) {
	return domain.EmotionSummary{}, nil
}

func (f *fakeStore) GetPing(_ context.Context, userID, activityID int64, batch int) (*domain.PingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.pings[pingKey{userID, activityID, batch}]
	if !ok {
		return nil, nil
	}
	copy := *rec
	return &copy, nil
}

func (f *fakeStore) InsertPing(_ context.Context, rec *domain.PingRecord) error {
	if f.beforeInsert != nil {
		f.beforeInsert()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := pingKey{rec.UserID, rec.ActivityID, rec.BatchIndex}
	if _, ok := f.pings[k]; ok {
		return store.ErrPingExists
	}
	f.nextID++
	rec.ID = f.nextID
	copy := *rec
	f.pings[k] = &copy
	return nil
}

func (f *fakeStore) AcknowledgePing(_ context.Context, userID, activityID int64, batch int, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.pings[pingKey{userID, activityID, batch}]
	if !ok || rec.Acknowledged {
		return false, nil
	}
	rec.Acknowledged = true
	rec.AcknowledgedAt = &at
	return true, nil
}

func (f *fakeStore) ListPings(_ context.Context, activityID int64, pendingOnly bool) ([]*domain.PingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.PingRecord
	for k, rec := range f.pings {
		if k.activityID != activityID || (pendingOnly && rec.Acknowledged) {
			continue
		}
		copy := *rec
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pings)
}

func (f *fakeStore) addLabels(userID, activityID int64, labels ...string) {
	for _, l := range labels {
		_, _ = f.AppendObservation(context.Background(), &domain.Observation{
			UserID: userID, ActivityID: activityID, Label: l, Valence: domain.ClassifyLabel(l),
		})
	}
}

func (f *fakeStore) addCounts(userID, activityID int64, pos, neg, neu int) {
	_, _ = f.AppendEmotionCounts(context.Background(), &domain.EmotionCounts{
		UserID: userID, ActivityID: activityID, Positive: pos, Negative: neg, Neutral: neu,
	})
}

func repeat(label string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = label
	}
	return out
}
