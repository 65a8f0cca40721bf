package streak

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/internal/timers/timerstest"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	writes  int
}

func (m *memStore) Get(_ context.Context, userID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[userID], nil
}

func (m *memStore) Update(_ context.Context, userID string, fn func(Record) (Record, bool)) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, changed := fn(m.records[userID])
	if !changed {
		return m.records[userID], nil
	}
	m.records[userID] = next
	m.writes++
	return next, nil
}

type notification struct {
	userID, title string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, userID, title, _ string, _ map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{userID, title})
}

func TestRecordActivityConcurrentSameDay(t *testing.T) {
	store := &memStore{records: map[string]Record{}}
	clk := timerstest.New(day0)
	svc := NewService(store, nil, nil, clk, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.RecordActivity(context.Background(), "u1", "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CurrentStreak)
	assert.Equal(t, 1, store.writes)
}

func TestRecordActivityMilestoneNotifies(t *testing.T) {
	store := &memStore{records: map[string]Record{
		"u1": {CurrentStreak: 6, LongestStreak: 6, LastActiveDate: day0},
	}}
	clk := timerstest.New(day0.AddDate(0, 0, 1))
	n := &fakeNotifier{}
	svc := NewService(store, n, nil, clk, time.UTC)

	rec, res, err := svc.RecordActivity(context.Background(), "u1", "good morning")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.CurrentStreak)
	assert.Equal(t, 7, res.Milestone)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "u1", n.sent[0].userID)
	assert.Equal(t, "7-day streak!", n.sent[0].title)
}

func TestRecordActivityRejectsWithoutStore(t *testing.T) {
	store := &memStore{records: map[string]Record{}}
	svc := NewService(store, nil, nil, timerstest.New(day0), nil)
	_, res, err := svc.RecordActivity(context.Background(), "u1", "   ")
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Outcome)
	assert.Zero(t, store.writes)
	assert.Equal(t, time.UTC, svc.Location())
}
