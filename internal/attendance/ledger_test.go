package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"facetrack/internal/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store with the same atomicity guarantees the
// Postgres repository provides.
type memStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]Record)}
}

func key(userID string, day time.Time) string {
	return userID + "|" + day.Format("2006-01-02")
}

func (s *memStore) InsertIfAbsent(_ context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(rec.UserID, rec.Day)
	if _, ok := s.recs[k]; ok {
		return false, nil
	}
	s.recs[k] = rec
	return true, nil
}

func (s *memStore) Get(_ context.Context, userID string, day time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key(userID, day)]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *memStore) SetCheckOut(_ context.Context, userID string, day, at time.Time, conf float64, live bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(userID, day)
	rec, ok := s.recs[k]
	if !ok || rec.CheckOutAt != nil {
		return false, nil
	}
	rec.CheckOutAt = &at
	rec.CheckOutConf = &conf
	rec.CheckOutLive = &live
	s.recs[k] = rec
	return true, nil
}

type fixedSettings struct {
	s settings.Settings
}

func (f fixedSettings) Get(context.Context) (settings.Settings, error) {
	return f.s, nil
}

func testLedger(store Store, cfg settings.Settings, now time.Time) *Ledger {
	l := NewLedger(store, fixedSettings{cfg})
	l.now = func() time.Time { return now }
	return l
}

func at(hour, minute int) time.Time {
	return time.Date(2025, time.March, 10, hour, minute, 0, 0, time.UTC)
}

func TestMarkChecksInPresentBeforeDeadline(t *testing.T) {
	l := testLedger(newMemStore(), settings.Defaults(), at(9, 15))

	res, err := l.Mark(context.Background(), "user-1", 0.82, true)
	require.NoError(t, err)
	assert.Equal(t, ActionCheckIn, res.Action)
	assert.Equal(t, StatusPresent, res.Record.Status)
	assert.Equal(t, 0.82, res.Record.CheckInConf)
	assert.True(t, res.Record.CheckInLive)
	assert.Nil(t, res.Record.CheckOutAt)
}

func TestMarkChecksInLateAfterDeadline(t *testing.T) {
	l := testLedger(newMemStore(), settings.Defaults(), at(9, 45))

	res, err := l.Mark(context.Background(), "user-1", 0.7, true)
	require.NoError(t, err)
	assert.Equal(t, ActionCheckIn, res.Action)
	assert.Equal(t, StatusLate, res.Record.Status)
}

func TestMarkChecksInHalfDayAfterCutoff(t *testing.T) {
	l := testLedger(newMemStore(), settings.Defaults(), at(14, 0))

	res, err := l.Mark(context.Background(), "user-1", 0.7, true)
	require.NoError(t, err)
	assert.Equal(t, StatusHalfDay, res.Record.Status)
}

func TestMarkAtExactDeadlineIsPresent(t *testing.T) {
	l := testLedger(newMemStore(), settings.Defaults(), at(9, 30))

	res, err := l.Mark(context.Background(), "user-1", 0.7, true)
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, res.Record.Status)
}

func TestMarkRejectsCheckOutInsideCooldown(t *testing.T) {
	store := newMemStore()
	cfg := settings.Defaults() // 5 minute cooldown

	l := testLedger(store, cfg, at(9, 0))
	_, err := l.Mark(context.Background(), "user-1", 0.8, true)
	require.NoError(t, err)

	before, err := store.Get(context.Background(), "user-1", at(0, 0))
	require.NoError(t, err)

	l.now = func() time.Time { return at(9, 2) }
	_, err = l.Mark(context.Background(), "user-1", 0.8, true)
	assert.ErrorIs(t, err, ErrTooSoonToCheckOut)

	after, err := store.Get(context.Background(), "user-1", at(0, 0))
	require.NoError(t, err)
	assert.Equal(t, before, after, "rejected mark must not mutate the record")
}

func TestMarkChecksOutPastCooldown(t *testing.T) {
	store := newMemStore()
	l := testLedger(store, settings.Defaults(), at(9, 0))

	_, err := l.Mark(context.Background(), "user-1", 0.8, true)
	require.NoError(t, err)

	l.now = func() time.Time { return at(9, 6) }
	res, err := l.Mark(context.Background(), "user-1", 0.9, true)
	require.NoError(t, err)
	assert.Equal(t, ActionCheckOut, res.Action)
	require.NotNil(t, res.Record.CheckOutAt)
	assert.Equal(t, at(9, 6), *res.Record.CheckOutAt)
	require.NotNil(t, res.Record.CheckOutConf)
	assert.Equal(t, 0.9, *res.Record.CheckOutConf)
	// Status stays as fixed at check-in.
	assert.Equal(t, StatusPresent, res.Record.Status)
}

func TestMarkOnTerminalRecordFails(t *testing.T) {
	store := newMemStore()
	l := testLedger(store, settings.Defaults(), at(9, 0))

	_, err := l.Mark(context.Background(), "user-1", 0.8, true)
	require.NoError(t, err)

	l.now = func() time.Time { return at(9, 10) }
	_, err = l.Mark(context.Background(), "user-1", 0.8, true)
	require.NoError(t, err)

	before, err := store.Get(context.Background(), "user-1", at(0, 0))
	require.NoError(t, err)

	l.now = func() time.Time { return at(17, 0) }
	_, err = l.Mark(context.Background(), "user-1", 0.8, true)
	assert.ErrorIs(t, err, ErrAlreadyComplete)

	after, err := store.Get(context.Background(), "user-1", at(0, 0))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// lostRaceStore simulates a concurrent scan winning the insert: the first
// InsertIfAbsent reports a conflict and materializes the winner's record.
type lostRaceStore struct {
	*memStore
	winner Record
	raced  bool
}

func (s *lostRaceStore) InsertIfAbsent(ctx context.Context, rec Record) (bool, error) {
	if !s.raced {
		s.raced = true
		_, err := s.memStore.InsertIfAbsent(ctx, s.winner)
		return false, err
	}
	return s.memStore.InsertIfAbsent(ctx, rec)
}

func TestMarkLostInsertRaceFallsThroughToCheckOut(t *testing.T) {
	winner := Record{
		ID:          "winner",
		UserID:      "user-1",
		Day:         at(0, 0),
		CheckInAt:   at(8, 50),
		CheckInConf: 0.77,
		Status:      StatusPresent,
		Method:      "face",
	}
	store := &lostRaceStore{memStore: newMemStore(), winner: winner}

	l := testLedger(store, settings.Defaults(), at(9, 0))
	res, err := l.Mark(context.Background(), "user-1", 0.8, true)
	require.NoError(t, err)
	assert.Equal(t, ActionCheckOut, res.Action)
	assert.Equal(t, "winner", res.Record.ID)
}

func TestMarkConcurrentSameUserSameDay(t *testing.T) {
	store := newMemStore()
	cfg := settings.Defaults()
	cfg.CheckoutCooldownSec = 0

	var checkIns, checkOuts, complete int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := testLedger(store, cfg, at(9, 0))
			res, err := l.Mark(context.Background(), "user-1", 0.8, true)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Action == ActionCheckIn:
				checkIns++
			case err == nil && res.Action == ActionCheckOut:
				checkOuts++
			default:
				assert.ErrorIs(t, err, ErrAlreadyComplete)
				complete++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), checkIns, "exactly one check-in must win")
	assert.Equal(t, int64(1), checkOuts, "exactly one check-out must win")
	assert.Equal(t, int64(30), complete)

	rec, err := store.Get(context.Background(), "user-1", at(0, 0))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotNil(t, rec.CheckOutAt)
}
