package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"challenge-bot/internal/messages"
	"challenge-bot/internal/models"
	"challenge-bot/internal/storage"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, kind models.ReminderKind, day int, c models.Candidate) error {
	return m.Called(ctx, kind, day, c).Error(0)
}

type MockPromoIssuer struct {
	mock.Mock
}

func (m *MockPromoIssuer) IssuePromo(ctx context.Context, userID int64, code string) error {
	return m.Called(ctx, userID, code).Error(0)
}

type countingRecorder struct {
	mu      sync.Mutex
	results map[string]int
	runs    int
}

func (r *countingRecorder) ReminderResult(kind models.ReminderKind, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = map[string]int{}
	}
	r.results[string(kind)+"/"+result]++
}

func (r *countingRecorder) ObserveDispatch(models.ReminderKind, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func userIs(id int64) any {
	return mock.MatchedBy(func(c models.Candidate) bool { return c.Funnel.UserID == id })
}

var dispatchNow = time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedDayTwo stores a user who finished day 1 yesterday afternoon.
func seedDayTwo(t *testing.T, db *storage.DB, userID int64) {
	t.Helper()
	ctx := context.Background()
	started := dispatchNow.Add(-25 * time.Hour)
	done := dispatchNow.Add(-18 * time.Hour)

	r := &models.FunnelRecord{
		UserID:     userID,
		Age:        5,
		Category:   models.CategoryMid,
		CurrentDay: 2,
		IsActive:   true,
		StartedAt:  started,
		Days:       make([]models.DayProgress, 3),
	}
	r.SetDay(1, models.DayProgress{CompletedAt: &done, TimeBucket: models.Bucket5to10})
	require.NoError(t, db.EnsureUser(ctx, userID, fmt.Sprintf("user%d", userID), started))
	require.NoError(t, db.CreateFunnel(ctx, r))
}

func TestDispatcherRun(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		seedDayTwo(t, db, id)
	}

	n := &MockNotifier{}
	n.On("Notify", mock.Anything, models.ReminderMorning, 2, userIs(1)).Return(nil).Once()
	n.On("Notify", mock.Anything, models.ReminderMorning, 2, userIs(2)).
		Return(fmt.Errorf("send: %w", messages.ErrBlocked)).Once()
	n.On("Notify", mock.Anything, models.ReminderMorning, 2, userIs(3)).
		Return(errors.New("telegram: too many requests")).Once()

	rec := &countingRecorder{}
	clock := clockwork.NewFakeClockAt(dispatchNow)
	d := NewDispatcher(newNoopLogger(), db, n, DefaultPolicy(3, time.UTC), clock, nil, WithRecorder(rec))

	st, err := d.Run(ctx, models.ReminderMorning, 2)
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 3, Sent: 1, Blocked: 1, Failed: 1}, st)

	u, err := db.User(ctx, 2)
	require.NoError(t, err)
	assert.True(t, u.Blocked)

	sent, err := db.ReminderSent(ctx, 3, 2, models.ReminderMorning)
	require.NoError(t, err)
	assert.False(t, sent)

	// the failed user is retried on the next tick, the others are not touched
	n.On("Notify", mock.Anything, models.ReminderMorning, 2, userIs(3)).Return(nil).Once()
	st, err = d.Run(ctx, models.ReminderMorning, 2)
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 1, Sent: 1}, st)

	st, err = d.Run(ctx, models.ReminderMorning, 2)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	n.AssertExpectations(t)
	assert.Equal(t, 2, rec.results["morning/sent"])
	assert.Equal(t, 1, rec.results["morning/blocked"])
	assert.Equal(t, 1, rec.results["morning/failed"])
	assert.Equal(t, 3, rec.runs)
}

func TestDispatcherSkipsOutsideWindow(t *testing.T) {
	db := newTestDB(t)
	seedDayTwo(t, db, 1)

	n := &MockNotifier{}
	// evening of day 2 needs the morning message first
	d := NewDispatcher(newNoopLogger(), db, n, DefaultPolicy(3, time.UTC), clockwork.NewFakeClockAt(dispatchNow), nil)

	st, err := d.Run(context.Background(), models.ReminderEvening, 2)
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 1, Skipped: 1}, st)
	n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcherSecondTickIsSilent(t *testing.T) {
	db := newTestDB(t)
	seedDayTwo(t, db, 1)

	var (
		mu    sync.Mutex
		calls int
	)
	n := &MockNotifier{}
	n.On("Notify", mock.Anything, models.ReminderMorning, 2, userIs(1)).Return(nil).Run(func(mock.Arguments) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	d := NewDispatcher(newNoopLogger(), db, n, DefaultPolicy(3, time.UTC), clockwork.NewFakeClockAt(dispatchNow), nil)

	st, err := d.Run(context.Background(), models.ReminderMorning, 2)
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 1, Sent: 1}, st)

	// the stored flag keeps the next tick of the same window silent
	st, err = d.Run(context.Background(), models.ReminderMorning, 2)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
	assert.Equal(t, 1, calls)
}

func TestDispatcherIssuesPromoWithFinalOffer(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	done := dispatchNow.Add(-24*time.Hour - 10*time.Minute)
	for _, id := range []int64{1, 2} {
		r := &models.FunnelRecord{
			UserID:      id,
			Age:         6,
			Category:    models.CategoryHigh,
			CurrentDay:  3,
			StartedAt:   done.Add(-72 * time.Hour),
			CompletedAt: &done,
		}
		for day := 1; day <= 3; day++ {
			r.SetDay(day, models.DayProgress{CompletedAt: &done, TimeBucket: models.BucketMore15})
		}
		require.NoError(t, db.EnsureUser(ctx, id, "u", r.StartedAt))
		require.NoError(t, db.CreateFunnel(ctx, r))
	}
	// user 2 already paid
	until := dispatchNow.Add(30 * 24 * time.Hour)
	require.NoError(t, db.CreatePayment(ctx, &models.Payment{
		ID: "p2", UserID: 2, Amount: 290, TariffCode: "1month", Status: models.PaymentPending, CreatedAt: dispatchNow,
	}))
	_, granted, err := db.GrantEntitlement(ctx, models.Grant{PaymentID: "p2", UserID: 2, TariffCode: "1month", Days: 30, At: dispatchNow})
	require.NoError(t, err)
	require.True(t, granted)

	n := &MockNotifier{}
	n.On("Notify", mock.Anything, models.ReminderOffer24h, 3, userIs(1)).Return(nil).Once()
	p := &MockPromoIssuer{}
	p.On("IssuePromo", mock.Anything, int64(1), "CHALLENGE50").Return(nil).Once()

	d := NewDispatcher(newNoopLogger(), db, n, DefaultPolicy(3, time.UTC), clockwork.NewFakeClockAt(dispatchNow), nil,
		WithPromo(p, "CHALLENGE50"))

	st, err := d.Run(ctx, models.ReminderOffer24h, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Sent)

	n.AssertExpectations(t)
	p.AssertExpectations(t)

	u, err := db.User(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, u.SubscriptionUntil)
	assert.Equal(t, until.Unix(), u.SubscriptionUntil.Unix())
}

func TestDispatcherStopsOnCanceledContext(t *testing.T) {
	db := newTestDB(t)
	seedDayTwo(t, db, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(newNoopLogger(), db, &MockNotifier{}, DefaultPolicy(3, time.UTC), clockwork.NewFakeClockAt(dispatchNow), nil)
	_, err := d.Run(ctx, models.ReminderMorning, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartRegistersJobs(t *testing.T) {
	d := NewDispatcher(newNoopLogger(), nil, nil, DefaultPolicy(3, time.UTC), clockwork.NewFakeClockAt(dispatchNow), nil)

	_, err := Start(context.Background(), newNoopLogger(), d, Config{MorningAt: "9am", EveningAt: "20:00"}, clockwork.NewFakeClock())
	require.Error(t, err)

	s, err := Start(context.Background(), newNoopLogger(), d, Config{MorningAt: "09:00", EveningAt: "20:00"}, clockwork.NewFakeClock())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	var names []string
	for _, j := range s.Jobs() {
		names = append(names, j.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"evening-reminders", "morning-reminders", "offer-12h", "offer-24h"}, names)
}
