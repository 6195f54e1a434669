package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"challenge-bot/internal/models"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newRecord(userID int64) *models.FunnelRecord {
	return &models.FunnelRecord{
		UserID:     userID,
		Age:        4,
		Category:   models.CategoryLow,
		CurrentDay: 1,
		IsActive:   true,
		StartedAt:  testNow,
		Days:       make([]models.DayProgress, 3),
	}
}

func seedFunnel(t *testing.T, db *DB, r *models.FunnelRecord) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.EnsureUser(ctx, r.UserID, "user", testNow))
	require.NoError(t, db.CreateFunnel(ctx, r))
}

func TestNewIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")
	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestUsers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u, err := db.User(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, u)

	require.NoError(t, db.EnsureUser(ctx, 1, "anna", testNow))
	require.NoError(t, db.MarkBlocked(ctx, 1))

	u, err = db.User(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.Blocked)
	assert.Equal(t, "anna", u.Username)

	// writing to the bot again unblocks
	require.NoError(t, db.EnsureUser(ctx, 1, "anna_k", testNow))
	u, err = db.User(ctx, 1)
	require.NoError(t, err)
	assert.False(t, u.Blocked)
	assert.Equal(t, "anna_k", u.Username)
	assert.Equal(t, testNow, u.CreatedAt)
}

func TestFunnelCreateAndConditionalUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r := newRecord(7)
	seedFunnel(t, db, r)
	assert.Equal(t, int64(1), r.Version)

	err := db.CreateFunnel(ctx, newRecord(7))
	assert.ErrorIs(t, err, ErrConflict)

	got, err := db.Funnel(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.CategoryLow, got.Category)
	assert.Len(t, got.Days, 3)

	done := testNow.Add(time.Hour)
	got.SetDay(1, models.DayProgress{CompletedAt: &done, TimeBucket: models.Bucket5to10, Difficulty: models.DifficultyEasy})
	got.CurrentDay = 2
	require.NoError(t, db.UpdateFunnel(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	// r still carries version 1
	r.CurrentDay = 3
	err = db.UpdateFunnel(ctx, r)
	assert.ErrorIs(t, err, ErrConflict)

	fresh, err := db.Funnel(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.CurrentDay)
	assert.True(t, fresh.Day(1).Completed())
	assert.Equal(t, done, *fresh.Day(1).CompletedAt)
	assert.Equal(t, models.DifficultyEasy, fresh.Day(1).Difficulty)
}

func TestFunnelMissing(t *testing.T) {
	db := newTestDB(t)
	r, err := db.Funnel(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestReminderFlags(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedFunnel(t, db, newRecord(1))

	ok, err := db.MarkReminderSent(ctx, 1, 1, models.ReminderEvening, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.MarkReminderSent(ctx, 1, 1, models.ReminderEvening, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	sent, err := db.ReminderSent(ctx, 1, 1, models.ReminderEvening)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = db.ReminderSent(ctx, 1, 2, models.ReminderEvening)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestReminderCandidates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seedFunnel(t, db, newRecord(1))

	r2 := newRecord(2)
	r2.CurrentDay = 2
	seedFunnel(t, db, r2)

	seedFunnel(t, db, newRecord(3))
	require.NoError(t, db.MarkBlocked(ctx, 3))

	r4 := newRecord(4)
	r4.CurrentDay = 2
	seedFunnel(t, db, r4)
	_, err := db.MarkReminderSent(ctx, 4, 2, models.ReminderMorning, testNow)
	require.NoError(t, err)

	got, err := db.ReminderCandidates(ctx, models.ReminderEvening, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Funnel.UserID)

	got, err = db.ReminderCandidates(ctx, models.ReminderEvening, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[0].Sent.Has(2, models.ReminderMorning))
	assert.True(t, got[1].Sent.Has(2, models.ReminderMorning))

	// already sent flags are filtered in SQL
	got, err = db.ReminderCandidates(ctx, models.ReminderMorning, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Funnel.UserID)
}

func TestSalesCandidates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	done := testNow.Add(48 * time.Hour)
	finished := newRecord(1)
	finished.CurrentDay = 3
	finished.IsActive = false
	finished.CompletedAt = &done
	seedFunnel(t, db, finished)
	_, err := db.MarkReminderSent(ctx, 1, 3, models.ReminderOffer, done)
	require.NoError(t, err)

	seedFunnel(t, db, newRecord(2))

	got, err := db.ReminderCandidates(ctx, models.ReminderOffer12h, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Funnel.UserID)
	assert.True(t, got[0].Sent.Has(3, models.ReminderOffer))
	require.NotNil(t, got[0].Funnel.CompletedAt)
	assert.Equal(t, done, *got[0].Funnel.CompletedAt)
}

func newPayment(id string, userID int64) *models.Payment {
	return &models.Payment{
		ID:         id,
		UserID:     userID,
		Amount:     990,
		TariffCode: "forever",
		Status:     models.PaymentPending,
		CreatedAt:  testNow,
	}
}

func TestPaymentsGatewayIDIsUnique(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreatePayment(ctx, newPayment("p1", 1)))
	require.NoError(t, db.CreatePayment(ctx, newPayment("p2", 1)))

	require.NoError(t, db.AttachGatewayID(ctx, "p1", "gw-1"))
	err := db.AttachGatewayID(ctx, "p2", "gw-1")
	assert.ErrorIs(t, err, ErrDuplicate)

	err = db.AttachGatewayID(ctx, "missing", "gw-2")
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := db.PaymentByGatewayID(ctx, "gw-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, models.PaymentPending, p.Status)

	p, err = db.PaymentByGatewayID(ctx, "gw-404")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestGrantEntitlementOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	done := testNow.Add(-time.Hour)
	r := newRecord(1)
	r.CurrentDay = 3
	r.IsActive = false
	r.CompletedAt = &done
	seedFunnel(t, db, r)
	require.NoError(t, db.CreatePayment(ctx, newPayment("p1", 1)))

	g := models.Grant{PaymentID: "p1", UserID: 1, TariffCode: "forever", Days: 36500, At: testNow}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := db.GrantEntitlement(ctx, g)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, granted)

	n, err := db.GrantCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	u, err := db.User(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u.SubscriptionUntil)
	assert.Equal(t, testNow.Add(36500*24*time.Hour), *u.SubscriptionUntil)
	assert.Equal(t, "forever", u.Tariff)

	f, err := db.Funnel(ctx, 1)
	require.NoError(t, err)
	assert.True(t, f.Purchased)

	p, err := db.Payment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, p.Status)

	// completed payments are never downgraded
	require.NoError(t, db.SetPaymentStatus(ctx, "p1", models.PaymentFailed))
	p, err = db.Payment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, p.Status)
}

func TestGrantReplacesActiveSubscription(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureUser(ctx, 1, "u", testNow))

	require.NoError(t, db.CreatePayment(ctx, newPayment("p1", 1)))
	require.NoError(t, db.CreatePayment(ctx, newPayment("p2", 1)))

	until, ok, err := db.GrantEntitlement(ctx, models.Grant{PaymentID: "p1", UserID: 1, TariffCode: "1month", Days: 30, At: testNow})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testNow.Add(30*24*time.Hour), until)

	// the second term starts at its own grant time, not at the end of the first
	second := testNow.Add(24 * time.Hour)
	until, ok, err = db.GrantEntitlement(ctx, models.Grant{PaymentID: "p2", UserID: 1, TariffCode: "forever", Days: 36500, At: second})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.Add(36500*24*time.Hour), until)

	u, err := db.User(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u.SubscriptionUntil)
	assert.True(t, u.SubscriptionUntil.Equal(second.Add(36500*24*time.Hour)))
	assert.Equal(t, "forever", u.Tariff)

	// not a finisher: purchased stays untouched, no funnel row at all
	f, err := db.Funnel(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestPromo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SavePromo(ctx, models.PromoCode{Code: "CHALLENGE50", DiscountPercent: 50, ValidHours: 48, CreatedAt: testNow}))
	require.NoError(t, db.SavePromo(ctx, models.PromoCode{Code: "CHALLENGE50", DiscountPercent: 40, ValidHours: 24, CreatedAt: testNow.Add(time.Hour)}))

	p, err := db.PromoCode(ctx, "CHALLENGE50")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 40, p.DiscountPercent)
	assert.Equal(t, testNow, p.CreatedAt)

	p, err = db.PromoCode(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, db.IssuePromo(ctx, 1, "CHALLENGE50", testNow))
	require.NoError(t, db.IssuePromo(ctx, 1, "CHALLENGE50", testNow.Add(time.Hour)))
	at, err := db.PromoIssuedAt(ctx, 1, "CHALLENGE50")
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Equal(t, testNow, *at)

	ok, err := db.RecordPromoUsage(ctx, 1, "CHALLENGE50", testNow)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.RecordPromoUsage(ctx, 1, "CHALLENGE50", testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	used, err := db.PromoUsed(ctx, 1, "CHALLENGE50")
	require.NoError(t, err)
	assert.True(t, used)
}

func TestMaterials(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	m := &models.Material{Category: models.CategoryMid, Day: 1, Variant: 2, Title: "B", FileID: "f2", FileType: models.FilePhoto}
	require.NoError(t, db.SaveMaterial(ctx, m))
	require.NoError(t, db.SaveMaterial(ctx, &models.Material{Category: models.CategoryMid, Day: 1, Variant: 1, Title: "A", FileID: "f1", FileType: models.FileDocument}))
	require.NoError(t, db.SaveMaterial(ctx, &models.Material{Category: models.CategoryLow, Day: 1, Variant: 1, FileID: "x", FileType: models.FilePhoto}))

	// upsert keeps the id
	id := m.ID
	m.Title = "B2"
	require.NoError(t, db.SaveMaterial(ctx, m))
	assert.Equal(t, id, m.ID)

	got, err := db.Materials(ctx, models.CategoryMid, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Title)
	assert.Equal(t, "B2", got[1].Title)
	assert.Equal(t, models.FilePhoto, got[1].FileType)

	all, err := db.AllMaterials(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, db.DeleteMaterial(ctx, models.CategoryMid, 1, 1))
	assert.ErrorIs(t, db.DeleteMaterial(ctx, models.CategoryMid, 1, 1), ErrNotFound)
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seedFunnel(t, db, newRecord(1))
	r := newRecord(2)
	r.CurrentDay = 3
	seedFunnel(t, db, r)

	done := testNow
	f := newRecord(3)
	f.CurrentDay = 3
	f.IsActive = false
	f.CompletedAt = &done
	f.CategoryChanged = true
	seedFunnel(t, db, f)
	require.NoError(t, db.CreatePayment(ctx, newPayment("p1", 3)))
	_, _, err := db.GrantEntitlement(ctx, models.Grant{PaymentID: "p1", UserID: 3, TariffCode: "forever", Days: 36500, At: testNow})
	require.NoError(t, err)

	s, err := db.Stats(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Users)
	assert.Equal(t, 3, s.Started)
	assert.Equal(t, []int{2, 2, 1}, s.DaysCompleted)
	assert.Equal(t, 1, s.Finished)
	assert.Equal(t, 1, s.CategoryChanged)
	assert.Equal(t, 1, s.Purchased)
	assert.Equal(t, 1, s.PaidUsers)
	assert.Equal(t, 990, s.Revenue)
}
