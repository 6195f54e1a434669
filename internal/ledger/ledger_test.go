package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"challenge-bot/internal/models"
	"challenge-bot/internal/storage"
	"challenge-bot/internal/yookassa"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePayment(ctx context.Context, req yookassa.CreatePaymentRequest, key string) (*yookassa.Payment, error) {
	args := m.Called(req, key)
	if p := args.Get(0); p != nil {
		return p.(*yookassa.Payment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) GetPayment(ctx context.Context, id string) (*yookassa.Payment, error) {
	args := m.Called(id)
	if p := args.Get(0); p != nil {
		return p.(*yookassa.Payment), args.Error(1)
	}
	return nil, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type fixture struct {
	db     *storage.DB
	gw     *MockGateway
	clock  *clockwork.FakeClock
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tariffs, err := NewTariffs(DefaultStandard(), DefaultFunnel())
	require.NoError(t, err)

	f := &fixture{db: db, gw: &MockGateway{}, clock: clockwork.NewFakeClockAt(testNow)}
	f.ledger = New(newNoopLogger(), db, f.gw, tariffs, f.clock, Config{
		ReturnURL:  "https://t.me/challenge_bot",
		MaxRetries: 2,
		PromoBase:  "1month",
	}, nil)
	return f
}

func (f *fixture) finishedUser(t *testing.T, userID int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.db.EnsureUser(ctx, userID, "user", testNow))
	done := testNow.Add(-time.Hour)
	require.NoError(t, f.db.CreateFunnel(ctx, &models.FunnelRecord{
		UserID: userID, Age: 5, Category: models.CategoryMid, CurrentDay: 3,
		StartedAt: testNow.Add(-72 * time.Hour), Days: make([]models.DayProgress, 3), CompletedAt: &done,
	}))
}

func created(id string) *yookassa.Payment {
	return &yookassa.Payment{
		ID:           id,
		Status:       yookassa.StatusPending,
		Confirmation: &yookassa.Confirmation{Type: "redirect", ConfirmationURL: "https://pay.example/" + id},
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gw.On("CreatePayment", mock.MatchedBy(func(r yookassa.CreatePaymentRequest) bool {
		return r.Amount.Value == "990.00" && r.Amount.Currency == "RUB" &&
			r.Capture && r.Confirmation.ReturnURL == "https://t.me/challenge_bot" &&
			r.Metadata["user_id"] == "1"
	}), mock.AnythingOfType("string")).Return(created("gw-1"), nil).Once()

	intent, err := f.ledger.CreatePaymentIntent(ctx, 1, TableFunnel, "forever")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/gw-1", intent.ConfirmationURL)
	assert.Equal(t, 990, intent.Payment.Amount)
	assert.Equal(t, "gw-1", intent.Payment.GatewayID)

	p, err := f.db.PaymentByGatewayID(ctx, "gw-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.PaymentPending, p.Status)
	assert.Equal(t, "funnel:forever", p.TariffCode)
	f.gw.AssertExpectations(t)
}

func TestCreatePaymentIntentUnknownTariff(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.CreatePaymentIntent(context.Background(), 1, TableFunnel, "3months")
	assert.ErrorIs(t, err, ErrUnknownTariff)
	f.gw.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestCreatePaymentRetriesWithSameKey(t *testing.T) {
	f := newFixture(t)
	transient := &yookassa.APIError{StatusCode: http.StatusServiceUnavailable, Code: "503"}

	var keys []string
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { keys = append(keys, args.String(1)) }).
		Return(nil, transient).Twice()
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { keys = append(keys, args.String(1)) }).
		Return(created("gw-2"), nil).Once()

	intent, err := f.ledger.CreatePaymentIntent(context.Background(), 1, TableStandard, "1month")
	require.NoError(t, err)
	assert.Equal(t, "gw-2", intent.Payment.GatewayID)
	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[0], keys[2])
}

func TestCreatePaymentRetryBudget(t *testing.T) {
	f := newFixture(t)
	transient := &yookassa.APIError{StatusCode: http.StatusBadGateway, Code: "502"}
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).Return(nil, transient)

	_, err := f.ledger.CreatePaymentIntent(context.Background(), 1, TableStandard, "1month")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	f.gw.AssertNumberOfCalls(t, "CreatePayment", 3)

	// the record is failed, not left pending
	var status string
	require.NoError(t, f.db.QueryRow(`SELECT status FROM payments`).Scan(&status))
	assert.Equal(t, "failed", status)
}

func TestCreatePaymentPermanentErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).
		Return(nil, &yookassa.APIError{StatusCode: http.StatusBadRequest, Code: "invalid_request"})

	_, err := f.ledger.CreatePaymentIntent(context.Background(), 1, TableStandard, "1month")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	f.gw.AssertNumberOfCalls(t, "CreatePayment", 1)
}

func TestCreatePaymentBackoffUsesClock(t *testing.T) {
	f := newFixture(t)
	f.ledger.cfg.RetryBackoff = 2 * time.Second

	f.gw.On("CreatePayment", mock.Anything, mock.Anything).
		Return(nil, &yookassa.APIError{StatusCode: 500, Code: "500"}).Once()
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).
		Return(created("gw-3"), nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := f.ledger.CreatePaymentIntent(context.Background(), 1, TableStandard, "1month")
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(2 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("payment creation did not finish")
	}
}

func TestDuplicateGatewayID(t *testing.T) {
	f := newFixture(t)
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).Return(created("gw-dup"), nil)

	_, err := f.ledger.CreatePaymentIntent(context.Background(), 1, TableStandard, "1month")
	require.NoError(t, err)
	_, err = f.ledger.CreatePaymentIntent(context.Background(), 2, TableStandard, "1month")
	assert.ErrorIs(t, err, ErrDuplicateGatewayID)
}

func TestReconcileGrantsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.finishedUser(t, 1)

	f.gw.On("CreatePayment", mock.Anything, mock.Anything).Return(created("gw-1"), nil)
	_, err := f.ledger.CreatePaymentIntent(ctx, 1, TableFunnel, "forever")
	require.NoError(t, err)

	f.gw.On("GetPayment", "gw-1").Return(&yookassa.Payment{ID: "gw-1", Status: yookassa.StatusSucceeded}, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []ReconcileStatus
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.Reconcile(ctx, "gw-1")
			assert.NoError(t, err)
			if res != nil {
				mu.Lock()
				results = append(results, res.Status)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	granted := 0
	for _, s := range results {
		if s == ReconcileGranted {
			granted++
		} else {
			assert.Equal(t, ReconcileAlreadyGranted, s)
		}
	}
	assert.Equal(t, 1, granted)

	u, err := f.db.User(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u.SubscriptionUntil)
	assert.Equal(t, testNow.AddDate(0, 0, 36500), *u.SubscriptionUntil)
	assert.Equal(t, "forever", u.Tariff)

	rec, err := f.db.Funnel(ctx, 1)
	require.NoError(t, err)
	assert.True(t, rec.Purchased)

	p, err := f.db.PaymentByGatewayID(ctx, "gw-1")
	require.NoError(t, err)
	n, err := f.db.GrantCount(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func (f *fixture) buyAndReconcile(t *testing.T, userID int64, table, code, gatewayID string) *ReconcileResult {
	t.Helper()
	ctx := context.Background()
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).Return(created(gatewayID), nil).Once()
	_, err := f.ledger.CreatePaymentIntent(ctx, userID, table, code)
	require.NoError(t, err)

	f.gw.On("GetPayment", gatewayID).Return(&yookassa.Payment{ID: gatewayID, Status: yookassa.StatusSucceeded}, nil)
	res, err := f.ledger.Reconcile(ctx, gatewayID)
	require.NoError(t, err)
	require.Equal(t, ReconcileGranted, res.Status)
	return res
}

func TestReconcileSecondPurchaseStartsFromNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.finishedUser(t, 1)

	res := f.buyAndReconcile(t, 1, TableFunnel, "1month", "gw-1")
	assert.Equal(t, testNow.AddDate(0, 0, 30), res.Until)

	f.clock.Advance(time.Hour)
	res = f.buyAndReconcile(t, 1, TableStandard, "forever", "gw-2")
	want := testNow.Add(time.Hour).AddDate(0, 0, 36500)
	assert.Equal(t, want, res.Until)

	u, err := f.db.User(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u.SubscriptionUntil)
	assert.True(t, u.SubscriptionUntil.Equal(want))
	assert.Equal(t, "forever", u.Tariff)
}

func TestReconcileUsesTableOfPurchase(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// same code, different terms per table
	tariffs, err := NewTariffs(
		[]models.Tariff{{Code: "1month", Name: "Месяц", Days: 31, Price: 490}},
		[]models.Tariff{{Code: "1month", Name: "Месяц со скидкой", Days: 30, Price: 290}},
	)
	require.NoError(t, err)

	f := &fixture{db: db, gw: &MockGateway{}, clock: clockwork.NewFakeClockAt(testNow)}
	f.ledger = New(newNoopLogger(), db, f.gw, tariffs, f.clock, Config{PromoBase: "1month"}, nil)
	require.NoError(t, db.EnsureUser(context.Background(), 1, "user", testNow))

	res := f.buyAndReconcile(t, 1, TableStandard, "1month", "gw-1")
	assert.Equal(t, 490, res.Tariff.Price)
	assert.Equal(t, 31, res.Tariff.Days)
	assert.Equal(t, testNow.AddDate(0, 0, 31), res.Until)
	assert.Equal(t, "standard:1month", res.Payment.TariffCode)
}

func TestReconcileNonTerminalStates(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   ReconcileStatus
	}{
		{"pending", yookassa.StatusPending, ReconcilePending},
		{"waiting for capture", yookassa.StatusWaitingForCapture, ReconcilePending},
		{"canceled", yookassa.StatusCanceled, ReconcileFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.finishedUser(t, 1)

			f.gw.On("CreatePayment", mock.Anything, mock.Anything).Return(created("gw-1"), nil)
			_, err := f.ledger.CreatePaymentIntent(ctx, 1, TableFunnel, "1month")
			require.NoError(t, err)

			f.gw.On("GetPayment", "gw-1").Return(&yookassa.Payment{ID: "gw-1", Status: tt.status}, nil)
			res, err := f.ledger.Reconcile(ctx, "gw-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.status, res.GatewayStatus)

			u, err := f.db.User(ctx, 1)
			require.NoError(t, err)
			assert.Nil(t, u.SubscriptionUntil)
			rec, err := f.db.Funnel(ctx, 1)
			require.NoError(t, err)
			assert.False(t, rec.Purchased)
		})
	}
}

func TestReconcileUnknownPayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Reconcile(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestReconcileGatewayDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).Return(created("gw-1"), nil)
	_, err := f.ledger.CreatePaymentIntent(ctx, 1, TableFunnel, "1month")
	require.NoError(t, err)

	f.gw.On("GetPayment", "gw-1").Return(nil, errors.New("dial tcp: refused"))
	_, err = f.ledger.Reconcile(ctx, "gw-1")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestPromoPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.finishedUser(t, 1)

	require.NoError(t, f.ledger.SavePromo(ctx, models.PromoCode{Code: "challenge50", DiscountPercent: 50, ValidHours: 48}))
	require.NoError(t, f.ledger.IssuePromo(ctx, 1, "CHALLENGE50"))

	q, err := f.ledger.CheckPromo(ctx, 1, "challenge50")
	require.NoError(t, err)
	assert.Equal(t, 145, q.Price)
	assert.Equal(t, testNow.Add(48*time.Hour), q.ExpiresAt)

	f.gw.On("CreatePayment", mock.MatchedBy(func(r yookassa.CreatePaymentRequest) bool {
		return r.Amount.Value == "145.00"
	}), mock.Anything).Return(created("gw-p"), nil).Once()

	intent, err := f.ledger.CreatePromoPayment(ctx, 1, "CHALLENGE50")
	require.NoError(t, err)
	assert.Equal(t, "funnel:1month_promo_CHALLENGE50", intent.Payment.TariffCode)

	// single use per user
	_, err = f.ledger.CheckPromo(ctx, 1, "CHALLENGE50")
	assert.ErrorIs(t, err, ErrPromoAlreadyUsed)
	_, err = f.ledger.CreatePromoPayment(ctx, 1, "CHALLENGE50")
	assert.ErrorIs(t, err, ErrPromoAlreadyUsed)
	f.gw.AssertNumberOfCalls(t, "CreatePayment", 1)

	// the promo-tagged code grants its base tariff
	f.gw.On("GetPayment", "gw-p").Return(&yookassa.Payment{ID: "gw-p", Status: yookassa.StatusSucceeded}, nil)
	res, err := f.ledger.Reconcile(ctx, "gw-p")
	require.NoError(t, err)
	assert.Equal(t, ReconcileGranted, res.Status)
	assert.Equal(t, testNow.Add(30*24*time.Hour), res.Until)
}

func TestPromoValidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CheckPromo(ctx, 1, "NOPE")
	assert.ErrorIs(t, err, ErrPromoNotFound)

	require.NoError(t, f.ledger.SavePromo(ctx, models.PromoCode{Code: "CHALLENGE50", DiscountPercent: 50, ValidHours: 48}))

	// never issued: the window runs from creation of the code
	f.clock.Advance(47 * time.Hour)
	_, err = f.ledger.CheckPromo(ctx, 1, "CHALLENGE50")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.ledger.CheckPromo(ctx, 1, "CHALLENGE50")
	assert.ErrorIs(t, err, ErrPromoExpired)

	// issued later: the user's own window applies
	require.NoError(t, f.ledger.IssuePromo(ctx, 2, "CHALLENGE50"))
	_, err = f.ledger.CheckPromo(ctx, 2, "CHALLENGE50")
	require.NoError(t, err)
}

func TestDiscountedPrice(t *testing.T) {
	assert.Equal(t, 145, DiscountedPrice(290, 50))
	assert.Equal(t, 203, DiscountedPrice(290, 30))
	assert.Equal(t, 990, DiscountedPrice(990, 0))
}
