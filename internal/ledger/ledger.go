package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"challenge-bot/internal/lib/sl"
	"challenge-bot/internal/models"
	"challenge-bot/internal/storage"
	"challenge-bot/internal/yookassa"
)

var (
	ErrUnknownTariff      = errors.New("unknown tariff")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrDuplicateGatewayID = errors.New("gateway payment id already recorded")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrPromoNotFound      = errors.New("promo code not found")
	ErrPromoExpired       = errors.New("promo code expired")
	ErrPromoAlreadyUsed   = errors.New("promo code already used")
)

// Gateway is the subset of the payment provider the ledger calls.
type Gateway interface {
	CreatePayment(ctx context.Context, req yookassa.CreatePaymentRequest, idempotencyKey string) (*yookassa.Payment, error)
	GetPayment(ctx context.Context, id string) (*yookassa.Payment, error)
}

type Store interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	AttachGatewayID(ctx context.Context, paymentID, gatewayID string) error
	SetPaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus) error
	PaymentByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error)
	GrantEntitlement(ctx context.Context, g models.Grant) (time.Time, bool, error)

	SavePromo(ctx context.Context, p models.PromoCode) error
	PromoCode(ctx context.Context, code string) (*models.PromoCode, error)
	IssuePromo(ctx context.Context, userID int64, code string, at time.Time) error
	PromoIssuedAt(ctx context.Context, userID int64, code string) (*time.Time, error)
	PromoUsed(ctx context.Context, userID int64, code string) (bool, error)
	RecordPromoUsage(ctx context.Context, userID int64, code string, at time.Time) (bool, error)
}

// Recorder receives payment lifecycle events for metrics.
type Recorder interface {
	PaymentEvent(event string)
}

type Config struct {
	Currency     string
	ReturnURL    string
	Timeout      time.Duration // per gateway call
	MaxRetries   int
	RetryBackoff time.Duration
	// PromoBase is the funnel tariff promo prices are computed from.
	PromoBase string
}

type Ledger struct {
	log     *slog.Logger
	store   Store
	gateway Gateway
	tariffs Tariffs
	clock   clockwork.Clock
	cfg     Config
	rec     Recorder
}

func New(log *slog.Logger, store Store, gateway Gateway, tariffs Tariffs, clock clockwork.Clock, cfg Config, rec Recorder) *Ledger {
	if cfg.Currency == "" {
		cfg.Currency = "RUB"
	}
	return &Ledger{
		log:     log,
		store:   store,
		gateway: gateway,
		tariffs: tariffs,
		clock:   clock,
		cfg:     cfg,
		rec:     rec,
	}
}

func (l *Ledger) Tariffs() Tariffs { return l.tariffs }

// Intent is a created payment waiting for the user to pay.
type Intent struct {
	Payment         models.Payment
	Tariff          models.Tariff
	ConfirmationURL string
}

// CreatePaymentIntent creates a payment for a tariff of the given table.
func (l *Ledger) CreatePaymentIntent(ctx context.Context, userID int64, table, code string) (*Intent, error) {
	const op = "ledger.CreatePaymentIntent"

	tariff, err := l.tariffs.Lookup(table, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	intent, err := l.createPayment(ctx, userID, TableTariffCode(table, tariff.Code), tariff, tariff.Price)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return intent, nil
}

func (l *Ledger) createPayment(ctx context.Context, userID int64, code string, tariff models.Tariff, price int) (*Intent, error) {
	log := l.log.With(slog.Int64("user_id", userID), slog.String("tariff", code))

	p := models.Payment{
		ID:         uuid.NewString(),
		UserID:     userID,
		Amount:     price,
		TariffCode: code,
		Status:     models.PaymentPending,
		CreatedAt:  l.clock.Now(),
	}
	if err := l.store.CreatePayment(ctx, &p); err != nil {
		return nil, err
	}

	req := yookassa.CreatePaymentRequest{
		Amount: yookassa.Amount{
			Value:    strconv.Itoa(price) + ".00",
			Currency: l.cfg.Currency,
		},
		Confirmation: yookassa.Confirmation{Type: "redirect", ReturnURL: l.cfg.ReturnURL},
		Capture:      true,
		Description:  "Подписка: " + tariff.Name,
		Metadata: map[string]string{
			"user_id":    strconv.FormatInt(userID, 10),
			"payment_id": p.ID,
		},
	}

	// one key per intent: a retry of a request the gateway did receive
	// must not create a second payment
	key := uuid.NewString()
	gp, err := l.createWithRetry(ctx, log, req, key)
	if err != nil {
		log.Error("payment creation failed", sl.Err(err))
		l.fail(ctx, log, p.ID)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if err = l.store.AttachGatewayID(ctx, p.ID, gp.ID); err != nil {
		l.fail(ctx, log, p.ID)
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateGatewayID, gp.ID)
		}
		return nil, err
	}
	p.GatewayID = gp.ID
	l.event("created")
	log.Info("payment created", slog.String("gateway_id", gp.ID), slog.Int("amount", price))

	return &Intent{Payment: p, Tariff: tariff, ConfirmationURL: gp.ConfirmationURL()}, nil
}

// createWithRetry makes at most 1+MaxRetries attempts with a fixed pause,
// retrying only transient failures.
func (l *Ledger) createWithRetry(ctx context.Context, log *slog.Logger, req yookassa.CreatePaymentRequest, key string) (*yookassa.Payment, error) {
	for attempt := 0; ; attempt++ {
		gp, err := l.attempt(ctx, req, key)
		if err == nil {
			return gp, nil
		}
		if !yookassa.IsTransient(err) || attempt >= l.cfg.MaxRetries {
			return nil, err
		}
		log.Warn("payment creation attempt failed, retrying",
			slog.Int("attempt", attempt+1), sl.Err(err))

		if l.cfg.RetryBackoff > 0 {
			select {
			case <-l.clock.After(l.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

func (l *Ledger) attempt(ctx context.Context, req yookassa.CreatePaymentRequest, key string) (*yookassa.Payment, error) {
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}
	return l.gateway.CreatePayment(ctx, req, key)
}

// fail marks the local record failed even when ctx is already done.
func (l *Ledger) fail(ctx context.Context, log *slog.Logger, paymentID string) {
	l.event("failed")
	if err := l.store.SetPaymentStatus(context.WithoutCancel(ctx), paymentID, models.PaymentFailed); err != nil {
		log.Error("failed to mark payment failed", slog.String("payment_id", paymentID), sl.Err(err))
	}
}

func (l *Ledger) event(name string) {
	if l.rec != nil {
		l.rec.PaymentEvent(name)
	}
}
