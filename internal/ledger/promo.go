package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"challenge-bot/internal/models"
)

// PromoQuote is a validated promo offer for one user.
type PromoQuote struct {
	Promo     models.PromoCode
	Tariff    models.Tariff // base tariff
	Price     int
	ExpiresAt time.Time
}

func NormalizePromo(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DiscountedPrice truncates towards zero like the original price list.
func DiscountedPrice(price, percent int) int {
	return price * (100 - percent) / 100
}

// SavePromo creates or updates a promo code.
func (l *Ledger) SavePromo(ctx context.Context, p models.PromoCode) error {
	const op = "ledger.SavePromo"

	p.Code = NormalizePromo(p.Code)
	if p.Code == "" || p.DiscountPercent <= 0 || p.DiscountPercent >= 100 || p.ValidHours <= 0 {
		return fmt.Errorf("%s: invalid promo %+v", op, p)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = l.clock.Now()
	}
	if err := l.store.SavePromo(ctx, p); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IssuePromo starts the user's validity window for code.
func (l *Ledger) IssuePromo(ctx context.Context, userID int64, code string) error {
	const op = "ledger.IssuePromo"

	if err := l.store.IssuePromo(ctx, userID, NormalizePromo(code), l.clock.Now()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CheckPromo validates the code for the user and prices the base tariff.
// The window starts when the user was issued the code, or at creation of
// the code when it was never issued to them.
func (l *Ledger) CheckPromo(ctx context.Context, userID int64, code string) (*PromoQuote, error) {
	const op = "ledger.CheckPromo"
	code = NormalizePromo(code)

	promo, err := l.store.PromoCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if promo == nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrPromoNotFound, code)
	}

	start := promo.CreatedAt
	issued, err := l.store.PromoIssuedAt(ctx, userID, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if issued != nil {
		start = *issued
	}
	expires := start.Add(time.Duration(promo.ValidHours) * time.Hour)
	if !l.clock.Now().Before(expires) {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrPromoExpired, code)
	}

	used, err := l.store.PromoUsed(ctx, userID, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if used {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrPromoAlreadyUsed, code)
	}

	base, err := l.tariffs.Lookup(TableFunnel, l.cfg.PromoBase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &PromoQuote{
		Promo:     *promo,
		Tariff:    base,
		Price:     DiscountedPrice(base.Price, promo.DiscountPercent),
		ExpiresAt: expires,
	}, nil
}

// CreatePromoPayment creates a payment at the discounted price and records
// the usage. A concurrent use of the same code by the same user fails the
// later payment.
func (l *Ledger) CreatePromoPayment(ctx context.Context, userID int64, code string) (*Intent, error) {
	const op = "ledger.CreatePromoPayment"
	code = NormalizePromo(code)

	q, err := l.CheckPromo(ctx, userID, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	intent, err := l.createPayment(ctx, userID, PromoTariffCode(TableTariffCode(TableFunnel, q.Tariff.Code), code), q.Tariff, q.Price)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	recorded, err := l.store.RecordPromoUsage(ctx, userID, code, l.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !recorded {
		l.log.Warn("promo reused, failing payment",
			slog.Int64("user_id", userID), slog.String("code", code), slog.String("payment_id", intent.Payment.ID))
		l.fail(ctx, l.log, intent.Payment.ID)
		return nil, fmt.Errorf("%s: %w: %s", op, ErrPromoAlreadyUsed, code)
	}
	return intent, nil
}
