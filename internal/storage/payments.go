package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"challenge-bot/internal/models"
)

// ---------- payments --------------------------------------------------------

func (d *DB) CreatePayment(ctx context.Context, p *models.Payment) error {
	const op = "storage.CreatePayment"

	_, err := d.ExecContext(ctx, `
        INSERT INTO payments (payment_id, user_id, amount, tariff, status, created_at)
        VALUES (?,?,?,?,?,?)`,
		p.ID, p.UserID, p.Amount, p.TariffCode, string(p.Status), unix(p.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AttachGatewayID stores the gateway's id; a second payment claiming the
// same id yields ErrDuplicate.
func (d *DB) AttachGatewayID(ctx context.Context, paymentID, gatewayID string) error {
	const op = "storage.AttachGatewayID"

	res, err := d.ExecContext(ctx,
		`UPDATE payments SET gateway_id = ? WHERE payment_id = ?`, gatewayID, paymentID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// SetPaymentStatus never touches a completed payment.
func (d *DB) SetPaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus) error {
	const op = "storage.SetPaymentStatus"

	if _, err := d.ExecContext(ctx,
		`UPDATE payments SET status = ? WHERE payment_id = ? AND status <> 'completed'`,
		string(status), paymentID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

const paymentColumns = `payment_id, user_id, amount, tariff, status, gateway_id, created_at`

func scanPayment(s scanner) (*models.Payment, error) {
	var (
		p       models.Payment
		gateway sql.NullString
		created int64
	)
	if err := s.Scan(&p.ID, &p.UserID, &p.Amount, &p.TariffCode, &p.Status, &gateway, &created); err != nil {
		return nil, err
	}
	p.GatewayID = gateway.String
	p.CreatedAt = fromUnix(created)
	return &p, nil
}

// PaymentByGatewayID returns nil, nil for an unknown id.
func (d *DB) PaymentByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error) {
	const op = "storage.PaymentByGatewayID"

	p, err := scanPayment(d.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_id = ?`, gatewayID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (d *DB) Payment(ctx context.Context, paymentID string) (*models.Payment, error) {
	const op = "storage.Payment"

	p, err := scanPayment(d.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE payment_id = ?`, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// GrantEntitlement completes the payment and sets the user's subscription
// in one transaction. The status check-and-set is the exactly-once gate:
// when another caller already completed the payment nothing is written and
// granted is false.
func (d *DB) GrantEntitlement(ctx context.Context, g models.Grant) (until time.Time, granted bool, err error) {
	const op = "storage.GrantEntitlement"

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = 'completed' WHERE payment_id = ? AND status <> 'completed'`,
		g.PaymentID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return time.Time{}, false, nil
	}

	// a new grant replaces the previous term, it does not stack on it
	until = g.At.Add(time.Duration(g.Days) * 24 * time.Hour)

	if _, err = tx.ExecContext(ctx, `
        INSERT INTO users (user_id, subscription_until, tariff, created_at)
        VALUES (?,?,?,?)
        ON CONFLICT(user_id) DO UPDATE SET subscription_until=excluded.subscription_until,
                                           tariff=excluded.tariff`,
		g.UserID, unix(until), g.TariffCode, unix(g.At)); err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %w", op, err)
	}

	if _, err = tx.ExecContext(ctx, `
        INSERT INTO entitlement_grants (payment_id, user_id, tariff, days, until, granted_at)
        VALUES (?,?,?,?,?,?)`,
		g.PaymentID, g.UserID, g.TariffCode, g.Days, unix(until), unix(g.At)); err != nil {
		if isUniqueViolation(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%s: %w", op, err)
	}

	// purchased only flips for users who finished the challenge
	if _, err = tx.ExecContext(ctx, `
        UPDATE funnel_progress SET purchased = 1, version = version + 1
        WHERE user_id = ? AND completed_at IS NOT NULL AND purchased = 0`,
		g.UserID); err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return until, true, nil
}

// GrantCount is the number of entitlement grants written for a payment.
func (d *DB) GrantCount(ctx context.Context, paymentID string) (int, error) {
	const op = "storage.GrantCount"

	var n int
	if err := d.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entitlement_grants WHERE payment_id = ?`, paymentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
