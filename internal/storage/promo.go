package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"challenge-bot/internal/models"
)

// ---------- promo codes -----------------------------------------------------

// SavePromo creates the code or updates its terms; created_at is kept.
func (d *DB) SavePromo(ctx context.Context, p models.PromoCode) error {
	const op = "storage.SavePromo"

	_, err := d.ExecContext(ctx, `
        INSERT INTO promo_codes (code, discount_percent, valid_hours, description, created_at)
        VALUES (?,?,?,?,?)
        ON CONFLICT(code) DO UPDATE SET discount_percent=excluded.discount_percent,
                                        valid_hours=excluded.valid_hours,
                                        description=excluded.description`,
		p.Code, p.DiscountPercent, p.ValidHours, p.Description, unix(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (d *DB) PromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	const op = "storage.PromoCode"

	var (
		p       models.PromoCode
		created int64
	)
	err := d.QueryRowContext(ctx, `
        SELECT code, discount_percent, valid_hours, description, created_at
        FROM promo_codes WHERE code = ?`, code).
		Scan(&p.Code, &p.DiscountPercent, &p.ValidHours, &p.Description, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.CreatedAt = fromUnix(created)
	return &p, nil
}

// IssuePromo remembers when the user first received the code.
func (d *DB) IssuePromo(ctx context.Context, userID int64, code string, at time.Time) error {
	const op = "storage.IssuePromo"

	if _, err := d.ExecContext(ctx, `
        INSERT INTO promo_issues (user_id, code, issued_at) VALUES (?,?,?)
        ON CONFLICT(user_id, code) DO NOTHING`,
		userID, code, unix(at)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (d *DB) PromoIssuedAt(ctx context.Context, userID int64, code string) (*time.Time, error) {
	const op = "storage.PromoIssuedAt"

	var at int64
	err := d.QueryRowContext(ctx,
		`SELECT issued_at FROM promo_issues WHERE user_id = ? AND code = ?`, userID, code).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t := fromUnix(at)
	return &t, nil
}

func (d *DB) PromoUsed(ctx context.Context, userID int64, code string) (bool, error) {
	const op = "storage.PromoUsed"

	var one int
	err := d.QueryRowContext(ctx,
		`SELECT 1 FROM promo_usage WHERE user_id = ? AND code = ?`, userID, code).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// RecordPromoUsage returns false when the user had already used the code.
func (d *DB) RecordPromoUsage(ctx context.Context, userID int64, code string, at time.Time) (bool, error) {
	const op = "storage.RecordPromoUsage"

	res, err := d.ExecContext(ctx, `
        INSERT INTO promo_usage (user_id, code, used_at) VALUES (?,?,?)
        ON CONFLICT(user_id, code) DO NOTHING`,
		userID, code, unix(at))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}
