package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"challenge-bot/internal/models"
)

// ---------- funnel progress -------------------------------------------------

const funnelColumns = `f.user_id, f.age, f.category, f.current_day, f.is_active, f.started_at,
        f.days, f.category_changed, f.original_category, f.completed_at, f.purchased, f.version`

type scanner interface {
	Scan(dest ...any) error
}

func scanFunnel(s scanner, extra ...any) (*models.FunnelRecord, error) {
	var (
		r         models.FunnelRecord
		active    int
		started   int64
		days      string
		changed   int
		original  sql.NullString
		completed sql.NullInt64
		purchased int
	)
	dest := []any{&r.UserID, &r.Age, &r.Category, &r.CurrentDay, &active, &started,
		&days, &changed, &original, &completed, &purchased, &r.Version}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(days), &r.Days); err != nil {
		return nil, fmt.Errorf("decode days of %d: %w", r.UserID, err)
	}
	r.IsActive = active == 1
	r.StartedAt = fromUnix(started)
	r.CategoryChanged = changed == 1
	r.OriginalCategory = models.Category(original.String)
	r.CompletedAt = timePtr(completed)
	r.Purchased = purchased == 1
	return &r, nil
}

// Funnel returns nil, nil when the user has not picked an age yet.
func (d *DB) Funnel(ctx context.Context, userID int64) (*models.FunnelRecord, error) {
	const op = "storage.Funnel"

	row := d.QueryRowContext(ctx,
		`SELECT `+funnelColumns+` FROM funnel_progress f WHERE f.user_id = ?`, userID)
	r, err := scanFunnel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// CreateFunnel inserts a fresh record; ErrConflict if one already exists.
func (d *DB) CreateFunnel(ctx context.Context, r *models.FunnelRecord) error {
	const op = "storage.CreateFunnel"

	days, err := json.Marshal(r.Days)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	r.Version = 1
	_, err = d.ExecContext(ctx, `
        INSERT INTO funnel_progress (user_id, age, category, current_day, is_active, started_at,
                                     days, category_changed, original_category, completed_at,
                                     purchased, version)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.UserID, r.Age, string(r.Category), r.CurrentDay, boolInt(r.IsActive), unix(r.StartedAt),
		string(days), boolInt(r.CategoryChanged), nullCategory(r.OriginalCategory),
		nullTime(r.CompletedAt), boolInt(r.Purchased), r.Version)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateFunnel writes r only if the stored version still equals r.Version.
// On success r.Version is bumped; a lost race returns ErrConflict.
func (d *DB) UpdateFunnel(ctx context.Context, r *models.FunnelRecord) error {
	const op = "storage.UpdateFunnel"

	days, err := json.Marshal(r.Days)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	res, err := d.ExecContext(ctx, `
        UPDATE funnel_progress
        SET age=?, category=?, current_day=?, is_active=?, started_at=?, days=?,
            category_changed=?, original_category=?, completed_at=?, purchased=?,
            version=version+1
        WHERE user_id=? AND version=?`,
		r.Age, string(r.Category), r.CurrentDay, boolInt(r.IsActive), unix(r.StartedAt), string(days),
		boolInt(r.CategoryChanged), nullCategory(r.OriginalCategory), nullTime(r.CompletedAt),
		boolInt(r.Purchased), r.UserID, r.Version)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	r.Version++
	return nil
}

func nullCategory(c models.Category) sql.NullString {
	return sql.NullString{String: string(c), Valid: c != ""}
}
