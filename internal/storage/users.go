package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"challenge-bot/internal/models"
)

// ---------- users -----------------------------------------------------------

// EnsureUser creates the user row or refreshes the username. Writing to the
// bot again means the user unblocked it.
func (d *DB) EnsureUser(ctx context.Context, userID int64, username string, now time.Time) error {
	const op = "storage.EnsureUser"

	_, err := d.ExecContext(ctx, `
        INSERT INTO users (user_id, username, created_at)
        VALUES (?,?,?)
        ON CONFLICT(user_id) DO UPDATE SET username=excluded.username,
                                           bot_blocked=0`,
		userID, username, unix(now))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (d *DB) User(ctx context.Context, userID int64) (*models.User, error) {
	const op = "storage.User"

	var (
		u       models.User
		until   sql.NullInt64
		tariff  sql.NullString
		blocked int
		created int64
	)
	err := d.QueryRowContext(ctx, `
        SELECT user_id, username, subscription_until, tariff, bot_blocked, created_at
        FROM users WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.Username, &until, &tariff, &blocked, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u.SubscriptionUntil = timePtr(until)
	u.Tariff = tariff.String
	u.Blocked = blocked == 1
	u.CreatedAt = fromUnix(created)
	return &u, nil
}

// MarkBlocked makes the user inert for every scheduled job.
func (d *DB) MarkBlocked(ctx context.Context, userID int64) error {
	const op = "storage.MarkBlocked"

	if _, err := d.ExecContext(ctx,
		`UPDATE users SET bot_blocked = 1 WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
