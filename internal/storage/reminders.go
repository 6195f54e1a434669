package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"challenge-bot/internal/models"
)

// ---------- reminders -------------------------------------------------------

// candidateFilter is the coarse SQL part of reminder eligibility. Window
// checks are done in Go by the scheduler policy.
func candidateFilter(kind models.ReminderKind) string {
	base := `COALESCE(u.bot_blocked, 0) = 0
        AND NOT EXISTS (SELECT 1 FROM reminders s
                        WHERE s.user_id = f.user_id AND s.day = ? AND s.kind = ?)`
	if kind.IsSales() {
		return base + ` AND f.completed_at IS NOT NULL AND f.purchased = 0`
	}
	return base + ` AND f.is_active = 1 AND f.current_day = ?`
}

func candidateArgs(kind models.ReminderKind, day int) []any {
	args := []any{day, string(kind)}
	if !kind.IsSales() {
		args = append(args, day)
	}
	return args
}

// ReminderCandidates lists users that may need the (day, kind) message,
// together with every flag already set for them.
func (d *DB) ReminderCandidates(ctx context.Context, kind models.ReminderKind, day int) ([]models.Candidate, error) {
	const op = "storage.ReminderCandidates"

	filter := candidateFilter(kind)
	args := candidateArgs(kind, day)

	rows, err := d.QueryContext(ctx, `
        SELECT `+funnelColumns+`, COALESCE(u.bot_blocked, 0), u.subscription_until
        FROM funnel_progress f
        LEFT JOIN users u ON u.user_id = f.user_id
        WHERE `+filter+`
        ORDER BY f.user_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		out   []models.Candidate
		index = map[int64]int{}
	)
	for rows.Next() {
		var (
			blocked int
			until   sql.NullInt64
		)
		r, err := scanFunnel(rows, &blocked, &until)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		index[r.UserID] = len(out)
		out = append(out, models.Candidate{
			Funnel:            *r,
			Blocked:           blocked == 1,
			SubscriptionUntil: timePtr(until),
			Sent:              models.ReminderSet{},
		})
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rows.Close()

	if len(out) == 0 {
		return nil, nil
	}

	// single connection: the first cursor must be closed before this one
	flags, err := d.QueryContext(ctx, `
        SELECT r.user_id, r.day, r.kind, r.sent_at
        FROM reminders r
        JOIN funnel_progress f ON f.user_id = r.user_id
        LEFT JOIN users u ON u.user_id = f.user_id
        WHERE `+filter, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer flags.Close()

	for flags.Next() {
		var (
			userID int64
			key    models.ReminderKey
			sentAt int64
		)
		if err := flags.Scan(&userID, &key.Day, &key.Kind, &sentAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if i, ok := index[userID]; ok {
			out[i].Sent[key] = fromUnix(sentAt)
		}
	}
	if err := flags.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// MarkReminderSent sets the (user, day, kind) flag. It returns false when the
// flag was already set; the unique key is the last line of defence against
// double sends.
func (d *DB) MarkReminderSent(ctx context.Context, userID int64, day int, kind models.ReminderKind, at time.Time) (bool, error) {
	const op = "storage.MarkReminderSent"

	res, err := d.ExecContext(ctx, `
        INSERT INTO reminders (user_id, day, kind, sent_at)
        VALUES (?,?,?,?)
        ON CONFLICT(user_id, day, kind) DO NOTHING`,
		userID, day, string(kind), unix(at))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

func (d *DB) ReminderSent(ctx context.Context, userID int64, day int, kind models.ReminderKind) (bool, error) {
	const op = "storage.ReminderSent"

	var one int
	err := d.QueryRowContext(ctx,
		`SELECT 1 FROM reminders WHERE user_id = ? AND day = ? AND kind = ?`,
		userID, day, string(kind)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}
