package storage

import (
	"context"
	"fmt"

	"challenge-bot/internal/models"
)

// ---------- admin stats -----------------------------------------------------

// Stats aggregates the funnel for a challenge of the given length.
func (d *DB) Stats(ctx context.Context, days int) (*models.Stats, error) {
	const op = "storage.Stats"

	s := &models.Stats{DaysCompleted: make([]int, days)}

	if err := d.QueryRowContext(ctx, `
        SELECT COUNT(*), COALESCE(SUM(bot_blocked), 0) FROM users`).
		Scan(&s.Users, &s.Blocked); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := d.QueryRowContext(ctx, `
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN completed_at IS NOT NULL THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(category_changed), 0),
               COALESCE(SUM(purchased), 0)
        FROM funnel_progress`).
		Scan(&s.Started, &s.Finished, &s.CategoryChanged, &s.Purchased); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// day N is done when the user moved past it or finished
	for day := 1; day <= days; day++ {
		if err := d.QueryRowContext(ctx, `
            SELECT COUNT(*) FROM funnel_progress
            WHERE current_day > ? OR completed_at IS NOT NULL`, day).
			Scan(&s.DaysCompleted[day-1]); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := d.QueryRowContext(ctx, `
        SELECT COUNT(DISTINCT user_id), COALESCE(SUM(amount), 0)
        FROM payments WHERE status = 'completed'`).
		Scan(&s.PaidUsers, &s.Revenue); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}
