package funnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"challenge-bot/internal/models"
	"challenge-bot/internal/storage"
)

var (
	ErrInvalidAge            = errors.New("age out of range")
	ErrInvalidDay            = errors.New("invalid day")
	ErrInvalidReport         = errors.New("invalid day report")
	ErrInvalidCategoryChange = errors.New("invalid category change")
	ErrStaleInteraction      = errors.New("stale interaction")
	ErrAlreadyStarted        = errors.New("challenge already started")
	ErrNotStarted            = errors.New("challenge not started")
	ErrConcurrentUpdate      = errors.New("too many concurrent updates")
)

// Store is the per-user record accessor. UpdateFunnel must fail with
// storage.ErrConflict when the stored version moved.
type Store interface {
	Funnel(ctx context.Context, userID int64) (*models.FunnelRecord, error)
	CreateFunnel(ctx context.Context, r *models.FunnelRecord) error
	UpdateFunnel(ctx context.Context, r *models.FunnelRecord) error
}

// Recorder receives applied transitions for metrics.
type Recorder interface {
	FunnelEvent(event string)
}

type Service struct {
	log   *slog.Logger
	store Store
	clock clockwork.Clock
	cfg   Config
	rec   Recorder
}

func New(log *slog.Logger, store Store, clock clockwork.Clock, cfg Config, rec Recorder) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Service{log: log, store: store, clock: clock, cfg: cfg, rec: rec}
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) Record(ctx context.Context, userID int64) (*models.FunnelRecord, error) {
	const op = "funnel.Record"

	r, err := s.store.Funnel(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// mutate runs one read-modify-write. fn returns false when the record is
// already in the requested state; a lost version race re-reads and
// re-evaluates fn.
func (s *Service) mutate(ctx context.Context, userID int64, fn func(r *models.FunnelRecord) (bool, error)) (*models.FunnelRecord, bool, error) {
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		r, err := s.store.Funnel(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		if r == nil {
			return nil, false, ErrNotStarted
		}
		changed, err := fn(r)
		if err != nil || !changed {
			return r, false, err
		}
		err = s.store.UpdateFunnel(ctx, r)
		if errors.Is(err, storage.ErrConflict) {
			s.log.Debug("funnel version conflict, retrying",
				slog.Int64("user_id", userID), slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return r, true, nil
	}
	return nil, false, ErrConcurrentUpdate
}

// SelectAge creates the record on first selection. Re-selecting is allowed
// only until the first day is reported, so progress never goes back.
func (s *Service) SelectAge(ctx context.Context, userID int64, age int) (*models.FunnelRecord, error) {
	const op = "funnel.SelectAge"

	cat, err := s.cfg.BracketForAge(age)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		r, err := s.store.Funnel(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if r != nil {
			break
		}
		r = &models.FunnelRecord{
			UserID:     userID,
			Age:        age,
			Category:   cat,
			CurrentDay: 1,
			IsActive:   true,
			StartedAt:  s.clock.Now(),
			Days:       make([]models.DayProgress, s.cfg.Days),
		}
		err = s.store.CreateFunnel(ctx, r)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.event("started")
		s.log.Info("challenge started", slog.Int64("user_id", userID), slog.String("category", string(cat)))
		return r, nil
	}

	r, _, err := s.mutate(ctx, userID, func(r *models.FunnelRecord) (bool, error) {
		if r.AnyCompleted() {
			return false, ErrAlreadyStarted
		}
		if r.Age == age && r.Category == cat && !r.CategoryChanged {
			return false, nil
		}
		r.Age = age
		r.Category = cat
		r.CategoryChanged = false
		r.OriginalCategory = ""
		r.StartedAt = s.clock.Now()
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// Outcome of a day report. Applied is false for a replay of a report that
// was already recorded.
type Outcome struct {
	Record   *models.FunnelRecord
	Applied  bool
	Finished bool
	Offer    *CategoryOffer
}

// ReportDayOutcome completes the current day. Difficulty is reported on
// day 1 only and drives the category offer.
func (s *Service) ReportDayOutcome(ctx context.Context, userID int64, day int, bucket models.TimeBucket, difficulty models.Difficulty) (*Outcome, error) {
	const op = "funnel.ReportDayOutcome"

	if day < 1 || day > s.cfg.Days {
		return nil, fmt.Errorf("%s: %w: %d", op, ErrInvalidDay, day)
	}
	if !bucket.Valid() {
		return nil, fmt.Errorf("%s: %w: time bucket %q", op, ErrInvalidReport, bucket)
	}
	if day == 1 && !difficulty.Valid() {
		return nil, fmt.Errorf("%s: %w: difficulty required on day 1", op, ErrInvalidReport)
	}
	if day != 1 && difficulty != "" {
		return nil, fmt.Errorf("%s: %w: difficulty only on day 1", op, ErrInvalidReport)
	}

	r, applied, err := s.mutate(ctx, userID, func(r *models.FunnelRecord) (bool, error) {
		if p := r.Day(day); p.Completed() {
			if p.TimeBucket == bucket && p.Difficulty == difficulty {
				return false, nil
			}
			return false, ErrStaleInteraction
		}
		if !r.IsActive || r.CurrentDay != day {
			return false, ErrStaleInteraction
		}

		now := s.clock.Now()
		r.SetDay(day, models.DayProgress{CompletedAt: &now, TimeBucket: bucket, Difficulty: difficulty})
		if day == s.cfg.Days {
			r.CompletedAt = &now
			r.IsActive = false
		} else {
			r.CurrentDay = day + 1
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := &Outcome{Record: r, Applied: applied, Finished: r.Finished()}
	if applied {
		s.event(fmt.Sprintf("day%d_completed", day))
		s.log.Info("day completed", slog.Int64("user_id", userID), slog.Int("day", day),
			slog.String("bucket", string(bucket)))
		if day == 1 {
			out.Offer = OfferFor(r.Category, difficulty)
		}
	}
	return out, nil
}

// ConfirmCategory applies a branch decision the user accepted. Replays of
// the same decision are no-ops.
func (s *Service) ConfirmCategory(ctx context.Context, userID int64, from, to models.Category) (*models.FunnelRecord, bool, error) {
	const op = "funnel.ConfirmCategory"

	if !from.Adjacent(to) {
		return nil, false, fmt.Errorf("%s: %w: %s -> %s", op, ErrInvalidCategoryChange, from, to)
	}

	r, applied, err := s.mutate(ctx, userID, func(r *models.FunnelRecord) (bool, error) {
		if r.Category == to {
			return false, nil
		}
		if r.Category != from || !r.IsActive {
			return false, ErrStaleInteraction
		}
		if r.OriginalCategory == "" {
			r.OriginalCategory = r.Category
		}
		r.Category = to
		r.CategoryChanged = true
		return true, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if applied {
		s.event("category_changed")
		s.log.Info("category changed", slog.Int64("user_id", userID),
			slog.String("from", string(from)), slog.String("to", string(to)))
	}
	return r, applied, nil
}

// FailureOptions is what a user who could not finish the day may do next.
type FailureOptions struct {
	Day      int
	Category models.Category
	Retry    bool
	Easier   models.Category // "" -> none
	Harder   models.Category // "" -> none
	Menu     bool
}

// DayFailed never mutates the record.
func (s *Service) DayFailed(ctx context.Context, userID int64, day int) (*FailureOptions, error) {
	const op = "funnel.DayFailed"

	r, err := s.store.Funnel(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotStarted)
	}
	if !r.IsActive || r.CurrentDay != day {
		return nil, fmt.Errorf("%s: %w", op, ErrStaleInteraction)
	}

	opts := &FailureOptions{Day: day, Category: r.Category, Retry: true, Menu: true}
	opts.Easier, _ = r.Category.Easier()
	opts.Harder, _ = r.Category.Harder()
	return opts, nil
}

// StartDay checks the day can be started now and returns the record.
func (s *Service) StartDay(ctx context.Context, userID int64, day int) (*models.FunnelRecord, error) {
	const op = "funnel.StartDay"

	r, err := s.store.Funnel(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotStarted)
	}
	if !r.IsActive || r.CurrentDay != day {
		return r, fmt.Errorf("%s: %w", op, ErrStaleInteraction)
	}
	return r, nil
}

func (s *Service) event(name string) {
	if s.rec != nil {
		s.rec.FunnelEvent(name)
	}
}
