package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"challenge-bot/internal/lib/sl"
	"challenge-bot/internal/messages"
	"challenge-bot/internal/models"
)

type Store interface {
	ReminderCandidates(ctx context.Context, kind models.ReminderKind, day int) ([]models.Candidate, error)
	MarkReminderSent(ctx context.Context, userID int64, day int, kind models.ReminderKind, at time.Time) (bool, error)
	MarkBlocked(ctx context.Context, userID int64) error
}

// Notifier sends one reminder. It returns an error wrapping
// messages.ErrBlocked when the user blocked the bot.
type Notifier interface {
	Notify(ctx context.Context, kind models.ReminderKind, day int, c models.Candidate) error
}

// PromoIssuer starts the promo validity window of a user.
type PromoIssuer interface {
	IssuePromo(ctx context.Context, userID int64, code string) error
}

type Recorder interface {
	ReminderResult(kind models.ReminderKind, result string)
	ObserveDispatch(kind models.ReminderKind, d time.Duration)
}

// Stats summarises one dispatcher run.
type Stats struct {
	Candidates int
	Sent       int
	Skipped    int
	Blocked    int
	Failed     int
}

type Dispatcher struct {
	log       *slog.Logger
	store     Store
	notifier  Notifier
	promo     PromoIssuer
	promoCode string
	policy    Policy
	clock     clockwork.Clock
	limiter   *rate.Limiter
	rec       Recorder
}

type DispatcherOption func(*Dispatcher)

// WithPromo issues code to every user who received the final offer.
func WithPromo(p PromoIssuer, code string) DispatcherOption {
	return func(d *Dispatcher) {
		d.promo = p
		d.promoCode = code
	}
}

func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.rec = r }
}

func NewDispatcher(log *slog.Logger, store Store, notifier Notifier, policy Policy, clock clockwork.Clock, limiter *rate.Limiter, opts ...DispatcherOption) *Dispatcher {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	d := &Dispatcher{
		log:      log,
		store:    store,
		notifier: notifier,
		policy:   policy,
		clock:    clock,
		limiter:  limiter,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Policy() Policy { return d.policy }

// Run sends the (kind, day) reminder to every eligible user. Users are
// handled one by one and independently: a failure is logged and left for
// a later tick, a blocked user is marked and skipped from then on.
func (d *Dispatcher) Run(ctx context.Context, kind models.ReminderKind, day int) (Stats, error) {
	const op = "scheduler.Run"
	log := d.log.With(slog.String("op", op), slog.String("kind", string(kind)), slog.Int("day", day))

	start := d.clock.Now()
	defer func() {
		if d.rec != nil {
			d.rec.ObserveDispatch(kind, d.clock.Since(start))
		}
	}()

	candidates, err := d.store.ReminderCandidates(ctx, kind, day)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", op, err)
	}

	st := Stats{Candidates: len(candidates)}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		userID := c.Funnel.UserID
		if !d.policy.Eligible(kind, day, d.clock.Now(), c) {
			st.Skipped++
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return st, err
		}

		err := d.notifier.Notify(ctx, kind, day, c)
		switch {
		case errors.Is(err, messages.ErrBlocked):
			st.Blocked++
			d.result(kind, "blocked")
			log.Info("user blocked the bot", slog.Int64("user_id", userID))
			if err := d.store.MarkBlocked(ctx, userID); err != nil {
				log.Error("mark blocked failed", slog.Int64("user_id", userID), sl.Err(err))
			}
			continue
		case err != nil:
			st.Failed++
			d.result(kind, "failed")
			log.Error("send reminder failed", slog.Int64("user_id", userID), sl.Err(err))
			continue
		}

		// a crash right here re-sends once on the next tick
		if _, err := d.store.MarkReminderSent(ctx, userID, day, kind, d.clock.Now()); err != nil {
			log.Error("mark reminder sent failed", slog.Int64("user_id", userID), sl.Err(err))
		}
		st.Sent++
		d.result(kind, "sent")

		if kind == models.ReminderOffer24h && d.promo != nil {
			if err := d.promo.IssuePromo(ctx, userID, d.promoCode); err != nil {
				log.Error("issue promo failed", slog.Int64("user_id", userID), sl.Err(err))
			}
		}
	}

	log.Info("reminders dispatched",
		slog.Int("candidates", st.Candidates),
		slog.Int("sent", st.Sent),
		slog.Int("skipped", st.Skipped),
		slog.Int("blocked", st.Blocked),
		slog.Int("failed", st.Failed))
	return st, nil
}

func (d *Dispatcher) result(kind models.ReminderKind, result string) {
	if d.rec != nil {
		d.rec.ReminderResult(kind, result)
	}
}
