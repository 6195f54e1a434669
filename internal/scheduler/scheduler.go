package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"challenge-bot/internal/lib/sl"
	"challenge-bot/internal/models"
)

type Config struct {
	MorningAt string // "HH:MM" local
	EveningAt string
}

func parseClock(s string) (uint, uint, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("bad time %q: %w", s, err)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

// Start registers the reminder jobs and starts the scheduler. Runs of the
// same job never overlap.
func Start(ctx context.Context, log *slog.Logger, d *Dispatcher, cfg Config, clock clockwork.Clock) (gocron.Scheduler, error) {
	const op = "scheduler.Start"

	mh, mm, err := parseClock(cfg.MorningAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	eh, em, err := parseClock(cfg.EveningAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	policy := d.Policy()
	s, err := gocron.NewScheduler(
		gocron.WithLocation(policy.Location),
		gocron.WithClock(clock),
		gocron.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	run := func(kind models.ReminderKind, days ...int) func() {
		return func() {
			for _, day := range days {
				if _, err := d.Run(ctx, kind, day); err != nil {
					log.Error("reminder job failed",
						slog.String("kind", string(kind)), slog.Int("day", day), sl.Err(err))
				}
			}
		}
	}

	var morningDays, eveningDays []int
	for day := 1; day <= policy.Days; day++ {
		if day > 1 {
			morningDays = append(morningDays, day)
		}
		eveningDays = append(eveningDays, day)
	}

	jobs := []struct {
		name string
		def  gocron.JobDefinition
		task func()
	}{
		{"morning-reminders", gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(mh, mm, 0))), run(models.ReminderMorning, morningDays...)},
		{"evening-reminders", gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(eh, em, 0))), run(models.ReminderEvening, eveningDays...)},
		{"offer-12h", gocron.CronJob("0 * * * *", false), run(models.ReminderOffer12h, policy.Days)},
		{"offer-24h", gocron.CronJob("30 * * * *", false), run(models.ReminderOffer24h, policy.Days)},
	}
	for _, j := range jobs {
		if _, err := s.NewJob(j.def, gocron.NewTask(j.task),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("%s: %s: %w", op, j.name, err)
		}
	}

	s.Start()
	return s, nil
}
