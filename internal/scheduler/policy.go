package scheduler

import (
	"time"

	"challenge-bot/internal/models"
	"challenge-bot/internal/utils"
)

// Window is a half-open interval [From, To) of time elapsed since an anchor.
type Window struct {
	From time.Duration
	To   time.Duration
}

func (w Window) Contains(elapsed time.Duration) bool {
	return elapsed >= w.From && elapsed < w.To
}

// Policy decides which users are due a reminder. It is a pure function of
// (now, candidate) so a missed tick is simply re-evaluated on the next one.
type Policy struct {
	Days     int
	Location *time.Location
	// DayWindow is wider than the daily cadence so one missed tick is
	// still inside it.
	DayWindow Window
	Offer12h  Window
	Offer24h  Window
}

func DefaultPolicy(days int, loc *time.Location) Policy {
	return Policy{
		Days:      days,
		Location:  loc,
		DayWindow: Window{From: 0, To: 48 * time.Hour},
		Offer12h:  Window{From: 12 * time.Hour, To: 13 * time.Hour},
		Offer24h:  Window{From: 24 * time.Hour, To: 25 * time.Hour},
	}
}

// Anchor is the instant the window of (kind, day) is measured from. Day 1
// runs from local midnight of the start day, day D from the local midnight
// after day D-1 was completed, and sales offers from the completion of the
// challenge.
func (p Policy) Anchor(kind models.ReminderKind, day int, r *models.FunnelRecord) (time.Time, bool) {
	if kind.IsSales() {
		if r.CompletedAt == nil {
			return time.Time{}, false
		}
		return *r.CompletedAt, true
	}
	if day == 1 {
		return utils.StartOfDay(r.StartedAt, p.Location), true
	}
	prev := r.Day(day - 1)
	if !prev.Completed() {
		return time.Time{}, false
	}
	return utils.StartOfDay(*prev.CompletedAt, p.Location).Add(24 * time.Hour), true
}

func (p Policy) window(kind models.ReminderKind) Window {
	switch kind {
	case models.ReminderOffer12h:
		return p.Offer12h
	case models.ReminderOffer24h:
		return p.Offer24h
	}
	return p.DayWindow
}

// Eligible reports whether the (kind, day) message is due for c at now.
func (p Policy) Eligible(kind models.ReminderKind, day int, now time.Time, c models.Candidate) bool {
	r := &c.Funnel
	if c.Blocked || c.Sent.Has(day, kind) {
		return false
	}

	switch kind {
	case models.ReminderMorning:
		if day < 2 {
			return false
		}
	case models.ReminderEvening:
		if day > 1 && !c.Sent.Has(day, models.ReminderMorning) {
			return false
		}
	case models.ReminderOffer12h, models.ReminderOffer24h:
		if r.Purchased || c.HasActiveSubscription(now) || !r.Finished() || day != p.Days {
			return false
		}
		if kind == models.ReminderOffer12h && !c.Sent.Has(day, models.ReminderOffer) {
			return false
		}
	default:
		return false
	}

	if !kind.IsSales() {
		if day < 1 || day > p.Days || !r.IsActive || r.CurrentDay != day || r.Day(day).Completed() {
			return false
		}
	}

	anchor, ok := p.Anchor(kind, day, r)
	if !ok {
		return false
	}
	return p.window(kind).Contains(now.Sub(anchor))
}
