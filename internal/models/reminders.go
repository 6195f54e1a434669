package models

import "time"

// ReminderKind names a scheduled (or offer) message. Together with the day
// it identifies the sent-flag.
type ReminderKind string

const (
	ReminderMorning  ReminderKind = "morning"
	ReminderEvening  ReminderKind = "evening"
	ReminderOffer    ReminderKind = "offer"
	ReminderOffer12h ReminderKind = "offer_12h"
	ReminderOffer24h ReminderKind = "offer_24h"
)

func (k ReminderKind) IsSales() bool {
	switch k {
	case ReminderOffer, ReminderOffer12h, ReminderOffer24h:
		return true
	}
	return false
}

type ReminderKey struct {
	Day  int
	Kind ReminderKind
}

// ReminderSet holds the flags already set for one user.
type ReminderSet map[ReminderKey]time.Time

func (s ReminderSet) Has(day int, kind ReminderKind) bool {
	_, ok := s[ReminderKey{Day: day, Kind: kind}]
	return ok
}

// Candidate is what the scheduler needs to decide on one user.
type Candidate struct {
	Funnel            FunnelRecord
	Blocked           bool
	SubscriptionUntil *time.Time
	Sent              ReminderSet
}

func (c Candidate) HasActiveSubscription(now time.Time) bool {
	return c.SubscriptionUntil != nil && c.SubscriptionUntil.After(now)
}
