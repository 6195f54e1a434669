package funnel

import (
	"fmt"

	"challenge-bot/internal/models"
)

type Config struct {
	Days      int
	MinAge    int
	MaxAge    int
	LowMaxAge int // ages up to this are "3-5"
	MidMaxAge int // ages up to this are "4-6", older are "5-7"
	// MaxAttempts bounds re-evaluation after lost version races.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{Days: 3, MinAge: 3, MaxAge: 7, LowMaxAge: 4, MidMaxAge: 6, MaxAttempts: 5}
}

// BracketForAge maps an age to its category with a monotone step function.
func (c Config) BracketForAge(age int) (models.Category, error) {
	if age < c.MinAge || age > c.MaxAge {
		return "", fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidAge, age, c.MinAge, c.MaxAge)
	}
	switch {
	case age <= c.LowMaxAge:
		return models.CategoryLow, nil
	case age <= c.MidMaxAge:
		return models.CategoryMid, nil
	}
	return models.CategoryHigh, nil
}

// Ages lists the selectable ages for the age keyboard.
func (c Config) Ages() []int {
	out := make([]int, 0, c.MaxAge-c.MinAge+1)
	for a := c.MinAge; a <= c.MaxAge; a++ {
		out = append(out, a)
	}
	return out
}

// CategoryOffer proposes moving a user to another bracket.
type CategoryOffer struct {
	From models.Category
	To   models.Category
}

// OfferFor is the day-1 difficulty branch: too easy moves up, too hard
// moves down, boundaries and "normal" stay.
func OfferFor(current models.Category, d models.Difficulty) *CategoryOffer {
	var (
		to models.Category
		ok bool
	)
	switch d {
	case models.DifficultyEasy:
		to, ok = current.Harder()
	case models.DifficultyHard:
		to, ok = current.Easier()
	}
	if !ok {
		return nil
	}
	return &CategoryOffer{From: current, To: to}
}

type Stage string

const (
	StageAwaitingCategory Stage = "awaiting_category"
	StageDayActive        Stage = "day_active"
	StageCompleted        Stage = "completed"
)

// StageOf derives the persisted state. The "awaiting report" sub-states of
// a day live in the buttons the user is pressing, not in storage.
func StageOf(r *models.FunnelRecord) (Stage, int) {
	switch {
	case r == nil:
		return StageAwaitingCategory, 0
	case r.Finished():
		return StageCompleted, r.CurrentDay
	}
	return StageDayActive, r.CurrentDay
}

type Verdict string

const (
	VerdictImproved Verdict = "improved"
	VerdictSame     Verdict = "same"
	VerdictWorse    Verdict = "worse"
)

// Summary compares attention time of the first and last days.
type Summary struct {
	Minutes []int
	Delta   int
	Verdict Verdict
}

func Summarize(r *models.FunnelRecord) Summary {
	s := Summary{Minutes: make([]int, len(r.Days))}
	for i, d := range r.Days {
		s.Minutes[i] = d.TimeBucket.Minutes()
	}
	if len(s.Minutes) > 0 {
		s.Delta = s.Minutes[len(s.Minutes)-1] - s.Minutes[0]
	}
	switch {
	case s.Delta > 0:
		s.Verdict = VerdictImproved
	case s.Delta < 0:
		s.Verdict = VerdictWorse
	default:
		s.Verdict = VerdictSame
	}
	return s
}
