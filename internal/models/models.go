package models

import "time"

// Category is the age bracket a user's materials are picked from.
type Category string

const (
	CategoryLow  Category = "3-5"
	CategoryMid  Category = "4-6"
	CategoryHigh Category = "5-7"
)

var categoryOrder = []Category{CategoryLow, CategoryMid, CategoryHigh}

func (c Category) Valid() bool {
	return c.index() >= 0
}

func (c Category) index() int {
	for i, v := range categoryOrder {
		if v == c {
			return i
		}
	}
	return -1
}

// Harder returns the next bracket up, false if c is already the highest.
func (c Category) Harder() (Category, bool) {
	i := c.index()
	if i < 0 || i == len(categoryOrder)-1 {
		return "", false
	}
	return categoryOrder[i+1], true
}

// Easier returns the next bracket down, false if c is already the lowest.
func (c Category) Easier() (Category, bool) {
	i := c.index()
	if i <= 0 {
		return "", false
	}
	return categoryOrder[i-1], true
}

// Adjacent reports whether o is one step away from c.
func (c Category) Adjacent(o Category) bool {
	i, j := c.index(), o.index()
	if i < 0 || j < 0 {
		return false
	}
	return i-j == 1 || j-i == 1
}

// TimeBucket is the self-reported time a child kept attention on the task.
type TimeBucket string

const (
	BucketLess5  TimeBucket = "less5"
	Bucket5to10  TimeBucket = "5-10"
	Bucket10to15 TimeBucket = "10-15"
	BucketMore15 TimeBucket = "more15"
)

var bucketMinutes = map[TimeBucket]int{
	BucketLess5:  4,
	Bucket5to10:  7,
	Bucket10to15: 12,
	BucketMore15: 18,
}

// TimeBuckets lists buckets in keyboard order.
func TimeBuckets() []TimeBucket {
	return []TimeBucket{BucketLess5, Bucket5to10, Bucket10to15, BucketMore15}
}

func (b TimeBucket) Valid() bool {
	_, ok := bucketMinutes[b]
	return ok
}

// Minutes is the representative value used for progress summaries.
func (b TimeBucket) Minutes() int {
	return bucketMinutes[b]
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyNormal, DifficultyHard:
		return true
	}
	return false
}

// DayProgress is the per-day part of a funnel record. A day is completed
// exactly when CompletedAt is set.
type DayProgress struct {
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	TimeBucket  TimeBucket `json:"time_bucket,omitempty"`
	Difficulty  Difficulty `json:"difficulty,omitempty"`
}

func (p DayProgress) Completed() bool {
	return p.CompletedAt != nil
}

// FunnelRecord is one user's pass through the challenge.
type FunnelRecord struct {
	UserID           int64         `db:"user_id"`
	Age              int           `db:"age"`
	Category         Category      `db:"category"`
	CurrentDay       int           `db:"current_day"`
	IsActive         bool          `db:"is_active"`
	StartedAt        time.Time     `db:"started_at"`
	Days             []DayProgress `db:"days"` // index = day-1
	CategoryChanged  bool          `db:"category_changed"`
	OriginalCategory Category      `db:"original_category"` // "" -> never changed
	CompletedAt      *time.Time    `db:"completed_at"`
	Purchased        bool          `db:"purchased"`
	Version          int64         `db:"version"`
}

// Day returns progress for a 1-based day; out of range days are empty.
func (r *FunnelRecord) Day(day int) DayProgress {
	if day < 1 || day > len(r.Days) {
		return DayProgress{}
	}
	return r.Days[day-1]
}

func (r *FunnelRecord) SetDay(day int, p DayProgress) {
	for len(r.Days) < day {
		r.Days = append(r.Days, DayProgress{})
	}
	r.Days[day-1] = p
}

// AnyCompleted reports whether at least one day has been completed.
func (r *FunnelRecord) AnyCompleted() bool {
	for _, d := range r.Days {
		if d.Completed() {
			return true
		}
	}
	return r.CompletedAt != nil
}

func (r *FunnelRecord) Finished() bool {
	return r.CompletedAt != nil
}

// User is the bot-level account, also carrying the paid entitlement.
type User struct {
	UserID            int64      `db:"user_id"`
	Username          string     `db:"username"`
	SubscriptionUntil *time.Time `db:"subscription_until"`
	Tariff            string     `db:"tariff"`
	Blocked           bool       `db:"bot_blocked"`
	CreatedAt         time.Time  `db:"created_at"`
}

func (u *User) HasActiveSubscription(now time.Time) bool {
	return u != nil && u.SubscriptionUntil != nil && u.SubscriptionUntil.After(now)
}
