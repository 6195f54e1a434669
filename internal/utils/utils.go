package utils

import (
	"log"
	"time"
)

// Must stops the process on startup errors.
func Must(e error) {
	if e != nil {
		log.Fatal(e)
	}
}

// StartOfDay returns local midnight of the day t falls on in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
