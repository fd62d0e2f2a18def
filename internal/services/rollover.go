package services

import "time"

const dayLayout = "2006-01-02"

// DayStamp is a calendar day in UTC formatted as YYYY-MM-DD.
type DayStamp string

// DayOf returns the UTC calendar day containing t.
func DayOf(t time.Time) DayStamp {
	return DayStamp(t.UTC().Format(dayLayout))
}

// IsSameDay reports whether a stored counter day is still current. A missing stored day
// never matches.
func IsSameDay(stored, now DayStamp) bool {
	return stored != "" && stored == now
}
