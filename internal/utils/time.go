package utils

import "time"

func Now() time.Time {
	return time.Now().UTC()
}

// TruncateToMinute floors t to its minute in UTC.
func TruncateToMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
