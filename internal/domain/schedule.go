package domain

import (
	"fmt"
	"time"
)

// FeedSchedule recurring dispense under schedules/{userId}/{id}
type FeedSchedule struct {
	ID            string  `json:"id"`
	Enabled       bool    `json:"enabled"`
	Time          string  `json:"time"` // HH:MM, 24h
	Days          []int   `json:"days"` // 0=Sunday
	VolumePercent float64 `json:"volumePercent"`
	CreatedAt     int64   `json:"createdAt"`
	UpdatedAt     int64   `json:"updatedAt"`
}

// Validate checks time, days and volume
func (s FeedSchedule) Validate() error {
	if _, err := time.Parse("15:04", s.Time); err != nil || len(s.Time) != 5 {
		return &ValidationError{Field: "time", Value: s.Time, Reason: "must be HH:MM"}
	}
	if len(s.Days) == 0 {
		return &ValidationError{Field: "days", Value: s.Days, Reason: "must name at least one day"}
	}
	seen := make(map[int]bool, len(s.Days))
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return &ValidationError{Field: "days", Value: d, Reason: "must be within [0,6]"}
		}
		if seen[d] {
			return &ValidationError{Field: "days", Value: d, Reason: "duplicate day"}
		}
		seen[d] = true
	}
	return ValidatePercent("volumePercent", s.VolumePercent)
}

// IsDue reports whether the schedule fires in the minute containing now (in loc)
func (s FeedSchedule) IsDue(now time.Time, loc *time.Location) bool {
	if !s.Enabled {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	if local.Format("15:04") != s.Time {
		return false
	}
	wd := int(local.Weekday())
	for _, d := range s.Days {
		if d == wd {
			return true
		}
	}
	return false
}

func (s FeedSchedule) String() string {
	return fmt.Sprintf("%s %v %.0f%%", s.Time, s.Days, s.VolumePercent)
}
