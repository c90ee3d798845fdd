package domain

import "time"

// ActionLog append-only entry under actionLogs/{userId}
type ActionLog struct {
	ID            string       `json:"-"`
	UserID        string       `json:"userId"`
	DeviceID      string       `json:"deviceId"`
	Type          ActuatorType `json:"type"`
	Action        ActionKind   `json:"action"`
	VolumePercent float64      `json:"volumePercent"`
	Timestamp     int64        `json:"timestamp"`
	Date          string       `json:"date"`
	Time          string       `json:"time"`
	DayOfWeek     int          `json:"dayOfWeek"`
}

// NewActionLog derives date (MM/DD/YYYY), time (HH:MM:SS) and dayOfWeek (0=Sunday) from at in loc
func NewActionLog(userID, deviceID string, t ActuatorType, volumePercent float64, at time.Time, loc *time.Location) ActionLog {
	if loc == nil {
		loc = time.UTC
	}
	local := at.In(loc)
	return ActionLog{
		UserID:        userID,
		DeviceID:      deviceID,
		Type:          t,
		Action:        t.Action(),
		VolumePercent: volumePercent,
		Timestamp:     at.UnixMilli(),
		Date:          local.Format("01/02/2006"),
		Time:          local.Format("15:04:05"),
		DayOfWeek:     int(local.Weekday()),
	}
}

// At timestamp as time.Time
func (l ActionLog) At() time.Time {
	return time.UnixMilli(l.Timestamp)
}
