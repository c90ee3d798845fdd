package evaluator

import (
	"math"

	"github.com/law4percent/Chick-Up/internal/domain"
)

// AlertKind combined low-level classification
type AlertKind string

const (
	AlertNone     AlertKind = "none"
	AlertBothLow  AlertKind = "both_low"
	AlertWaterLow AlertKind = "water_low"
	AlertFeedLow  AlertKind = "feed_low"
)

// Result of one evaluation
type Result struct {
	IsWaterLow bool
	IsFeedLow  bool
	Kind       AlertKind
	Message    string
}

// Alert true when anything is low
func (r Result) Alert() bool {
	return r.Kind != AlertNone
}

var messages = map[AlertKind]string{
	AlertNone:     "",
	AlertBothLow:  "Critical: both water and feed levels are low. Refill immediately.",
	AlertWaterLow: "Critical: water level is low. Refill the water tank.",
	AlertFeedLow:  "Critical: feed level is low. Refill the feed container.",
}

// IsLow strict: a level equal to the threshold is not low
func IsLow(level, threshold float64) bool {
	return level < threshold
}

// Evaluate classifies snapshot against settings. Pure.
func Evaluate(snap domain.TelemetrySnapshot, settings domain.Settings) Result {
	r := Result{
		IsWaterLow: IsLow(snap.WaterLevel, settings.Water.ThresholdPercent),
		IsFeedLow:  IsLow(snap.FeedLevel, settings.Feed.ThresholdPercent),
	}
	switch {
	case r.IsWaterLow && r.IsFeedLow:
		r.Kind = AlertBothLow
	case r.IsWaterLow:
		r.Kind = AlertWaterLow
	case r.IsFeedLow:
		r.Kind = AlertFeedLow
	default:
		r.Kind = AlertNone
	}
	r.Message = messages[r.Kind]
	return r
}

// AutoRefillDue water is low and the user enabled auto-refill
func AutoRefillDue(snap domain.TelemetrySnapshot, settings domain.Settings) bool {
	return snap.Available &&
		settings.Water.AutoRefillEnabled &&
		IsLow(snap.WaterLevel, settings.Water.ThresholdPercent)
}

// AutoRefillVolume percent needed to bring water up to autoRefillThreshold, in [0,100]
func AutoRefillVolume(snap domain.TelemetrySnapshot, settings domain.Settings) float64 {
	missing := settings.Water.AutoRefillThreshold - snap.WaterLevel
	if missing <= 0 {
		return 0
	}
	return math.Min(math.Round(missing*100)/100, 100)
}
