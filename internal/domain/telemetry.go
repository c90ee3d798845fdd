package domain

import (
	"fmt"
	"math"
)

// ActuatorType water or feed
type ActuatorType string

const (
	ActuatorWater ActuatorType = "water"
	ActuatorFeed  ActuatorType = "feed"
)

// ActionKind logged verb
type ActionKind string

const (
	ActionRefill   ActionKind = "refill"
	ActionDispense ActionKind = "dispense"
)

// ParseActuatorType validates a caller-supplied type
func ParseActuatorType(s string) (ActuatorType, error) {
	switch ActuatorType(s) {
	case ActuatorWater, ActuatorFeed:
		return ActuatorType(s), nil
	}
	return "", &ValidationError{Field: "type", Value: s, Reason: "must be water or feed"}
}

// Action water refills, feed dispenses
func (t ActuatorType) Action() ActionKind {
	if t == ActuatorWater {
		return ActionRefill
	}
	return ActionDispense
}

func (t ActuatorType) Valid() bool {
	return t == ActuatorWater || t == ActuatorFeed
}

// SensorLevels raw record at telemetry/{userId}/{deviceId}, written by the device
type SensorLevels struct {
	WaterLevel float64 `json:"waterLevel"`
	FeedLevel  float64 `json:"feedLevel"`
	UpdatedAt  int64   `json:"updatedAt"`
}

// ActuatorState actuators/{userId}/{deviceId}/{type}
type ActuatorState struct {
	LastUpdateAt int64 `json:"lastUpdateAt"`
}

// TelemetrySnapshot read-side view combining levels and actuator stamps
type TelemetrySnapshot struct {
	WaterLevel float64
	FeedLevel  float64
	UpdatedAt  int64
	Water      ActuatorState
	Feed       ActuatorState
	// Available is false until the device has written levels at least once
	Available bool
}

// NewTelemetrySnapshot clamps the raw levels
func NewTelemetrySnapshot(levels *SensorLevels, water, feed ActuatorState) TelemetrySnapshot {
	snap := TelemetrySnapshot{Water: water, Feed: feed}
	if levels != nil {
		snap.WaterLevel = ClampLevel(levels.WaterLevel)
		snap.FeedLevel = ClampLevel(levels.FeedLevel)
		snap.UpdatedAt = levels.UpdatedAt
		snap.Available = true
	}
	return snap
}

func (s TelemetrySnapshot) String() string {
	return fmt.Sprintf("water=%.2f%% feed=%.2f%%", s.WaterLevel, s.FeedLevel)
}

// ClampLevel bounds a level to [0,100]; NaN reads as empty
func ClampLevel(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// Ultrasonic range of the device's bins, cm
const (
	MinDistanceCM = 10.0
	MaxDistanceCM = 300.0
)

// LevelFromDistance converts an ultrasonic reading into a fill percent,
// rounded to two decimals. Closer than min is full, farther than max is empty.
func LevelFromDistance(distanceCM, minCM, maxCM float64) float64 {
	if maxCM <= minCM {
		return 0
	}
	if distanceCM <= minCM {
		return 100
	}
	if distanceCM >= maxCM {
		return 0
	}
	pct := (maxCM - distanceCM) / (maxCM - minCM) * 100
	return math.Round(pct*100) / 100
}
