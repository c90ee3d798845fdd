package domain

import (
	"math"
	"strings"
)

// DeviceRecord registry entry at devices/{deviceId}; existence is what matters
type DeviceRecord struct {
	DeviceID     string `json:"deviceId"`
	RegisteredAt int64  `json:"registeredAt"`
	Model        string `json:"model,omitempty"`
}

// DeviceLink users/{userId}/linkedDevice
type DeviceLink struct {
	DeviceID string `json:"deviceId"`
	LinkedAt int64  `json:"linkedAt"`
}

// DeviceOwner reverse index deviceOwners/{deviceId}
type DeviceOwner struct {
	UserID   string `json:"userId"`
	LinkedAt int64  `json:"linkedAt"`
}

// ValidateID rejects ids that cannot be used as a path segment
func ValidateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: field, Value: id, Reason: "must not be empty"}
	}
	if strings.Contains(id, "/") {
		return &ValidationError{Field: field, Value: id, Reason: "must not contain '/'"}
	}
	return nil
}

// ValidatePercent checks v lies in [0,100]
func ValidatePercent(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return &ValidationError{Field: field, Value: v, Reason: "must be within [0,100]"}
	}
	return nil
}
