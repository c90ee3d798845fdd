package store

import "github.com/law4percent/Chick-Up/internal/domain"

// DevicePath registry entry for a physical device
func DevicePath(deviceID string) string { return "devices/" + deviceID }

// DeviceOwnerPath reverse link index
func DeviceOwnerPath(deviceID string) string { return "deviceOwners/" + deviceID }

func LinkedDevicePath(userID string) string { return "users/" + userID + "/linkedDevice" }

func TelemetryPath(userID, deviceID string) string {
	return "telemetry/" + userID + "/" + deviceID
}

func ActuatorPath(userID, deviceID string, t domain.ActuatorType) string {
	return "actuators/" + userID + "/" + deviceID + "/" + string(t)
}

func SettingsPath(userID string) string { return "settings/" + userID }

func ActionLogPath(userID string) string { return "actionLogs/" + userID }

func SchedulePath(userID string) string { return "schedules/" + userID }

// SignalingKeys paths of one (user, device) signaling channel
type SignalingKeys struct {
	Offer            string
	Answer           string
	State            string
	MobileCandidates string
	DeviceCandidates string
}

func SignalingPaths(userID, deviceID string) SignalingKeys {
	base := "signaling/" + userID + "/" + deviceID + "/"
	return SignalingKeys{
		Offer:            base + "offer",
		Answer:           base + "answer",
		State:            base + "state",
		MobileCandidates: base + "iceCandidates/mobile",
		DeviceCandidates: base + "iceCandidates/device",
	}
}

// Negotiation keys purged between sessions; State is kept as the last outcome
func (k SignalingKeys) Negotiation() []string {
	return []string{k.Offer, k.Answer, k.MobileCandidates, k.DeviceCandidates}
}
