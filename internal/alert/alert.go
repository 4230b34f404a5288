// Package alert defines the canonical emergency-alert entity and the
// normalization helpers the intake boundary uses to build one.
package alert

import (
	"strconv"
	"strings"
	"time"
)

// AccidentType classifies the physical event a device reported.
type AccidentType string

const (
	TypeCollision  AccidentType = "COLLISION"
	TypeSuddenStop AccidentType = "SUDDEN_STOP"
	TypeRollover   AccidentType = "ROLLOVER"
	TypeFall       AccidentType = "FALL"
	TypeUnknown    AccidentType = "UNKNOWN"
)

// ParseAccidentType maps a raw accident-type string to the fixed enum.
// Matching is case-insensitive and unrecognized values map to UNKNOWN
// rather than failing: a device reporting a new event kind must never
// have its alert rejected over the label.
func ParseAccidentType(s string) AccidentType {
	switch AccidentType(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeCollision:
		return TypeCollision
	case TypeSuddenStop:
		return TypeSuddenStop
	case TypeRollover:
		return TypeRollover
	case TypeFall:
		return TypeFall
	default:
		return TypeUnknown
	}
}

// Status tracks where an alert is in its processing lifecycle.
type Status string

const (
	// StatusReceived is the initial state, assigned before persistence.
	StatusReceived Status = "RECEIVED"

	// StatusProcessing means the automatic pipeline picked the alert up.
	StatusProcessing Status = "PROCESSING"

	// StatusConfirmed means confidence met the threshold and emergency
	// notifications are being dispatched.
	StatusConfirmed Status = "CONFIRMED"

	// StatusCompleted is terminal: dispatch finished.
	StatusCompleted Status = "COMPLETED"

	// StatusPendingReview is terminal for the automatic pipeline: the
	// confidence was too low to confirm and an operator must look.
	StatusPendingReview Status = "PENDING_REVIEW"

	// StatusFailed is terminal: the pipeline hit a fault it does not retry.
	StatusFailed Status = "FAILED"

	// StatusCancelled is reachable only through an operator override.
	StatusCancelled Status = "CANCELLED"

	// StatusPending and StatusInProgress exist only on the operator
	// override allow-list; the automatic pipeline never assigns them.
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
)

// Terminal reports whether the automatic pipeline makes no further
// transitions from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPendingReview, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Location is a snapshot of where the device was when the event fired.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// MedicalInfo carries the user's medical profile for first responders.
type MedicalInfo struct {
	BloodType            string   `json:"blood_type,omitempty"`
	Allergies            []string `json:"allergies,omitempty"`
	Medications          []string `json:"medications,omitempty"`
	MedicalConditions    []string `json:"medical_conditions,omitempty"`
	EmergencyMedicalInfo string   `json:"emergency_medical_info,omitempty"`
}

// EmergencyContact is one person to notify about a confirmed alert.
type EmergencyContact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship,omitempty"`
	IsPrimary    bool   `json:"is_primary"`
}

// Alert is one reported emergency event with sensor evidence and a
// lifecycle status. The ID is assigned at intake and never changes;
// Status is mutated only by the lifecycle engine or an operator override.
type Alert struct {
	ID       string `json:"alert_id"`
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id,omitempty"`

	AccidentType AccidentType `json:"accident_type"`
	Timestamp    time.Time    `json:"timestamp"`
	Confidence   float64      `json:"confidence"`

	AccelerationMagnitude float64 `json:"acceleration_magnitude"`
	GyroscopeMagnitude    float64 `json:"gyroscope_magnitude"`

	Location          *Location          `json:"location_data,omitempty"`
	MedicalInfo       *MedicalInfo       `json:"medical_info,omitempty"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// AdditionalData is opaque to the core; it round-trips through the
	// store untouched.
	AdditionalData map[string]any `json:"additional_data,omitempty"`
}

// ParseEventTimestamp parses the event timestamp a device sent. Devices
// report either RFC 3339 text or a Unix epoch in milliseconds; anything
// unparseable falls back to now. A bad timestamp is never grounds to
// reject an emergency alert.
func ParseEventTimestamp(s string, now func() time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return now()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// Some clients send RFC 3339 without a zone.
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC()
	}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return now()
}
