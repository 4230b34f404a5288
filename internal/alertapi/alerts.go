package alertapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
)

// alertRequest is the ingestion payload sent by mobile devices. The
// accident event carries the sensor readings captured at detection
// time; medical info and contacts ride along for responders.
type alertRequest struct {
	DeviceID          string                   `json:"device_id"`
	UserID            string                   `json:"user_id"`
	AccidentEvent     accidentEvent            `json:"accident_event"`
	MedicalInfo       *alert.MedicalInfo       `json:"medical_info"`
	EmergencyContacts []alert.EmergencyContact `json:"emergency_contacts"`
}

type accidentEvent struct {
	AccidentType          string          `json:"accident_type"`
	Timestamp             string          `json:"timestamp"`
	Confidence            float64         `json:"confidence"`
	AccelerationMagnitude float64         `json:"acceleration_magnitude"`
	GyroscopeMagnitude    float64         `json:"gyroscope_magnitude"`
	Location              *alert.Location `json:"location_data"`
	AdditionalSensorData  map[string]any  `json:"additional_sensor_data"`
}

type alertAccepted struct {
	AlertID   string `json:"alert_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (a *API) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if req.AccidentEvent.Confidence < 0 || req.AccidentEvent.Confidence > 1 {
		writeError(w, http.StatusBadRequest, "confidence must be between 0 and 1")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("alertaraven.alert.device_id", req.DeviceID))

	al := &alert.Alert{
		DeviceID:              req.DeviceID,
		UserID:                req.UserID,
		AccidentType:          alert.ParseAccidentType(req.AccidentEvent.AccidentType),
		Timestamp:             alert.ParseEventTimestamp(req.AccidentEvent.Timestamp, time.Now),
		Confidence:            req.AccidentEvent.Confidence,
		AccelerationMagnitude: req.AccidentEvent.AccelerationMagnitude,
		GyroscopeMagnitude:    req.AccidentEvent.GyroscopeMagnitude,
		Location:              req.AccidentEvent.Location,
		MedicalInfo:           req.MedicalInfo,
		EmergencyContacts:     req.EmergencyContacts,
		AdditionalData:        req.AccidentEvent.AdditionalSensorData,
	}

	stored, err := a.svc.Submit(r.Context(), al)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to accept alert", "device_id", req.DeviceID)
		writeError(w, http.StatusServiceUnavailable, "alert could not be stored")
		return
	}

	span.SetAttributes(attribute.String("alertaraven.alert.id", stored.ID))

	writeJSON(w, http.StatusAccepted, alertAccepted{
		AlertID:   stored.ID,
		Status:    "received",
		Message:   "emergency alert accepted for processing",
		Timestamp: stored.CreatedAt.Format(time.RFC3339Nano),
	})
}
