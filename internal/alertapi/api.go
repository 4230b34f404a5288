// Package alertapi exposes the REST surface for emergency alerts:
// ingestion, retrieval, listing, statistics, and manual status updates.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
	"github.com/Al3x2023/AlertaRaven4/internal/lifecycle"
)

// AlertService defines the business operations alertapi needs.
type AlertService interface {
	Submit(ctx context.Context, a *alert.Alert) (*alert.Alert, error)
	Get(ctx context.Context, id string) (*alert.Alert, bool, error)
	List(ctx context.Context, f lifecycle.Filter) ([]*alert.Alert, error)
	Statistics(ctx context.Context) (*lifecycle.Statistics, error)
	Override(ctx context.Context, id, status string) (*alert.Alert, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    AlertService
}

// New creates a new API handler.
func New(logger log.Logger, svc AlertService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("alert service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/emergency-alert", a.handleIngestAlert)
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)
		r.Put("/alerts/{id}/status", a.handleUpdateStatus)
		r.Get("/statistics", a.handleStatistics)
	})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("alertaraven.alert.id", id))

	al, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get alert", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	span.SetAttributes(attribute.String("alertaraven.alert.status", string(al.Status)))

	writeJSON(w, http.StatusOK, al)
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := lifecycle.Filter{
		Status:       q.Get("status"),
		AccidentType: q.Get("accident_type"),
		Limit:        intParam(q.Get("limit")),
		Offset:       intParam(q.Get("offset")),
	}

	alerts, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list alerts")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (a *API) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Statistics(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to compute statistics")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	al, ok, err := a.svc.Override(r.Context(), id, req.Status)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidStatus) {
			writeError(w, http.StatusBadRequest, "status not permitted for manual update")
			return
		}
		a.logger.Error(r.Context(), err, "failed to update alert status", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alert_id": al.ID,
		"status":   al.Status,
		"message":  "status updated",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
