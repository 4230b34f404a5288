package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
)

// ErrInvalidStatus is returned by Override for statuses outside the
// operator allow-list. Callers must see this before the store is touched.
var ErrInvalidStatus = errors.New("status not permitted for manual update")

// overrideAllowed is the fixed allow-list for operator status updates.
// It is independent of the automatic pipeline's enum on purpose: it is
// the contract with dashboards, not with the engine.
var overrideAllowed = map[alert.Status]bool{
	alert.StatusPending:    true,
	alert.StatusInProgress: true,
	alert.StatusCompleted:  true,
	alert.StatusCancelled:  true,
	alert.StatusFailed:     true,
}

// Service is the business boundary for alert operations.
type Service struct {
	store   Store
	engine  *Engine
	bcast   Broadcaster
	logger  log.Logger
	metrics *Metrics
}

// NewService creates an alert service. metrics may be nil.
func NewService(store Store, engine *Engine, bcast Broadcaster, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if bcast == nil {
		bcast = NopBroadcaster{}
	}
	return &Service{
		store:   store,
		engine:  engine,
		bcast:   bcast,
		logger:  logger,
		metrics: metrics,
	}
}

// Submit accepts a normalized alert: it assigns identity and the initial
// RECEIVED status, persists the record, broadcasts new_alert to
// dashboard and admin clients, and kicks off the automatic pipeline on
// its own goroutine. The caller gets the stored record back immediately;
// the outcome is observed later through reads or the notification stream.
func (s *Service) Submit(ctx context.Context, a *alert.Alert) (*alert.Alert, error) {
	now := time.Now().UTC()
	a.ID = ulid.Make().String()
	a.Status = alert.StatusReceived
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	if a.EmergencyContacts == nil {
		a.EmergencyContacts = []alert.EmergencyContact{}
	}

	if err := s.store.Create(ctx, a); err != nil {
		s.countSubmit("error")
		return nil, err
	}

	s.bcast.NotifyNewAlert(ctx, a)
	s.countSubmit("accepted")

	s.logger.Info(ctx, "alert accepted",
		"alert_id", a.ID,
		"device_id", a.DeviceID,
		"accident_type", string(a.AccidentType),
		"confidence", a.Confidence,
	)

	// Run the pipeline detached from the request so a client disconnect
	// cannot cancel it mid-transition.
	go s.engine.Run(context.WithoutCancel(ctx), a.ID)

	return a, nil
}

// Get retrieves one alert by ID.
func (s *Service) Get(ctx context.Context, id string) (*alert.Alert, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns alerts matching the filter. Status and accident-type
// values are normalized to the stored uppercase form here so handlers
// can pass query parameters through verbatim.
func (s *Service) List(ctx context.Context, f Filter) ([]*alert.Alert, error) {
	f.Status = strings.ToUpper(strings.TrimSpace(f.Status))
	f.AccidentType = strings.ToUpper(strings.TrimSpace(f.AccidentType))
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(ctx, f)
}

// Statistics returns the aggregate counts for the dashboard.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	return s.store.Statistics(ctx)
}

// Override applies an operator status update. The raw value is validated
// against the fixed allow-list before the store is touched; the resulting
// broadcast carries old_status "manual" since the operator's view of the
// prior state is not authoritative.
func (s *Service) Override(ctx context.Context, id, rawStatus string) (*alert.Alert, bool, error) {
	st := alert.Status(strings.ToUpper(strings.TrimSpace(rawStatus)))
	if !overrideAllowed[st] {
		return nil, false, ErrInvalidStatus
	}

	a, ok, err := s.store.UpdateStatus(ctx, id, st)
	if err != nil || !ok {
		return nil, ok, err
	}

	s.bcast.NotifyStatusChange(ctx, id, "manual", wireStatus(st), "")
	if s.metrics != nil {
		s.metrics.OverridesTotal.WithLabelValues(string(st)).Inc()
	}
	s.logger.Info(ctx, "alert status overridden", "alert_id", id, "status", string(st))
	return a, true, nil
}

func (s *Service) countSubmit(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}
