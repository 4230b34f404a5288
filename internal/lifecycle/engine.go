package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
)

// ConfirmThreshold is the confidence at or above which the pipeline
// confirms an alert instead of parking it for review. The boundary is
// inclusive: exactly 0.7 confirms.
const ConfirmThreshold = 0.7

// Dispatcher delivers emergency notifications (contacts, external
// channels) for a confirmed alert. Errors are logged, not retried, and
// never fail the pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, a *alert.Alert) error
}

// DispatcherFunc adapts a plain function to Dispatcher.
type DispatcherFunc func(ctx context.Context, a *alert.Alert) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, a *alert.Alert) error { return f(ctx, a) }

// StepDelays spaces the pipeline's stages. The zero value runs every
// stage back to back, which is what tests want.
type StepDelays struct {
	Pickup   time.Duration // before RECEIVED -> PROCESSING
	Evaluate time.Duration // before the confidence branch
	Dispatch time.Duration // between CONFIRMED and COMPLETED
}

// EngineHooks receives pipeline events for instrumentation. Nil fields
// are skipped.
type EngineHooks struct {
	OnTransition func(from, to alert.Status)
	OnComplete   func(status alert.Status, seconds float64)
}

// Engine runs the automatic lifecycle for one alert at a time. Each
// transition commits its status to the store before broadcasting, so a
// client-visible state is always durable.
type Engine struct {
	store      Store
	bcast      Broadcaster
	dispatcher Dispatcher
	delays     StepDelays
	hooks      EngineHooks
	logger     log.Logger
}

// NewEngine creates a lifecycle engine. dispatcher may be nil when no
// outbound notification channel is configured.
func NewEngine(store Store, bcast Broadcaster, dispatcher Dispatcher, logger log.Logger, hooks EngineHooks, delays StepDelays) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if bcast == nil {
		bcast = NopBroadcaster{}
	}
	return &Engine{
		store:      store,
		bcast:      bcast,
		dispatcher: dispatcher,
		delays:     delays,
		hooks:      hooks,
		logger:     logger,
	}
}

// Run executes the automatic pipeline for the given alert until it
// reaches a terminal status. It does not retry: any fault moves the
// alert to FAILED and the run ends. Run is meant to be called on its own
// goroutine with a context detached from the originating request.
func (e *Engine) Run(ctx context.Context, id string) {
	start := time.Now()
	L := e.logger.With("alert_id", id)

	a, ok, err := e.store.Get(ctx, id)
	if err != nil {
		L.Error(ctx, err, "failed to fetch alert for processing")
		return
	}
	if !ok {
		L.Warn(ctx, "alert vanished before processing")
		return
	}

	terminal, err := e.run(ctx, a)
	if err != nil {
		L.Error(ctx, err, "pipeline fault, marking alert failed")
		e.fail(ctx, id)
		terminal = alert.StatusFailed
	}

	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(terminal, time.Since(start).Seconds())
	}
	L.Info(ctx, "pipeline finished",
		"status", string(terminal),
		"confidence", a.Confidence,
		"duration", time.Since(start).Seconds(),
	)
}

func (e *Engine) run(ctx context.Context, a *alert.Alert) (alert.Status, error) {
	e.sleep(ctx, e.delays.Pickup)
	if err := e.transition(ctx, a.ID, alert.StatusReceived, alert.StatusProcessing, a.DeviceID); err != nil {
		return "", err
	}

	e.sleep(ctx, e.delays.Evaluate)

	if a.Confidence < ConfirmThreshold {
		if err := e.transition(ctx, a.ID, alert.StatusProcessing, alert.StatusPendingReview, a.DeviceID); err != nil {
			return "", err
		}
		return alert.StatusPendingReview, nil
	}

	if err := e.transition(ctx, a.ID, alert.StatusProcessing, alert.StatusConfirmed, a.DeviceID); err != nil {
		return "", err
	}

	// Dispatch emergency notifications. Failures here are logged but do
	// not fail the alert: the durable record is the source of truth and
	// an operator sees the CONFIRMED state either way.
	if e.dispatcher != nil {
		if err := e.dispatcher.Dispatch(ctx, a); err != nil {
			e.logger.Error(ctx, err, "notification dispatch failed", "alert_id", a.ID)
		}
	}
	e.sleep(ctx, e.delays.Dispatch)

	if err := e.transition(ctx, a.ID, alert.StatusConfirmed, alert.StatusCompleted, a.DeviceID); err != nil {
		return "", err
	}
	return alert.StatusCompleted, nil
}

// transition persists the new status, then broadcasts the change.
// Broadcast never precedes persistence.
func (e *Engine) transition(ctx context.Context, id string, from, to alert.Status, deviceID string) error {
	_, ok, err := e.store.UpdateStatus(ctx, id, to)
	if err != nil {
		return fmt.Errorf("update status to %s: %w", to, err)
	}
	if !ok {
		return fmt.Errorf("alert %s not found during %s transition", id, to)
	}
	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(from, to)
	}
	e.bcast.NotifyStatusChange(ctx, id, wireStatus(from), wireStatus(to), deviceID)
	return nil
}

// fail moves the alert to FAILED, best effort. The device field is
// omitted from the broadcast: at failure time we no longer trust the
// in-memory copy of the alert.
func (e *Engine) fail(ctx context.Context, id string) {
	if _, _, err := e.store.UpdateStatus(ctx, id, alert.StatusFailed); err != nil {
		e.logger.Error(ctx, err, "failed to persist FAILED status", "alert_id", id)
	}
	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(alert.StatusProcessing, alert.StatusFailed)
	}
	e.bcast.NotifyStatusChange(ctx, id, wireStatus(alert.StatusProcessing), wireStatus(alert.StatusFailed), "")
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// wireStatus is the lowercase form statuses take in broadcast payloads.
func wireStatus(s alert.Status) string {
	return strings.ToLower(string(s))
}
