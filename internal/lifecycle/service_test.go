package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
	"github.com/Al3x2023/AlertaRaven4/internal/lifecycle"
	"github.com/Al3x2023/AlertaRaven4/internal/lifecycle/memstore"
)

// recordingBroadcaster captures notifications for assertions.
type recordingBroadcaster struct {
	mu        sync.Mutex
	newAlerts []string
	statuses  []statusEvent
}

type statusEvent struct {
	alertID   string
	oldStatus string
	newStatus string
	deviceID  string
}

func (b *recordingBroadcaster) NotifyNewAlert(_ context.Context, a *alert.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newAlerts = append(b.newAlerts, a.ID)
}

func (b *recordingBroadcaster) NotifyStatusChange(_ context.Context, alertID, oldStatus, newStatus, deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, statusEvent{alertID, oldStatus, newStatus, deviceID})
}

func (b *recordingBroadcaster) events() []statusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]statusEvent, len(b.statuses))
	copy(out, b.statuses)
	return out
}

func (b *recordingBroadcaster) newAlertIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.newAlerts))
	copy(out, b.newAlerts)
	return out
}

// faultStore wraps a lifecycle.Store and fails UpdateStatus for selected target
// statuses.
type faultStore struct {
	lifecycle.Store
	failOn map[alert.Status]bool
}

func (s *faultStore) UpdateStatus(ctx context.Context, id string, status alert.Status) (*alert.Alert, bool, error) {
	if s.failOn[status] {
		return nil, false, errors.New("storage unavailable")
	}
	return s.Store.UpdateStatus(ctx, id, status)
}

func newTestService(t *testing.T, bcast lifecycle.Broadcaster, dispatcher lifecycle.Dispatcher) (*lifecycle.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	engine := lifecycle.NewEngine(store, bcast, dispatcher, nil, lifecycle.EngineHooks{}, lifecycle.StepDelays{})
	return lifecycle.NewService(store, engine, bcast, nil, nil), store
}

func waitTerminal(t *testing.T, store lifecycle.Store, id string) *alert.Alert {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a, ok, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("store.Get: %v", err)
		}
		if ok && a.Status.Terminal() {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("alert %s never reached a terminal status", id)
	return nil
}

func TestSubmit_AssignsIdentityAndInitialState(t *testing.T) {
	t.Parallel()

	bcast := &recordingBroadcaster{}
	svc, _ := newTestService(t, bcast, nil)

	a, err := svc.Submit(context.Background(), &alert.Alert{
		DeviceID:     "dev-1",
		AccidentType: alert.TypeCollision,
		Confidence:   0.95,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if a.ID == "" {
		t.Error("expected ULID assigned")
	}
	if a.Status != alert.StatusReceived {
		t.Errorf("status = %q, want %q", a.Status, alert.StatusReceived)
	}
	if a.CreatedAt.IsZero() || a.UpdatedAt.IsZero() {
		t.Error("expected created/updated timestamps set")
	}
	if a.Timestamp.IsZero() {
		t.Error("expected event timestamp to default to now")
	}
	if a.EmergencyContacts == nil {
		t.Error("expected nil contacts normalized to empty slice")
	}

	ids := bcast.newAlertIDs()
	if len(ids) != 1 || ids[0] != a.ID {
		t.Errorf("new_alert broadcasts = %v, want exactly [%s]", ids, a.ID)
	}
}

func TestSubmit_HighConfidenceRunsToCompleted(t *testing.T) {
	t.Parallel()

	bcast := &recordingBroadcaster{}
	svc, store := newTestService(t, bcast, nil)

	a, err := svc.Submit(context.Background(), &alert.Alert{
		DeviceID:   "dev-2",
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitTerminal(t, store, a.ID)
	if final.Status != alert.StatusCompleted {
		t.Fatalf("terminal status = %q, want %q", final.Status, alert.StatusCompleted)
	}

	want := []statusEvent{
		{a.ID, "received", "processing", "dev-2"},
		{a.ID, "processing", "confirmed", "dev-2"},
		{a.ID, "confirmed", "completed", "dev-2"},
	}
	got := bcast.events()
	if len(got) != len(want) {
		t.Fatalf("status broadcasts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("broadcast[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSubmit_ThresholdBoundaryConfirms(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, nil, nil)

	a, err := svc.Submit(context.Background(), &alert.Alert{
		DeviceID:   "dev-3",
		Confidence: lifecycle.ConfirmThreshold,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitTerminal(t, store, a.ID)
	if final.Status != alert.StatusCompleted {
		t.Errorf("confidence exactly at threshold: status = %q, want %q", final.Status, alert.StatusCompleted)
	}
}

func TestSubmit_LowConfidenceParksForReview(t *testing.T) {
	t.Parallel()

	bcast := &recordingBroadcaster{}
	svc, store := newTestService(t, bcast, nil)

	a, err := svc.Submit(context.Background(), &alert.Alert{
		DeviceID:   "dev-4",
		Confidence: 0.69,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitTerminal(t, store, a.ID)
	if final.Status != alert.StatusPendingReview {
		t.Fatalf("terminal status = %q, want %q", final.Status, alert.StatusPendingReview)
	}

	got := bcast.events()
	last := got[len(got)-1]
	if last.newStatus != "pending_review" {
		t.Errorf("final broadcast status = %q, want %q", last.newStatus, "pending_review")
	}
}

func TestSubmit_DispatcherSeesConfirmedAlert(t *testing.T) {
	t.Parallel()

	dispatched := make(chan *alert.Alert, 1)
	dispatcher := lifecycle.DispatcherFunc(func(_ context.Context, a *alert.Alert) error {
		dispatched <- a
		return nil
	})

	svc, store := newTestService(t, nil, dispatcher)

	a, err := svc.Submit(context.Background(), &alert.Alert{
		DeviceID:   "dev-5",
		Confidence: 0.85,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case got := <-dispatched:
		if got.ID != a.ID {
			t.Errorf("dispatched alert = %q, want %q", got.ID, a.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never invoked")
	}

	final := waitTerminal(t, store, a.ID)
	if final.Status != alert.StatusCompleted {
		t.Errorf("terminal status = %q, want %q", final.Status, alert.StatusCompleted)
	}
}

func TestSubmit_DispatcherErrorDoesNotFailPipeline(t *testing.T) {
	t.Parallel()

	dispatcher := lifecycle.DispatcherFunc(func(context.Context, *alert.Alert) error {
		return errors.New("webhook down")
	})

	svc, store := newTestService(t, nil, dispatcher)

	a, err := svc.Submit(context.Background(), &alert.Alert{DeviceID: "dev-6", Confidence: 0.9})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitTerminal(t, store, a.ID)
	if final.Status != alert.StatusCompleted {
		t.Errorf("terminal status = %q, want %q", final.Status, alert.StatusCompleted)
	}
}

func TestEngine_StoreFaultMarksFailed(t *testing.T) {
	t.Parallel()

	bcast := &recordingBroadcaster{}
	inner := memstore.New()
	store := &faultStore{Store: inner, failOn: map[alert.Status]bool{alert.StatusConfirmed: true}}
	engine := lifecycle.NewEngine(store, bcast, nil, nil, lifecycle.EngineHooks{}, lifecycle.StepDelays{})
	svc := lifecycle.NewService(store, engine, bcast, nil, nil)

	a, err := svc.Submit(context.Background(), &alert.Alert{DeviceID: "dev-7", Confidence: 0.9})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitTerminal(t, store, a.ID)
	if final.Status != alert.StatusFailed {
		t.Fatalf("terminal status = %q, want %q", final.Status, alert.StatusFailed)
	}

	got := bcast.events()
	last := got[len(got)-1]
	if last.oldStatus != "processing" || last.newStatus != "failed" {
		t.Errorf("final broadcast = %+v, want processing -> failed", last)
	}
	if last.deviceID != "" {
		t.Errorf("failure broadcast deviceID = %q, want empty", last.deviceID)
	}
}

func TestList_NormalizesFilterAndDefaults(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, nil, nil)

	a1, _ := svc.Submit(context.Background(), &alert.Alert{DeviceID: "d1", AccidentType: alert.TypeFall, Confidence: 0.9})
	svc.Submit(context.Background(), &alert.Alert{DeviceID: "d2", AccidentType: alert.TypeCollision, Confidence: 0.9})
	waitTerminal(t, store, a1.ID)

	got, err := svc.List(context.Background(), lifecycle.Filter{AccidentType: "  fall "})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].AccidentType != alert.TypeFall {
		t.Errorf("accident type = %q, want %q", got[0].AccidentType, alert.TypeFall)
	}
}

func TestOverride_AllowedStatus(t *testing.T) {
	t.Parallel()

	bcast := &recordingBroadcaster{}
	svc, store := newTestService(t, bcast, nil)

	a, _ := svc.Submit(context.Background(), &alert.Alert{DeviceID: "d1", Confidence: 0.9})
	waitTerminal(t, store, a.ID)

	updated, ok, err := svc.Override(context.Background(), a.ID, "cancelled")
	if err != nil || !ok {
		t.Fatalf("Override: ok=%v err=%v", ok, err)
	}
	if updated.Status != alert.StatusCancelled {
		t.Errorf("status = %q, want %q", updated.Status, alert.StatusCancelled)
	}

	got := bcast.events()
	last := got[len(got)-1]
	if last.oldStatus != "manual" {
		t.Errorf("override broadcast oldStatus = %q, want %q", last.oldStatus, "manual")
	}
	if last.newStatus != "cancelled" {
		t.Errorf("override broadcast newStatus = %q, want %q", last.newStatus, "cancelled")
	}
	if last.deviceID != "" {
		t.Errorf("override broadcast deviceID = %q, want empty", last.deviceID)
	}
}

func TestOverride_CaseInsensitive(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, nil, nil)
	a, _ := svc.Submit(context.Background(), &alert.Alert{DeviceID: "d1", Confidence: 0.9})
	waitTerminal(t, store, a.ID)

	updated, ok, err := svc.Override(context.Background(), a.ID, "  In_Progress ")
	if err != nil || !ok {
		t.Fatalf("Override: ok=%v err=%v", ok, err)
	}
	if updated.Status != alert.StatusInProgress {
		t.Errorf("status = %q, want %q", updated.Status, alert.StatusInProgress)
	}
}

func TestOverride_RejectedBeforeStore(t *testing.T) {
	t.Parallel()

	bcast := &recordingBroadcaster{}
	svc, store := newTestService(t, bcast, nil)
	a, _ := svc.Submit(context.Background(), &alert.Alert{DeviceID: "d1", Confidence: 0.9})
	final := waitTerminal(t, store, a.ID)

	for _, status := range []string{"received", "processing", "confirmed", "pending_review", "bogus", ""} {
		_, _, err := svc.Override(context.Background(), a.ID, status)
		if !errors.Is(err, lifecycle.ErrInvalidStatus) {
			t.Errorf("Override(%q) error = %v, want lifecycle.ErrInvalidStatus", status, err)
		}
	}

	// Rejections never touch the stored record.
	after, _, _ := store.Get(context.Background(), a.ID)
	if after.Status != final.Status {
		t.Errorf("status after rejected overrides = %q, want %q", after.Status, final.Status)
	}
}

func TestOverride_NotFound(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil, nil)

	_, ok, err := svc.Override(context.Background(), "01JMISSING", "cancelled")
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing alert")
	}
}

func TestGet_Passthrough(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil, nil)

	a, _ := svc.Submit(context.Background(), &alert.Alert{DeviceID: "d1", Confidence: 0.9})

	got, ok, err := svc.Get(context.Background(), a.ID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.ID != a.ID {
		t.Errorf("ID = %q, want %q", got.ID, a.ID)
	}

	_, ok, err = svc.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing alert")
	}
}
