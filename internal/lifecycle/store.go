package lifecycle

import (
	"context"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
)

// Filter narrows a List call. Zero-valued fields are ignored; set fields
// combine with AND and match exactly.
type Filter struct {
	Status       string
	AccidentType string
	Limit        int
	Offset       int
}

// Statistics is the aggregate view the dashboard renders.
type Statistics struct {
	TotalAlerts  int            `json:"total_alerts"`
	ActiveAlerts int            `json:"active_alerts"`
	Last24h      int            `json:"last_24h"`
	ByStatus     map[string]int `json:"status_distribution"`
	ByType       map[string]int `json:"accident_type_distribution"`
}

// Store is the persistence interface for alerts. UpdateStatus is an
// unconditional overwrite: when an operator override races the automatic
// pipeline, the last write wins.
type Store interface {
	Create(ctx context.Context, a *alert.Alert) error
	Get(ctx context.Context, id string) (*alert.Alert, bool, error)
	UpdateStatus(ctx context.Context, id string, status alert.Status) (*alert.Alert, bool, error)
	List(ctx context.Context, f Filter) ([]*alert.Alert, error)
	Statistics(ctx context.Context) (*Statistics, error)
}

// Broadcaster pushes lifecycle events to connected clients. Delivery is
// best-effort; implementations must not return delivery failures here.
type Broadcaster interface {
	NotifyNewAlert(ctx context.Context, a *alert.Alert)
	NotifyStatusChange(ctx context.Context, alertID string, oldStatus, newStatus string, deviceID string)
}

// NopBroadcaster discards all notifications.
type NopBroadcaster struct{}

func (NopBroadcaster) NotifyNewAlert(context.Context, *alert.Alert) {}

func (NopBroadcaster) NotifyStatusChange(context.Context, string, string, string, string) {}
