// Package registry tracks live push-notification channels grouped by
// client role and by originating device, and fans lifecycle events out
// to them. Delivery is at-most-once best effort: the durable alert
// record is the source of truth, not the notification stream.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
)

// Role is the category of a connected client, determining which
// broadcasts it receives.
type Role string

const (
	RoleDashboard Role = "dashboard"
	RoleMobile    Role = "mobile"
	RoleAdmin     Role = "admin"
)

// Roles lists every known role, in broadcast order.
func Roles() []Role { return []Role{RoleDashboard, RoleMobile, RoleAdmin} }

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleDashboard, RoleMobile, RoleAdmin:
		return true
	}
	return false
}

// Conn is one live bidirectional channel to a client. Send and Ping must
// bound their own I/O with deadlines; the registry never waits on a peer
// indefinitely.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Stats is a consistent snapshot of the registry's population.
type Stats struct {
	TotalConnections  int            `json:"total_connections"`
	ConnectionsByRole map[string]int `json:"connections_by_type"`
	DeviceConnections int            `json:"device_connections"`
	ConnectedDevices  []string       `json:"connected_devices"`
}

// Registry is the live-connection set. All mutation happens under one
// mutex; broadcasts snapshot the target set first and send outside the
// lock so a slow peer never blocks registration churn.
type Registry struct {
	mu      sync.RWMutex
	roles   map[Role]map[Conn]struct{}
	devices map[string]Conn // device ID -> its single affine connection
	logger  log.Logger
	metrics *Metrics
}

// New creates an empty registry. metrics may be nil.
func New(logger log.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = log.Nop()
	}
	r := &Registry{
		roles:   make(map[Role]map[Conn]struct{}),
		devices: make(map[string]Conn),
		logger:  logger,
		metrics: metrics,
	}
	for _, role := range Roles() {
		r.roles[role] = make(map[Conn]struct{})
	}
	return r
}

// Register adds the connection to its role group and, for mobile
// clients with a device ID, takes over the device-affinity slot
// (last-registered wins). Registering the same connection twice is a
// no-op apart from the acknowledgment. Only the new connection
// receives a synchronous connection_established message.
func (r *Registry) Register(ctx context.Context, c Conn, role Role, deviceID string) {
	r.mu.Lock()
	set, ok := r.roles[role]
	if !ok {
		set = make(map[Conn]struct{})
		r.roles[role] = set
	}
	set[c] = struct{}{}
	if role == RoleMobile && deviceID != "" {
		r.devices[deviceID] = c
	}
	r.mu.Unlock()

	r.gauge()
	r.logger.Info(ctx, "connection registered", "role", string(role), "device_id", deviceID)

	ack := newMessage(TypeConnEstablished, ConnEstablishedData{
		Message:    "connected to the AlertaRaven alert stream",
		ClientType: string(role),
	})
	r.send(ctx, c, ack)
}

// Unregister removes the connection from its role group. The
// device-affinity entry is cleared only while it still points at this
// exact connection: a stale unregister must not evict the connection
// that has since taken the device over.
func (r *Registry) Unregister(ctx context.Context, c Conn, role Role, deviceID string) {
	r.mu.Lock()
	if set, ok := r.roles[role]; ok {
		delete(set, c)
	}
	if deviceID != "" && r.devices[deviceID] == c {
		delete(r.devices, deviceID)
	}
	r.mu.Unlock()

	r.gauge()
	r.logger.Info(ctx, "connection unregistered", "role", string(role), "device_id", deviceID)
}

// BroadcastToRole delivers the message to every connection currently in
// the role group. A failed send is logged, counted, and queues that
// connection for eviction; it never aborts delivery to the rest and is
// never surfaced to the caller.
func (r *Registry) BroadcastToRole(ctx context.Context, role Role, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error(ctx, err, "failed to encode broadcast", "type", msg.Type)
		return
	}
	r.broadcastRaw(ctx, role, msg.Type, data)
}

// BroadcastToAll delivers the message to every known role.
func (r *Registry) BroadcastToAll(ctx context.Context, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error(ctx, err, "failed to encode broadcast", "type", msg.Type)
		return
	}
	for _, role := range Roles() {
		r.broadcastRaw(ctx, role, msg.Type, data)
	}
}

func (r *Registry) broadcastRaw(ctx context.Context, role Role, typ string, data []byte) {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.roles[role]))
	for c := range r.roles[role] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	var failed []Conn
	for _, c := range targets {
		if err := c.Send(ctx, data); err != nil {
			r.logger.Warn(ctx, "broadcast send failed, evicting connection",
				"role", string(role), "type", typ, "error", err)
			r.countSend(role, typ, false)
			failed = append(failed, c)
			continue
		}
		r.countSend(role, typ, true)
	}

	if len(failed) > 0 {
		r.evict(role, failed)
		r.gauge()
	}
}

// SendToDevice delivers to the device's affine connection if one exists.
// An absent device is not an error: the device may legitimately be
// offline, so it is only logged.
func (r *Registry) SendToDevice(ctx context.Context, deviceID string, msg *Message) {
	r.mu.RLock()
	c, ok := r.devices[deviceID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Info(ctx, "device not connected, skipping direct send", "device_id", deviceID)
		return
	}

	r.send(ctx, c, msg)
}

func (r *Registry) send(ctx context.Context, c Conn, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error(ctx, err, "failed to encode message", "type", msg.Type)
		return
	}
	if err := c.Send(ctx, data); err != nil {
		r.logger.Warn(ctx, "direct send failed", "type", msg.Type, "error", err)
	}
}

// Sweep pings every registered connection and evicts the ones that fail
// the probe, both from their role group and from the device-affinity map.
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.RLock()
	targets := make(map[Role][]Conn, len(r.roles))
	for role, set := range r.roles {
		for c := range set {
			targets[role] = append(targets[role], c)
		}
	}
	r.mu.RUnlock()

	evicted := 0
	for role, conns := range targets {
		var failed []Conn
		for _, c := range conns {
			if err := c.Ping(ctx); err != nil {
				failed = append(failed, c)
			}
		}
		if len(failed) > 0 {
			r.evict(role, failed)
			evicted += len(failed)
		}
	}

	if evicted > 0 {
		r.gauge()
		r.logger.Info(ctx, "liveness sweep evicted dead connections", "count", evicted)
	}
}

// Run drives the periodic heartbeat and liveness sweep until ctx is
// cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.BroadcastToAll(ctx, newMessage(TypeHeartbeat, nil))
			r.Sweep(ctx)
		}
	}
}

// Stats returns a consistent snapshot of connection counts and the
// currently affine devices.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		ConnectionsByRole: make(map[string]int, len(r.roles)),
		DeviceConnections: len(r.devices),
		ConnectedDevices:  make([]string, 0, len(r.devices)),
	}
	for role, set := range r.roles {
		s.ConnectionsByRole[string(role)] = len(set)
		s.TotalConnections += len(set)
	}
	for id := range r.devices {
		s.ConnectedDevices = append(s.ConnectedDevices, id)
	}
	sort.Strings(s.ConnectedDevices)
	return s
}

// evict removes failed connections under the write lock and closes them
// outside it.
func (r *Registry) evict(role Role, failed []Conn) {
	r.mu.Lock()
	for _, c := range failed {
		if set, ok := r.roles[role]; ok {
			delete(set, c)
		}
		for id, dc := range r.devices {
			if dc == c {
				delete(r.devices, id)
			}
		}
	}
	r.mu.Unlock()

	for _, c := range failed {
		_ = c.Close()
	}
}

// NotifyNewAlert pushes a new_alert message to dashboard and admin
// clients. Mobile clients learn about their own alert through the
// status-change stream instead.
func (r *Registry) NotifyNewAlert(ctx context.Context, a *alert.Alert) {
	msg := newMessage(TypeNewAlert, NewAlertData{
		AlertID:      a.ID,
		DeviceID:     a.DeviceID,
		AccidentType: string(a.AccidentType),
		Confidence:   a.Confidence,
		Timestamp:    a.Timestamp.UTC().Format(time.RFC3339),
		Location:     a.Location,
	})
	r.BroadcastToRole(ctx, RoleDashboard, msg)
	r.BroadcastToRole(ctx, RoleAdmin, msg)
}

// NotifyStatusChange pushes an alert_status_change message to every
// role and, when the device is known, directly to the originating
// device's connection.
func (r *Registry) NotifyStatusChange(ctx context.Context, alertID, oldStatus, newStatus, deviceID string) {
	data := StatusChangeData{
		AlertID:   alertID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
	}
	if deviceID != "" {
		data.DeviceID = &deviceID
	}
	msg := newMessage(TypeStatusChange, data)

	r.BroadcastToAll(ctx, msg)
	if deviceID != "" {
		r.SendToDevice(ctx, deviceID, msg)
	}
}

// NotifySystemStatus pushes a system_status message to every role.
func (r *Registry) NotifySystemStatus(ctx context.Context, status, message string) {
	r.BroadcastToAll(ctx, newMessage(TypeSystemStatus, SystemStatusData{
		Status:  status,
		Message: message,
	}))
}

func (r *Registry) gauge() {
	if r.metrics == nil {
		return
	}
	s := r.Stats()
	for role, n := range s.ConnectionsByRole {
		r.metrics.Connections.WithLabelValues(role).Set(float64(n))
	}
	r.metrics.DeviceConnections.Set(float64(s.DeviceConnections))
}

func (r *Registry) countSend(role Role, typ string, ok bool) {
	if r.metrics == nil {
		return
	}
	if ok {
		r.metrics.SendsTotal.WithLabelValues(string(role), typ).Inc()
		return
	}
	r.metrics.SendFailuresTotal.WithLabelValues(string(role), typ).Inc()
}
