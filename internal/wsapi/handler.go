// Package wsapi exposes the websocket endpoint that feeds the
// connection registry. It upgrades HTTP requests, attaches them to the
// registry under the requested role, and holds the read loop open until
// the peer disappears.
package wsapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linnemanlabs/go-core/log"

	"github.com/Al3x2023/AlertaRaven4/internal/registry"
)

// Handler upgrades websocket requests and registers the resulting
// connections.
type Handler struct {
	registry *registry.Registry
	logger   log.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds a Handler bound to the given registry. A nil logger
// defaults to a no-op logger.
func NewHandler(reg *registry.Registry, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return &Handler{
		registry: reg,
		logger:   logger.With("component", "wsapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles GET /ws?client_type=<role>&device_id=<id>. An
// omitted client_type defaults to dashboard; an unknown one is rejected
// before the upgrade so the client sees a plain 400.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roleParam := r.URL.Query().Get("client_type")
	if roleParam == "" {
		roleParam = string(registry.RoleDashboard)
	}
	role := registry.Role(roleParam)
	if !registry.ValidRole(role) {
		http.Error(w, "unknown client_type", http.StatusBadRequest)
		return
	}
	deviceID := r.URL.Query().Get("device_id")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn(ctx, "websocket upgrade failed", "error", err)
		return
	}

	conn := newConn(ws)
	h.registry.Register(ctx, conn, role, deviceID)
	defer func() {
		h.registry.Unregister(ctx, conn, role, deviceID)
		_ = conn.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Clients do not speak after connecting; the loop exists to service
	// control frames and to notice the peer going away.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn(ctx, "websocket read failed", "error", err, "role", string(role))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	}
}
