package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"site-deployer/pkg/database"
	"site-deployer/pkg/job"
)

// ErrGone reports that the target connection no longer exists. A push
// hitting ErrGone has nobody left to inform and is simply discarded.
var ErrGone = errors.New("connection gone")

// Registry binds a connection id to an existing deployment.
type Registry interface {
	RegisterConnection(ctx context.Context, id, connectionID string) error
}

// clientAction is what a connected client may send us.
type clientAction struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// Hub owns the live websocket connections, keyed by opaque connection
// ids, and exposes the fire-and-forget Post used by the notifier.
type Hub struct {
	registry Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*connection
}

type connection struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writes
}

func NewHub(registry Registry, logger *slog.Logger) *Hub {
	return &Hub{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(map[string]*connection),
	}
}

// ServeWS upgrades the request and services the connection until the
// client goes away. Connect and disconnect are not job-aware; a stale
// connection id left on a job row only ever costs a discarded push.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	c := &connection{ws: ws}
	h.mu.Lock()
	h.conns[connID] = c
	h.mu.Unlock()
	h.logger.Info("connection opened", "connection_id", connID)

	defer func() {
		h.remove(connID)
		ws.Close()
		h.logger.Info("connection closed", "connection_id", connID)
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		reply := h.handleAction(r.Context(), connID, raw)
		if err := h.Post(r.Context(), connID, reply); err != nil {
			return
		}
	}
}

// handleAction routes one client message and returns the reply payload.
func (h *Hub) handleAction(ctx context.Context, connID string, raw []byte) job.SystemMessage {
	var a clientAction
	if err := json.Unmarshal(raw, &a); err != nil {
		return job.SystemMessage{Type: "SYSTEM", Message: "unrecognized message"}
	}
	switch a.Action {
	case "register":
		id := strings.ToLower(a.ID)
		err := h.registry.RegisterConnection(ctx, id, connID)
		switch {
		case err == nil:
			return job.SystemMessage{Type: "SYSTEM", Message: fmt.Sprintf("registered for updates on %s", id)}
		case errors.Is(err, database.ErrNotFound):
			return job.SystemMessage{Type: "SYSTEM", Message: fmt.Sprintf("register failed: no deployment %s", id)}
		default:
			h.logger.Error("register failed", "job_id", id, "connection_id", connID, "error", err)
			return job.SystemMessage{Type: "SYSTEM", Message: "register failed: try again"}
		}
	default:
		return job.SystemMessage{Type: "SYSTEM", Message: fmt.Sprintf("unknown action %q", a.Action)}
	}
}

// Post delivers one JSON payload to a connection. A missing or broken
// connection yields ErrGone.
func (h *Hub) Post(ctx context.Context, connectionID string, payload any) error {
	h.mu.Lock()
	c, ok := h.conns[connectionID]
	h.mu.Unlock()
	if !ok {
		return ErrGone
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(payload); err != nil {
		h.remove(connectionID)
		return ErrGone
	}
	return nil
}

func (h *Hub) remove(connectionID string) {
	h.mu.Lock()
	delete(h.conns, connectionID)
	h.mu.Unlock()
}
