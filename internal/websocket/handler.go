package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"confeed/pkg/interfaces"
	"confeed/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Coordinator receives connection lifecycle and inbound frames. The hub
// implements it.
type Coordinator interface {
	RegisterConnection(conn interfaces.Connection) error
	UnregisterConnection(conn interfaces.Connection) error
	Dispatch(conn interfaces.Connection, env *types.Envelope) error
}

// Handler authenticates WebSocket handshakes and pumps frames into the
// coordinator.
type Handler struct {
	auth        interfaces.Authenticator
	coordinator Coordinator
	cfg         Config
}

// NewHandler creates a handler.
func NewHandler(auth interfaces.Authenticator, coordinator Coordinator, cfg Config) *Handler {
	return &Handler{
		auth:        auth,
		coordinator: coordinator,
		cfg:         cfg,
	}
}

// TokenFromRequest reads the bearer token from the token query parameter or
// the Authorization header.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// HandleWebSocket rejects unauthenticated handshakes with 401 before the
// upgrade and registers authenticated connections with the coordinator.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := TokenFromRequest(r)
	if token == "" {
		slog.Debug("websocket handshake rejected", "error", ErrMissingToken)
		http.Error(w, "Authentication error", http.StatusUnauthorized)
		return
	}

	identity, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		slog.Debug("websocket handshake rejected", "error", err)
		http.Error(w, "Authentication error", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	wsConn := NewConnection(conn, h.cfg)
	wsConn.SetCredentials(identity.ID, identity.Nickname, identity.AvatarURL)

	if err := h.coordinator.RegisterConnection(wsConn); err != nil {
		slog.Error("failed to register connection", "identity", identity.ID, "error", err)
		_ = wsConn.Close()
		return
	}

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump until the socket fails, then
// unregisters the connection.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		if err := h.coordinator.UnregisterConnection(conn); err != nil {
			slog.Warn("failed to unregister connection", "identity", conn.GetIdentityID(), "error", err)
		}
		_ = conn.Close()
	}()

	readTimeout := h.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultConfig().ReadTimeout
	}
	pingInterval := h.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = DefaultConfig().PingInterval
	}
	if h.cfg.MaxFrameSize > 0 {
		conn.conn.SetReadLimit(h.cfg.MaxFrameSize)
	}

	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "identity", conn.GetIdentityID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			slog.Debug("malformed frame dropped", "identity", conn.GetIdentityID())
			continue
		}
		if err := h.coordinator.Dispatch(conn, &env); err != nil {
			slog.Warn("inbound event dropped", "identity", conn.GetIdentityID(), "event", env.Event, "error", err)
		}
	}
}
