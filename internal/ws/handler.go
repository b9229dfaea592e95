package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

// Dispatcher receives decoded inbound events and disconnect notices.
// The session engine implements it.
type Dispatcher interface {
	Dispatch(ep Endpoint, env types.Envelope)
	Disconnected(ep Endpoint)
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer on the HTTP
		// surface; the socket accepts and authenticates via join events.
		return true
	},
}

// Handler upgrades HTTP requests and runs the read loop for each
// connection, forwarding frames to the dispatcher.
type Handler struct {
	dispatcher  Dispatcher
	idleTimeout time.Duration
	logger      *zap.Logger
}

func NewHandler(dispatcher Dispatcher, idleTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		dispatcher:  dispatcher,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// HandleWebSocket upgrades the request and serves the connection until
// it drops, idles out, or the client disconnects.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := NewConnection(conn)
	h.logger.Debug("endpoint connected", zap.String("endpoint", c.ID()))
	go h.serve(c, conn)
}

func (h *Handler) serve(c *Connection, raw *websocket.Conn) {
	defer func() {
		h.dispatcher.Disconnected(c)
		_ = c.Close()
		h.logger.Debug("endpoint closed", zap.String("endpoint", c.ID()))
	}()

	// Idle timer: every inbound event pushes expiry out; firing forces
	// a disconnect by closing the socket under the read loop.
	idle := time.AfterFunc(h.idleTimeout, func() {
		h.logger.Info("idle timeout, closing endpoint", zap.String("endpoint", c.ID()))
		_ = c.Close()
	})
	defer idle.Stop()

	_ = raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := raw.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-c.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("read error", zap.String("endpoint", c.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		idle.Reset(h.idleTimeout)
		_ = raw.SetReadDeadline(time.Now().Add(pongWait))

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			_ = c.Send(types.EventError, types.ErrorPayload{Message: "malformed event frame"})
			continue
		}
		if env.Event == types.EventDisconnect {
			return
		}
		h.dispatcher.Dispatch(c, env)
	}
}
