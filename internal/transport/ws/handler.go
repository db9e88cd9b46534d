package ws

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"redlight/internal/app"
	"redlight/internal/domain"
)

// Host is the part of the game session spectators can see and drive
type Host interface {
	Stats() app.Stats
	RequestNewRound() error
	Subscribe(l domain.Listener) func()
}

// Handler handles WebSocket connections
type Handler struct {
	host     Host
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(host Host, logger *slog.Logger) *Handler {
	return &Handler{
		host: host,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// spectators are read-only, any origin may watch
				return true
			},
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and streams round events until the
// spectator goes away
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	spectator := NewSpectator(conn, h.host, uuid.New().String(), h.logger)
	spectator.sendConnected()

	unsubscribe := h.host.Subscribe(spectator)
	defer unsubscribe()

	h.logger.Info("spectator connected", "spectatorID", spectator.ID())
	spectator.Run()
	h.logger.Info("spectator disconnected", "spectatorID", spectator.ID())
}
