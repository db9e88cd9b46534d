package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"redlight/internal/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Size of the send channel buffer
	sendBufferSize = 256
)

// Spectator is a read-mostly WebSocket connection that follows the round
type Spectator struct {
	conn   *websocket.Conn
	host   Host
	id     string
	send   chan []byte
	done   chan struct{}
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// NewSpectator creates a new spectator for conn
func NewSpectator(conn *websocket.Conn, host Host, id string, logger *slog.Logger) *Spectator {
	return &Spectator{
		conn:   conn,
		host:   host,
		id:     id,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// ID returns the spectator identifier
func (s *Spectator) ID() string {
	return s.id
}

// HandleEvent implements domain.Listener
func (s *Spectator) HandleEvent(e *domain.Event) {
	s.Send(NewServerMessage(MsgEvent, e))
}

// Send queues message for the write pump. It never blocks; a spectator
// that cannot keep up loses messages.
func (s *Spectator) Send(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	select {
	case s.send <- data:
	default:
		s.logger.Warn("send buffer full, message dropped", "spectatorID", s.id)
	}
	return nil
}

// Close closes the connection once
func (s *Spectator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)
	return s.conn.Close()
}

// Run starts the write pump and blocks in the read pump
func (s *Spectator) Run() {
	go s.writePump()
	s.readPump()
}

func (s *Spectator) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", "error", err)
			}
			break
		}

		s.handleMessage(message)
	}
}

func (s *Spectator) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Spectator) handleMessage(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(ErrCodeInvalidMessage, "Invalid message format")
		return
	}

	switch msg.Type {
	case MsgRequestNewRound:
		s.handleRequestNewRound()
	case MsgPing:
		s.Send(NewServerMessage(MsgPong, nil))
	default:
		s.sendError(ErrCodeInvalidMessage, "Unknown message type")
	}
}

func (s *Spectator) handleRequestNewRound() {
	err := s.host.RequestNewRound()
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidPhase):
		s.sendError(ErrCodeInvalidAction, "The round is not finished")
	default:
		s.sendError(ErrCodeInternalError, err.Error())
	}
}

func (s *Spectator) sendConnected() {
	s.Send(NewServerMessage(MsgConnected, &ConnectedPayload{
		SpectatorID: s.id,
		Session:     s.host.Stats(),
	}))
}

func (s *Spectator) sendError(code, message string) {
	s.Send(NewServerMessage(MsgError, &ErrorPayload{Code: code, Message: message}))
}
