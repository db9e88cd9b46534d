package ws

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redlight/internal/app"
	"redlight/internal/domain"
)

type fakeHost struct {
	mu        sync.Mutex
	listeners []domain.Listener
	subbed    chan struct{}
	err       error
	requests  int
}

func newFakeHost() *fakeHost {
	return &fakeHost{subbed: make(chan struct{}, 1)}
}

func (f *fakeHost) Stats() app.Stats {
	return app.Stats{Expected: 2, Connected: []int{0}}
}

func (f *fakeHost) RequestNewRound() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return f.err
}

func (f *fakeHost) Subscribe(l domain.Listener) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
	f.subbed <- struct{}{}
	return func() {}
}

func (f *fakeHost) publish(e *domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.listeners {
		l.HandleEvent(e)
	}
}

func dialSpectator(t *testing.T, host Host) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewHandler(host, slog.New(slog.DiscardHandler)))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSpectatorReceivesSnapshotThenEvents(t *testing.T) {
	host := newFakeHost()
	conn := dialSpectator(t, host)

	msg := read(t, conn)
	require.Equal(t, MsgConnected, msg.Type)
	var connected struct {
		SpectatorID string    `json:"spectatorId"`
		Session     app.Stats `json:"session"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &connected))
	assert.NotEmpty(t, connected.SpectatorID)
	assert.Equal(t, 2, connected.Session.Expected)

	<-host.subbed
	host.publish(domain.NewEvent(domain.EventPlayerEliminated, "round", domain.PlayerIDPayload{ID: 1}))

	msg = read(t, conn)
	require.Equal(t, MsgEvent, msg.Type)
	var event struct {
		Type    domain.EventType       `json:"type"`
		Payload domain.PlayerIDPayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	assert.Equal(t, domain.EventPlayerEliminated, event.Type)
	assert.Equal(t, 1, event.Payload.ID)
}

func TestSpectatorRequestsNewRound(t *testing.T) {
	host := newFakeHost()
	host.err = domain.ErrInvalidPhase
	conn := dialSpectator(t, host)
	read(t, conn)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MsgRequestNewRound}))
	msg := read(t, conn)
	require.Equal(t, MsgError, msg.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, ErrCodeInvalidAction, payload.Code)

	host.mu.Lock()
	assert.Equal(t, 1, host.requests)
	host.mu.Unlock()
}

func TestSpectatorPingAndGarbage(t *testing.T) {
	conn := dialSpectator(t, newFakeHost())
	read(t, conn)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MsgPing}))
	assert.Equal(t, MsgPong, read(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, MsgError, read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "dance"}))
	assert.Equal(t, MsgError, read(t, conn).Type)
}
