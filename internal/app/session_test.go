package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redlight/internal/config"
	"redlight/internal/domain"
	"redlight/internal/logbook"
	"redlight/internal/protocol"
	"redlight/internal/transport/tcp"
)

const waitFor = 3 * time.Second

func testGameConfig(players int) config.GameConfig {
	cfg := config.Default().Game
	cfg.Players = players
	cfg.Steps = 5
	cfg.SettleDelay = 50 * time.Millisecond
	cfg.TurnWarning = 50 * time.Millisecond
	cfg.ResumeDelay = 50 * time.Millisecond
	cfg.Tick = 10 * time.Millisecond
	cfg.ShutdownGrace = 50 * time.Millisecond
	return cfg
}

type harness struct {
	session *Session
	store   *logbook.Store
	addr    string
	events  chan *domain.Event
}

func newHarness(t *testing.T, cfg config.GameConfig, store ResultStore, opts ...Option) *harness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	h := &harness{events: make(chan *domain.Event, 1024)}
	if store == nil {
		h.store = logbook.NewStore(afero.NewMemMapFs(), "games.log")
		store = h.store
	}

	opts = append(opts, WithListener(domain.ListenerFunc(func(e *domain.Event) { h.events <- e })))
	h.session = NewSession(cfg, store, logger, opts...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	h.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	srv := tcp.NewServer(h.addr, h.session, time.Second, logger)
	go srv.Serve(ctx, ln)

	t.Cleanup(func() {
		cancel()
		h.session.Close()
	})
	return h
}

func (h *harness) waitEvent(t *testing.T, match func(*domain.Event) bool) *domain.Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case e := <-h.events:
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func ofType(typ domain.EventType) func(*domain.Event) bool {
	return func(e *domain.Event) bool { return e.Type == typ }
}

func phaseIs(phase domain.Phase) func(*domain.Event) bool {
	return func(e *domain.Event) bool {
		p, ok := e.Payload.(domain.PhaseChangedPayload)
		return e.Type == domain.EventPhaseChanged && ok && p.Phase == phase
	}
}

// peer is a bare protocol client used to drive the session
type peer struct {
	conn    *tcp.Conn
	id      int
	msgs    chan protocol.Message
	errs    chan error
	unknown atomic.Int32
}

func (p *peer) HandleFrame(c *tcp.Conn, fragment []byte) {
	m, err := protocol.Unmarshal(fragment)
	if err != nil {
		p.unknown.Add(1)
		return
	}
	p.msgs <- m
}

func (p *peer) HandleError(c *tcp.Conn, err error) {
	p.errs <- err
}

func dial(t *testing.T, addr string) *peer {
	t.Helper()
	conn, err := tcp.Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)

	p := &peer{conn: conn, msgs: make(chan protocol.Message, 1024), errs: make(chan error, 1)}
	go conn.Receive(p)
	t.Cleanup(func() { conn.Close() })
	return p
}

// connect dials and completes the identifier handshake
func connect(t *testing.T, addr string) *peer {
	t.Helper()
	p := dial(t, addr)
	select {
	case m := <-p.msgs:
		ack, ok := m.(protocol.ListenAck)
		require.True(t, ok, "first message was %T", m)
		p.id = ack.ID
		p.conn.SetID(ack.ID)
	case err := <-p.errs:
		t.Fatalf("connection closed before handshake: %v", err)
	case <-time.After(waitFor):
		t.Fatal("no handshake")
	}
	require.NoError(t, p.conn.Send(protocol.ListenAck{ID: p.id}))
	return p
}

func (p *peer) send(t *testing.T, m protocol.Message) {
	t.Helper()
	require.NoError(t, p.conn.Send(m))
}

func (p *peer) register(t *testing.T, name string) {
	t.Helper()
	p.send(t, protocol.Register{Name: name, ID: p.id})
	p.send(t, protocol.PlayerName{Name: name})
}

// expect skips messages until want arrives
func (p *peer) expect(t *testing.T, want protocol.Message) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case m := <-p.msgs:
			if m == want {
				return
			}
		case <-deadline:
			t.Fatalf("peer %d timed out waiting for %#v", p.id, want)
		}
	}
}

// never asserts that no message equal to m arrives within d
func (p *peer) never(t *testing.T, m protocol.Message, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case got := <-p.msgs:
			require.NotEqual(t, m, got)
		case <-deadline:
			return
		}
	}
}

func (p *peer) expectClosed(t *testing.T) {
	t.Helper()
	select {
	case <-p.errs:
	case <-time.After(waitFor):
		t.Fatalf("peer %d was not disconnected", p.id)
	}
}

// startGame connects and registers one peer per name and waits for green
func startGame(t *testing.T, h *harness, names ...string) []*peer {
	t.Helper()
	peers := make([]*peer, 0, len(names))
	for _, name := range names {
		p := connect(t, h.addr)
		p.register(t, name)
		peers = append(peers, p)
	}
	for _, p := range peers {
		p.expect(t, protocol.StartGame{})
		p.expect(t, protocol.DollTurned{IsFront: false})
	}
	return peers
}

func longGreen() time.Duration { return time.Hour }

func TestLobbyAnnouncesPlayersThenStarts(t *testing.T) {
	h := newHarness(t, testGameConfig(2), nil)

	a := connect(t, h.addr)
	b := connect(t, h.addr)
	assert.Equal(t, 0, a.id)
	assert.Equal(t, 1, b.id)

	a.expect(t, protocol.NumPlayers{Count: 2})
	b.expect(t, protocol.NumPlayers{Count: 2})
	assert.Equal(t, domain.PhaseLobby, h.session.Phase())

	a.register(t, "alice")
	b.expect(t, protocol.Register{Name: "alice", ID: 0})
	b.expect(t, protocol.PlayerName{Name: "alice"})
	b.register(t, "bob")
	a.expect(t, protocol.Register{Name: "bob", ID: 1})

	a.expect(t, protocol.StartGame{})
	b.expect(t, protocol.StartGame{})
	h.waitEvent(t, phaseIs(domain.PhaseCountdown))

	a.expect(t, protocol.DollTurned{IsFront: false})
	h.waitEvent(t, phaseIs(domain.PhaseGreen))
}

func TestLateJoinerGetsRosterReplay(t *testing.T) {
	h := newHarness(t, testGameConfig(2), nil)
	a := connect(t, h.addr)
	a.register(t, "alice")
	h.waitEvent(t, ofType(domain.EventPlayerRegistered))

	b := dial(t, h.addr)
	b.expect(t, protocol.ListenAck{ID: 1})
	b.expect(t, protocol.Register{Name: "alice", ID: 0})
}

func TestConnectionsBeyondPlayerCountAreRefused(t *testing.T) {
	h := newHarness(t, testGameConfig(1), nil)
	connect(t, h.addr)

	extra := dial(t, h.addr)
	extra.expectClosed(t)
	assert.Len(t, h.session.Stats().Connected, 1)
}

func TestLobbyDisconnectFreesSlot(t *testing.T) {
	h := newHarness(t, testGameConfig(3), nil)
	a := connect(t, h.addr)
	a.register(t, "alice")
	b := connect(t, h.addr)
	b.register(t, "bob")
	a.expect(t, protocol.Register{Name: "bob", ID: 1})

	b.conn.Close()
	a.expect(t, protocol.CloseConnection{ID: 1})
	e := h.waitEvent(t, ofType(domain.EventPlayerLeft))
	assert.Equal(t, 1, e.Payload.(domain.PlayerIDPayload).ID)
	assert.Equal(t, []int{0}, h.session.Stats().Connected)
	assert.Len(t, h.session.Stats().Round.Players, 1)

	c := connect(t, h.addr)
	assert.Equal(t, 2, c.id)
	c.expect(t, protocol.Register{Name: "alice", ID: 0})
	c.register(t, "carol")
	d := connect(t, h.addr)
	assert.Equal(t, 3, d.id)
	d.register(t, "bob")

	for _, p := range []*peer{a, c, d} {
		p.expect(t, protocol.NumPlayers{Count: 3})
		p.expect(t, protocol.StartGame{})
	}
}

func TestLobbyDisconnectBeforeRegisteringLeavesRosterAlone(t *testing.T) {
	h := newHarness(t, testGameConfig(2), nil)
	a := connect(t, h.addr)
	a.register(t, "alice")
	b := connect(t, h.addr)

	b.conn.Close()
	a.expect(t, protocol.CloseConnection{ID: 1})
	assert.Equal(t, []int{0}, h.session.Stats().Connected)
	assert.Len(t, h.session.Stats().Round.Players, 1)

	c := connect(t, h.addr)
	assert.Equal(t, 2, c.id)
	c.register(t, "carol")
	a.expect(t, protocol.StartGame{})
	c.expect(t, protocol.StartGame{})
}

func TestInvalidRegistrationDisconnects(t *testing.T) {
	h := newHarness(t, testGameConfig(2), nil)
	a := connect(t, h.addr)
	a.register(t, "alice")
	b := connect(t, h.addr)

	b.register(t, "alice")
	b.expectClosed(t)
	a.expect(t, protocol.CloseConnection{ID: 1})
	assert.Equal(t, domain.PhaseLobby, h.session.Phase())
}

func TestUnknownFramesAreDropped(t *testing.T) {
	h := newHarness(t, testGameConfig(2), nil)
	a := connect(t, h.addr)
	b := connect(t, h.addr)

	require.NoError(t, a.conn.Relay([]byte("0099{}")))
	a.send(t, protocol.Ping{})

	b.expect(t, protocol.Ping{})
	assert.Zero(t, b.unknown.Load())
	assert.Len(t, h.session.Stats().Connected, 2)
}

func TestWinDuringGreen(t *testing.T) {
	h := newHarness(t, testGameConfig(2), nil, WithGreenDuration(longGreen))
	peers := startGame(t, h, "A", "B")
	a, b := peers[0], peers[1]

	for i := 0; i < 5; i++ {
		a.send(t, protocol.MovingStatus{PlayerID: a.id, IsMoving: true})
	}
	e := h.waitEvent(t, func(e *domain.Event) bool {
		p, ok := e.Payload.(domain.PlayerMovedPayload)
		return ok && p.Won
	})
	assert.Equal(t, a.id, e.Payload.(domain.PlayerMovedPayload).ID)

	b.expect(t, protocol.MovingStatus{PlayerID: a.id, IsMoving: true})
	b.never(t, protocol.PlayerLose{ID: a.id}, 200*time.Millisecond)

	stats := h.session.Stats()
	assert.Equal(t, []int{a.id}, stats.Round.Winners)
	assert.Empty(t, stats.Round.Losers)
	assert.Equal(t, domain.PhaseGreen, stats.Round.Phase)
}

func TestConcedingAckThenBarrierReleases(t *testing.T) {
	h := newHarness(t, testGameConfig(2), nil, WithGreenDuration(func() time.Duration { return 100 * time.Millisecond }))
	peers := startGame(t, h, "A", "B")
	a, b := peers[0], peers[1]

	for _, p := range peers {
		p.expect(t, protocol.DollGonnaTurn{})
		p.expect(t, protocol.DollTurned{IsFront: true})
	}

	b.send(t, protocol.FinishedHandlingTurn{ID: b.id, IsLose: true})
	a.expect(t, protocol.PlayerLose{ID: b.id})

	stats := h.session.Stats()
	assert.Equal(t, domain.PhaseRedResolving, stats.Round.Phase)
	assert.Equal(t, []int{b.id}, stats.Round.Losers)

	a.send(t, protocol.FinishedHandlingTurn{ID: a.id, IsLose: false})
	a.expect(t, protocol.DollTurned{IsFront: false})
	h.waitEvent(t, phaseIs(domain.PhaseGreen))
}

func TestBarrierHoldsUntilEveryAck(t *testing.T) {
	h := newHarness(t, testGameConfig(3), nil, WithGreenDuration(func() time.Duration { return 100 * time.Millisecond }))
	peers := startGame(t, h, "A", "B", "C")
	for _, p := range peers {
		p.expect(t, protocol.DollTurned{IsFront: true})
	}

	peers[0].send(t, protocol.FinishedHandlingTurn{ID: peers[0].id})
	peers[1].send(t, protocol.FinishedHandlingTurn{ID: peers[1].id})
	peers[0].never(t, protocol.DollTurned{IsFront: false}, 300*time.Millisecond)
	assert.Equal(t, domain.PhaseRedResolving, h.session.Phase())

	// a disconnect removes C from the denominator
	peers[2].conn.Close()
	peers[0].expect(t, protocol.CloseConnection{ID: peers[2].id})
	peers[0].expect(t, protocol.PlayerLose{ID: peers[2].id})
	peers[0].expect(t, protocol.DollTurned{IsFront: false})
}

func TestDisconnectOfLastActivePlayerFinishesRound(t *testing.T) {
	h := newHarness(t, testGameConfig(2), nil, WithGreenDuration(longGreen))
	peers := startGame(t, h, "A", "B")
	a, b := peers[0], peers[1]

	for i := 0; i < 5; i++ {
		a.send(t, protocol.MovingStatus{PlayerID: a.id, IsMoving: true})
	}
	h.waitEvent(t, func(e *domain.Event) bool {
		p, ok := e.Payload.(domain.PlayerMovedPayload)
		return ok && p.Won
	})

	b.conn.Close()
	a.expect(t, protocol.CloseConnection{ID: b.id})
	a.expect(t, protocol.PlayerLose{ID: b.id})
	a.expect(t, protocol.GameFinished{})

	e := h.waitEvent(t, ofType(domain.EventRoundFinished))
	assert.Equal(t, domain.RoundFinishedPayload{Winners: []string{"A"}, Losers: []string{"B"}}, e.Payload)

	recs, err := h.store.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"A"}, recs[0].Winners)
	assert.Equal(t, []string{"B"}, recs[0].Losers)
	assert.Equal(t, 2, recs[0].Players)
}

func TestSoleLoserIsLogged(t *testing.T) {
	h := newHarness(t, testGameConfig(1), nil, WithGreenDuration(longGreen))
	peers := startGame(t, h, "solo")

	peers[0].send(t, protocol.CloseConnection{ID: peers[0].id})
	h.waitEvent(t, ofType(domain.EventRoundFinished))

	recs, err := h.store.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Winners)
	assert.Equal(t, []string{"solo"}, recs[0].Losers)
	assert.Equal(t, domain.PhaseFinished, h.session.Phase())
}

type failingStore struct{}

func (failingStore) Append(domain.Record) error { return errors.New("disk full") }

func TestLogWriteFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, testGameConfig(1), failingStore{}, WithGreenDuration(longGreen))
	peers := startGame(t, h, "solo")
	peers[0].conn.Close()

	e := h.waitEvent(t, ofType(domain.EventLogWriteFailed))
	assert.Contains(t, e.Payload.(domain.ErrorPayload).Reason, "disk full")
	h.waitEvent(t, ofType(domain.EventRoundFinished))
	assert.Equal(t, domain.PhaseFinished, h.session.Phase())
}

func TestRequestNewRound(t *testing.T) {
	h := newHarness(t, testGameConfig(2), nil, WithGreenDuration(longGreen))
	assert.ErrorIs(t, h.session.RequestNewRound(), domain.ErrInvalidPhase)

	peers := startGame(t, h, "A", "B")
	a, b := peers[0], peers[1]
	for i := 0; i < 5; i++ {
		a.send(t, protocol.MovingStatus{PlayerID: a.id, IsMoving: true})
	}
	b.send(t, protocol.CloseConnection{ID: b.id})
	h.waitEvent(t, ofType(domain.EventRoundFinished))

	require.NoError(t, h.session.RequestNewRound())
	a.expect(t, protocol.StartGame{})
	a.expect(t, protocol.DollTurned{IsFront: false})

	stats := h.session.Stats()
	assert.Equal(t, 1, stats.Expected)
	require.Len(t, stats.Round.Players, 1)
	assert.Equal(t, "A", stats.Round.Players[0].Name)
	assert.Zero(t, stats.Round.Players[0].Position)
	assert.Equal(t, domain.StateActive, stats.Round.Players[0].State)
}

func TestNewRoundWithoutWinnersReturnsToLobby(t *testing.T) {
	cfg := testGameConfig(1)
	cfg.AutoRestart = 50 * time.Millisecond
	h := newHarness(t, cfg, nil, WithGreenDuration(longGreen))
	peers := startGame(t, h, "solo")
	peers[0].conn.Close()

	h.waitEvent(t, ofType(domain.EventRoundFinished))
	h.waitEvent(t, phaseIs(domain.PhaseLobby))

	next := connect(t, h.addr)
	assert.Equal(t, 0, next.id)
}

func TestShutdownSendsKillAll(t *testing.T) {
	h := newHarness(t, testGameConfig(2), nil, WithGreenDuration(longGreen))
	peers := startGame(t, h, "A", "B")

	require.NoError(t, h.session.Shutdown())
	for _, p := range peers {
		p.expect(t, protocol.KillAll{})
		p.expectClosed(t)
	}

	recs, err := h.store.Records()
	require.NoError(t, err)
	assert.Empty(t, recs)
}
