package app

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"redlight/internal/config"
	"redlight/internal/domain"
	"redlight/internal/protocol"
	"redlight/internal/transport/tcp"
)

const eventQueueSize = 256

// ResultStore persists finished rounds
type ResultStore interface {
	Append(rec domain.Record) error
}

// Option configures a Session
type Option func(*Session)

// WithGreenDuration replaces the random green light length
func WithGreenDuration(fn func() time.Duration) Option {
	return func(s *Session) { s.greenDuration = fn }
}

// WithListener subscribes l before the session starts
func WithListener(l domain.Listener) Option {
	return func(s *Session) {
		s.listeners[s.nextSub] = l
		s.nextSub++
	}
}

// Session is the authoritative host of one game. A single mutex guards
// the registry and the round; every receive goroutine and the phase timer
// go through it, so all peers observe broadcasts in one order.
type Session struct {
	cfg    config.GameConfig
	rules  domain.Rules
	store  ResultStore
	logger *slog.Logger

	mu         sync.Mutex
	registry   *Registry
	round      *domain.Round
	expected   int
	listenAcks map[int]bool
	announced  bool
	resumeAt   time.Time
	closing    bool

	greenDuration func() time.Duration

	listenersMu sync.RWMutex
	listeners   map[int]domain.Listener
	nextSub     int

	events    chan *domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession creates a session waiting for cfg.Players connections
func NewSession(cfg config.GameConfig, store ResultStore, logger *slog.Logger, opts ...Option) *Session {
	rules := cfg.Rules()
	s := &Session{
		cfg:        cfg,
		rules:      rules,
		store:      store,
		logger:     logger,
		registry:   NewRegistry(cfg.MaxClients, logger),
		round:      domain.NewRound(rules, time.Now()),
		expected:   cfg.Players,
		listenAcks: make(map[int]bool),
		listeners:  make(map[int]domain.Listener),
		nextSub:    1,
		events:     make(chan *domain.Event, eventQueueSize),
		done:       make(chan struct{}),
	}
	s.greenDuration = rules.GreenDuration

	for _, opt := range opts {
		opt(s)
	}

	go s.eventLoop()
	go s.phaseLoop()

	return s
}

// Subscribe registers l for every future event and returns a function
// that removes it
func (s *Session) Subscribe(l domain.Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.listeners[id] = l

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// Accept implements tcp.Acceptor. Connections beyond the expected player
// count, or arriving after the lobby closed, are refused.
func (s *Session) Accept(c *tcp.Conn) {
	s.mu.Lock()

	if s.closing || s.round.Phase != domain.PhaseLobby || s.registry.Len() >= s.expected {
		s.mu.Unlock()
		s.logger.Info("connection refused", "remote", c.RemoteAddr())
		c.Close()
		return
	}

	id, err := s.registry.Add(c)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("connection refused", "remote", c.RemoteAddr(), "error", err)
		c.Close()
		return
	}

	s.logger.Info("client connected", "playerID", id, "remote", c.RemoteAddr())

	if err := c.Send(protocol.ListenAck{ID: id}); err != nil {
		s.logger.Debug("failed to send handshake", "playerID", id, "error", err)
	}
	for _, p := range s.round.Players() {
		replay := protocol.Register{Name: p.Name, ID: p.ID, AvatarIndex: p.Avatar, IsComputer: p.Computer}
		if err := c.Send(replay); err != nil {
			s.logger.Debug("failed to replay roster", "playerID", id, "error", err)
		}
	}
	s.mu.Unlock()

	go c.Receive(s)
}

// HandleFrame implements tcp.Handler
func (s *Session) HandleFrame(c *tcp.Conn, fragment []byte) {
	msg, err := protocol.Unmarshal(fragment)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownMessage) {
			s.logger.Warn("dropping unknown message", "playerID", c.ID(), "error", err)
		} else {
			s.logger.Warn("dropping malformed frame", "playerID", c.ID(), "error", err)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.Owns(c) {
		return
	}
	id := c.ID()

	switch m := msg.(type) {
	case protocol.Register:
		s.registry.Relay(id, fragment)
		s.handleRegister(c, m)
	case protocol.ListenAck:
		s.registry.Relay(id, fragment)
		s.handleListenAck(id)
	case protocol.MovingStatus:
		s.registry.Relay(id, fragment)
		s.handleMove(id, m.IsMoving)
	case protocol.FinishedHandlingTurn:
		s.registry.Relay(id, fragment)
		s.handleAcknowledge(id, m.IsLose)
	case protocol.CloseConnection:
		// the relayed frame is the announcement
		s.registry.Relay(id, fragment)
		s.disconnect(id, false)
		c.Close()
	case protocol.Ping, protocol.PlayerName:
		s.registry.Relay(id, fragment)
	default:
		s.logger.Warn("ignoring host-only message from client", "playerID", id, "tag", msg.Tag())
	}
}

// HandleError implements tcp.Handler
func (s *Session) HandleError(c *tcp.Conn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.Owns(c) {
		return
	}
	if !errors.Is(err, tcp.ErrPeerClosed) {
		s.emit(domain.EventTransportError, domain.ErrorPayload{Reason: err.Error()})
	}
	s.logger.Info("client disconnected", "playerID", c.ID(), "reason", err)
	s.disconnect(c.ID(), true)
}

func (s *Session) handleRegister(c *tcp.Conn, m protocol.Register) {
	id := c.ID()
	p, err := s.round.Register(id, m.Name, m.AvatarIndex, m.IsComputer)
	if errors.Is(err, domain.ErrInvalidPhase) || errors.Is(err, domain.ErrAlreadyRegistered) {
		s.logger.Debug("registration ignored", "playerID", id, "error", err)
		return
	}
	if err != nil {
		s.logger.Warn("registration rejected", "playerID", id, "name", m.Name, "error", err)
		s.disconnect(id, true)
		c.Close()
		return
	}

	s.logger.Info("player registered", "playerID", id, "name", p.Name, "computer", p.Computer)
	s.emit(domain.EventPlayerRegistered, p)
	s.maybeStart()
}

func (s *Session) handleListenAck(id int) {
	if s.round.Phase != domain.PhaseLobby {
		return
	}
	s.listenAcks[id] = true
	if len(s.listenAcks) == s.expected && s.registry.Len() == s.expected {
		s.registry.Broadcast(protocol.NumPlayers{Count: s.expected})
		s.announced = true
		s.maybeStart()
	}
}

func (s *Session) maybeStart() {
	if s.round.Phase != domain.PhaseLobby || !s.announced {
		return
	}
	if s.round.Count() != s.expected || s.registry.Len() != s.expected {
		return
	}
	s.startRound()
}

func (s *Session) startRound() {
	if err := s.round.Start(time.Now()); err != nil {
		s.logger.Error("failed to start round", "error", err)
		return
	}
	s.registry.Broadcast(protocol.StartGame{})
	s.logger.Info("round started", "roundID", s.round.ID, "players", s.round.Count())
	s.emit(domain.EventPhaseChanged, domain.PhaseChangedPayload{Phase: s.round.Phase})
}

func (s *Session) handleMove(id int, moving bool) {
	res, err := s.round.Move(id, moving)
	if err != nil {
		s.logger.Debug("movement ignored", "playerID", id, "phase", s.round.Phase, "error", err)
		return
	}
	if !res.Advanced {
		return
	}

	s.emit(domain.EventPlayerMoved, domain.PlayerMovedPayload{ID: id, Position: res.Position, Won: res.Won})
	if res.Won {
		s.logger.Info("player crossed the line", "playerID", id, "place", len(s.round.Winners()))
		s.checkProgress()
	}
}

func (s *Session) handleAcknowledge(id int, isLose bool) {
	lost, err := s.round.Acknowledge(id, isLose)
	if err != nil {
		s.logger.Debug("acknowledgment ignored", "playerID", id, "phase", s.round.Phase, "error", err)
		return
	}
	if lost {
		s.eliminate(id)
	}
	s.checkProgress()
}

// eliminate announces a player who has already been marked as a loser
func (s *Session) eliminate(id int) {
	s.registry.Broadcast(protocol.PlayerLose{ID: id})
	s.logger.Info("player eliminated", "playerID", id)
	s.emit(domain.EventPlayerEliminated, domain.PlayerIDPayload{ID: id})
}

// disconnect forgets a peer. In the lobby the player simply leaves; during
// play the disconnect counts as an elimination.
func (s *Session) disconnect(id int, announce bool) {
	if !s.registry.Remove(id) {
		return
	}
	delete(s.listenAcks, id)
	if s.closing {
		return
	}

	if announce {
		s.registry.Broadcast(protocol.CloseConnection{ID: id})
	}

	switch {
	case s.round.Phase == domain.PhaseLobby:
		s.announced = false
		if err := s.round.Remove(id); err == nil {
			s.emit(domain.EventPlayerLeft, domain.PlayerIDPayload{ID: id})
		}
		s.registry.Reset()
	case s.round.Phase.InPlay():
		if s.round.Eliminate(id) {
			s.eliminate(id)
		}
		s.checkProgress()
	}
}

// checkProgress finishes the round once nobody is racing, and schedules
// the doll turning back once every active player has acknowledged.
func (s *Session) checkProgress() {
	if s.round.Done() {
		s.finish(time.Now())
		return
	}
	if s.round.BarrierComplete() && s.resumeAt.IsZero() {
		s.resumeAt = time.Now().Add(s.cfg.ResumeDelay)
	}
}

func (s *Session) finish(now time.Time) {
	s.resumeAt = time.Time{}
	rec, err := s.round.Finish(now)
	if err != nil {
		s.logger.Error("failed to finish round", "error", err)
		return
	}

	if len(rec.Winners) > 0 {
		s.registry.Broadcast(protocol.GameFinished{})
	}

	if err := s.store.Append(rec); err != nil {
		s.logger.Error("failed to write round result", "roundID", rec.RoundID, "error", err)
		s.emit(domain.EventLogWriteFailed, domain.ErrorPayload{Reason: err.Error()})
	}

	s.logger.Info("round finished", "roundID", rec.RoundID, "winners", rec.Winners, "losers", rec.Losers)
	s.emit(domain.EventPhaseChanged, domain.PhaseChangedPayload{Phase: domain.PhaseFinished})
	s.emit(domain.EventRoundFinished, domain.RoundFinishedPayload{Winners: rec.Winners, Losers: rec.Losers})
}

func (s *Session) beginGreen(now time.Time) {
	d := s.greenDuration()
	if err := s.round.BeginGreen(now, d); err != nil {
		s.logger.Error("failed to begin green light", "error", err)
		return
	}
	s.registry.Broadcast(protocol.DollTurned{IsFront: false})
	s.emit(domain.EventPhaseChanged, domain.PhaseChangedPayload{Phase: domain.PhaseGreen, Duration: d})
}

// phaseLoop drives every timed transition of the round
func (s *Session) phaseLoop() {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.advance(now)
		}
	}
}

func (s *Session) advance(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return
	}

	elapsed := now.Sub(s.round.PhaseStart)
	switch s.round.Phase {
	case domain.PhaseCountdown:
		if elapsed >= s.cfg.SettleDelay {
			s.beginGreen(now)
		}
	case domain.PhaseGreen:
		if s.round.GreenExpired(now) {
			if err := s.round.WarnTurn(now); err != nil {
				s.logger.Error("failed to warn turn", "error", err)
				return
			}
			s.registry.Broadcast(protocol.DollGonnaTurn{})
			s.emit(domain.EventPhaseChanged, domain.PhaseChangedPayload{Phase: domain.PhaseRedPending})
		}
	case domain.PhaseRedPending:
		if elapsed >= s.cfg.TurnWarning {
			if err := s.round.TurnFront(now); err != nil {
				s.logger.Error("failed to turn doll", "error", err)
				return
			}
			s.resumeAt = time.Time{}
			s.registry.Broadcast(protocol.DollTurned{IsFront: true})
			s.emit(domain.EventPhaseChanged, domain.PhaseChangedPayload{Phase: domain.PhaseRedResolving})
		}
	case domain.PhaseRedResolving:
		if !s.resumeAt.IsZero() && !now.Before(s.resumeAt) {
			s.resumeAt = time.Time{}
			if s.round.BarrierComplete() {
				s.beginGreen(now)
			}
		}
	case domain.PhaseFinished:
		if s.cfg.AutoRestart > 0 && elapsed >= s.cfg.AutoRestart {
			s.newRound(now)
		}
	}
}

// RequestNewRound starts another round once the current one has finished.
// Winners still connected carry over; everyone else is disconnected. With
// no one left the session returns to the lobby.
func (s *Session) RequestNewRound() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.Phase != domain.PhaseFinished {
		return domain.ErrInvalidPhase
	}
	s.newRound(time.Now())
	return nil
}

func (s *Session) newRound(now time.Time) {
	prev := s.round

	keep := make([]domain.Player, 0)
	kept := make(map[int]bool)
	for _, id := range prev.Winners() {
		if _, ok := s.registry.Get(id); ok {
			p, _ := prev.Player(id)
			keep = append(keep, p)
			kept[id] = true
		}
	}
	for _, id := range s.registry.IDs() {
		if kept[id] {
			continue
		}
		c, _ := s.registry.Get(id)
		s.registry.Remove(id)
		c.Close()
	}

	s.round = domain.NewRound(s.rules, now)
	s.listenAcks = make(map[int]bool)
	s.announced = false
	s.resumeAt = time.Time{}

	if len(keep) == 0 {
		s.expected = s.cfg.Players
		s.registry.Reset()
		s.logger.Info("back to lobby", "roundID", s.round.ID)
		s.emit(domain.EventPhaseChanged, domain.PhaseChangedPayload{Phase: domain.PhaseLobby})
		return
	}

	s.expected = len(keep)
	for _, p := range keep {
		if _, err := s.round.Register(p.ID, p.Name, p.Avatar, p.Computer); err != nil {
			s.logger.Error("failed to carry player over", "playerID", p.ID, "error", err)
		}
	}
	s.startRound()
}

// Shutdown tells every client the game is over, waits the grace period
// so the message can be delivered, then closes all connections.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	s.closing = true
	s.registry.Broadcast(protocol.KillAll{})
	s.mu.Unlock()

	s.logger.Info("waiting for clients to drain", "grace", s.cfg.ShutdownGrace)
	time.Sleep(s.cfg.ShutdownGrace)

	s.mu.Lock()
	err := s.registry.CloseAll()
	s.mu.Unlock()

	s.Close()
	return err
}

// Stats is a read-only view of the session
type Stats struct {
	Round     domain.RoundState `json:"round"`
	Expected  int               `json:"expected"`
	Connected []int             `json:"connected"`
}

// Stats returns the current state of the session
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Round:     s.round.State(),
		Expected:  s.expected,
		Connected: s.registry.IDs(),
	}
}

// Phase returns the current round phase
func (s *Session) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round.Phase
}

// emit queues an event; caller must hold s.mu
func (s *Session) emit(eventType domain.EventType, payload interface{}) {
	s.queueEvent(domain.NewEvent(eventType, s.round.ID, payload))
}

// queueEvent adds an event to the dispatch queue
func (s *Session) queueEvent(event *domain.Event) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn("event queue full, dropping event", "type", event.Type)
	}
}

// eventLoop hands queued events to listeners
func (s *Session) eventLoop() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.events:
			s.dispatch(event)
		}
	}
}

func (s *Session) dispatch(event *domain.Event) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()

	for _, l := range s.listeners {
		l.HandleEvent(event)
	}
}

// Close stops the session's background loops
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
