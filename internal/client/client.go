// Package client is the player side of the game: it connects to a host,
// turns player intents into protocol messages and mirrors the round from
// what the host relays.
package client

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"redlight/internal/config"
	"redlight/internal/domain"
	"redlight/internal/protocol"
	"redlight/internal/transport/tcp"
)

// ErrClosed is returned by intents issued after the client closed
var ErrClosed = errors.New("client is closed")

// Option configures a Client
type Option func(*Client)

// WithListener receives every event of the mirrored round
func WithListener(l domain.Listener) Option {
	return func(c *Client) { c.listener = l }
}

// WithManualAck disables the automatic answer to the doll turning; the
// caller must use AcknowledgeDollTurn instead.
func WithManualAck() Option {
	return func(c *Client) { c.autoAck = false }
}

// WithDecision replaces the random draw of the computer player. It must
// return an integer in [0, n).
func WithDecision(fn func(n int) int) Option {
	return func(c *Client) { c.draw = fn }
}

// Client is one connected player
type Client struct {
	cfg      config.GameConfig
	conn     *tcp.Conn
	logger   *slog.Logger
	listener domain.Listener
	autoAck  bool
	draw     func(n int) int

	mu        sync.Mutex
	id        int
	mirror    *domain.Round
	expected  int
	gone      map[int]bool
	moving    bool
	stopMove  chan struct{}
	computing bool
	hostDone  bool
	leaving   bool
	err       error

	ready     chan struct{}
	events    chan *domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the host at addr and completes the identifier handshake
func Dial(ctx context.Context, addr string, cfg config.GameConfig, writeTimeout time.Duration, logger *slog.Logger, opts ...Option) (*Client, error) {
	conn, err := tcp.Dial(ctx, addr, writeTimeout)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		logger:  logger,
		autoAck: true,
		draw:    rand.IntN,
		id:      protocol.ServerID,
		mirror:  domain.NewRound(cfg.Rules(), time.Now()),
		gone:    make(map[int]bool),
		ready:   make(chan struct{}),
		events:  make(chan *domain.Event, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.eventLoop()
	go conn.Receive(c)

	select {
	case <-c.ready:
		return c, nil
	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return nil, err
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

// ID returns the identifier the host assigned to this player
func (c *Client) ID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Expected returns the player count announced by the host, 0 until then
func (c *Client) Expected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expected
}

// State returns a snapshot of the mirrored round
func (c *Client) State() domain.RoundState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.State()
}

// Done is closed once the client has shut down
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// RegisterPlayer announces this player to the host
func (c *Client) RegisterPlayer(name string, avatarIndex int, isComputer bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.leaving {
		return ErrClosed
	}

	p, err := c.mirror.Register(c.id, name, avatarIndex, isComputer)
	if err != nil {
		return err
	}

	if err := c.conn.Send(protocol.Register{Name: name, ID: c.id, AvatarIndex: avatarIndex, IsComputer: isComputer}); err != nil {
		return err
	}
	if err := c.conn.Send(protocol.PlayerName{Name: name}); err != nil {
		return err
	}

	c.emit(domain.EventPlayerRegistered, p)
	if isComputer {
		c.startComputer()
	}
	return nil
}

// SetMoving holds or releases the move intent. While held, a movement
// heartbeat goes to the host every heartbeat interval.
func (c *Client) SetMoving(moving bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setMovingLocked(moving)
}

func (c *Client) setMovingLocked(moving bool) error {
	if c.leaving {
		return ErrClosed
	}
	p, ok := c.mirror.Player(c.id)
	if !ok {
		return domain.ErrPlayerNotFound
	}
	if c.pendingWin() {
		// heartbeats go on until the host agrees
		return nil
	}
	if !p.IsActive() {
		return domain.ErrPlayerNotActive
	}
	if moving == c.moving {
		return nil
	}

	c.moving = moving
	if moving {
		c.stopMove = make(chan struct{})
		go c.heartbeat(c.stopMove)
		return nil
	}

	c.stopHeartbeat()
	_, _ = c.mirror.Move(c.id, false)
	return c.conn.Send(protocol.MovingStatus{PlayerID: c.id, IsMoving: false})
}

func (c *Client) stopHeartbeat() {
	c.moving = false
	if c.stopMove != nil {
		close(c.stopMove)
		c.stopMove = nil
	}
}

func (c *Client) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			if !c.step(stop) {
				return
			}
		}
	}
}

// step sends one movement heartbeat while the doll faces away and applies
// it to the mirror. A player the mirror already counts as a winner keeps
// stepping: the host only sees the crossing if its own count gets there.
func (c *Client) step(stop <-chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-stop:
		return false
	default:
	}

	if !c.mirror.Phase.InPlay() {
		c.stopHeartbeat()
		return false
	}
	if c.mirror.Phase != domain.PhaseGreen {
		return true
	}
	p, ok := c.mirror.Player(c.id)
	if !ok || p.State == domain.StateLoser {
		c.stopHeartbeat()
		return false
	}

	if err := c.conn.Send(protocol.MovingStatus{PlayerID: c.id, IsMoving: true}); err != nil {
		c.logger.Debug("heartbeat failed", "error", err)
		return false
	}
	if !p.IsActive() {
		return true
	}

	res, err := c.mirror.Move(c.id, true)
	if err != nil || !res.Advanced {
		return true
	}
	c.emit(domain.EventPlayerMoved, domain.PlayerMovedPayload{ID: c.id, Position: res.Position, Won: res.Won})
	if res.Won {
		c.logger.Info("crossed the line", "position", res.Position)
		c.checkFinished()
	}
	return true
}

// pendingWin reports whether this player crossed the line in the mirror
// while the host has not yet closed the round
func (c *Client) pendingWin() bool {
	p, ok := c.mirror.Player(c.id)
	return ok && p.State == domain.StateWinner && c.mirror.Phase.InPlay()
}

// AcknowledgeDollTurn answers the doll facing the players
func (c *Client) AcknowledgeDollTurn(isLose bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acknowledgeLocked(isLose)
}

func (c *Client) acknowledgeLocked(isLose bool) error {
	if c.leaving {
		return ErrClosed
	}
	if c.pendingWin() && c.mirror.Phase == domain.PhaseRedResolving {
		// the host ignores this from players it already counts as winners
		return c.conn.Send(protocol.FinishedHandlingTurn{ID: c.id})
	}
	lost, err := c.mirror.Acknowledge(c.id, isLose)
	if err != nil {
		return err
	}
	if err := c.conn.Send(protocol.FinishedHandlingTurn{ID: c.id, IsLose: isLose}); err != nil {
		return err
	}
	if lost {
		c.emit(domain.EventPlayerEliminated, domain.PlayerIDPayload{ID: c.id})
	}
	return nil
}

// caught decides whether this player was seen moving when the doll turned.
// Computer players are spared until they are close to the line.
func (c *Client) caught() bool {
	p, ok := c.mirror.Player(c.id)
	if !ok || !p.IsActive() || !c.moving {
		return false
	}
	steps := c.cfg.Steps
	if p.Computer && p.Progress(steps) < c.cfg.ComputerSafeRatio {
		return false
	}
	return p.Position < float64(steps-1)
}

// startComputer runs the decision loop unless one is already running;
// caller must hold c.mu
func (c *Client) startComputer() {
	if c.computing {
		return
	}
	c.computing = true
	go c.computerLoop()
}

// computerLoop plays for a computer-controlled player, moving on a
// little under half of the draws
func (c *Client) computerLoop() {
	ticker := time.NewTicker(c.cfg.ComputerDecision)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.mirror.Phase == domain.PhaseFinished {
				c.computing = false
				c.mu.Unlock()
				return
			}
			if c.mirror.Phase.InPlay() {
				move := c.draw(11) > 5
				if err := c.setMovingLocked(move); err != nil && !errors.Is(err, domain.ErrPlayerNotActive) {
					c.logger.Debug("computer move failed", "error", err)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close leaves the game. The host is told before the connection closes.
func (c *Client) Close() error {
	c.mu.Lock()
	leaving := c.leaving
	c.leaving = true
	c.stopHeartbeat()
	id := c.id
	c.mu.Unlock()

	if !leaving && id != protocol.ServerID {
		if err := c.conn.Send(protocol.CloseConnection{ID: id}); err != nil {
			c.logger.Debug("failed to announce leave", "error", err)
		}
	}
	err := c.conn.Close()
	c.shutdown()
	return err
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// emit queues an event; caller must hold c.mu
func (c *Client) emit(eventType domain.EventType, payload interface{}) {
	if c.listener == nil {
		return
	}
	select {
	case c.events <- domain.NewEvent(eventType, c.mirror.ID, payload):
	default:
		c.logger.Warn("event queue full, dropping event", "type", eventType)
	}
}

func (c *Client) eventLoop() {
	for {
		select {
		case <-c.done:
			// deliver what is already queued, the last events explain the shutdown
			for {
				select {
				case e := <-c.events:
					c.listener.HandleEvent(e)
				default:
					return
				}
			}
		case e := <-c.events:
			c.listener.HandleEvent(e)
		}
	}
}
