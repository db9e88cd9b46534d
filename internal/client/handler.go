package client

import (
	"errors"
	"time"

	"redlight/internal/domain"
	"redlight/internal/protocol"
	"redlight/internal/transport/tcp"
)

// ErrKilled is reported when the host ends the game for everyone
var ErrKilled = errors.New("host ended the game")

// HandleFrame implements tcp.Handler
func (c *Client) HandleFrame(conn *tcp.Conn, fragment []byte) {
	msg, err := protocol.Unmarshal(fragment)
	if err != nil {
		c.logger.Warn("dropping frame", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.leaving {
		return
	}
	now := time.Now()

	switch m := msg.(type) {
	case protocol.ListenAck:
		c.handleListenAck(m)
	case protocol.NumPlayers:
		c.expected = m.Count
	case protocol.Register:
		if m.ID == c.id {
			return
		}
		p, err := c.mirror.Register(m.ID, m.Name, m.AvatarIndex, m.IsComputer)
		if err != nil {
			c.logger.Debug("mirror rejected registration", "playerID", m.ID, "error", err)
			return
		}
		c.emit(domain.EventPlayerRegistered, p)
	case protocol.PlayerName:
		c.logger.Debug("player named", "name", m.Name)
	case protocol.StartGame:
		c.handleStart(now)
	case protocol.DollTurned:
		if m.IsFront {
			c.handleDollFront(now)
		} else {
			c.handleDollBack(now)
		}
	case protocol.DollGonnaTurn:
		if err := c.mirror.WarnTurn(now); err == nil {
			c.emitPhase()
		}
	case protocol.MovingStatus:
		if m.PlayerID == c.id {
			return
		}
		res, err := c.mirror.Move(m.PlayerID, m.IsMoving)
		if err == nil && res.Advanced {
			c.emit(domain.EventPlayerMoved, domain.PlayerMovedPayload{ID: m.PlayerID, Position: res.Position, Won: res.Won})
		}
	case protocol.FinishedHandlingTurn:
		if m.ID == c.id {
			return
		}
		lost, err := c.mirror.Acknowledge(m.ID, m.IsLose)
		if err == nil && lost {
			c.emit(domain.EventPlayerEliminated, domain.PlayerIDPayload{ID: m.ID})
		}
	case protocol.PlayerLose:
		c.handlePlayerLose(m.ID)
	case protocol.CloseConnection:
		c.handleCloseConnection(m.ID)
	case protocol.GameFinished:
		c.hostDone = true
		c.logger.Info("game finished", "winners", len(c.mirror.Winners()))
	case protocol.KillAll:
		c.handleKillAll()
		return
	case protocol.Ping:
	}

	c.checkFinished()
}

// HandleError implements tcp.Handler
func (c *Client) HandleError(conn *tcp.Conn, err error) {
	c.mu.Lock()
	leaving := c.leaving
	c.leaving = true
	c.stopHeartbeat()
	if !leaving {
		c.err = err
		c.emit(domain.EventTransportError, domain.ErrorPayload{Reason: err.Error()})
	}
	c.mu.Unlock()

	if !leaving {
		c.logger.Warn("connection to host lost", "error", err)
	}
	c.shutdown()
}

func (c *Client) handleListenAck(m protocol.ListenAck) {
	// only the first one is ours, later ones are relayed from other peers
	if c.id != protocol.ServerID {
		return
	}
	c.id = m.ID
	c.conn.SetID(m.ID)
	if err := c.conn.Send(protocol.ListenAck{ID: m.ID}); err != nil {
		c.logger.Debug("failed to answer handshake", "error", err)
	}
	close(c.ready)
}

func (c *Client) handleStart(now time.Time) {
	if c.mirror.Phase == domain.PhaseFinished {
		c.carryOver(now)
	}
	c.hostDone = false
	if err := c.mirror.Start(now); err != nil {
		c.logger.Debug("mirror failed to start", "error", err)
		return
	}
	c.emitPhase()
}

// carryOver rebuilds the mirror for a new round with the winners that
// stayed connected
func (c *Client) carryOver(now time.Time) {
	prev := c.mirror
	c.mirror = domain.NewRound(c.cfg.Rules(), now)
	for _, id := range prev.Winners() {
		if c.gone[id] {
			continue
		}
		p, _ := prev.Player(id)
		if _, err := c.mirror.Register(p.ID, p.Name, p.Avatar, p.Computer); err != nil {
			c.logger.Debug("failed to carry player over", "playerID", id, "error", err)
		}
	}
	if p, ok := c.mirror.Player(c.id); ok && p.Computer {
		c.startComputer()
	}
}

func (c *Client) handleDollBack(now time.Time) {
	if err := c.mirror.BeginGreen(now, 0); err != nil {
		c.logger.Debug("mirror failed to begin green light", "error", err)
		return
	}
	c.emitPhase()
}

func (c *Client) handleDollFront(now time.Time) {
	// decide before the mirror clears everyone's moving flag
	lose := c.caught()
	if c.mirror.Phase == domain.PhaseGreen {
		_ = c.mirror.WarnTurn(now)
	}
	if err := c.mirror.TurnFront(now); err != nil {
		c.logger.Debug("mirror failed to turn doll", "error", err)
		return
	}
	// the move intent does not survive the doll turning, except for a
	// crossing the host has not counted yet
	pending := c.pendingWin()
	if !pending {
		c.stopHeartbeat()
	}
	c.emitPhase()

	if !c.autoAck {
		return
	}
	if p, ok := c.mirror.Player(c.id); !ok || (!p.IsActive() && !pending) {
		return
	}
	if err := c.acknowledgeLocked(lose); err != nil {
		c.logger.Warn("failed to acknowledge", "error", err)
	}
}

func (c *Client) handlePlayerLose(id int) {
	if c.mirror.Eliminate(id) {
		c.emit(domain.EventPlayerEliminated, domain.PlayerIDPayload{ID: id})
	}
	if id != c.id {
		return
	}

	c.logger.Info("eliminated, leaving the game")
	c.checkFinished()
	c.leaving = true
	c.stopHeartbeat()
	if err := c.conn.Send(protocol.CloseConnection{ID: c.id}); err != nil {
		c.logger.Debug("failed to announce leave", "error", err)
	}
	c.conn.Close()
	c.shutdown()
}

func (c *Client) handleCloseConnection(id int) {
	c.gone[id] = true
	switch {
	case c.mirror.Phase == domain.PhaseLobby:
		if err := c.mirror.Remove(id); err == nil {
			c.emit(domain.EventPlayerLeft, domain.PlayerIDPayload{ID: id})
		}
	case c.mirror.Phase.InPlay():
		if c.mirror.Eliminate(id) {
			c.emit(domain.EventPlayerEliminated, domain.PlayerIDPayload{ID: id})
		}
	}
}

func (c *Client) handleKillAll() {
	c.logger.Warn("host ended the game")
	c.leaving = true
	c.err = ErrKilled
	c.stopHeartbeat()
	c.emit(domain.EventTransportError, domain.ErrorPayload{Reason: ErrKilled.Error()})
	c.conn.Close()
	c.shutdown()
}

// checkFinished closes the mirrored round once nobody is racing. This
// player's own crossing only counts once the host has confirmed the end.
func (c *Client) checkFinished() {
	if !c.mirror.Phase.InPlay() {
		return
	}
	if !c.hostDone && (!c.mirror.Done() || c.pendingWin()) {
		return
	}
	rec, err := c.mirror.Finish(time.Now())
	if err != nil {
		return
	}
	c.emitPhase()
	c.emit(domain.EventRoundFinished, domain.RoundFinishedPayload{Winners: rec.Winners, Losers: rec.Losers})
}

func (c *Client) emitPhase() {
	c.emit(domain.EventPhaseChanged, domain.PhaseChangedPayload{Phase: c.mirror.Phase})
}
