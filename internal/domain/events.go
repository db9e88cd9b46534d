package domain

import "time"

// EventType represents the type of round event
type EventType string

const (
	EventPlayerRegistered EventType = "PLAYER_REGISTERED"
	EventPlayerLeft       EventType = "PLAYER_LEFT"
	EventPlayerMoved      EventType = "PLAYER_MOVED"
	EventPlayerEliminated EventType = "PLAYER_ELIMINATED"
	EventPhaseChanged     EventType = "PHASE_CHANGED"
	EventRoundFinished    EventType = "ROUND_FINISHED"
	EventTransportError   EventType = "TRANSPORT_ERROR"
	EventLogWriteFailed   EventType = "LOG_WRITE_FAILED"
)

// Event is something the presentation layer may want to react to
type Event struct {
	Type      EventType   `json:"type"`
	RoundID   string      `json:"roundId"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent creates a new round event
func NewEvent(eventType EventType, roundID string, payload interface{}) *Event {
	return &Event{
		Type:      eventType,
		RoundID:   roundID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Payload types for different events

// PlayerMovedPayload is sent when a player's position changes
type PlayerMovedPayload struct {
	ID       int     `json:"id"`
	Position float64 `json:"position"`
	Won      bool    `json:"won,omitempty"`
}

// PlayerIDPayload names a single player
type PlayerIDPayload struct {
	ID int `json:"id"`
}

// PhaseChangedPayload is sent on every phase transition
type PhaseChangedPayload struct {
	Phase    Phase         `json:"phase"`
	Duration time.Duration `json:"duration,omitempty"`
}

// RoundFinishedPayload carries the final standings by name
type RoundFinishedPayload struct {
	Winners []string `json:"winners"`
	Losers  []string `json:"losers"`
}

// ErrorPayload describes a non-fatal failure
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// Listener consumes round events
type Listener interface {
	HandleEvent(event *Event)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(event *Event)

func (f ListenerFunc) HandleEvent(event *Event) { f(event) }

// Callbacks dispatches events to one optional function per kind
type Callbacks struct {
	OnPlayerRegistered func(Player)
	OnPlayerLeft       func(id int)
	OnPlayerMoved      func(id int, position float64)
	OnPlayerEliminated func(id int)
	OnPhaseChanged     func(Phase)
	OnRoundFinished    func(winners, losers []string)
	OnTransportError   func(reason string)
	OnLogWriteFailed   func(reason string)
}

// HandleEvent implements Listener
func (c Callbacks) HandleEvent(e *Event) {
	switch p := e.Payload.(type) {
	case Player:
		if e.Type == EventPlayerRegistered && c.OnPlayerRegistered != nil {
			c.OnPlayerRegistered(p)
		}
	case PlayerMovedPayload:
		if c.OnPlayerMoved != nil {
			c.OnPlayerMoved(p.ID, p.Position)
		}
	case PlayerIDPayload:
		switch {
		case e.Type == EventPlayerEliminated && c.OnPlayerEliminated != nil:
			c.OnPlayerEliminated(p.ID)
		case e.Type == EventPlayerLeft && c.OnPlayerLeft != nil:
			c.OnPlayerLeft(p.ID)
		}
	case PhaseChangedPayload:
		if c.OnPhaseChanged != nil {
			c.OnPhaseChanged(p.Phase)
		}
	case RoundFinishedPayload:
		if c.OnRoundFinished != nil {
			c.OnRoundFinished(p.Winners, p.Losers)
		}
	case ErrorPayload:
		switch {
		case e.Type == EventTransportError && c.OnTransportError != nil:
			c.OnTransportError(p.Reason)
		case e.Type == EventLogWriteFailed && c.OnLogWriteFailed != nil:
			c.OnLogWriteFailed(p.Reason)
		}
	}
}
