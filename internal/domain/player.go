package domain

// PlayerState is a player's place in the round lifecycle
type PlayerState string

const (
	StateRegistered PlayerState = "REGISTERED"
	StateActive     PlayerState = "ACTIVE"
	StateWinner     PlayerState = "WINNER"
	StateLoser      PlayerState = "LOSER"
)

// IsTerminal reports whether the state can no longer change
func (s PlayerState) IsTerminal() bool {
	return s == StateWinner || s == StateLoser
}

// Player represents a player in the round. Position is fractional
// because computer players advance by a multiple of the step increment.
type Player struct {
	ID       int         `json:"id"`
	Name     string      `json:"name"`
	Avatar   int         `json:"avatar"`
	Computer bool        `json:"computer"`
	Position float64     `json:"position"`
	Moving   bool        `json:"moving"`
	State    PlayerState `json:"state"`
}

// NewPlayer creates a registered player at the start line
func NewPlayer(id int, name string, avatar int, computer bool) *Player {
	return &Player{
		ID:       id,
		Name:     name,
		Avatar:   avatar,
		Computer: computer,
		State:    StateRegistered,
	}
}

// IsActive returns true while the player is still racing
func (p *Player) IsActive() bool {
	return p.State == StateActive
}

// Progress returns the share of the track covered, in [0,1]
func (p *Player) Progress(steps int) float64 {
	if steps <= 0 {
		return 0
	}
	return p.Position / float64(steps)
}
