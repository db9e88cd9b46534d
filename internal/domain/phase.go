package domain

// Phase represents the current phase of a round
type Phase string

const (
	PhaseLobby        Phase = "LOBBY"         // Waiting for players to register
	PhaseCountdown    Phase = "COUNTDOWN"     // Settle delay before the first green light
	PhaseGreen        Phase = "GREEN"         // Players may move
	PhaseRedPending   Phase = "RED_PENDING"   // Doll is about to turn
	PhaseRedResolving Phase = "RED_RESOLVING" // Doll faces players, acknowledgments pending
	PhaseFinished     Phase = "FINISHED"      // Every player is a winner or a loser
)

// String returns the string representation of the phase
func (p Phase) String() string {
	return string(p)
}

// CanMove reports whether movement heartbeats advance players
func (p Phase) CanMove() bool {
	return p == PhaseGreen || p == PhaseRedPending
}

// InPlay reports whether the round has started and not finished
func (p Phase) InPlay() bool {
	switch p {
	case PhaseCountdown, PhaseGreen, PhaseRedPending, PhaseRedResolving:
		return true
	}
	return false
}

// CanTransitionTo checks if a transition from current phase to target phase is valid
func (p Phase) CanTransitionTo(target Phase) bool {
	validTransitions := map[Phase][]Phase{
		PhaseLobby:        {PhaseCountdown},
		PhaseCountdown:    {PhaseGreen, PhaseFinished},
		PhaseGreen:        {PhaseRedPending, PhaseFinished},
		PhaseRedPending:   {PhaseRedResolving, PhaseFinished},
		PhaseRedResolving: {PhaseGreen, PhaseFinished},
		PhaseFinished:     {},
	}

	allowed, ok := validTransitions[p]
	if !ok {
		return false
	}

	for _, phase := range allowed {
		if phase == target {
			return true
		}
	}
	return false
}
