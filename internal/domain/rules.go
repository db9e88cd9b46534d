package domain

import (
	"math/rand/v2"
	"time"
)

// Rules holds the parameters a round is played with
type Rules struct {
	Steps              int           `json:"steps"`
	NameLimit          int           `json:"nameLimit"`
	Avatars            int           `json:"avatars"`
	MaxPlayers         int           `json:"maxPlayers"`
	StepIncrement      float64       `json:"stepIncrement"`
	ComputerMultiplier float64       `json:"computerMultiplier"`
	GreenMin           time.Duration `json:"greenMin"`
	GreenMax           time.Duration `json:"greenMax"`
}

// DefaultRules returns the standard game rules
func DefaultRules() Rules {
	return Rules{
		Steps:              100,
		NameLimit:          20,
		Avatars:            11,
		MaxPlayers:         5,
		StepIncrement:      1,
		ComputerMultiplier: 2.5,
		GreenMin:           3 * time.Second,
		GreenMax:           7 * time.Second,
	}
}

// GreenDuration draws a green light length in whole seconds, uniform
// over [GreenMin, GreenMax]. Sub-second ranges fall back to GreenMin.
func (r Rules) GreenDuration() time.Duration {
	lo := int(r.GreenMin / time.Second)
	hi := int(r.GreenMax / time.Second)
	if lo < 1 || hi < lo {
		return r.GreenMin
	}
	return time.Duration(lo+rand.IntN(hi-lo+1)) * time.Second
}

// Stride is how far one movement tick carries a player
func (r Rules) Stride(computer bool) float64 {
	if computer {
		return r.StepIncrement * r.ComputerMultiplier
	}
	return r.StepIncrement
}
