package domain

import "time"

// Record is the permanent result of one finished round
type Record struct {
	RoundID   string    `json:"roundId,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	Players   int       `json:"players"`
	Winners   []string  `json:"winners"`
	Losers    []string  `json:"losers"`
}
