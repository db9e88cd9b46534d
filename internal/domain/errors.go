package domain

import "errors"

// Domain errors
var (
	ErrInvalidPhase        = errors.New("invalid action for current phase")
	ErrInvalidTransition   = errors.New("invalid phase transition")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrPlayerNotActive     = errors.New("player is no longer in play")
	ErrAlreadyRegistered   = errors.New("player already registered")
	ErrRosterFull          = errors.New("roster is full")
	ErrEmptyName           = errors.New("name cannot be empty")
	ErrNameTooLong         = errors.New("name is too long")
	ErrInvalidName         = errors.New("name contains a line break")
	ErrNameTaken           = errors.New("name is already taken")
	ErrInvalidAvatar       = errors.New("invalid avatar index")
	ErrAlreadyAcknowledged = errors.New("already acknowledged this turn")
	ErrNoPlayers           = errors.New("no players registered")
)
