package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Round is the state machine of one play-through, from registration to
// Finished. It does no IO and keeps no clock; callers pass the time in.
type Round struct {
	ID         string        `json:"id"`
	Phase      Phase         `json:"phase"`
	PhaseStart time.Time     `json:"phaseStart"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`

	rules   Rules
	players map[int]*Player
	order   []int // registration order, used for stable iteration
	acks    map[int]bool
	winners []int
	losers  []int
}

// NewRound creates a round waiting in the lobby
func NewRound(rules Rules, now time.Time) *Round {
	return &Round{
		ID:         uuid.New().String(),
		Phase:      PhaseLobby,
		PhaseStart: now,
		rules:      rules,
		players:    make(map[int]*Player),
		acks:       make(map[int]bool),
	}
}

// Rules returns the rules the round is played with
func (r *Round) Rules() Rules {
	return r.rules
}

// ValidateName checks a display name against the rules and the roster
func (r *Round) ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if utf8.RuneCountInString(name) > r.rules.NameLimit {
		return ErrNameTooLong
	}
	// names are written one per line in the results log
	if strings.ContainsAny(name, "\r\n") {
		return ErrInvalidName
	}
	for _, id := range r.order {
		if r.players[id].Name == name {
			return ErrNameTaken
		}
	}
	return nil
}

// Register adds a player to the lobby
func (r *Round) Register(id int, name string, avatar int, computer bool) (Player, error) {
	if r.Phase != PhaseLobby {
		return Player{}, ErrInvalidPhase
	}
	if _, exists := r.players[id]; exists {
		return Player{}, ErrAlreadyRegistered
	}
	if r.rules.MaxPlayers > 0 && len(r.players) >= r.rules.MaxPlayers {
		return Player{}, ErrRosterFull
	}
	if err := r.ValidateName(name); err != nil {
		return Player{}, err
	}
	if avatar < 0 || avatar >= r.rules.Avatars {
		return Player{}, ErrInvalidAvatar
	}

	p := NewPlayer(id, name, avatar, computer)
	r.players[id] = p
	r.order = append(r.order, id)
	return *p, nil
}

// Remove drops a player who leaves before the round starts
func (r *Round) Remove(id int) error {
	if r.Phase != PhaseLobby {
		return ErrInvalidPhase
	}
	if _, ok := r.players[id]; !ok {
		return ErrPlayerNotFound
	}
	delete(r.players, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Start moves every registered player into play and enters the countdown
func (r *Round) Start(now time.Time) error {
	if len(r.players) == 0 {
		return ErrNoPlayers
	}
	if err := r.transition(PhaseCountdown, now); err != nil {
		return err
	}
	r.StartedAt = now
	for _, id := range r.order {
		r.players[id].State = StateActive
	}
	return nil
}

// BeginGreen starts a green light lasting d
func (r *Round) BeginGreen(now time.Time, d time.Duration) error {
	if err := r.transition(PhaseGreen, now); err != nil {
		return err
	}
	r.Duration = d
	r.acks = make(map[int]bool)
	return nil
}

// GreenExpired reports whether the current green light has run out
func (r *Round) GreenExpired(now time.Time) bool {
	return r.Phase == PhaseGreen && now.Sub(r.PhaseStart) >= r.Duration
}

// WarnTurn enters the short window before the doll faces the players
func (r *Round) WarnTurn(now time.Time) error {
	return r.transition(PhaseRedPending, now)
}

// TurnFront makes the doll face the players; every active player now owes
// one acknowledgment.
func (r *Round) TurnFront(now time.Time) error {
	if err := r.transition(PhaseRedResolving, now); err != nil {
		return err
	}
	r.acks = make(map[int]bool)
	for _, id := range r.order {
		r.players[id].Moving = false
	}
	return nil
}

// MoveResult describes the effect of one movement heartbeat
type MoveResult struct {
	Advanced bool
	Position float64
	Won      bool
}

// Move applies a movement heartbeat (moving true) or a stop. Only
// heartbeats during a green light advance the player.
func (r *Round) Move(id int, moving bool) (MoveResult, error) {
	p, ok := r.players[id]
	if !ok {
		return MoveResult{}, ErrPlayerNotFound
	}
	if !p.IsActive() {
		return MoveResult{Position: p.Position}, ErrPlayerNotActive
	}

	p.Moving = moving
	if !moving {
		return MoveResult{Position: p.Position}, nil
	}
	if !r.Phase.CanMove() {
		return MoveResult{Position: p.Position}, ErrInvalidPhase
	}

	steps := float64(r.rules.Steps)
	p.Position = min(p.Position+r.rules.Stride(p.Computer), steps)

	res := MoveResult{Advanced: true, Position: p.Position}
	if p.Position >= steps {
		p.State = StateWinner
		p.Moving = false
		r.winners = append(r.winners, id)
		delete(r.acks, id)
		res.Won = true
	}
	return res, nil
}

// Acknowledge records a player's answer to the doll facing them. A
// conceding acknowledgment eliminates the player; the return value says so.
func (r *Round) Acknowledge(id int, isLose bool) (bool, error) {
	if r.Phase != PhaseRedResolving {
		return false, ErrInvalidPhase
	}
	p, ok := r.players[id]
	if !ok {
		return false, ErrPlayerNotFound
	}
	if !p.IsActive() {
		return false, ErrPlayerNotActive
	}
	if r.acks[id] {
		return false, ErrAlreadyAcknowledged
	}

	r.acks[id] = true
	if isLose {
		r.eliminate(p)
		return true, nil
	}
	return false, nil
}

// Eliminate marks an active player as a loser. It returns false when the
// player is unknown or already out of play.
func (r *Round) Eliminate(id int) bool {
	p, ok := r.players[id]
	if !ok || !p.IsActive() {
		return false
	}
	r.eliminate(p)
	return true
}

func (r *Round) eliminate(p *Player) {
	p.State = StateLoser
	p.Moving = false
	r.losers = append(r.losers, p.ID)
	delete(r.acks, p.ID)
}

// BarrierComplete reports whether every active player has acknowledged
// the current red light
func (r *Round) BarrierComplete() bool {
	if r.Phase != PhaseRedResolving {
		return false
	}
	active := 0
	for _, id := range r.order {
		if !r.players[id].IsActive() {
			continue
		}
		active++
		if !r.acks[id] {
			return false
		}
	}
	return active > 0
}

// Done reports whether a started round has no active players left
func (r *Round) Done() bool {
	if !r.Phase.InPlay() {
		return false
	}
	for _, id := range r.order {
		if r.players[id].IsActive() {
			return false
		}
	}
	return true
}

// Finish closes the round and returns its record
func (r *Round) Finish(now time.Time) (Record, error) {
	if err := r.transition(PhaseFinished, now); err != nil {
		return Record{}, err
	}
	return r.Record(), nil
}

// Record summarizes the round for the results log
func (r *Round) Record() Record {
	rec := Record{
		RoundID:   r.ID,
		StartedAt: r.StartedAt,
		Players:   len(r.order),
		Winners:   make([]string, 0, len(r.winners)),
		Losers:    make([]string, 0, len(r.losers)),
	}
	for _, id := range r.winners {
		rec.Winners = append(rec.Winners, r.players[id].Name)
	}
	for _, id := range r.losers {
		rec.Losers = append(rec.Losers, r.players[id].Name)
	}
	return rec
}

// Player returns a copy of one player
func (r *Round) Player(id int) (Player, bool) {
	p, ok := r.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Players returns copies of every player in registration order
func (r *Round) Players() []Player {
	out := make([]Player, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.players[id])
	}
	return out
}

// Count returns the number of registered players
func (r *Round) Count() int {
	return len(r.order)
}

// ActiveIDs returns the players still racing, in registration order
func (r *Round) ActiveIDs() []int {
	ids := make([]int, 0, len(r.order))
	for _, id := range r.order {
		if r.players[id].IsActive() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Acknowledged returns how many active players have acknowledged
func (r *Round) Acknowledged() int {
	n := 0
	for id := range r.acks {
		if p, ok := r.players[id]; ok && p.IsActive() {
			n++
		}
	}
	return n
}

// Winners returns player ids in finish order
func (r *Round) Winners() []int {
	return append(make([]int, 0, len(r.winners)), r.winners...)
}

// Losers returns player ids in elimination order
func (r *Round) Losers() []int {
	return append(make([]int, 0, len(r.losers)), r.losers...)
}

func (r *Round) transition(to Phase, now time.Time) error {
	if !r.Phase.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	r.Phase = to
	r.PhaseStart = now
	return nil
}

// RoundState is a read-only view of a round
type RoundState struct {
	ID        string        `json:"id"`
	Phase     Phase         `json:"phase"`
	StartedAt time.Time     `json:"startedAt,omitempty"`
	Duration  time.Duration `json:"duration"`
	Players   []Player      `json:"players"`
	Winners   []int         `json:"winners"`
	Losers    []int         `json:"losers"`
	Acks      int           `json:"acks"`
}

// State returns a snapshot of the round
func (r *Round) State() RoundState {
	return RoundState{
		ID:        r.ID,
		Phase:     r.Phase,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
		Players:   r.Players(),
		Winners:   r.Winners(),
		Losers:    r.Losers(),
		Acks:      r.Acknowledged(),
	}
}
