package app

import (
	"errors"
	"log/slog"
	"sort"

	"go.uber.org/multierr"

	"redlight/internal/protocol"
	"redlight/internal/transport/tcp"
)

// Registry errors
var (
	ErrRegistryFull = errors.New("no free client slot")
	ErrPeerNotFound = errors.New("peer not connected")
)

// Registry tracks connected peers and fans messages out to them.
// It has no lock of its own; the owning Session serializes access.
type Registry struct {
	peers  map[int]*tcp.Conn
	nextID int
	max    int
	logger *slog.Logger
}

// NewRegistry creates a registry holding at most max peers
func NewRegistry(max int, logger *slog.Logger) *Registry {
	return &Registry{
		peers:  make(map[int]*tcp.Conn),
		max:    max,
		logger: logger,
	}
}

// Add assigns the next sequential identifier to c
func (r *Registry) Add(c *tcp.Conn) (int, error) {
	if len(r.peers) >= r.max {
		return protocol.ServerID, ErrRegistryFull
	}
	id := r.nextID
	r.nextID++
	c.SetID(id)
	r.peers[id] = c
	return id, nil
}

// Remove forgets a peer. It returns false if the peer was already gone.
func (r *Registry) Remove(id int) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// Get returns the connection registered under id
func (r *Registry) Get(id int) (*tcp.Conn, bool) {
	c, ok := r.peers[id]
	return c, ok
}

// Owns reports whether c is the live connection for its identifier
func (r *Registry) Owns(c *tcp.Conn) bool {
	live, ok := r.peers[c.ID()]
	return ok && live == c
}

// Len returns the number of connected peers
func (r *Registry) Len() int {
	return len(r.peers)
}

// IDs returns the connected identifiers in ascending order
func (r *Registry) IDs() []int {
	ids := make([]int, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Reset restarts identifier assignment at 0. It only applies once every
// peer has left.
func (r *Registry) Reset() {
	if len(r.peers) == 0 {
		r.nextID = 0
	}
}

// Relay forwards a raw fragment to every peer except the sender
func (r *Registry) Relay(from int, fragment []byte) {
	for _, id := range r.IDs() {
		if id == from {
			continue
		}
		if err := r.peers[id].Relay(fragment); err != nil {
			r.logger.Debug("failed to relay to client", "playerID", id, "error", err)
		}
	}
}

// Broadcast sends m to every peer. With no peers it does nothing.
func (r *Registry) Broadcast(m protocol.Message) {
	frame, err := protocol.Marshal(m)
	if err != nil {
		r.logger.Error("failed to encode broadcast", "tag", m.Tag(), "error", err)
		return
	}
	for _, id := range r.IDs() {
		if err := r.peers[id].Relay(frame); err != nil {
			r.logger.Debug("failed to send to client", "playerID", id, "error", err)
		}
	}
}

// SendTo sends m to a single peer
func (r *Registry) SendTo(id int, m protocol.Message) error {
	c, ok := r.peers[id]
	if !ok {
		return ErrPeerNotFound
	}
	return c.Send(m)
}

// CloseAll closes and forgets every peer
func (r *Registry) CloseAll() error {
	var err error
	for id, c := range r.peers {
		err = multierr.Append(err, c.Close())
		delete(r.peers, id)
	}
	return err
}
