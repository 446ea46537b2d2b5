// Package relay implements the signaling relay daemon: session-scoped
// rooms that fan envelopes out to the other members and report presence.
// The relay has no knowledge of envelope semantics beyond type routing.
package relay

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/signal"
)

// Hub tracks all active session rooms.
type Hub struct {
	store  *Store // optional redis mirror, may be nil
	logger *logrus.Entry

	mu    sync.Mutex
	rooms map[string]*room
}

// NewHub creates an empty hub. store may be nil to run fully in-memory.
func NewHub(store *Store, logger *logrus.Entry) *Hub {
	return &Hub{
		store:  store,
		logger: logger,
		rooms:  make(map[string]*room),
	}
}

// room holds the members of one session. At most one member per role may
// be present at a time.
type room struct {
	id      string
	members map[config.Role]*Client
}

// Join registers a client in its session room. It fails when the role is
// already taken, notifies the other members, and sends the membership
// snapshot to the newcomer.
func (h *Hub) Join(c *Client) error {
	h.mu.Lock()
	r, ok := h.rooms[c.sessionID]
	if !ok {
		r = &room{id: c.sessionID, members: make(map[config.Role]*Client)}
		h.rooms[c.sessionID] = r
	}
	if _, taken := r.members[c.role]; taken {
		h.mu.Unlock()
		return ErrRoleTaken
	}
	r.members[c.role] = c

	roles := make([]config.Role, 0, len(r.members))
	for role := range r.members {
		roles = append(roles, role)
	}
	others := r.othersOf(c)
	h.mu.Unlock()

	c.enqueue(signal.Frame{Event: string(signal.PresenceSync), Roles: roles})
	for _, m := range others {
		m.enqueue(signal.Frame{Event: string(signal.PresenceJoin), Role: c.role})
	}

	if h.store != nil {
		if err := h.store.AddMember(context.Background(), c.sessionID, c.role); err != nil {
			h.logger.WithError(err).Warn("failed to mirror join to redis")
		}
	}

	h.logger.Infof("client %s joined session %q as %s", c.id, c.sessionID, c.role)
	return nil
}

// Leave unregisters a client and notifies the remaining members. The room
// is ephemeral: it is dropped when the last member leaves. Leaving a room
// the client is no longer part of is a no-op.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.sessionID]
	if !ok || r.members[c.role] != c {
		h.mu.Unlock()
		return
	}
	delete(r.members, c.role)
	if len(r.members) == 0 {
		delete(h.rooms, c.sessionID)
	}
	others := r.othersOf(c)
	h.mu.Unlock()

	for _, m := range others {
		m.enqueue(signal.Frame{Event: string(signal.PresenceLeave), Role: c.role})
	}

	if h.store != nil {
		if err := h.store.RemoveMember(context.Background(), c.sessionID, c.role); err != nil {
			h.logger.WithError(err).Warn("failed to mirror leave to redis")
		}
	}

	h.logger.Infof("client %s left session %q", c.id, c.sessionID)
}

// Broadcast relays an envelope to every other member of the sender's
// room. Per-sender ordering is preserved because each client has a single
// read loop feeding single-writer send queues.
func (h *Hub) Broadcast(from *Client, env signal.Envelope) {
	h.mu.Lock()
	r, ok := h.rooms[from.sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	others := r.othersOf(from)
	h.mu.Unlock()

	frame := signal.Frame{Event: signal.FrameSignal, Envelope: &env}
	for _, m := range others {
		m.enqueue(frame)
	}
}

// Members returns the roles currently present in a session.
func (h *Hub) Members(sessionID string) []config.Role {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[sessionID]
	if !ok {
		return nil
	}
	roles := make([]config.Role, 0, len(r.members))
	for role := range r.members {
		roles = append(roles, role)
	}
	return roles
}

func (r *room) othersOf(c *Client) []*Client {
	others := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		if m != c {
			others = append(others, m)
		}
	}
	return others
}
