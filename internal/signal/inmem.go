package signal

import (
	"context"
	"fmt"
	"sync"

	"github.com/fieldcast/fieldcast/internal/config"
)

// InmemHub connects InmemTransports in-process, replacing the relay in
// tests. Delivery is synchronous and in send order, which makes test
// scenarios deterministic.
type InmemHub struct {
	mu       sync.Mutex
	sessions map[string][]*InmemTransport
}

// NewInmemHub creates an empty hub.
func NewInmemHub() *InmemHub {
	return &InmemHub{sessions: make(map[string][]*InmemTransport)}
}

// NewTransport creates a transport attached to the hub for the given
// role. If echo is set, the hub delivers the transport's own broadcasts
// back to it, imitating relays that do not exclude the sender; receivers
// are required to cope either way.
func (h *InmemHub) NewTransport(role config.Role, echo bool) *InmemTransport {
	return &InmemTransport{hub: h, role: role, echo: echo}
}

func (h *InmemHub) join(t *InmemTransport, sessionID string) {
	h.mu.Lock()
	members := append([]*InmemTransport(nil), h.sessions[sessionID]...)
	h.sessions[sessionID] = append(h.sessions[sessionID], t)
	h.mu.Unlock()

	// Sync snapshot to the newcomer, join notification to the rest.
	roles := make([]config.Role, 0, len(members)+1)
	for _, m := range members {
		roles = append(roles, m.role)
	}
	roles = append(roles, t.role)
	t.deliverPresence(Presence{Kind: PresenceSync, Roles: roles})
	for _, m := range members {
		m.deliverPresence(Presence{Kind: PresenceJoin, Role: t.role})
	}
}

func (h *InmemHub) leave(t *InmemTransport, sessionID string) {
	h.mu.Lock()
	members := h.sessions[sessionID]
	for i, m := range members {
		if m == t {
			h.sessions[sessionID] = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	remaining := append([]*InmemTransport(nil), h.sessions[sessionID]...)
	h.mu.Unlock()

	for _, m := range remaining {
		m.deliverPresence(Presence{Kind: PresenceLeave, Role: t.role})
	}
}

func (h *InmemHub) broadcast(from *InmemTransport, sessionID string, env Envelope) {
	h.mu.Lock()
	members := append([]*InmemTransport(nil), h.sessions[sessionID]...)
	h.mu.Unlock()

	for _, m := range members {
		if m == from && !from.echo {
			continue
		}
		m.deliver(env)
	}
}

// InmemTransport implements Transport against an InmemHub.
type InmemTransport struct {
	hub  *InmemHub
	role config.Role
	echo bool

	mu        sync.Mutex
	joined    bool
	sessionID string
	handlers  map[Type][]Handler
	presence  []PresenceHandler
}

// Join implements Transport.
func (t *InmemTransport) Join(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	if t.joined {
		already := t.sessionID
		t.mu.Unlock()
		if already == sessionID {
			return nil
		}
		return fmt.Errorf("signal: already joined to session %q", already)
	}
	t.joined = true
	t.sessionID = sessionID
	t.handlers = make(map[Type][]Handler)
	t.presence = nil
	t.mu.Unlock()

	t.hub.join(t, sessionID)
	return nil
}

// Leave implements Transport.
func (t *InmemTransport) Leave() error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return nil
	}
	sessionID := t.sessionID
	t.joined = false
	t.sessionID = ""
	t.handlers = nil
	t.presence = nil
	t.mu.Unlock()

	t.hub.leave(t, sessionID)
	return nil
}

// Broadcast implements Transport.
func (t *InmemTransport) Broadcast(env Envelope) error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return ErrNotJoined
	}
	sessionID := t.sessionID
	t.mu.Unlock()

	t.hub.broadcast(t, sessionID, env)
	return nil
}

// On implements Transport.
func (t *InmemTransport) On(typ Type, fn Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.joined {
		return ErrNotJoined
	}
	t.handlers[typ] = append(t.handlers[typ], fn)
	return nil
}

// OnPresence implements Transport.
func (t *InmemTransport) OnPresence(fn PresenceHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.joined {
		return ErrNotJoined
	}
	t.presence = append(t.presence, fn)
	return nil
}

func (t *InmemTransport) deliver(env Envelope) {
	t.mu.Lock()
	fns := append([]Handler(nil), t.handlers[env.Type]...)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(env)
	}
}

func (t *InmemTransport) deliverPresence(p Presence) {
	t.mu.Lock()
	pfns := append([]PresenceHandler(nil), t.presence...)
	t.mu.Unlock()

	for _, fn := range pfns {
		fn(p)
	}
}
