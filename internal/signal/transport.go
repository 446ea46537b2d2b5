package signal

import (
	"context"
	"errors"
)

// ErrNotJoined is returned by every send and registration on a transport
// that has not successfully joined a session.
var ErrNotJoined = errors.New("signal: not joined to a session")

// Handler is invoked once per received envelope of a registered type.
type Handler func(Envelope)

// PresenceHandler is invoked for join/leave/sync notifications.
type PresenceHandler func(Presence)

// Transport delivers envelopes to all other current members of a
// session-scoped channel and reports presence. It carries no knowledge of
// the envelope semantics beyond the Type used for routing.
type Transport interface {
	// Join opens the channel scoped to sessionID. Joining the session the
	// transport is already a member of is a no-op; joining a different
	// session while joined is an error.
	Join(ctx context.Context, sessionID string) error

	// Leave unregisters presence and releases the channel, dropping all
	// registered handlers. Leaving twice logs and no-ops.
	Leave() error

	// Broadcast sends an envelope to all other members. Delivery order is
	// preserved per sender within the same envelope type; cross-type
	// ordering is not guaranteed.
	Broadcast(env Envelope) error

	// On registers a handler for envelopes of the given type. Multiple
	// registrations are additive: all fire.
	On(t Type, fn Handler) error

	// OnPresence registers a handler for membership notifications.
	OnPresence(fn PresenceHandler) error
}
