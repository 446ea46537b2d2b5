// Package signal implements the session-scoped signaling channel: the
// envelope types carried over the relay, the transport abstraction, and
// the role-aware protocol layer on top of it.
package signal

import (
	"time"

	"github.com/fieldcast/fieldcast/internal/config"
)

// Type identifies the kind of signal envelope. The set is closed: the
// protocol layer dispatches exhaustively on it and the relay rejects
// anything else.
type Type string

const (
	TypeOffer     Type = "offer"     // serialized SDP, sent only by the initiator
	TypeAnswer    Type = "answer"    // serialized SDP, sent only by the responder
	TypeCandidate Type = "candidate" // serialized ICE candidate, either role, any count
	TypeReconnect Type = "reconnect" // empty payload, asks the other side to restart
	TypeReady     Type = "ready"     // empty payload, announces presence/readiness
)

// Valid reports whether t is one of the known envelope types.
func (t Type) Valid() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeReconnect, TypeReady:
		return true
	}
	return false
}

// Envelope is the unit broadcast over a session channel. SenderRole lets
// receivers drop their own echoes: some transports deliver a sender's
// broadcasts back to it, and receivers must filter regardless.
type Envelope struct {
	Type       Type        `json:"type"`
	Payload    string      `json:"payload,omitempty"`
	SenderRole config.Role `json:"senderRole"`
	SentAt     time.Time   `json:"sentAt"`
}

// PresenceKind identifies a presence notification from the transport.
type PresenceKind string

const (
	PresenceJoin  PresenceKind = "join"
	PresenceLeave PresenceKind = "leave"
	PresenceSync  PresenceKind = "sync" // snapshot of currently-present roles
)

// Presence reports membership changes on a session channel. It is
// observability input only; the signal exchange does not depend on it.
type Presence struct {
	Kind  PresenceKind  `json:"kind"`
	Role  config.Role   `json:"role,omitempty"`  // who joined or left
	Roles []config.Role `json:"roles,omitempty"` // sync snapshot
}

// Frame is the server-to-client message on the websocket relay: either a
// relayed envelope (Event == "signal") or a presence notification whose
// Event is the PresenceKind.
type Frame struct {
	Event    string        `json:"event"`
	Envelope *Envelope     `json:"envelope,omitempty"`
	Role     config.Role   `json:"role,omitempty"`
	Roles    []config.Role `json:"roles,omitempty"`
}

// FrameSignal is the Frame.Event value for relayed envelopes; presence
// frames use the PresenceKind values directly.
const FrameSignal = "signal"
