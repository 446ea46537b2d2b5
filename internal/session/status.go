// Package session layers the reconnection state machine and the session
// facade over the peer connection controller.
package session

// Status is the externally visible connection status of a session:
// Idle, Connecting, Connected, Disconnected, or Error. The reconnection
// coordinator is its sole owner; the controller only reports raw events.
type Status uint32

const (
	// Idle is the entry state: no session joined, or deliberately
	// disconnected.
	Idle Status = iota
	// Connecting covers signaling and ICE negotiation, including every
	// automatic retry window.
	Connecting
	// Connected means media is flowing peer to peer.
	Connected
	// Disconnected is a clean remote close. It is not retried.
	Disconnected
	// Error is a surfaced failure: retries exhausted, or a terminal
	// condition. A manual reconnect always re-arms it.
	Error
)

// String ...
func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}
