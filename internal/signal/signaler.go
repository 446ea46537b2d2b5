package signal

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/util"
)

// Signaler is the protocol layer over a Transport: it stamps outgoing
// envelopes with the local role and timestamp, and drops incoming
// envelopes carrying the local role before they reach any callback
// (self-echo suppression).
type Signaler struct {
	tr     Transport
	role   config.Role
	logger *logrus.Entry
}

// NewSignaler wraps the given transport for a peer with the given role.
func NewSignaler(tr Transport, role config.Role, logger *logrus.Entry) *Signaler {
	return &Signaler{tr: tr, role: role, logger: logger}
}

// Role returns the local role.
func (s *Signaler) Role() config.Role {
	return s.role
}

// Join opens the session channel.
func (s *Signaler) Join(ctx context.Context, sessionID string) error {
	return s.tr.Join(ctx, sessionID)
}

// Leave releases the session channel and all registrations.
func (s *Signaler) Leave() error {
	return s.tr.Leave()
}

// ──────────────────────────────────────────────────────────────────────────────
// Sends
// ──────────────────────────────────────────────────────────────────────────────

// send wraps a payload into an envelope and broadcasts it. A broadcast
// failure is logged and returned, but callers are expected to treat it as
// non-fatal: a lost signal is compensated by the reconnection layer.
func (s *Signaler) send(typ Type, payload string) error {
	env := Envelope{
		Type:       typ,
		Payload:    payload,
		SenderRole: s.role,
		SentAt:     time.Now(),
	}

	if err := s.tr.Broadcast(env); err != nil {
		s.logger.WithError(err).Warnf("failed to broadcast %s", typ)
		return err
	}

	util.Stats.AddSent()
	return nil
}

// SendOffer broadcasts a serialized SDP offer.
func (s *Signaler) SendOffer(sdp string) error {
	return s.send(TypeOffer, sdp)
}

// SendAnswer broadcasts a serialized SDP answer.
func (s *Signaler) SendAnswer(sdp string) error {
	return s.send(TypeAnswer, sdp)
}

// SendCandidate broadcasts a serialized ICE candidate.
func (s *Signaler) SendCandidate(candidate string) error {
	return s.send(TypeCandidate, candidate)
}

// SendReconnectRequest asks the remote peer to restart its connection.
func (s *Signaler) SendReconnectRequest() error {
	return s.send(TypeReconnect, "")
}

// SendReady announces that this peer has joined and is ready to signal.
func (s *Signaler) SendReady() error {
	return s.send(TypeReady, "")
}

// ──────────────────────────────────────────────────────────────────────────────
// Receives
// ──────────────────────────────────────────────────────────────────────────────

// on registers a transport handler that filters self-echoes before
// invoking fn with the decoded payload.
func (s *Signaler) on(typ Type, fn func(payload string)) error {
	return s.tr.On(typ, func(env Envelope) {
		if env.SenderRole == s.role {
			s.logger.Debugf("dropping own %s echo", env.Type)
			return
		}
		util.Stats.AddRecv()
		fn(env.Payload)
	})
}

// OnOffer registers a callback for remote SDP offers.
func (s *Signaler) OnOffer(fn func(sdp string)) error {
	return s.on(TypeOffer, fn)
}

// OnAnswer registers a callback for remote SDP answers.
func (s *Signaler) OnAnswer(fn func(sdp string)) error {
	return s.on(TypeAnswer, fn)
}

// OnCandidate registers a callback for remote ICE candidates.
func (s *Signaler) OnCandidate(fn func(candidate string)) error {
	return s.on(TypeCandidate, fn)
}

// OnReconnectRequest registers a callback for remote restart requests.
func (s *Signaler) OnReconnectRequest(fn func()) error {
	return s.on(TypeReconnect, func(string) { fn() })
}

// OnPeerReady registers a callback fired when the remote peer announces
// readiness.
func (s *Signaler) OnPeerReady(fn func()) error {
	return s.on(TypeReady, func(string) { fn() })
}

// OnPresence registers a callback for channel membership notifications.
// Presence is observability input only.
func (s *Signaler) OnPresence(fn PresenceHandler) error {
	return s.tr.OnPresence(fn)
}
