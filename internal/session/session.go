package session

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/peer"
	"github.com/fieldcast/fieldcast/internal/signal"
)

// Options configures a Session.
type Options struct {
	// SessionID is the opaque session (game) id. Empty means inactive:
	// Start is a no-op and the session stays Idle.
	SessionID string

	// Role is fixed for the lifetime of the session object.
	Role config.Role

	// LocalTracks is the outbound media, if any (the camera side sets
	// it; the viewer side leaves it empty).
	LocalTracks []webrtc.TrackLocal

	// ICE is the static ICE server list applied to every created
	// connection. Empty selects the STUN-only default.
	ICE []config.ICEServer

	// OnStatusChange, if set, is invoked on every status transition.
	OnStatusChange func(Status)

	// OnRemoteTrack, if set, is invoked when the inbound media stream
	// arrives (again after every reconnect).
	OnRemoteTrack func(*webrtc.TrackRemote)

	// RetryDelay overrides the settle delay between automatic restarts.
	// Zero selects the default.
	RetryDelay time.Duration
}

// Session is the single entry point for external collaborators: current
// status, the inbound media stream once available, the last error, and
// the manual reconnect/disconnect actions.
type Session struct {
	tr     signal.Transport
	opts   Options
	logger *logrus.Entry

	mu     sync.Mutex
	coord  *Coordinator
	sig    *signal.Signaler
	remote *webrtc.TrackRemote
}

// New creates a session facade over the given signaling transport. Call
// Start to join and begin connecting.
func New(tr signal.Transport, opts Options, logger *logrus.Entry) *Session {
	return &Session{tr: tr, opts: opts, logger: logger}
}

// Start joins the signaling channel and starts the connection state
// machine. With an empty session id it does nothing and the session
// remains Idle. A failed join is surfaced through Status and Err, not
// just the return value.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	coord, err := s.startLocked(ctx)
	s.mu.Unlock()

	return launch(coord, err)
}

// launch finishes what startLocked set up, outside the facade lock so
// status notifications may call back into the session.
func launch(coord *Coordinator, err error) error {
	if coord == nil {
		return err
	}
	if err != nil {
		coord.Fail(err.Error())
		return err
	}
	return coord.Start()
}

func (s *Session) startLocked(ctx context.Context) (*Coordinator, error) {
	if s.opts.SessionID == "" {
		s.logger.Debug("no session id, staying idle")
		return nil, nil
	}

	sig := signal.NewSignaler(s.tr, s.opts.Role, s.logger)
	ctrl := peer.NewController(sig, s.opts.Role, s.opts.ICE, s.opts.LocalTracks, peer.Events{
		OnRemoteTrack: s.handleRemoteTrack,
		OnConnected:   func() { s.withCoord((*Coordinator).HandleConnected) },
		OnClosed:      func() { s.withCoord((*Coordinator).HandleClosed) },
		OnError: func(err *peer.ConnError) {
			s.withCoord(func(c *Coordinator) { c.HandleConnError(err) })
		},
	}, s.logger)
	coord := NewCoordinator(sig, ctrl, s.opts.Role, s.handleStatus, s.opts.RetryDelay, s.logger)

	// The coordinator is kept even when the join fails, so the failure
	// stays readable through Status and Err afterwards.
	s.coord = coord

	if err := sig.Join(ctx, s.opts.SessionID); err != nil {
		return coord, err
	}

	// Registrations only succeed on a joined channel, so wiring happens
	// here rather than at construction.
	if err := ctrl.Bind(); err != nil {
		sig.Leave()
		return coord, err
	}
	sig.OnReconnectRequest(coord.HandleRemoteReconnect)
	sig.OnPeerReady(coord.HandlePeerReady)
	sig.OnPresence(func(p signal.Presence) {
		s.logger.Debugf("presence: %s %s %v", p.Kind, p.Role, p.Roles)
	})

	s.sig = sig

	// Announce, then connect. Ready lets an initiator that broadcast
	// into an empty channel renegotiate once the other side shows up.
	sig.SendReady()
	return coord, nil
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	coord := s.coord
	s.mu.Unlock()

	if coord == nil {
		return Idle
	}
	return coord.Status()
}

// RemoteTrack returns the inbound media stream, or nil before it arrives.
func (s *Session) RemoteTrack() *webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Err returns the last surfaced error message, or "" if none.
func (s *Session) Err() string {
	s.mu.Lock()
	coord := s.coord
	s.mu.Unlock()

	if coord == nil {
		return ""
	}
	return coord.LastErr()
}

// Reconnect manually restarts the connection on both ends.
func (s *Session) Reconnect() {
	s.withCoord((*Coordinator).Reconnect)
}

// Disconnect tears down the connection and leaves the signaling channel.
// The session returns to Idle and can be started again.
func (s *Session) Disconnect() {
	s.mu.Lock()
	coord := s.coord
	sig := s.sig
	s.coord = nil
	s.sig = nil
	s.remote = nil
	s.mu.Unlock()

	if coord != nil {
		coord.Disconnect()
	}
	if sig != nil {
		sig.Leave()
	}
}

// SetSession switches to a different session id: the old session is torn
// down cleanly before the new one is joined. An empty id just leaves the
// session Idle.
func (s *Session) SetSession(ctx context.Context, sessionID string) error {
	s.Disconnect()

	s.mu.Lock()
	s.opts.SessionID = sessionID
	coord, err := s.startLocked(ctx)
	s.mu.Unlock()

	return launch(coord, err)
}

// handleStatus sits between the coordinator and the caller's status
// callback. Leaving Connected invalidates the inbound stream: its
// connection is gone or going, so RemoteTrack must stop reporting it.
func (s *Session) handleStatus(st Status) {
	if st != Connected {
		s.mu.Lock()
		s.remote = nil
		s.mu.Unlock()
	}

	if fn := s.opts.OnStatusChange; fn != nil {
		fn(st)
	}
}

func (s *Session) handleRemoteTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.remote = track
	fn := s.opts.OnRemoteTrack
	s.mu.Unlock()

	if fn != nil {
		fn(track)
	}
}

// withCoord runs fn against the current coordinator, dropping the call if
// the session has been torn down in the meantime.
func (s *Session) withCoord(fn func(*Coordinator)) {
	s.mu.Lock()
	coord := s.coord
	s.mu.Unlock()

	if coord != nil {
		fn(coord)
	}
}
