package signal

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
)

// WSTransport is the websocket client for the relay daemon. One instance
// serves one peer; Join dials the relay and starts the read loop, Leave
// closes the socket and drops all handlers.
type WSTransport struct {
	baseURL string // e.g. wss://relay.example/ws
	role    config.Role
	logger  *logrus.Entry

	mu        sync.Mutex // guards conn, session state, handlers, and writes
	conn      *websocket.Conn
	sessionID string
	handlers  map[Type][]Handler
	presence  []PresenceHandler
}

// NewWSTransport creates a transport that will dial baseURL on Join.
func NewWSTransport(baseURL string, role config.Role, logger *logrus.Entry) *WSTransport {
	return &WSTransport{
		baseURL: baseURL,
		role:    role,
		logger:  logger,
	}
}

// Join implements Transport. It dials the relay's session endpoint and
// starts a background read loop that dispatches frames to handlers.
func (t *WSTransport) Join(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		if t.sessionID == sessionID {
			return nil
		}
		return fmt.Errorf("signal: already joined to session %q", t.sessionID)
	}

	wsURL := fmt.Sprintf("%s/%s?role=%s", t.baseURL, url.PathEscape(sessionID), t.role)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("signal: failed to join session %q: %w", sessionID, err)
	}

	t.conn = conn
	t.sessionID = sessionID
	t.handlers = make(map[Type][]Handler)
	t.presence = nil

	go t.readLoop(conn)

	return nil
}

// Leave implements Transport. Double-leave logs and no-ops.
func (t *WSTransport) Leave() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		t.logger.Debug("leave without join, ignoring")
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	t.sessionID = ""
	t.handlers = nil
	t.presence = nil

	return err
}

// Broadcast implements Transport. Writes are serialized by the mutex so
// per-sender ordering is preserved.
func (t *WSTransport) Broadcast(env Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotJoined
	}
	return t.conn.WriteJSON(env)
}

// On implements Transport.
func (t *WSTransport) On(typ Type, fn Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotJoined
	}
	t.handlers[typ] = append(t.handlers[typ], fn)
	return nil
}

// OnPresence implements Transport.
func (t *WSTransport) OnPresence(fn PresenceHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotJoined
	}
	t.presence = append(t.presence, fn)
	return nil
}

// readLoop reads frames until the socket dies. A read error after a
// deliberate Leave is expected and silent; anything else is logged. Lost
// signals are compensated by the reconnection layer, so the loop never
// escalates.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.mu.Lock()
			deliberate := t.conn != conn
			t.mu.Unlock()
			if !deliberate {
				t.logger.WithError(err).Warn("relay read loop terminated")
			}
			return
		}
		t.dispatch(frame)
	}
}

// dispatch routes one frame to the matching handlers. Handlers are copied
// under the lock and invoked outside it so they may call back into the
// transport.
func (t *WSTransport) dispatch(frame Frame) {
	t.mu.Lock()
	var fns []Handler
	var pfns []PresenceHandler
	switch frame.Event {
	case FrameSignal:
		if frame.Envelope != nil {
			fns = append(fns, t.handlers[frame.Envelope.Type]...)
		}
	default:
		pfns = append(pfns, t.presence...)
	}
	t.mu.Unlock()

	if frame.Envelope != nil {
		for _, fn := range fns {
			fn(*frame.Envelope)
		}
	}

	if len(pfns) > 0 {
		p := Presence{Kind: PresenceKind(frame.Event), Role: frame.Role, Roles: frame.Roles}
		for _, fn := range pfns {
			fn(p)
		}
	}
}
