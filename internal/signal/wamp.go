package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
)

// WAMPTransport carries session signaling over a WAMP router's pub/sub,
// one topic pair per session. The router already excludes a publisher
// from its own events, but receivers filter on sender role regardless.
//
// Presence is announced on a sibling topic on join and leave; the sync
// snapshot is not available through a plain router and is omitted
// (presence is observability-only).
type WAMPTransport struct {
	routerURL string
	realm     string
	role      config.Role
	logger    *logrus.Entry

	mu        sync.Mutex
	cli       *client.Client
	sessionID string
	handlers  map[Type][]Handler
	presence  []PresenceHandler
}

// NewWAMPTransport creates a transport that connects to the given WAMP
// router and realm on Join.
func NewWAMPTransport(routerURL, realm string, role config.Role, logger *logrus.Entry) *WAMPTransport {
	return &WAMPTransport{
		routerURL: routerURL,
		realm:     realm,
		role:      role,
		logger:    logger,
	}
}

// Join implements Transport. It connects to the router, subscribes to the
// session's signal and presence topics, and announces itself.
func (t *WAMPTransport) Join(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cli != nil {
		if t.sessionID == sessionID {
			return nil
		}
		return fmt.Errorf("signal: already joined to session %q", t.sessionID)
	}

	cfg := client.Config{
		Realm:  t.realm,
		Logger: t.logger,
	}

	cli, err := client.ConnectNet(ctx, t.routerURL, cfg)
	if err != nil {
		return fmt.Errorf("signal: failed to join session %q: %w", sessionID, err)
	}

	if err := cli.Subscribe(signalTopic(sessionID), t.handleSignalEvent, nil); err != nil {
		cli.Close()
		return fmt.Errorf("signal: failed to subscribe to session %q: %w", sessionID, err)
	}
	if err := cli.Subscribe(presenceTopic(sessionID), t.handlePresenceEvent, nil); err != nil {
		cli.Close()
		return fmt.Errorf("signal: failed to subscribe to presence of %q: %w", sessionID, err)
	}

	t.cli = cli
	t.sessionID = sessionID
	t.handlers = make(map[Type][]Handler)
	t.presence = nil

	if err := cli.Publish(presenceTopic(sessionID), nil, wamp.List{string(t.role), string(PresenceJoin)}, nil); err != nil {
		t.logger.WithError(err).Warn("failed to announce presence")
	}

	return nil
}

// Leave implements Transport. Double-leave logs and no-ops.
func (t *WAMPTransport) Leave() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cli == nil {
		t.logger.Debug("leave without join, ignoring")
		return nil
	}

	if err := t.cli.Publish(presenceTopic(t.sessionID), nil, wamp.List{string(t.role), string(PresenceLeave)}, nil); err != nil {
		t.logger.WithError(err).Debug("failed to announce departure")
	}

	err := t.cli.Close()
	t.cli = nil
	t.sessionID = ""
	t.handlers = nil
	t.presence = nil

	return err
}

// Broadcast implements Transport. The envelope travels as a single JSON
// argument on the session's signal topic.
func (t *WAMPTransport) Broadcast(env Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cli == nil {
		return ErrNotJoined
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return t.cli.Publish(signalTopic(t.sessionID), nil, wamp.List{string(raw)}, nil)
}

// On implements Transport.
func (t *WAMPTransport) On(typ Type, fn Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cli == nil {
		return ErrNotJoined
	}
	t.handlers[typ] = append(t.handlers[typ], fn)
	return nil
}

// OnPresence implements Transport.
func (t *WAMPTransport) OnPresence(fn PresenceHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cli == nil {
		return ErrNotJoined
	}
	t.presence = append(t.presence, fn)
	return nil
}

// handleSignalEvent decodes a published envelope and dispatches it.
func (t *WAMPTransport) handleSignalEvent(event *wamp.Event) {
	if len(event.Arguments) != 1 {
		t.logger.Warnf("signal event with %d arguments, expected 1", len(event.Arguments))
		return
	}
	raw, ok := wamp.AsString(event.Arguments[0])
	if !ok {
		t.logger.Warn("signal event argument is not a string")
		return
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.logger.WithError(err).Warn("failed to decode signal envelope")
		return
	}
	if !env.Type.Valid() {
		t.logger.Warnf("dropping envelope with unknown type %q", env.Type)
		return
	}

	t.mu.Lock()
	fns := append([]Handler(nil), t.handlers[env.Type]...)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(env)
	}
}

// handlePresenceEvent decodes a join/leave announcement and dispatches it.
func (t *WAMPTransport) handlePresenceEvent(event *wamp.Event) {
	if len(event.Arguments) != 2 {
		return
	}
	role, _ := wamp.AsString(event.Arguments[0])
	kind, _ := wamp.AsString(event.Arguments[1])

	t.mu.Lock()
	pfns := append([]PresenceHandler(nil), t.presence...)
	t.mu.Unlock()

	p := Presence{Kind: PresenceKind(kind), Role: config.Role(role)}
	for _, fn := range pfns {
		fn(p)
	}
}

// topicComponent makes a session id safe for use inside a WAMP URI.
func topicComponent(sessionID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, sessionID)
}

func signalTopic(sessionID string) string {
	return "fieldcast.session." + topicComponent(sessionID) + ".signal"
}

func presenceTopic(sessionID string) string {
	return "fieldcast.session." + topicComponent(sessionID) + ".presence"
}
