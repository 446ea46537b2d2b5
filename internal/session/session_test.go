package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/signal"
)

// observer joins a plain transport into the hub and records envelopes by
// type, standing in for the remote peer.
type observer struct {
	tr *signal.InmemTransport

	mu   sync.Mutex
	envs map[signal.Type]int
}

func newObserver(t *testing.T, hub *signal.InmemHub, sessionID string, role config.Role) *observer {
	t.Helper()
	o := &observer{tr: hub.NewTransport(role, false), envs: make(map[signal.Type]int)}
	if err := o.tr.Join(context.Background(), sessionID); err != nil {
		t.Fatalf("observer join: %v", err)
	}
	for _, typ := range []signal.Type{
		signal.TypeOffer, signal.TypeAnswer, signal.TypeCandidate,
		signal.TypeReconnect, signal.TypeReady,
	} {
		typ := typ
		o.tr.On(typ, func(signal.Envelope) {
			o.mu.Lock()
			o.envs[typ]++
			o.mu.Unlock()
		})
	}
	return o
}

func (o *observer) count(typ signal.Type) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.envs[typ]
}

func (o *observer) send(t *testing.T, env signal.Envelope) {
	t.Helper()
	if err := o.tr.Broadcast(env); err != nil {
		t.Fatalf("observer broadcast: %v", err)
	}
}

func TestEmptySessionIDStaysIdle(t *testing.T) {
	hub := signal.NewInmemHub()
	sess := New(hub.NewTransport(config.RoleInitiator, false), Options{
		Role: config.RoleInitiator,
	}, testLogger())

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := sess.Status(); got != Idle {
		t.Fatalf("status %s, want %s", got, Idle)
	}
	if got := sess.Err(); got != "" {
		t.Fatalf("Err %q, want empty", got)
	}

	// Actions without a running session are harmless no-ops.
	sess.Reconnect()
	sess.Disconnect()
	if got := sess.Status(); got != Idle {
		t.Fatalf("status after no-op actions: %s", got)
	}
}

// TestStartAnnouncesAndOffers verifies a started initiator announces
// readiness, broadcasts its offer, and reports Connecting.
func TestStartAnnouncesAndOffers(t *testing.T) {
	hub := signal.NewInmemHub()
	obs := newObserver(t, hub, "g1", config.RoleResponder)

	sess := New(hub.NewTransport(config.RoleInitiator, false), Options{
		SessionID: "g1",
		Role:      config.RoleInitiator,
	}, testLogger())

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Disconnect()

	if got := sess.Status(); got != Connecting {
		t.Fatalf("status %s, want %s", got, Connecting)
	}
	if got := obs.count(signal.TypeReady); got != 1 {
		t.Fatalf("ready announcements: %d, want 1", got)
	}
	if got := obs.count(signal.TypeOffer); got != 1 {
		t.Fatalf("offers: %d, want 1", got)
	}
}

// TestRemoteReconnectRebuilds verifies a reconnect request from the
// remote peer reaches the state machine and produces a fresh offer.
func TestRemoteReconnectRebuilds(t *testing.T) {
	hub := signal.NewInmemHub()
	obs := newObserver(t, hub, "g1", config.RoleResponder)

	sess := New(hub.NewTransport(config.RoleInitiator, false), Options{
		SessionID:  "g1",
		Role:       config.RoleInitiator,
		RetryDelay: 5 * time.Millisecond,
	}, testLogger())

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Disconnect()

	obs.send(t, signal.Envelope{Type: signal.TypeReconnect, SenderRole: config.RoleResponder})

	if got := sess.Status(); got != Connecting {
		t.Fatalf("status %s, want %s", got, Connecting)
	}
	waitFor(t, "fresh offer after remote reconnect", func() bool {
		return obs.count(signal.TypeOffer) == 2
	})
	// And no reconnect echo back.
	if got := obs.count(signal.TypeReconnect); got != 0 {
		t.Fatalf("reconnect echoed %d times", got)
	}
}

// TestPeerReadyReoffers verifies a responder announcing itself after the
// first offer went out makes the initiator re-offer immediately.
func TestPeerReadyReoffers(t *testing.T) {
	hub := signal.NewInmemHub()
	obs := newObserver(t, hub, "g1", config.RoleResponder)

	sess := New(hub.NewTransport(config.RoleInitiator, false), Options{
		SessionID: "g1",
		Role:      config.RoleInitiator,
	}, testLogger())

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Disconnect()

	obs.send(t, signal.Envelope{Type: signal.TypeReady, SenderRole: config.RoleResponder})

	waitFor(t, "re-offer for the late responder", func() bool {
		return obs.count(signal.TypeOffer) == 2
	})
}

// TestFailedJoinSurfacesError verifies an unreachable signaling channel
// is readable from the facade: Status reports Error and Err carries the
// join failure, without Connecting ever being reported.
func TestFailedJoinSurfacesError(t *testing.T) {
	tr := signal.NewWSTransport("ws://127.0.0.1:1", config.RoleInitiator, testLogger())

	var mu sync.Mutex
	var statuses []Status
	sess := New(tr, Options{
		SessionID: "g1",
		Role:      config.RoleInitiator,
		OnStatusChange: func(st Status) {
			mu.Lock()
			statuses = append(statuses, st)
			mu.Unlock()
		},
	}, testLogger())

	if err := sess.Start(context.Background()); err == nil {
		t.Fatal("Start should fail against an unreachable relay")
	}

	if got := sess.Status(); got != Error {
		t.Fatalf("status after failed join: got %s, want %s", got, Error)
	}
	if got := sess.Err(); got == "" {
		t.Fatal("Err empty after failed join")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 1 || statuses[0] != Error {
		t.Fatalf("status transitions %v, want [Error] only", statuses)
	}
}

// TestRemoteTrackClearedOnReconnect verifies the facade stops reporting
// the previous connection's inbound stream once the session leaves
// Connected.
func TestRemoteTrackClearedOnReconnect(t *testing.T) {
	hub := signal.NewInmemHub()
	newObserver(t, hub, "g1", config.RoleResponder)

	sess := New(hub.NewTransport(config.RoleInitiator, false), Options{
		SessionID:  "g1",
		Role:       config.RoleInitiator,
		RetryDelay: 5 * time.Millisecond,
	}, testLogger())

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Disconnect()

	sess.withCoord((*Coordinator).HandleConnected)
	sess.handleRemoteTrack(&webrtc.TrackRemote{})
	if sess.RemoteTrack() == nil {
		t.Fatal("remote track not recorded")
	}

	// The connection behind the track is torn down by the restart.
	sess.withCoord((*Coordinator).HandleRemoteReconnect)

	if sess.RemoteTrack() != nil {
		t.Fatal("stale remote track still reported after leaving Connected")
	}
}

// TestDisconnectAndSetSession verifies teardown returns the channel and
// a new session id can be joined afterwards.
func TestDisconnectAndSetSession(t *testing.T) {
	hub := signal.NewInmemHub()
	tr := hub.NewTransport(config.RoleInitiator, false)

	sess := New(tr, Options{
		SessionID: "g1",
		Role:      config.RoleInitiator,
	}, testLogger())

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.Disconnect()
	sess.Disconnect() // idempotent

	if got := sess.Status(); got != Idle {
		t.Fatalf("status %s, want %s", got, Idle)
	}
	if err := tr.Broadcast(signal.Envelope{Type: signal.TypeReady}); err != signal.ErrNotJoined {
		t.Fatalf("transport still joined after Disconnect: %v", err)
	}

	// Switch to a fresh session id.
	obs := newObserver(t, hub, "g2", config.RoleResponder)
	if err := sess.SetSession(context.Background(), "g2"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	defer sess.Disconnect()

	if got := sess.Status(); got != Connecting {
		t.Fatalf("status %s, want %s", got, Connecting)
	}
	if got := obs.count(signal.TypeOffer); got != 1 {
		t.Fatalf("offers in new session: %d, want 1", got)
	}

	// Back to inactive.
	if err := sess.SetSession(context.Background(), ""); err != nil {
		t.Fatalf("SetSession(empty): %v", err)
	}
	if got := sess.Status(); got != Idle {
		t.Fatalf("status %s, want %s", got, Idle)
	}
}
