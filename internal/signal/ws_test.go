package signal_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/relay"
	"github.com/fieldcast/fieldcast/internal/signal"
)

func wsTestLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startRelay runs an in-memory relay on httptest and returns the ws base
// URL for transports plus the plain HTTP base for the inspection API.
func startRelay(t *testing.T) (string, string) {
	t.Helper()
	srv, err := relay.NewServer(config.Relay{}, wsTestLogger())
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", ts.URL
}

// memberCount asks the relay how many roles are present in a session.
func memberCount(t *testing.T, httpBase, sessionID string) int {
	t.Helper()
	resp, err := http.Get(httpBase + "/api/sessions/" + sessionID)
	if err != nil {
		t.Fatalf("sessions api: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Members []config.Role `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode sessions api: %v", err)
	}
	return len(out.Members)
}

// TestWSTransportExchange walks a signaler pair through the relay over
// real websockets: presence on join, typed delivery, and leave teardown.
func TestWSTransportExchange(t *testing.T) {
	base, httpBase := startRelay(t)

	cam := signal.NewSignaler(
		signal.NewWSTransport(base, config.RoleInitiator, wsTestLogger()),
		config.RoleInitiator, wsTestLogger(),
	)
	viewer := signal.NewSignaler(
		signal.NewWSTransport(base, config.RoleResponder, wsTestLogger()),
		config.RoleResponder, wsTestLogger(),
	)

	if err := cam.Join(context.Background(), "g1"); err != nil {
		t.Fatalf("camera join: %v", err)
	}
	defer cam.Leave()
	waitFor(t, "camera registration", func() bool { return memberCount(t, httpBase, "g1") == 1 })

	var mu sync.Mutex
	var joins []config.Role
	cam.OnPresence(func(p signal.Presence) {
		if p.Kind == signal.PresenceJoin {
			mu.Lock()
			joins = append(joins, p.Role)
			mu.Unlock()
		}
	})

	if err := viewer.Join(context.Background(), "g1"); err != nil {
		t.Fatalf("viewer join: %v", err)
	}
	defer viewer.Leave()

	waitFor(t, "viewer join presence", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(joins) == 1 && joins[0] == config.RoleResponder
	})

	var offers []string
	var candidates []string
	viewer.OnOffer(func(sdp string) {
		mu.Lock()
		offers = append(offers, sdp)
		mu.Unlock()
	})
	viewer.OnCandidate(func(c string) {
		mu.Lock()
		candidates = append(candidates, c)
		mu.Unlock()
	})

	if err := cam.SendOffer("offer-sdp"); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	for _, c := range []string{"c1", "c2", "c3"} {
		if err := cam.SendCandidate(c); err != nil {
			t.Fatalf("SendCandidate: %v", err)
		}
	}

	waitFor(t, "offer and candidates", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(offers) == 1 && len(candidates) == 3
	})

	mu.Lock()
	if offers[0] != "offer-sdp" {
		t.Errorf("offer %q", offers[0])
	}
	if candidates[0] != "c1" || candidates[1] != "c2" || candidates[2] != "c3" {
		t.Errorf("candidates out of order: %v", candidates)
	}
	mu.Unlock()

	// After leaving, the channel refuses traffic.
	if err := viewer.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := viewer.SendReady(); err != signal.ErrNotJoined {
		t.Fatalf("send after leave: got %v, want ErrNotJoined", err)
	}
}

// TestWSTransportRoleConflict verifies the relay turning a duplicate role
// away surfaces as a dead channel, not a crash.
func TestWSTransportRoleConflict(t *testing.T) {
	base, httpBase := startRelay(t)

	first := signal.NewWSTransport(base, config.RoleInitiator, wsTestLogger())
	if err := first.Join(context.Background(), "g1"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	defer first.Leave()
	waitFor(t, "first registration", func() bool { return memberCount(t, httpBase, "g1") == 1 })

	// The handshake itself succeeds; the relay closes immediately after.
	dup := signal.NewWSTransport(base, config.RoleInitiator, wsTestLogger())
	if err := dup.Join(context.Background(), "g1"); err != nil {
		t.Fatalf("duplicate join handshake: %v", err)
	}
	defer dup.Leave()

	// Writes eventually fail once the close lands.
	waitFor(t, "duplicate channel to die", func() bool {
		err := dup.Broadcast(signal.Envelope{Type: signal.TypeReady})
		return err != nil
	})
}
