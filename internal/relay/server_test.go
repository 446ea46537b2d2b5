package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/signal"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

// newTestRelay serves an in-memory relay over httptest and returns the
// server plus its base URL.
func newTestRelay(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(config.Relay{}, testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

// dial connects a websocket client for role into sessionID.
func dial(t *testing.T, ts *httptest.Server, sessionID string, role config.Role) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + sessionID + "?role=" + string(role)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads the next frame with a deadline.
func readFrame(t *testing.T, conn *websocket.Conn) signal.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame signal.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// readFrames keeps reading until a frame with the wanted event arrives,
// tolerating interleaved presence traffic.
func readUntil(t *testing.T, conn *websocket.Conn, event string) signal.Frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		frame := readFrame(t, conn)
		if frame.Event == event {
			return frame
		}
	}
	t.Fatalf("no %q frame within 10 reads", event)
	return signal.Frame{}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestRelay(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
}

func TestRejectsInvalidRole(t *testing.T) {
	_, ts := newTestRelay(t)

	resp, err := http.Get(ts.URL + "/ws/g1?role=spectator")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

// TestPresenceFrames verifies the sync snapshot for a newcomer and the
// join/leave notifications for the peer already present.
func TestPresenceFrames(t *testing.T) {
	_, ts := newTestRelay(t)

	cam := dial(t, ts, "g1", config.RoleInitiator)

	sync := readFrame(t, cam)
	if sync.Event != string(signal.PresenceSync) {
		t.Fatalf("first frame event %q, want sync", sync.Event)
	}
	if len(sync.Roles) != 1 || sync.Roles[0] != config.RoleInitiator {
		t.Fatalf("sync roles %v", sync.Roles)
	}

	viewer := dial(t, ts, "g1", config.RoleResponder)

	vsync := readFrame(t, viewer)
	if vsync.Event != string(signal.PresenceSync) || len(vsync.Roles) != 2 {
		t.Fatalf("viewer sync %+v", vsync)
	}

	join := readFrame(t, cam)
	if join.Event != string(signal.PresenceJoin) || join.Role != config.RoleResponder {
		t.Fatalf("join frame %+v", join)
	}

	viewer.Close()
	leave := readFrame(t, cam)
	if leave.Event != string(signal.PresenceLeave) || leave.Role != config.RoleResponder {
		t.Fatalf("leave frame %+v", leave)
	}
}

// TestSignalFanOut verifies an envelope reaches the other member stamped
// with the sender's role, and never echoes back to the sender.
func TestSignalFanOut(t *testing.T) {
	_, ts := newTestRelay(t)

	cam := dial(t, ts, "g1", config.RoleInitiator)
	viewer := dial(t, ts, "g1", config.RoleResponder)
	readUntil(t, viewer, string(signal.PresenceSync)) // joined before traffic

	// Role claimed by the dialer is authoritative: a spoofed senderRole in
	// the envelope body must be overwritten by the relay.
	env := signal.Envelope{Type: signal.TypeOffer, Payload: "sdp", SenderRole: config.RoleResponder}
	if err := cam.WriteJSON(env); err != nil {
		t.Fatalf("write envelope: %v", err)
	}

	frame := readUntil(t, viewer, signal.FrameSignal)
	if frame.Envelope == nil {
		t.Fatal("signal frame without envelope")
	}
	if frame.Envelope.Type != signal.TypeOffer || frame.Envelope.Payload != "sdp" {
		t.Fatalf("envelope %+v", frame.Envelope)
	}
	if frame.Envelope.SenderRole != config.RoleInitiator {
		t.Fatalf("sender role %q, want stamped initiator", frame.Envelope.SenderRole)
	}

	// The sender must not hear its own envelope. Drain the camera's
	// pending presence, then expect silence.
	cam.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		var echo signal.Frame
		if err := cam.ReadJSON(&echo); err != nil {
			break // deadline: nothing further
		}
		if echo.Event == signal.FrameSignal {
			t.Fatal("envelope echoed back to its sender")
		}
	}
}

// TestPerSenderOrdering verifies envelopes from one sender arrive in send
// order.
func TestPerSenderOrdering(t *testing.T) {
	_, ts := newTestRelay(t)

	cam := dial(t, ts, "g1", config.RoleInitiator)
	viewer := dial(t, ts, "g1", config.RoleResponder)
	readUntil(t, viewer, string(signal.PresenceSync))

	payloads := []string{"c1", "c2", "c3", "c4", "c5"}
	for _, p := range payloads {
		if err := cam.WriteJSON(signal.Envelope{Type: signal.TypeCandidate, Payload: p}); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	for _, want := range payloads {
		frame := readUntil(t, viewer, signal.FrameSignal)
		if frame.Envelope.Payload != want {
			t.Fatalf("got %q, want %q", frame.Envelope.Payload, want)
		}
	}
}

// TestRoleConflict verifies a second client claiming a taken role is
// turned away with a policy-violation close.
func TestRoleConflict(t *testing.T) {
	_, ts := newTestRelay(t)

	first := dial(t, ts, "g1", config.RoleInitiator)
	readUntil(t, first, string(signal.PresenceSync)) // join has landed

	dup := dial(t, ts, "g1", config.RoleInitiator)

	dup.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := dup.ReadMessage()
	if err == nil {
		t.Fatal("duplicate role was admitted")
	}
	var closeErr *websocket.CloseError
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("got %v (%T), want policy violation close", err, closeErr)
	}
}

// TestUnknownTypeDropped verifies envelopes with unknown types are
// discarded without breaking the connection.
func TestUnknownTypeDropped(t *testing.T) {
	_, ts := newTestRelay(t)

	cam := dial(t, ts, "g1", config.RoleInitiator)
	viewer := dial(t, ts, "g1", config.RoleResponder)
	readUntil(t, viewer, string(signal.PresenceSync))

	cam.WriteJSON(signal.Envelope{Type: "gossip", Payload: "x"})
	cam.WriteJSON(signal.Envelope{Type: signal.TypeReady})

	frame := readUntil(t, viewer, signal.FrameSignal)
	if frame.Envelope.Type != signal.TypeReady {
		t.Fatalf("got type %q, want the valid envelope only", frame.Envelope.Type)
	}
}

// TestSessionsEndpoint verifies the inspection API reflects live
// membership from the in-memory hub.
func TestSessionsEndpoint(t *testing.T) {
	srv, ts := newTestRelay(t)

	dial(t, ts, "g1", config.RoleInitiator)

	// Wait for the join to land in the hub.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(srv.hub.Members("g1")) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get(ts.URL + "/api/sessions/g1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var out struct {
		Session string        `json:"session"`
		Members []config.Role `json:"members"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	if out.Session != "g1" {
		t.Errorf("session %q", out.Session)
	}
	if len(out.Members) != 1 || out.Members[0] != config.RoleInitiator {
		t.Errorf("members %v", out.Members)
	}

	// Sessions are ephemeral: an unknown id reports no members.
	resp2, err := http.Get(ts.URL + "/api/sessions/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp2.StatusCode)
	}
}

// TestSessionsAreIsolated verifies traffic does not leak across rooms.
func TestSessionsAreIsolated(t *testing.T) {
	_, ts := newTestRelay(t)

	cam1 := dial(t, ts, "g1", config.RoleInitiator)
	viewer2 := dial(t, ts, "g2", config.RoleResponder)

	cam1.WriteJSON(signal.Envelope{Type: signal.TypeOffer, Payload: "sdp"})

	viewer2.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		var frame signal.Frame
		if err := viewer2.ReadJSON(&frame); err != nil {
			return // deadline: nothing leaked
		}
		if frame.Event == signal.FrameSignal {
			t.Fatal("envelope leaked into another session")
		}
	}
}
