package peer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/signal"
)

// ConnError is a connection-lifecycle failure classified for the
// reconnection layer: transient errors are retry candidates, terminal
// ones are surfaced immediately.
type ConnError struct {
	Transient bool
	Reason    string
}

func (e *ConnError) Error() string {
	return e.Reason
}

// Events are the raw connection events the controller surfaces upward.
// The controller reports; it never decides the externally visible status.
type Events struct {
	OnRemoteTrack func(*webrtc.TrackRemote)
	OnConnected   func()
	OnClosed      func()
	OnError       func(*ConnError)
}

// Controller owns at most one live PeerConnection at a time. The current
// connection is identified by a monotonically increasing generation;
// every pion callback carries the generation it was registered for and is
// dropped when the live generation has moved on. This is what makes
// signals racing a local teardown harmless.
type Controller struct {
	sig    *signal.Signaler
	role   config.Role
	ice    []config.ICEServer
	local  []webrtc.TrackLocal
	events Events
	logger *logrus.Entry

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	gen        uint64 // generation of pc; bumped on every create and destroy
	pending    []webrtc.ICECandidateInit
	haveRemote bool
}

// NewController creates a controller. Local tracks may be empty, in which
// case the connection still negotiates a recvonly video section so the
// remote stream can arrive.
func NewController(sig *signal.Signaler, role config.Role, ice []config.ICEServer, local []webrtc.TrackLocal, events Events, logger *logrus.Entry) *Controller {
	// Unset callbacks become no-ops so the pion handlers need no guards.
	if events.OnRemoteTrack == nil {
		events.OnRemoteTrack = func(*webrtc.TrackRemote) {}
	}
	if events.OnConnected == nil {
		events.OnConnected = func() {}
	}
	if events.OnClosed == nil {
		events.OnClosed = func() {}
	}
	if events.OnError == nil {
		events.OnError = func(*ConnError) {}
	}

	return &Controller{
		sig:    sig,
		role:   role,
		ice:    ice,
		local:  local,
		events: events,
		logger: logger,
	}
}

// Bind registers the controller's signal handlers on the (joined)
// signaler. Must be called once after every channel join, before Create.
func (c *Controller) Bind() error {
	if err := c.sig.OnOffer(c.ApplyRemoteOffer); err != nil {
		return err
	}
	if err := c.sig.OnAnswer(c.ApplyRemoteAnswer); err != nil {
		return err
	}
	return c.sig.OnCandidate(c.ApplyRemoteCandidate)
}

// Create destroys any existing connection and constructs a new one in the
// controller's role. An initiator immediately produces and broadcasts an
// offer; a responder waits for one.
func (c *Controller) Create() error {
	c.mu.Lock()
	err := c.createLocked()
	c.mu.Unlock()
	return err
}

func (c *Controller) createLocked() error {
	c.destroyLocked()

	pc, err := newPeerConnection(c.ice)
	if err != nil {
		return fmt.Errorf("peer: failed to create connection: %w", err)
	}

	c.gen++
	gen := c.gen
	c.pc = pc
	c.pending = nil
	c.haveRemote = false

	// Local signal produced: trickle ICE candidates out as they are
	// gathered. A nil candidate marks the end of gathering.
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || !c.live(gen) {
			return
		}
		data, _ := json.Marshal(cand.ToJSON())
		// Best-effort: a lost candidate is retried by ICE itself.
		c.sig.SendCandidate(string(data))
	})

	// Remote stream arrived.
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !c.live(gen) {
			return
		}
		c.logger.Debugf("remote track %s (%s)", track.ID(), track.Codec().MimeType)
		c.events.OnRemoteTrack(track)
	})

	// Connection lifecycle. Closed is a clean shutdown; Failed is a
	// transient failure handed to the reconnection layer. Disconnected is
	// recorded only, because ICE may still recover on its own.
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if !c.live(gen) {
			return
		}
		c.logger.Debugf("connection state: %s", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			c.events.OnConnected()
		case webrtc.PeerConnectionStateClosed:
			c.events.OnClosed()
		case webrtc.PeerConnectionStateFailed:
			c.events.OnError(&ConnError{Transient: true, Reason: "connection failed"})
		}
	})

	if len(c.local) > 0 {
		for _, track := range c.local {
			if _, err := pc.AddTrack(track); err != nil {
				c.destroyLocked()
				return fmt.Errorf("peer: failed to attach local track: %w", err)
			}
		}
	} else {
		_, err := pc.AddTransceiverFromKind(
			webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly},
		)
		if err != nil {
			c.destroyLocked()
			return fmt.Errorf("peer: failed to add transceiver: %w", err)
		}
	}

	if c.role == config.RoleInitiator {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			c.destroyLocked()
			return fmt.Errorf("peer: failed to create offer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			c.destroyLocked()
			return fmt.Errorf("peer: failed to set local description: %w", err)
		}
		c.sig.SendOffer(offer.SDP)
	}

	return nil
}

// ApplyRemoteOffer applies an offer from the remote peer. A responder
// that has not created its connection yet creates it lazily first, so an
// offer arriving before Create is not lost.
func (c *Controller) ApplyRemoteOffer(sdp string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pc == nil {
		if c.role != config.RoleResponder {
			c.logger.Debug("dropping offer: no live connection")
			return
		}
		if err := c.createLocked(); err != nil {
			c.logger.WithError(err).Warn("failed to create connection for offer")
			return
		}
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: sdp,
	}); err != nil {
		c.logger.WithError(err).Warn("failed to apply remote offer")
		return
	}
	c.remoteAppliedLocked()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.logger.WithError(err).Warn("failed to create answer")
		return
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		c.logger.WithError(err).Warn("failed to set local description")
		return
	}
	c.sig.SendAnswer(answer.SDP)
}

// ApplyRemoteAnswer applies an answer from the remote peer. Answers for a
// destroyed connection are dropped silently: they can legitimately arrive
// after a teardown initiated by the reconnection layer.
func (c *Controller) ApplyRemoteAnswer(sdp string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pc == nil {
		c.logger.Debug("dropping answer: no live connection")
		return
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: sdp,
	}); err != nil {
		c.logger.WithError(err).Warn("failed to apply remote answer")
		return
	}
	c.remoteAppliedLocked()
}

// ApplyRemoteCandidate applies an ICE candidate from the remote peer.
// Candidates arriving before the remote description are buffered on the
// current connection and flushed once it lands; candidates for a
// destroyed connection are dropped.
func (c *Controller) ApplyRemoteCandidate(candidate string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pc == nil {
		c.logger.Debug("dropping candidate: no live connection")
		return
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		c.logger.WithError(err).Warn("failed to decode remote candidate")
		return
	}

	if !c.haveRemote {
		c.pending = append(c.pending, init)
		return
	}

	if err := c.pc.AddICECandidate(init); err != nil {
		c.logger.WithError(err).Warn("failed to add remote candidate")
	}
}

// remoteAppliedLocked flushes candidates buffered before the remote
// description arrived.
func (c *Controller) remoteAppliedLocked() {
	c.haveRemote = true
	for _, init := range c.pending {
		if err := c.pc.AddICECandidate(init); err != nil {
			c.logger.WithError(err).Warn("failed to add buffered candidate")
		}
	}
	c.pending = nil
}

// Destroy tears down the current connection, if any. The handle is
// unregistered synchronously before the close, so events and signals
// racing the teardown resolve against no connection rather than a dying
// one. Idempotent.
func (c *Controller) Destroy() {
	c.mu.Lock()
	c.destroyLocked()
	c.mu.Unlock()
}

func (c *Controller) destroyLocked() {
	if c.pc == nil {
		return
	}
	pc := c.pc
	c.pc = nil
	c.pending = nil
	c.haveRemote = false
	c.gen++
	if err := pc.Close(); err != nil {
		c.logger.WithError(err).Debug("error closing connection")
	}
}

// Live reports whether a connection currently exists.
func (c *Controller) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc != nil
}

// HasRemoteDescription reports whether the current connection has had a
// remote description applied.
func (c *Controller) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc != nil && c.haveRemote
}

// live reports whether gen is still the current generation with a live
// connection. Pion callbacks use it as their staleness gate.
func (c *Controller) live(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc != nil && c.gen == gen
}
