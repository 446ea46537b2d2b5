package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/peer"
	"github.com/fieldcast/fieldcast/internal/signal"
	"github.com/fieldcast/fieldcast/internal/util"
)

const (
	// maxAttempts is the automatic retry ceiling: when the counter
	// reaches it, the coordinator stops retrying and surfaces an error.
	maxAttempts = 5

	// defaultRetryDelay is the settle time between destroying a failed
	// connection and creating its replacement, giving the remote peer
	// time to act on the reconnect request.
	defaultRetryDelay = 1500 * time.Millisecond
)

// Connector abstracts the peer connection controller, so the state
// machine is testable without any connection library.
type Connector interface {
	// Create destroys any existing connection and builds a fresh one in
	// the peer's fixed role.
	Create() error

	// Destroy tears down the current connection. Idempotent.
	Destroy()

	// HasRemoteDescription reports whether the current connection has
	// applied the remote peer's description.
	HasRemoteDescription() bool
}

// Coordinator decides when the connection object is destroyed and
// recreated. Raw controller events are its inputs; Status is its output.
// All transitions for one session are serialized by the mutex.
type Coordinator struct {
	sig        *signal.Signaler
	conn       Connector
	role       config.Role
	onStatus   func(Status)
	retryDelay time.Duration
	logger     *logrus.Entry

	mu       sync.Mutex
	status   Status
	attempts int
	lastErr  string
	retry    *time.Timer
	retryGen uint64 // bumped on every schedule and cancel; stale fires no-op
}

// NewCoordinator creates a coordinator in the Idle state. onStatus may be
// nil; retryDelay <= 0 selects the default.
func NewCoordinator(sig *signal.Signaler, conn Connector, role config.Role, onStatus func(Status), retryDelay time.Duration, logger *logrus.Entry) *Coordinator {
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Coordinator{
		sig:        sig,
		conn:       conn,
		role:       role,
		onStatus:   onStatus,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Status returns the current externally visible status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempts returns the current automatic retry count.
func (c *Coordinator) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastErr returns the most recent surfaced error message, if any.
func (c *Coordinator) LastErr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Start drives idle → connecting and creates the first connection.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	c.lastErr = ""
	notify := c.setStatusLocked(Connecting)
	err := c.conn.Create()
	if err != nil {
		c.lastErr = err.Error()
		notify = c.setStatusLocked(Error)
	}
	c.mu.Unlock()

	notify()
	return err
}

// Fail records a failure that happened before the state machine could
// start, such as an unreachable signaling channel. The status goes
// straight to Error without passing through Connecting.
func (c *Coordinator) Fail(reason string) {
	c.mu.Lock()
	c.lastErr = reason
	notify := c.setStatusLocked(Error)
	c.mu.Unlock()

	notify()
}

// HandleConnected is the controller's connected event: connecting →
// connected, retry counter back to zero.
func (c *Coordinator) HandleConnected() {
	c.mu.Lock()
	c.attempts = 0
	c.lastErr = ""
	notify := c.setStatusLocked(Connected)
	c.mu.Unlock()

	notify()
}

// HandleClosed is the controller's clean-close event. A clean close is
// not a failure: no retry.
func (c *Coordinator) HandleClosed() {
	c.mu.Lock()
	notify := c.setStatusLocked(Disconnected)
	c.mu.Unlock()

	notify()
}

// HandleConnError is the controller's error event. Transient errors are
// retried cooperatively until the ceiling; everything else is surfaced.
func (c *Coordinator) HandleConnError(connErr *peer.ConnError) {
	c.mu.Lock()

	if c.status != Connecting && c.status != Connected {
		c.mu.Unlock()
		c.logger.Debugf("ignoring connection error in status %s", c.status)
		return
	}

	if !connErr.Transient {
		c.lastErr = connErr.Reason
		notify := c.setStatusLocked(Error)
		c.conn.Destroy()
		c.cancelRetryLocked()
		c.mu.Unlock()
		notify()
		return
	}

	c.attempts++
	if c.attempts >= maxAttempts {
		c.lastErr = fmt.Sprintf(
			"%s: gave up after %d attempts; reconnect manually to try again",
			connErr.Reason, c.attempts,
		)
		notify := c.setStatusLocked(Error)
		c.conn.Destroy()
		c.cancelRetryLocked()
		c.mu.Unlock()
		notify()
		return
	}

	c.logger.Warnf("%s, retrying (attempt %d/%d)", connErr.Reason, c.attempts, maxAttempts)
	notify := c.setStatusLocked(Connecting)

	// Cooperative restart: the remote side may not have detected the
	// failure, so ask it to restart too before rebuilding locally.
	c.sig.SendReconnectRequest()
	c.conn.Destroy()
	c.scheduleRestartLocked()
	c.mu.Unlock()

	notify()
}

// HandleRemoteReconnect is invoked when the remote peer requests a
// restart: it detected a failure this side may not have seen. The local
// connection is rebuilt regardless of current status, with the attempt
// counter reset — this is a fresh start, not a retry. The request is not
// echoed back, or the two peers would restart each other forever.
func (c *Coordinator) HandleRemoteReconnect() {
	c.mu.Lock()
	c.logger.Info("remote peer requested reconnect")
	c.attempts = 0
	c.lastErr = ""
	notify := c.setStatusLocked(Connecting)
	c.conn.Destroy()
	c.scheduleRestartLocked()
	c.mu.Unlock()

	notify()
}

// HandlePeerReady is invoked when the remote peer announces readiness. An
// initiator still negotiating restarts so that a responder that joined
// after the original offer was broadcast receives a fresh one.
func (c *Coordinator) HandlePeerReady() {
	c.mu.Lock()
	if c.role != config.RoleInitiator || c.status != Connecting || c.conn.HasRemoteDescription() {
		c.mu.Unlock()
		return
	}
	c.logger.Debug("peer became ready mid-offer, renegotiating")
	c.conn.Destroy()
	err := c.conn.Create()
	var notify func()
	if err != nil {
		c.lastErr = err.Error()
		notify = c.setStatusLocked(Error)
	} else {
		notify = func() {}
	}
	c.mu.Unlock()

	notify()
}

// Reconnect is the manual restart. It always wins: it cancels any pending
// retry, resets the counter, asks the remote peer to restart, and
// rebuilds locally.
func (c *Coordinator) Reconnect() {
	c.mu.Lock()
	c.logger.Info("manual reconnect")
	c.cancelRetryLocked()
	c.attempts = 0
	c.lastErr = ""
	notify := c.setStatusLocked(Connecting)
	c.sig.SendReconnectRequest()
	c.conn.Destroy()
	c.scheduleRestartLocked()
	c.mu.Unlock()

	notify()
}

// Disconnect is the manual teardown: any state → idle, all timers
// cancelled. The facade releases the signaling channel afterwards.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	c.cancelRetryLocked()
	c.attempts = 0
	c.lastErr = ""
	notify := c.setStatusLocked(Idle)
	c.conn.Destroy()
	c.mu.Unlock()

	notify()
}

// scheduleRestartLocked arms the owned retry timer. The generation guard
// makes a timer that fires after a cancel or a newer schedule a no-op.
func (c *Coordinator) scheduleRestartLocked() {
	c.retryGen++
	gen := c.retryGen
	if c.retry != nil {
		c.retry.Stop()
	}

	util.Stats.AddReconnect()

	c.retry = time.AfterFunc(c.retryDelay, func() {
		c.mu.Lock()
		if c.retryGen != gen || c.status != Connecting {
			c.mu.Unlock()
			return
		}
		err := c.conn.Create()
		var notify func()
		if err != nil {
			c.lastErr = err.Error()
			notify = c.setStatusLocked(Error)
		} else {
			notify = func() {}
		}
		c.mu.Unlock()

		notify()
	})
}

// cancelRetryLocked stops any pending retry timer and invalidates
// in-flight fires.
func (c *Coordinator) cancelRetryLocked() {
	c.retryGen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// setStatusLocked records a transition and returns the notification to
// run after the lock is released, so a status callback may call back into
// the coordinator.
func (c *Coordinator) setStatusLocked(s Status) func() {
	if c.status == s {
		return func() {}
	}
	from := c.status
	c.status = s
	c.logger.Debugf("status %s → %s", from, s)

	if c.onStatus == nil {
		return func() {}
	}
	fn := c.onStatus
	return func() { fn(s) }
}
