// Package session drives one EtherNet/IP session's lifecycle: registration,
// keep-alive probing, and reconnection with exponential backoff, as an
// explicit state machine a pool can observe and drive.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"warlogix/eip"
	"warlogix/logging"
	"warlogix/plcerr"
)

// State is a position in the session lifecycle.
type State int

const (
	Disconnected State = iota
	Registering
	Active
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Registering:
		return "Registering"
	case Active:
		return "Active"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Defaults for session keep-alive and reconnect timing.
const (
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultProbeTimeout      = 5 * time.Second
	DefaultMaxProbeFailures  = 3
	DefaultInitialBackoff    = 1 * time.Second
	DefaultMaxBackoff        = 30 * time.Second
)

// Option configures a Session at construction.
type Option func(*Session)

func WithKeepAliveInterval(d time.Duration) Option {
	return func(s *Session) { s.keepAliveInterval = d }
}

func WithMaxProbeFailures(n int) Option {
	return func(s *Session) { s.maxProbeFailures = n }
}

func WithBackoff(initial, max time.Duration) Option {
	return func(s *Session) { s.initialBackoff = initial; s.maxBackoff = max }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.requestTimeout = d }
}

// Session owns one EtherNet/IP client connection and drives it through
// Disconnected -> Registering -> Active -> Failed -> Registering.
//
// Exactly one background goroutine (run, started by Start) ever touches
// state transitions and the keep-alive clock; callers observe via State()
// and Err() and act via Start()/Stop().
type Session struct {
	endpoint string
	client   *eip.EipClient

	keepAliveInterval time.Duration
	maxProbeFailures  int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	requestTimeout    time.Duration

	mu           sync.RWMutex
	state        State
	lastErr      error
	probeFails   int
	reconnectTry int

	onStateChange func(State)

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Session for endpoint ("host" or "host:port") without
// connecting. Call Start to begin registration and keep-alive.
func New(endpoint string, opts ...Option) *Session {
	s := &Session{
		endpoint:          endpoint,
		client:            newEipClient(endpoint),
		keepAliveInterval: DefaultKeepAliveInterval,
		maxProbeFailures:  DefaultMaxProbeFailures,
		initialBackoff:    DefaultInitialBackoff,
		maxBackoff:        DefaultMaxBackoff,
		requestTimeout:    DefaultProbeTimeout,
		state:             Disconnected,
	}
	for _, o := range opts {
		o(s)
	}
	_ = s.client.SetTimeout(s.requestTimeout)
	return s
}

// newEipClient builds an EipClient from an endpoint string that may be a bare
// host (the default EtherNet/IP port 44818 is used) or "host:port".
func newEipClient(endpoint string) *eip.EipClient {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return eip.NewEipClient(endpoint)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return eip.NewEipClient(host)
	}
	return eip.NewEipClientWithPort(host, uint16(port))
}

// Client returns the underlying EtherNet/IP client for use by the request
// dispatcher. Safe to call at any state; callers must check State() == Active
// before issuing requests.
func (s *Session) Client() *eip.EipClient { return s.client }

func (s *Session) Endpoint() string { return s.endpoint }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the most recent failure, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// OnStateChange installs a callback invoked (from the session's internal
// goroutine) whenever the state transitions. Install before Start.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onStateChange = fn
	s.mu.Unlock()
}

func (s *Session) setState(st State, err error) {
	s.mu.Lock()
	s.state = st
	s.lastErr = err
	cb := s.onStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// Start launches the session's lifecycle goroutine: initial registration,
// then keep-alive probing, with automatic reconnection on probe failure.
// Start is idempotent while the session is already running.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(runCtx)
}

// Stop tears the session down: cancels the keep-alive loop and unregisters
// the session, then blocks until the goroutine has exited.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	_ = s.client.Disconnect()
	s.setState(Disconnected, nil)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.register(ctx); err != nil {
			if !s.backoffSleep(ctx) {
				return
			}
			continue
		}
		s.reconnectTry = 0

		if !s.keepAliveLoop(ctx) {
			return
		}
		// keepAliveLoop returned because probing failed enough times;
		// loop around to re-register after a backoff.
		if !s.backoffSleep(ctx) {
			return
		}
	}
}

func (s *Session) register(ctx context.Context) error {
	s.setState(Registering, nil)
	logging.DebugLog("session", "registering session with %s", s.endpoint)

	if err := s.client.Connect(); err != nil {
		wrapped := plcerr.New(plcerr.Transport, "connect", "", err).WithEndpoint(s.endpoint)
		s.setState(Failed, wrapped)
		return wrapped
	}

	s.probeFails = 0
	s.setState(Active, nil)
	logging.DebugLog("session", "session active on %s session=0x%08X", s.endpoint, s.client.GetSession())
	return nil
}

// keepAliveLoop probes the connection on keepAliveInterval until the context
// is cancelled (returns false: the caller stops) or maxProbeFailures
// consecutive probes fail (returns true: the caller reconnects).
func (s *Session) keepAliveLoop(ctx context.Context) bool {
	t := time.NewTicker(s.keepAliveInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			if err := s.probe(); err != nil {
				s.probeFails++
				logging.DebugError("session", fmt.Sprintf("keep-alive probe %d/%d", s.probeFails, s.maxProbeFailures), err)
				if s.probeFails >= s.maxProbeFailures {
					wrapped := plcerr.New(plcerr.Timeout, "keepalive", "", err).WithEndpoint(s.endpoint)
					s.setState(Failed, wrapped)
					return true
				}
				continue
			}
			s.probeFails = 0
		}
	}
}

// probe sends a NOP to confirm the connection is still alive.
func (s *Session) probe() error {
	return s.client.SendNop()
}

// backoffSleep waits an exponentially increasing, jittered interval before
// the next reconnect attempt. Returns false if ctx was cancelled during the
// wait.
func (s *Session) backoffSleep(ctx context.Context) bool {
	s.reconnectTry++
	shift := s.reconnectTry - 1
	if shift > 10 {
		shift = 10
	}
	delay := s.initialBackoff * time.Duration(1<<uint(shift))
	if delay > s.maxBackoff {
		delay = s.maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	wait := delay/2 + jitter

	logging.DebugLog("session", "reconnect attempt %d to %s in %s", s.reconnectTry, s.endpoint, wait)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}
