package connmgr

import (
	"context"
	"sync"
	"time"

	"warlogix/dispatch"
	"warlogix/logging"
	"warlogix/session"
	"warlogix/tagdir"
)

// Option configures a Manager at construction.
type Option func(*Manager)

// WithCapacity sets the number of sessions each endpoint's pool opens at most.
func WithCapacity(n int) Option {
	return func(m *Manager) { m.capacity = n }
}

// WithHealthInterval sets how often every pool's sessions are swept and any
// session that is not Active is logged.
func WithHealthInterval(d time.Duration) Option {
	return func(m *Manager) { m.healthInterval = d }
}

// WithSessionOptions passes through session.Option values (keep-alive
// interval, backoff, timeout) applied to every session the manager opens.
func WithSessionOptions(opts ...session.Option) Option {
	return func(m *Manager) { m.sessionOpts = opts }
}

// Manager holds one pool per endpoint and is the sole owner of every
// session, dispatcher, and tag cache the client creates. Public operations
// (read/write/batch/discover/subscribe) acquire a session through Manager,
// perform their work, and never hold it beyond the call.
type Manager struct {
	capacity       int
	healthInterval time.Duration
	sessionOpts    []session.Option

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	pools map[string]*pool
}

// NewManager creates a Manager. Call Close when the client shuts down to
// stop every session and the health monitor.
func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		capacity:       DefaultCapacity,
		healthInterval: DefaultHealthInterval,
		ctx:            ctx,
		cancel:         cancel,
		pools:          make(map[string]*pool),
	}
	for _, o := range opts {
		o(m)
	}
	go m.healthLoop()
	return m
}

// Acquire returns the dispatcher and tag cache for an Active session on
// endpoint, opening a pool and/or a new session lazily as needed. It blocks
// until a session is Active, ctx is cancelled, or ctx's deadline elapses.
func (m *Manager) Acquire(ctx context.Context, endpoint string) (*dispatch.Dispatcher, *tagdir.Cache, error) {
	p := m.poolFor(endpoint)
	e, err := p.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return e.disp, e.cache, nil
}

func (m *Manager) poolFor(endpoint string) *pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[endpoint]
	if !ok {
		p = newPool(m.ctx, endpoint, m.capacity, m.sessionOpts...)
		m.pools[endpoint] = p
	}
	return p
}

// Disconnect tears down and forgets the pool for one endpoint, without
// affecting any other endpoint's sessions.
func (m *Manager) Disconnect(endpoint string) {
	m.mu.Lock()
	p, ok := m.pools[endpoint]
	if ok {
		delete(m.pools, endpoint)
	}
	m.mu.Unlock()
	if ok {
		p.close()
	}
}

// Close stops every session across every endpoint and the health monitor.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	pools := make([]*pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.pools = make(map[string]*pool)
	m.mu.Unlock()
	for _, p := range pools {
		p.close()
	}
}

// healthLoop periodically sweeps every pool's sessions. The keep-alive probe
// itself runs inside each session's own lifecycle goroutine (session.run);
// this sweep exists for the connmgr-level bookkeeping the session doesn't do
// on its own - logging a down session's endpoint so an operator can see which
// pools lost capacity.
func (m *Manager) healthLoop() {
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	pools := make([]*pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	for _, p := range pools {
		for _, e := range p.snapshot() {
			if e.sess.State() != session.Active {
				logging.DebugLog("connmgr", "endpoint %s: session not active (state=%s err=%v)", e.sess.Endpoint(), e.sess.State(), e.sess.Err())
			}
		}
	}
}

// SessionHealth reports one pooled session's lifecycle state, for the
// health() operation.
type SessionHealth struct {
	Endpoint string
	State    session.State
	Err      error
	InFlight bool
	LastOK   time.Time
}

// Health returns the current state of every session in endpoint's pool. A
// nil/empty result means no pool has been opened for endpoint yet.
func (m *Manager) Health(endpoint string) []SessionHealth {
	m.mu.Lock()
	p, ok := m.pools[endpoint]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	entries := p.snapshot()
	out := make([]SessionHealth, len(entries))
	for i, e := range entries {
		out[i] = SessionHealth{
			Endpoint: e.sess.Endpoint(),
			State:    e.sess.State(),
			Err:      e.sess.Err(),
			InFlight: e.disp.InFlight(),
			LastOK:   e.disp.LastOK(),
		}
	}
	return out
}

// InvalidateOnCIPStatus drops a pool's cached tag directory entries when a
// caller's operation against endpoint returned a CIP general status
// indicating the controller's symbol table may have changed underneath it.
func (m *Manager) InvalidateOnCIPStatus(endpoint string, cipStatus byte) {
	if !tagdir.ShouldInvalidate(cipStatus) {
		return
	}
	m.mu.Lock()
	p, ok := m.pools[endpoint]
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, e := range p.snapshot() {
		e.cache.Invalidate()
	}
}
