// Package connmgr holds a map of endpoint to session pool, each pool lazily
// opening a bounded number of sessions and handing out an Active one to
// callers.
package connmgr

import (
	"context"
	"sync"
	"time"

	"warlogix/dispatch"
	"warlogix/session"
	"warlogix/tagdir"
)

// DefaultCapacity is the number of sessions a pool opens at most.
const DefaultCapacity = 1

// DefaultHealthInterval is how often the Manager's health monitor sweeps every
// pool's sessions.
const DefaultHealthInterval = 30 * time.Second

// entry bundles one session with the request dispatcher and tag cache that
// are scoped to it.
type entry struct {
	sess  *session.Session
	disp  *dispatch.Dispatcher
	cache *tagdir.Cache
}

// pool manages a bounded set of sessions for one endpoint.
type pool struct {
	endpoint string
	capacity int
	opts     []session.Option

	ctx context.Context

	mu      sync.Mutex
	entries []*entry
	next    int // round-robin cursor over entries
}

func newPool(ctx context.Context, endpoint string, capacity int, opts ...session.Option) *pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &pool{endpoint: endpoint, capacity: capacity, opts: opts, ctx: ctx}
}

// acquire selects an Active session round-robin, opening a new one lazily
// when the pool is under capacity, or waiting for one to become Active when
// the pool is already full and none are ready.
func (p *pool) acquire(ctx context.Context) (*entry, error) {
	for {
		if e := p.tryActive(); e != nil {
			return e, nil
		}

		p.mu.Lock()
		atCapacity := len(p.entries) >= p.capacity
		p.mu.Unlock()

		if !atCapacity {
			e := p.open()
			// the new session needs time to register; fall through to the
			// wait loop below rather than returning it before it's Active.
			_ = e
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// tryActive returns the next Active entry in round-robin order, or nil.
func (p *pool) tryActive() *entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		if p.entries[idx].sess.State() == session.Active {
			p.next = (idx + 1) % n
			return p.entries[idx]
		}
	}
	return nil
}

// open lazily creates and starts a new session, its dispatcher goroutine,
// and a fresh tag cache, then registers it in the pool.
func (p *pool) open() *entry {
	p.mu.Lock()
	if len(p.entries) >= p.capacity {
		p.mu.Unlock()
		return nil
	}
	sess := session.New(p.endpoint, p.opts...)
	disp := dispatch.New(sess)
	e := &entry{sess: sess, disp: disp, cache: tagdir.NewCache(tagdir.DefaultTTL)}
	p.entries = append(p.entries, e)
	p.mu.Unlock()

	sess.Start(p.ctx)
	go disp.Run(p.ctx)
	return e
}

// snapshot returns the current entries for the health monitor to sweep.
func (p *pool) snapshot() []*entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// close stops every session in the pool. The pool's own context cancellation
// (from Manager.Close) already tears down Run/Start goroutines; close exists
// so a caller can drop one endpoint without cancelling the whole manager.
func (p *pool) close() {
	for _, e := range p.snapshot() {
		e.sess.Stop()
	}
}
