// Package subscribe implements the subscription engine: periodic batched
// polling per endpoint, change detection against the previously observed
// value, and bounded drop-oldest event delivery.
//
// One scheduler goroutine runs per endpoint, grouping every subscription due
// at a tick into a single batch.Execute call rather than issuing one poll per
// tag.
package subscribe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"warlogix/batch"
	"warlogix/connmgr"
	"warlogix/value"
)

// Poll period bounds.
const (
	DefaultPollPeriod = 100 * time.Millisecond
	MinPollPeriod     = 1 * time.Millisecond
	MaxPollPeriod     = 10 * time.Second

	DefaultQueueSize            = 100
	DefaultMaxReconnectAttempts = 10

	// schedulerTick is the scheduler's own wake granularity; subscription
	// periods are rounded up to a multiple of this when deciding due-ness.
	schedulerTick = 5 * time.Millisecond
)

// Event reports one tag's value change, or a subscription-level failure.
type Event struct {
	Endpoint  string
	Tag       string
	Timestamp time.Time
	Old       *value.Value
	New       *value.Value
	Sequence  uint64
	Err       error
}

// Subscription is one (endpoint, tag path) poll registration.
type Subscription struct {
	id       string
	endpoint string
	tag      string
	desc     value.Descriptor
	period   time.Duration

	events    chan Event
	dropCount uint64

	mu        sync.Mutex
	lastValue *value.Value
	sequence  uint64
	nextDue   time.Time
	failCount int
	stopped   bool
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Events returns the channel this subscription's change/error events arrive
// on. The channel is closed when the subscription is dropped.
func (s *Subscription) Events() <-chan Event { return s.events }

// DropCount returns how many events were discarded because a slow consumer
// left the queue full.
func (s *Subscription) DropCount() uint64 { return atomic.LoadUint64(&s.dropCount) }

func (s *Subscription) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return // Unsubscribe already closed the channel
	}
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case <-s.events: // drop the oldest to make room
		atomic.AddUint64(&s.dropCount, 1)
	default:
	}
	select {
	case s.events <- ev:
	default:
	}
}

// Engine schedules periodic batch reads per endpoint and emits change events.
type Engine struct {
	mgr                  *connmgr.Manager
	batchCfg             batch.Config
	queueSize            int
	maxReconnectAttempts int

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	byID      map[string]*Subscription
	endpoints map[string]*endpointScheduler
	nextID    uint64
}

// Option configures an Engine at construction.
type Option func(*Engine)

func WithBatchConfig(cfg batch.Config) Option  { return func(e *Engine) { e.batchCfg = cfg } }
func WithQueueSize(n int) Option               { return func(e *Engine) { e.queueSize = n } }
func WithMaxReconnectAttempts(n int) Option    { return func(e *Engine) { e.maxReconnectAttempts = n } }

// NewEngine creates an Engine driving its batch reads through mgr.
func NewEngine(ctx context.Context, mgr *connmgr.Manager, opts ...Option) *Engine {
	runCtx, cancel := context.WithCancel(ctx)
	e := &Engine{
		mgr:                  mgr,
		batchCfg:             batch.DefaultConfig(),
		queueSize:            DefaultQueueSize,
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		ctx:                  runCtx,
		cancel:               cancel,
		byID:                 make(map[string]*Subscription),
		endpoints:            make(map[string]*endpointScheduler),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Subscribe registers a new (endpoint, tag) poll at period, clamped to
// [MinPollPeriod, MaxPollPeriod], defaulting to DefaultPollPeriod when period
// is zero. It returns immediately; the first read happens on the endpoint
// scheduler's next due tick.
func (e *Engine) Subscribe(endpoint, tag string, desc value.Descriptor, period time.Duration) *Subscription {
	period = clampPeriod(period)

	e.mu.Lock()
	e.nextID++
	id := fmt.Sprintf("sub-%d", e.nextID)
	sub := &Subscription{
		id:       id,
		endpoint: endpoint,
		tag:      tag,
		desc:     desc,
		period:   period,
		events:   make(chan Event, e.queueSize),
		nextDue:  time.Now(),
	}
	e.byID[id] = sub

	sched, ok := e.endpoints[endpoint]
	if !ok {
		sched = newEndpointScheduler(e, endpoint)
		e.endpoints[endpoint] = sched
		go sched.run(e.ctx)
	}
	sched.add(sub)
	e.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscription from its scheduler and closes its
// listener queue. Safe to call more than once.
func (e *Engine) Unsubscribe(id string) {
	e.mu.Lock()
	sub, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.byID, id)
	sched := e.endpoints[sub.endpoint]
	e.mu.Unlock()

	if sched != nil {
		sched.remove(sub)
	}
	sub.mu.Lock()
	if !sub.stopped {
		sub.stopped = true
		close(sub.events)
	}
	sub.mu.Unlock()
}

// Close stops every scheduler and drops every subscription.
func (e *Engine) Close() {
	e.cancel()
	e.mu.Lock()
	ids := make([]string, 0, len(e.byID))
	for id := range e.byID {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.Unsubscribe(id)
	}
}

func clampPeriod(p time.Duration) time.Duration {
	if p <= 0 {
		return DefaultPollPeriod
	}
	if p < MinPollPeriod {
		return MinPollPeriod
	}
	if p > MaxPollPeriod {
		return MaxPollPeriod
	}
	return p
}
