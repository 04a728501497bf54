package subscribe

import (
	"context"
	"reflect"
	"sync"
	"time"

	"warlogix/batch"
)

// endpointScheduler groups every subscription due at a tick into one
// batch.Execute call against that endpoint's session, so a tick with many
// due tags costs as few round trips as the batch config's packet limits
// allow rather than one per tag.
type endpointScheduler struct {
	engine   *Engine
	endpoint string

	mu   sync.Mutex
	subs map[string]*Subscription

	failCount int
}

func newEndpointScheduler(e *Engine, endpoint string) *endpointScheduler {
	return &endpointScheduler{engine: e, endpoint: endpoint, subs: make(map[string]*Subscription)}
}

func (s *endpointScheduler) add(sub *Subscription) {
	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()
}

func (s *endpointScheduler) remove(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
}

func (s *endpointScheduler) run(ctx context.Context) {
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *endpointScheduler) tick(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	var due []*Subscription
	for _, sub := range s.subs {
		sub.mu.Lock()
		isDue := !sub.nextDue.After(now)
		sub.mu.Unlock()
		if isDue {
			due = append(due, sub)
		}
	}
	s.mu.Unlock()
	if len(due) == 0 {
		return
	}

	ops := make([]batch.Op, len(due))
	for i, sub := range due {
		ops[i] = batch.Op{Tag: sub.tag, Desc: sub.desc}
	}

	disp, _, err := s.engine.mgr.Acquire(ctx, s.endpoint)
	if err != nil {
		s.reportFailure(due, err)
		return
	}

	results, err := batch.Execute(ctx, disp, ops, s.engine.batchCfg)
	if err != nil {
		s.reportFailure(due, err)
		return
	}

	s.failCount = 0
	for i, sub := range due {
		s.deliver(sub, results[i], now)
	}
}

// reportFailure applies auto-reconnect backoff bookkeeping, retrying up to
// maxReconnectAttempts, and emits an error event once the attempt budget for
// this round is exhausted, so a listener can observe persistent connectivity
// loss instead of silent stalls.
func (s *endpointScheduler) reportFailure(due []*Subscription, err error) {
	s.failCount++
	if s.failCount < s.engine.maxReconnectAttempts {
		return
	}
	for _, sub := range due {
		sub.send(Event{Endpoint: s.endpoint, Tag: sub.tag, Timestamp: time.Now(), Err: err})
		sub.mu.Lock()
		sub.nextDue = time.Now().Add(sub.period)
		sub.mu.Unlock()
	}
}

func (s *endpointScheduler) deliver(sub *Subscription, res batch.Result, when time.Time) {
	sub.mu.Lock()
	sub.nextDue = when.Add(sub.period)
	sub.mu.Unlock()

	if res.Err != nil {
		// A per-op CIP failure still counts as a report, not a reconnect:
		// the endpoint is reachable, this one tag just failed to read.
		sub.send(Event{Endpoint: s.endpoint, Tag: sub.tag, Timestamp: when, Err: res.Err})
		return
	}

	sub.mu.Lock()
	old := sub.lastValue
	changed := old == nil || !reflect.DeepEqual(old.Raw, res.Value.Raw)
	if changed {
		sub.sequence++
		seq := sub.sequence
		sub.lastValue = res.Value
		sub.mu.Unlock()
		sub.send(Event{
			Endpoint:  s.endpoint,
			Tag:       sub.tag,
			Timestamp: when,
			Old:       old,
			New:       res.Value,
			Sequence:  seq,
		})
		return
	}
	sub.mu.Unlock()
}
