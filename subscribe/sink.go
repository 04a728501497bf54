package subscribe

import "context"

// Sink receives subscription events for fan-out to an external system (MQTT,
// Kafka, Valkey, ...). Publish must not block the engine for long -
// implementations own their own queuing/retry policy.
type Sink interface {
	Publish(Event) error
}

// Fan starts a goroutine forwarding every event off sub's channel to every
// sink, until the channel closes (the subscription was dropped) or ctx is
// cancelled. A publish failure on one sink is reported through onError, when
// non-nil, and never stops delivery to the remaining sinks.
func Fan(ctx context.Context, sub *Subscription, sinks []Sink, onError func(Sink, Event, error)) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				for _, sk := range sinks {
					if err := sk.Publish(ev); err != nil && onError != nil {
						onError(sk, ev, err)
					}
				}
			}
		}
	}()
}
