package session

import (
	"context"
	"testing"
	"time"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Disconnected: "Disconnected",
		Registering:  "Registering",
		Active:       "Active",
		Failed:       "Failed",
	}
	for st, want := range cases {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	s := New("127.0.0.1:44818")
	if s.keepAliveInterval != DefaultKeepAliveInterval {
		t.Errorf("keepAliveInterval = %v, want %v", s.keepAliveInterval, DefaultKeepAliveInterval)
	}
	if s.maxProbeFailures != DefaultMaxProbeFailures {
		t.Errorf("maxProbeFailures = %d, want %d", s.maxProbeFailures, DefaultMaxProbeFailures)
	}
	if s.State() != Disconnected {
		t.Errorf("initial state = %v, want Disconnected", s.State())
	}
}

func TestOptionsApply(t *testing.T) {
	s := New("127.0.0.1:44818",
		WithKeepAliveInterval(5*time.Second),
		WithMaxProbeFailures(1),
		WithBackoff(100*time.Millisecond, time.Second),
	)
	if s.keepAliveInterval != 5*time.Second {
		t.Errorf("keepAliveInterval not applied")
	}
	if s.maxProbeFailures != 1 {
		t.Errorf("maxProbeFailures not applied")
	}
	if s.initialBackoff != 100*time.Millisecond || s.maxBackoff != time.Second {
		t.Errorf("backoff options not applied")
	}
}

// TestUnreachableEndpointTransitionsToFailedAndRetries confirms that a
// session pointed at an address nothing listens on cycles
// Disconnected -> Registering -> Failed -> Registering ..., backing off
// between attempts, and that Stop() returns promptly once cancelled.
func TestUnreachableEndpointTransitionsToFailedAndRetries(t *testing.T) {
	s := New("127.0.0.1:1", // port 1 refuses connections immediately
		WithBackoff(10*time.Millisecond, 40*time.Millisecond),
		WithTimeout(200*time.Millisecond),
	)

	var transitions []State
	done := make(chan struct{}, 16)
	s.OnStateChange(func(st State) {
		transitions = append(transitions, st)
		select {
		case done <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	seenFailed := 0
	for seenFailed < 2 {
		select {
		case <-done:
			if s.State() == Failed {
				seenFailed++
			}
		case <-deadline:
			t.Fatalf("timed out waiting for Failed transitions; saw %v", transitions)
		}
	}

	if err := s.Err(); err == nil {
		t.Error("expected Err() to be populated after a failed connect")
	}

	s.Stop()
	if s.State() != Disconnected {
		t.Errorf("state after Stop = %v, want Disconnected", s.State())
	}
}

func TestStartIsIdempotent(t *testing.T) {
	s := New("127.0.0.1:1", WithBackoff(10*time.Millisecond, 20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx) // second call must not spawn a second goroutine/panic
	s.Stop()
}
