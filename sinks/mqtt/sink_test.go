package mqtt

import (
	"errors"
	"testing"
	"time"

	"warlogix/subscribe"
	"warlogix/value"
)

func TestTopicForJoinsRootEndpointAndTag(t *testing.T) {
	ev := subscribe.Event{Endpoint: "10.0.0.5:44818", Tag: "Line1.Counter"}
	got := topicFor("plc", ev)
	want := "plc/10.0.0.5:44818/Line1.Counter"
	if got != want {
		t.Errorf("topicFor = %q, want %q", got, want)
	}
}

func TestMessageForCarriesValueOnSuccess(t *testing.T) {
	v := value.Dint(42)
	ev := subscribe.Event{Endpoint: "e", Tag: "t", Sequence: 3, New: &v, Timestamp: time.Unix(0, 0)}
	msg := messageFor(ev)
	if msg.Error != "" {
		t.Errorf("Error = %q, want empty", msg.Error)
	}
	if msg.Value != int32(42) {
		t.Errorf("Value = %v, want int32(42)", msg.Value)
	}
	if msg.Sequence != 3 {
		t.Errorf("Sequence = %d, want 3", msg.Sequence)
	}
}

func TestMessageForCarriesErrorInsteadOfValue(t *testing.T) {
	ev := subscribe.Event{Endpoint: "e", Tag: "t", Err: errors.New("boom")}
	msg := messageFor(ev)
	if msg.Error != "boom" {
		t.Errorf("Error = %q, want %q", msg.Error, "boom")
	}
	if msg.Value != nil {
		t.Errorf("Value = %v, want nil", msg.Value)
	}
}
