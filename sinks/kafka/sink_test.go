package kafka

import (
	"errors"
	"testing"

	"warlogix/subscribe"
	"warlogix/value"
)

func TestKeyForJoinsEndpointAndTag(t *testing.T) {
	ev := subscribe.Event{Endpoint: "10.0.0.5:44818", Tag: "Line1.Counter"}
	got := keyFor(ev)
	want := "10.0.0.5:44818/Line1.Counter"
	if got != want {
		t.Errorf("keyFor = %q, want %q", got, want)
	}
}

func TestMessageForCarriesValueOnSuccess(t *testing.T) {
	v := value.Dint(7)
	ev := subscribe.Event{Endpoint: "e", Tag: "t", Sequence: 1, New: &v}
	msg := messageFor(ev)
	if msg.Value != int32(7) || msg.Error != "" {
		t.Errorf("messageFor = %+v", msg)
	}
}

func TestMessageForCarriesErrorInsteadOfValue(t *testing.T) {
	ev := subscribe.Event{Endpoint: "e", Tag: "t", Err: errors.New("boom")}
	msg := messageFor(ev)
	if msg.Error != "boom" || msg.Value != nil {
		t.Errorf("messageFor = %+v", msg)
	}
}
