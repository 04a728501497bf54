package subscribe

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"warlogix/cip"
	"warlogix/connmgr"
	"warlogix/session"
	"warlogix/value"
)

func TestClampPeriod(t *testing.T) {
	cases := []struct {
		in, want time.Duration
	}{
		{0, DefaultPollPeriod},
		{-5 * time.Second, DefaultPollPeriod},
		{500 * time.Microsecond, MinPollPeriod},
		{time.Minute, MaxPollPeriod},
		{250 * time.Millisecond, 250 * time.Millisecond},
	}
	for _, c := range cases {
		if got := clampPeriod(c.in); got != c.want {
			t.Errorf("clampPeriod(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSubscriptionSendDropsOldestWhenQueueFull(t *testing.T) {
	sub := &Subscription{events: make(chan Event, 2)}
	sub.send(Event{Sequence: 1})
	sub.send(Event{Sequence: 2})
	sub.send(Event{Sequence: 3}) // queue full, should drop seq 1

	if sub.DropCount() != 1 {
		t.Fatalf("DropCount = %d, want 1", sub.DropCount())
	}

	first := <-sub.events
	second := <-sub.events
	if first.Sequence != 2 || second.Sequence != 3 {
		t.Errorf("got sequence %d, %d, want 2, 3", first.Sequence, second.Sequence)
	}
}

func TestSubscribeUnsubscribeBookkeeping(t *testing.T) {
	mgr := connmgr.NewManager()
	defer mgr.Close()

	e := NewEngine(context.Background(), mgr)
	defer e.Close()

	sub := e.Subscribe("127.0.0.1:1", "Tag1", value.Descriptor{Type: value.TypeDINT}, 0)
	if sub.period != DefaultPollPeriod {
		t.Errorf("period = %v, want default", sub.period)
	}

	e.mu.Lock()
	_, tracked := e.byID[sub.id]
	sched := e.endpoints["127.0.0.1:1"]
	e.mu.Unlock()
	if !tracked {
		t.Fatal("subscription not tracked in byID")
	}
	sched.mu.Lock()
	_, inSched := sched.subs[sub.id]
	sched.mu.Unlock()
	if !inSched {
		t.Fatal("subscription not registered with its endpoint scheduler")
	}

	e.Unsubscribe(sub.id)
	e.Unsubscribe(sub.id) // must be safe to call twice

	e.mu.Lock()
	_, stillTracked := e.byID[sub.id]
	e.mu.Unlock()
	if stillTracked {
		t.Fatal("Unsubscribe did not remove the subscription")
	}
	if _, ok := <-sub.events; ok {
		t.Fatal("expected the events channel to be closed after Unsubscribe")
	}
}

// fakeController answers RegisterSession and a single Read Tag reply with a
// changing DINT value across calls, letting the scheduler exercise change
// detection end-to-end.
type fakeController struct {
	ln     net.Listener
	values []int32
	calls  int
}

func startFakeController(t *testing.T, values []int32) *fakeController {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fc := &fakeController{ln: ln, values: values}
	go fc.serve()
	return fc
}

func (fc *fakeController) addr() string { return fc.ln.Addr().String() }

func (fc *fakeController) serve() {
	conn, err := fc.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		header := make([]byte, 24)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		command := binary.LittleEndian.Uint16(header[0:2])
		length := binary.LittleEndian.Uint16(header[2:4])
		ctx := header[12:20]

		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
		}

		switch command {
		case 0x65:
			resp := make([]byte, 24+len(payload))
			binary.LittleEndian.PutUint16(resp[0:2], command)
			binary.LittleEndian.PutUint16(resp[2:4], uint16(len(payload)))
			binary.LittleEndian.PutUint32(resp[4:8], 0xAABBCCDD)
			copy(resp[12:20], ctx)
			copy(resp[24:], payload)
			conn.Write(resp)
		case 0x6F:
			v := int32(0)
			if fc.calls < len(fc.values) {
				v = fc.values[fc.calls]
			} else if len(fc.values) > 0 {
				v = fc.values[len(fc.values)-1]
			}
			fc.calls++

			cipResp := buildMSPReplyOneGoodRead(v)
			rrData := make([]byte, 6)
			rrData = append(rrData, buildCPFBytes(cipResp)...)

			resp := make([]byte, 24+len(rrData))
			binary.LittleEndian.PutUint16(resp[0:2], command)
			binary.LittleEndian.PutUint16(resp[2:4], uint16(len(rrData)))
			binary.LittleEndian.PutUint32(resp[4:8], 0xAABBCCDD)
			copy(resp[12:20], ctx)
			copy(resp[24:], rrData)
			conn.Write(resp)
		case 0x00:
		default:
			return
		}
	}
}

func buildMSPReplyOneGoodRead(v int32) []byte {
	sub := []byte{0x4C | 0x80, 0x00, 0x00, 0x00, 0xC4, 0x00} // reply header, DINT type code
	vb := make([]byte, 4)
	binary.LittleEndian.PutUint32(vb, uint32(v))
	sub = append(sub, vb...)

	body := make([]byte, 0, 4+len(sub))
	body = binary.LittleEndian.AppendUint16(body, 1)
	body = binary.LittleEndian.AppendUint16(body, 4)
	body = append(body, sub...)

	out := []byte{cip.SvcMultipleServicePacket | 0x80, 0x00, 0x00, 0x00}
	out = append(out, body...)
	return out
}

func buildCPFBytes(data []byte) []byte {
	out := make([]byte, 0, 12+len(data))
	out = binary.LittleEndian.AppendUint16(out, 2)
	out = binary.LittleEndian.AppendUint16(out, 0x0000)
	out = binary.LittleEndian.AppendUint16(out, 0)
	out = binary.LittleEndian.AppendUint16(out, 0x00B2)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(data)))
	out = append(out, data...)
	return out
}

func TestEngineEmitsChangeEventsAcrossPolls(t *testing.T) {
	fc := startFakeController(t, []int32{7, 7, 99})
	defer fc.ln.Close()

	mgr := connmgr.NewManager(connmgr.WithSessionOptions(session.WithBackoff(10*time.Millisecond, 20*time.Millisecond)))
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := NewEngine(ctx, mgr)
	defer e.Close()

	sub := e.Subscribe(fc.addr(), "Counter", value.Descriptor{Type: value.TypeDINT}, 10*time.Millisecond)

	var last Event
	deadline := time.After(3 * time.Second)
	gotChange := false
	for !gotChange {
		select {
		case ev := <-sub.Events():
			if ev.Err != nil {
				t.Fatalf("unexpected event error: %v", ev.Err)
			}
			last = ev
			if ev.New != nil && ev.New.Raw.(int32) == 99 {
				gotChange = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a change event, last = %+v", last)
		}
	}
	if last.Sequence == 0 {
		t.Error("expected a non-zero sequence number on the change event")
	}
}
