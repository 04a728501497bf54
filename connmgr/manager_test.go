package connmgr

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"warlogix/session"
)

// fakeController completes RegisterSession and otherwise ignores traffic -
// enough to drive a session to Active so Acquire can be exercised.
type fakeController struct {
	ln net.Listener
}

func startFakeController(t *testing.T) *fakeController {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fc := &fakeController{ln: ln}
	go fc.serve()
	return fc
}

func (fc *fakeController) addr() string { return fc.ln.Addr().String() }

func (fc *fakeController) serve() {
	for {
		conn, err := fc.ln.Accept()
		if err != nil {
			return
		}
		go fc.handle(conn)
	}
}

func (fc *fakeController) handle(conn net.Conn) {
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
		case 0x65: // RegisterSession
			resp := make([]byte, 24+len(payload))
			binary.LittleEndian.PutUint16(resp[0:2], command)
			binary.LittleEndian.PutUint16(resp[2:4], uint16(len(payload)))
			binary.LittleEndian.PutUint32(resp[4:8], 0xAABBCCDD)
			copy(resp[12:20], ctx)
			copy(resp[24:], payload)
			conn.Write(resp)
		case 0x00: // NOP
		default:
		}
	}
}

func TestAcquireLazilyOpensASession(t *testing.T) {
	fc := startFakeController(t)
	defer fc.ln.Close()

	m := NewManager(WithSessionOptions(session.WithBackoff(10*time.Millisecond, 20*time.Millisecond)))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	disp, cache, err := m.Acquire(ctx, fc.addr())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if disp == nil || cache == nil {
		t.Fatal("Acquire returned nil dispatcher or cache")
	}

	m.mu.Lock()
	n := len(m.pools)
	m.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one pool after Acquire, got %d", n)
	}
}

func TestAcquireReusesTheSameSessionUnderCapacityOne(t *testing.T) {
	fc := startFakeController(t)
	defer fc.ln.Close()

	m := NewManager(WithCapacity(1), WithSessionOptions(session.WithBackoff(10*time.Millisecond, 20*time.Millisecond)))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	disp1, _, err := m.Acquire(ctx, fc.addr())
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	disp2, _, err := m.Acquire(ctx, fc.addr())
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if disp1 != disp2 {
		t.Fatal("expected the same dispatcher from a capacity-1 pool")
	}
}

func TestDisconnectTearsDownThePool(t *testing.T) {
	fc := startFakeController(t)
	defer fc.ln.Close()

	m := NewManager(WithSessionOptions(session.WithBackoff(10*time.Millisecond, 20*time.Millisecond)))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := m.Acquire(ctx, fc.addr())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	m.Disconnect(fc.addr())

	m.mu.Lock()
	_, ok := m.pools[fc.addr()]
	m.mu.Unlock()
	if ok {
		t.Fatal("expected Disconnect to remove the pool")
	}
}

func TestInvalidateOnCIPStatusAgainstALivePool(t *testing.T) {
	fc := startFakeController(t)
	defer fc.ln.Close()

	m := NewManager(WithSessionOptions(session.WithBackoff(10*time.Millisecond, 20*time.Millisecond)))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, cache, err := m.Acquire(ctx, fc.addr())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Drive InvalidateOnCIPStatus against a live pool with a stale-reference
	// status and a success status; neither call may panic. The cache's
	// contents are not inspected here.
	cache.InvalidateScope("") // no-op, just exercising the cache handle
	m.InvalidateOnCIPStatus(fc.addr(), 0x05)

	m.InvalidateOnCIPStatus(fc.addr(), 0x00) // success status must not panic or invalidate
}
