package warlogix

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"warlogix/connmgr"
	"warlogix/session"
)

// fakeController answers RegisterSession/NOP and a single standalone Read
// Tag (0x4C) or Write Tag (0x4D) request with a fixed DINT value, enough to
// drive Client.Read/Write end-to-end without a live controller.
type fakeController struct {
	ln        net.Listener
	readValue int32
	lastWrite []byte
	writeOK   bool
}

func startFakeController(t *testing.T, readValue int32) *fakeController {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fc := &fakeController{ln: ln, readValue: readValue, writeOK: true}
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
			cipReq := extractCIPRequest(payload)
			cipResp := fc.handleCIP(cipReq)
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

// extractCIPRequest strips the CPF address/data item wrapper the dispatcher
// sends an unconnected request inside, returning the raw [Service][PathLen]
// [Path][Data] CIP request bytes.
func extractCIPRequest(rrData []byte) []byte {
	// rrData: [InterfaceHandle 4][Timeout 2][ItemCount 2][items...]
	items := rrData[8:]
	// item 0: Null Address (type 0, len 0) -> 4 bytes
	// item 1: Unconnected Data Item: [type 2][len 2][data...]
	off := 4
	dataLen := binary.LittleEndian.Uint16(items[off+2 : off+4])
	start := off + 4
	return items[start : start+int(dataLen)]
}

func (fc *fakeController) handleCIP(req []byte) []byte {
	service := req[0]
	switch service {
	case 0x4C: // Read Tag
		data := make([]byte, 0, 6)
		data = binary.LittleEndian.AppendUint16(data, uint16(0xC4)) // DINT type code
		data = binary.LittleEndian.AppendUint32(data, uint32(fc.readValue))
		out := []byte{0x4C | 0x80, 0x00, 0x00, 0x00}
		return append(out, data...)
	case 0x4D: // Write Tag
		fc.lastWrite = append([]byte(nil), req...)
		status := byte(0x00)
		if !fc.writeOK {
			status = 0x05
		}
		return []byte{0x4D | 0x80, 0x00, status, 0x00}
	default:
		return []byte{service | 0x80, 0x00, 0x08, 0x00} // service not supported
	}
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

func TestClientReadDecodesWireType(t *testing.T) {
	fc := startFakeController(t, 42)
	defer fc.ln.Close()

	c := New(WithConnmgrOptions(connmgr.WithSessionOptions(session.WithBackoff(10*time.Millisecond, 20*time.Millisecond))))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	v, err := c.Read(ctx, fc.addr(), "Counter")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v.Raw.(int32) != 42 {
		t.Errorf("Read value = %v, want 42", v.Raw)
	}
}

func TestClientWriteInfersWireType(t *testing.T) {
	fc := startFakeController(t, 0)
	defer fc.ln.Close()

	c := New(WithConnmgrOptions(connmgr.WithSessionOptions(session.WithBackoff(10*time.Millisecond, 20*time.Millisecond))))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.Write(ctx, fc.addr(), "Counter", int32(77)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(fc.lastWrite) < 4 || fc.lastWrite[0] != 0x4D {
		t.Fatalf("controller did not see a Write Tag service request: %v", fc.lastWrite)
	}
}

func TestClientConnectSurfacesTransportError(t *testing.T) {
	c := New()
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := c.Connect(ctx, "127.0.0.1:1"); err == nil {
		t.Fatal("expected Connect against an unreachable port to fail")
	}
}
