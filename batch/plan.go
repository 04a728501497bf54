// Package batch plans and executes vectors of read/write operations as
// Multiple Service Packet (service 0x0A) requests, respecting a byte and
// op-count budget per packet.
package batch

import (
	"fmt"

	"warlogix/cip"
	"warlogix/cippath"
	"warlogix/plcerr"
	"warlogix/value"
)

const (
	svcReadTag           byte = 0x4C
	svcWriteTag          byte = 0x4D
	svcReadTagFragmented byte = 0x52
	svcWriteTagFragmented byte = 0x53
)

// messageRouterPath is the fixed destination (Class 0x02 Message Router,
// Instance 1) every Multiple Service Packet is addressed to.
func messageRouterPath() cip.EPath_t {
	p, _ := cip.EPath().Class(0x02).Instance(1).Build()
	return p
}

// Op is one planned operation: a read or, when Value is non-nil, a write.
type Op struct {
	Tag   string
	Value *value.Value
	Desc  value.Descriptor // required for writes (encodes Value); reads ignore it
}

// IsWrite reports whether this Op carries a value to write.
func (o Op) IsWrite() bool { return o.Value != nil }

// Config holds the planner's packing budgets: how many ops and bytes fit in
// one packet, the per-packet timeout, and the error/packing policy.
type Config struct {
	MaxOpsPerPacket       int
	MaxPacketSize         int
	PacketTimeoutMS       int
	ContinueOnError       bool
	OptimizePacketPacking bool
}

// DefaultConfig returns the balanced batch configuration: moderate op and
// byte budgets, tolerant of per-op failures, with packing optimization on.
func DefaultConfig() Config {
	return Config{
		MaxOpsPerPacket:       20,
		MaxPacketSize:         504,
		PacketTimeoutMS:       3000,
		ContinueOnError:       true,
		OptimizePacketPacking: true,
	}
}

// HighPerformancePreset trades strict ordering for throughput: larger
// packets, fewer round trips.
func HighPerformancePreset() Config {
	return Config{
		MaxOpsPerPacket:       50,
		MaxPacketSize:         4000,
		PacketTimeoutMS:       1000,
		ContinueOnError:       true,
		OptimizePacketPacking: true,
	}
}

// ConservativePreset keeps packets small, preserves submission order exactly,
// and never packs reads ahead of writes.
func ConservativePreset() Config {
	return Config{
		MaxOpsPerPacket:       10,
		MaxPacketSize:         504,
		PacketTimeoutMS:       5000,
		ContinueOnError:       true,
		OptimizePacketPacking: false,
	}
}

// plannedOp pairs a compiled MultiServiceRequest with the originating index
// in the caller's submission order, so packet execution can scatter results
// back into the right slot after any reordering optimize_packet_packing did.
type plannedOp struct {
	origIndex int
	op        Op
	req       cip.MultiServiceRequest
	size      int // encoded sub-request size, including its 2-byte index-table slot
}

// Packet is one Multiple Service Packet's worth of planned sub-requests, or
// - when fragmented is set - a single op too large to ever share a packet,
// carried alone and executed as a Read/Write Tag Fragmented sequence instead
// of a Multiple Service Packet.
type Packet struct {
	ops        []plannedOp
	fragmented bool
}

// buildRequest compiles one Op into a cip.MultiServiceRequest. Writes encode
// their value with the type code prefixed, per Write Tag's wire format
// ([TypeCode u16][ElementCount u16][Data]); reads request a single element.
func buildRequest(op Op) (cip.MultiServiceRequest, error) {
	ref, err := cippath.Compile(op.Tag)
	if err != nil {
		return cip.MultiServiceRequest{}, err
	}

	if !op.IsWrite() {
		return cip.MultiServiceRequest{
			Service: svcReadTag,
			Path:    ref.Path,
			Data:    []byte{0x01, 0x00},
		}, nil
	}

	encoded, err := value.Encode(*op.Value, op.Desc)
	if err != nil {
		return cip.MultiServiceRequest{}, err
	}
	typeCode := wireTypeCode(op.Desc)
	data := make([]byte, 0, 4+len(encoded))
	data = append(data, byte(typeCode), byte(typeCode>>8))
	data = append(data, 0x01, 0x00) // element count, always 1 for a scalar/UDT write
	data = append(data, encoded...)

	return cip.MultiServiceRequest{
		Service: svcWriteTag,
		Path:    ref.Path,
		Data:    data,
	}, nil
}

// wireTypeCode returns the type code Write Tag expects on the wire: a
// structure handle with the structure flag set for UDTs, or the plain
// atomic code otherwise.
func wireTypeCode(d value.Descriptor) uint16 {
	if d.IsStructure {
		return uint16(value.FlagStruct) | d.StructHandle
	}
	return uint16(d.Type)
}

// encodedSize is the byte contribution of one sub-request inside a Multiple
// Service Packet: the 2-byte index-table slot plus
// [service 1][path-word-len 1][path n][data n].
func encodedSize(req cip.MultiServiceRequest) int {
	return 2 + 2 + len(req.Path) + len(req.Data)
}

// Plan builds sub-requests for every op and greedily packs them into packets
// honoring cfg's byte and op-count budgets. When cfg.OptimizePacketPacking is
// set, reads are grouped ahead of writes before packing (a stable sort by
// IsWrite); otherwise submission order is preserved exactly, as the
// "conservative" preset requires.
//
// The per-packet fixed header (2-byte service count) is accounted once per
// packet, not per op; MaxPacketSize is checked against CIP request bytes
// only.
func Plan(ops []Op, cfg Config) ([]Packet, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	planned := make([]plannedOp, 0, len(ops))
	for i, op := range ops {
		req, err := buildRequest(op)
		if err != nil {
			return nil, err
		}
		planned = append(planned, plannedOp{origIndex: i, op: op, req: req, size: encodedSize(req)})
	}

	if cfg.OptimizePacketPacking {
		planned = stableGroupReadsBeforeWrites(planned)
	}

	maxOps := cfg.MaxOpsPerPacket
	if maxOps <= 0 {
		maxOps = DefaultConfig().MaxOpsPerPacket
	}
	maxBytes := cfg.MaxPacketSize
	if maxBytes <= 0 {
		maxBytes = DefaultConfig().MaxPacketSize
	}

	const headerSize = 2 // service count
	fixedBudget := maxBytes - headerSize

	var packets []Packet
	var cur []plannedOp
	curBytes := headerSize

	flush := func() {
		if len(cur) > 0 {
			packets = append(packets, Packet{ops: cur})
			cur = nil
			curBytes = headerSize
		}
	}

	for _, p := range planned {
		if p.size > fixedBudget {
			// This op alone already exceeds the packet budget - it can
			// never share a Multiple Service Packet with anything else, no
			// matter how it's ordered. Route it to a dedicated Read/Write
			// Tag Fragmented sequence instead of silently overflowing
			// max_packet_size (or, if even one fragment's fixed envelope
			// can't fit, fail it outright).
			if envelope := fragmentEnvelopeSize(len(p.req.Path)); envelope >= maxBytes {
				return nil, plcerr.New(plcerr.Capacity, "plan_batch", p.op.Tag,
					fmt.Errorf("tag path alone (%d bytes) leaves no room under max_packet_size=%d even fragmented", envelope, maxBytes))
			}
			flush()
			packets = append(packets, Packet{ops: []plannedOp{p}, fragmented: true})
			continue
		}
		if len(cur) > 0 && (len(cur)+1 > maxOps || curBytes+p.size > maxBytes) {
			flush()
		}
		cur = append(cur, p)
		curBytes += p.size
	}
	flush()

	return packets, nil
}

// fragmentEnvelopeSize is the byte cost of one Read/Write Tag Fragmented
// sub-request's path and fixed fields, excluding the data chunk itself: the
// floor below which no max_packet_size can ever admit this tag, even
// fragmented.
func fragmentEnvelopeSize(pathLen int) int {
	return 1 /* service */ + 1 /* path-len word */ + pathLen + 2 /* type code */ + 2 /* element count */ + 4 /* offset */
}

// stableGroupReadsBeforeWrites returns planned reordered with every read
// ahead of every write, preserving relative order within each group.
func stableGroupReadsBeforeWrites(planned []plannedOp) []plannedOp {
	out := make([]plannedOp, 0, len(planned))
	for _, p := range planned {
		if !p.op.IsWrite() {
			out = append(out, p)
		}
	}
	for _, p := range planned {
		if p.op.IsWrite() {
			out = append(out, p)
		}
	}
	return out
}
