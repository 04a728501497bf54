package batch

import (
	"context"
	"encoding/binary"
	"fmt"

	"warlogix/cip"
	"warlogix/dispatch"
	"warlogix/plcerr"
	"warlogix/value"
)

// Result is one op's outcome: Value is populated for a successful read,
// Err is set on any per-op failure (the op's tag path, the failing CIP
// general/extended status, or a compile-time error).
type Result struct {
	Value *value.Value
	Err   error
}

// Execute plans ops per cfg and runs each packet against d in submission
// order, returning one Result per op in the caller's original order
// regardless of any optimize_packet_packing reordering.
//
// When cfg.ContinueOnError is true, a per-op CIP failure is recorded in that
// op's Result and execution continues; a packet transport failure (the
// dispatcher call itself erroring) fails only the ops in that packet. When
// false, the first per-op or transport failure short-circuits remaining
// packets - already-executed ops are not rolled back, so execution is
// ordered best effort rather than atomic.
func Execute(ctx context.Context, d *dispatch.Dispatcher, ops []Op, cfg Config) ([]Result, error) {
	results := make([]Result, len(ops))
	if len(ops) == 0 {
		return results, nil
	}

	packets, err := Plan(ops, cfg)
	if err != nil {
		return nil, err
	}

	for _, pkt := range packets {
		stop := executePacket(ctx, d, pkt, results, cfg)
		if stop {
			break
		}
	}
	return results, nil
}

// executePacket runs one packet and scatters results into their original
// submission slots. It returns true when cfg.ContinueOnError is false and a
// failure occurred, signalling the caller to stop issuing further packets.
func executePacket(ctx context.Context, d *dispatch.Dispatcher, pkt Packet, results []Result, cfg Config) bool {
	if pkt.fragmented {
		p := pkt.ops[0]
		var r Result
		if p.op.IsWrite() {
			r = executeFragmentedWrite(ctx, d, p, cfg)
		} else {
			r = executeFragmentedRead(ctx, d, p)
		}
		results[p.origIndex] = r
		return r.Err != nil && !cfg.ContinueOnError
	}

	reqs := make([]cip.MultiServiceRequest, len(pkt.ops))
	for i, p := range pkt.ops {
		reqs[i] = p.req
	}

	body, err := cip.BuildMultipleServiceRequest(reqs)
	if err != nil {
		return fillPacketError(pkt, results, err, cfg)
	}

	req := cip.Request{Service: cip.SvcMultipleServicePacket, Path: messageRouterPath(), Data: body}
	resp, err := d.Do(ctx, req)
	if err != nil {
		// Packet transport failure: every op in this packet fails, the rest
		// of the batch is unaffected (continue_on_error) or aborts (strict).
		return fillPacketError(pkt, results, err, cfg)
	}

	// Status 0x1E ("Embedded service error") means the Multiple Service
	// Packet itself succeeded but one or more embedded services failed; the
	// per-service statuses below are still meaningful and must be parsed,
	// not treated as a whole-packet failure.
	if resp.GeneralStatus != 0x00 && resp.GeneralStatus != 0x1E {
		return fillPacketError(pkt, results, plcerr.FromCIPStatus("execute_batch", "", resp.GeneralStatus, resp.AdditionalStatus), cfg)
	}

	subResponses, err := cip.ParseMultipleServiceResponse(resp.Data)
	if err != nil {
		return fillPacketError(pkt, results, err, cfg)
	}

	for i, p := range pkt.ops {
		if i >= len(subResponses) {
			results[p.origIndex] = Result{Err: plcerr.New(plcerr.Protocol, "execute_batch", p.op.Tag, nil)}
			if !cfg.ContinueOnError {
				return true
			}
			continue
		}
		r, opErr := resultFromSubResponse(ctx, d, p, subResponses[i])
		results[p.origIndex] = r
		if opErr != nil && !cfg.ContinueOnError {
			return true
		}
	}
	return false
}

// resultFromSubResponse converts one embedded MSP reply into a Result. A
// batched read's own request data always fits (Plan guarantees that), but
// the controller's reply for a large tag can still overflow the packet,
// reported as general status 0x06 ("partial transfer"); that case is
// resolved with direct Read Tag Fragmented continuation requests against the
// same path, outside the Multiple Service Packet, until the controller
// reports completion.
func resultFromSubResponse(ctx context.Context, d *dispatch.Dispatcher, p plannedOp, sub cip.MultiServiceResponse) (Result, error) {
	op := p.op

	if sub.Status != 0x00 && sub.Status != 0x06 {
		ext := extStatusWords(sub.ExtStatus)
		err := plcerr.FromCIPStatus("execute_batch", op.Tag, sub.Status, ext)
		return Result{Err: err}, err
	}

	if op.IsWrite() {
		if sub.Status == 0x06 {
			err := plcerr.New(plcerr.Protocol, "execute_batch", op.Tag, fmt.Errorf("unexpected partial transfer reply to a batched write"))
			return Result{Err: err}, err
		}
		return Result{}, nil
	}

	if len(sub.Data) < 2 {
		err := plcerr.New(plcerr.Protocol, "execute_batch", op.Tag, nil)
		return Result{Err: err}, err
	}
	data := append([]byte(nil), sub.Data[2:]...)

	if sub.Status == 0x06 {
		rest, err := continueFragmentedRead(ctx, d, p.req.Path, uint32(len(data)))
		if err != nil {
			return Result{Err: err}, err
		}
		data = append(data, rest...)
	}

	v, err := value.Decode(data, op.Desc)
	if err != nil {
		return Result{Err: err}, err
	}
	return Result{Value: &v}, nil
}

// readTagFragmentedOnce issues a single Read Tag Fragmented (0x52) request
// for the element at path starting at the given byte offset into the
// tag's value, returning the reply's general status and its
// [TypeCode][chunk] data stripped down to just the chunk.
func readTagFragmentedOnce(ctx context.Context, d *dispatch.Dispatcher, path cip.EPath_t, offset uint32) (status byte, chunk []byte, err error) {
	body := make([]byte, 0, 6)
	body = append(body, 0x01, 0x00) // element count, always 1
	body = binary.LittleEndian.AppendUint32(body, offset)

	req := cip.Request{Service: svcReadTagFragmented, Path: path, Data: body}
	resp, err := d.Do(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	if resp.GeneralStatus != 0x00 && resp.GeneralStatus != 0x06 {
		return 0, nil, plcerr.FromCIPStatus("execute_batch", "", resp.GeneralStatus, resp.AdditionalStatus)
	}
	if len(resp.Data) < 2 {
		return 0, nil, plcerr.New(plcerr.Protocol, "execute_batch", "", nil)
	}
	return resp.GeneralStatus, resp.Data[2:], nil
}

// continueFragmentedRead fetches the remainder of a tag's value starting at
// offset, looping Read Tag Fragmented continuations until the controller
// reports general status 0x00.
func continueFragmentedRead(ctx context.Context, d *dispatch.Dispatcher, path cip.EPath_t, offset uint32) ([]byte, error) {
	var out []byte
	for {
		status, chunk, err := readTagFragmentedOnce(ctx, d, path, offset)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 && status == 0x06 {
			return nil, plcerr.New(plcerr.Protocol, "execute_batch", "", fmt.Errorf("fragmented read made no progress at offset %d", offset))
		}
		out = append(out, chunk...)
		offset += uint32(len(chunk))
		if status == 0x00 {
			return out, nil
		}
	}
}

// executeFragmentedRead runs a standalone Read Tag Fragmented sequence for
// an op whose request never shares a Multiple Service Packet (Plan routed it
// here because even the bare request envelope leaves no budget for anything
// else).
func executeFragmentedRead(ctx context.Context, d *dispatch.Dispatcher, p plannedOp) Result {
	data, err := continueFragmentedRead(ctx, d, p.req.Path, 0)
	if err != nil {
		return Result{Err: err}
	}
	v, err := value.Decode(data, p.op.Desc)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Value: &v}
}

// executeFragmentedWrite runs a standalone Write Tag Fragmented sequence,
// splitting the encoded value into chunks that fit cfg.MaxPacketSize and
// sending them with increasing byte offsets until the whole value has been
// transferred.
func executeFragmentedWrite(ctx context.Context, d *dispatch.Dispatcher, p plannedOp, cfg Config) Result {
	encoded, err := value.Encode(*p.op.Value, p.op.Desc)
	if err != nil {
		return Result{Err: err}
	}
	typeCode := wireTypeCode(p.op.Desc)

	maxBytes := cfg.MaxPacketSize
	if maxBytes <= 0 {
		maxBytes = DefaultConfig().MaxPacketSize
	}
	chunkSize := maxBytes - fragmentEnvelopeSize(len(p.req.Path))
	if chunkSize < 1 {
		chunkSize = 1
	}

	offset := 0
	for offset < len(encoded) {
		end := offset + chunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		chunk := encoded[offset:end]

		body := make([]byte, 0, 8+len(chunk))
		body = binary.LittleEndian.AppendUint16(body, typeCode)
		body = append(body, 0x01, 0x00) // element count, always 1
		body = binary.LittleEndian.AppendUint32(body, uint32(offset))
		body = append(body, chunk...)

		req := cip.Request{Service: svcWriteTagFragmented, Path: p.req.Path, Data: body}
		resp, err := d.Do(ctx, req)
		if err != nil {
			return Result{Err: err}
		}
		if resp.GeneralStatus != 0x00 && resp.GeneralStatus != 0x06 {
			return Result{Err: plcerr.FromCIPStatus("execute_batch", p.op.Tag, resp.GeneralStatus, resp.AdditionalStatus)}
		}
		offset = end
	}
	return Result{}
}

// extStatusWords reassembles the little-endian byte pairs ParseMultipleServiceResponse
// leaves raw into the u16 words plcerr.FromCIPStatus expects.
func extStatusWords(raw []byte) []uint16 {
	if len(raw) == 0 {
		return nil
	}
	words := make([]uint16, len(raw)/2)
	for i := range words {
		words[i] = uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
	}
	return words
}

// fillPacketError records err against every op in pkt, and reports whether
// execution should stop.
func fillPacketError(pkt Packet, results []Result, err error, cfg Config) bool {
	for _, p := range pkt.ops {
		results[p.origIndex] = Result{Err: err}
	}
	return !cfg.ContinueOnError
}
