package warlogix

import (
	"context"
	"encoding/binary"

	"warlogix/cip"
	"warlogix/cippath"
	"warlogix/dispatch"
	"warlogix/plcerr"
	"warlogix/tagdir"
	"warlogix/value"
)

const (
	svcReadTag  byte = 0x4C
	svcWriteTag byte = 0x4D
)

// singleRead issues a direct (non-batched) Read Tag request and decodes the
// reply using the type code the controller returns - no tag-directory lookup
// is needed for a scalar or array read. A trailing bit suffix (Reference.Bit)
// is applied after decoding the containing word.
func singleRead(ctx context.Context, disp *dispatch.Dispatcher, cache *tagdir.Cache, tagPath string) (value.Value, error) {
	ref, err := cippath.Compile(tagPath)
	if err != nil {
		return value.Value{}, plcerr.New(plcerr.Path, "read", tagPath, err)
	}

	v, desc, err := readAtPath(ctx, disp, cache, ref.Path, tagPath)
	if err != nil {
		return value.Value{}, err
	}

	if ref.Bit != nil {
		if desc.IsBoolArray() {
			return value.Value{}, plcerr.New(plcerr.Path, "read", tagPath, nil)
		}
		bit, err := bitOf("read", tagPath, v, *ref.Bit)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(bit), nil
	}

	return v, nil
}

func readAtPath(ctx context.Context, disp *dispatch.Dispatcher, cache *tagdir.Cache, path cip.EPath_t, tagPath string) (value.Value, value.Descriptor, error) {
	req := cip.Request{Service: svcReadTag, Path: path, Data: []byte{0x01, 0x00}}
	resp, err := disp.Do(ctx, req)
	if err != nil {
		return value.Value{}, value.Descriptor{}, err
	}
	if resp.GeneralStatus != 0x00 {
		return value.Value{}, value.Descriptor{}, plcerr.FromCIPStatus("read", tagPath, resp.GeneralStatus, resp.AdditionalStatus)
	}
	if len(resp.Data) < 2 {
		return value.Value{}, value.Descriptor{}, plcerr.New(plcerr.Protocol, "read", tagPath, nil)
	}

	typeCode := binary.LittleEndian.Uint16(resp.Data[0:2])
	desc, err := descriptorFromWireType(ctx, cache, disp, typeCode)
	if err != nil {
		return value.Value{}, value.Descriptor{}, err
	}

	v, err := value.Decode(resp.Data[2:], desc)
	if err != nil {
		return value.Value{}, value.Descriptor{}, err
	}
	return v, desc, nil
}

// singleWrite issues a direct (non-batched) Write Tag request for a
// Go-native value, inferring its wire type from the argument. A trailing
// bit suffix is applied as a read-modify-write against the containing word,
// since CIP has no single-bit Write Tag service for non-array tags.
func singleWrite(ctx context.Context, disp *dispatch.Dispatcher, cache *tagdir.Cache, tagPath string, native interface{}) error {
	ref, err := cippath.Compile(tagPath)
	if err != nil {
		return plcerr.New(plcerr.Path, "write", tagPath, err)
	}

	if ref.Bit != nil {
		set, ok := native.(bool)
		if !ok {
			return plcerr.New(plcerr.Type, "write", tagPath, nil)
		}
		return writeBit(ctx, disp, cache, ref.Path, tagPath, *ref.Bit, set)
	}

	v, desc, err := nativeToValue("write", tagPath, native)
	if err != nil {
		return err
	}
	return writeValue(ctx, disp, ref.Path, tagPath, v, desc)
}

func writeBit(ctx context.Context, disp *dispatch.Dispatcher, cache *tagdir.Cache, path cip.EPath_t, tagPath string, bit int, set bool) error {
	current, desc, err := readAtPath(ctx, disp, cache, path, tagPath)
	if err != nil {
		return err
	}
	if desc.IsBoolArray() {
		return plcerr.New(plcerr.Path, "write", tagPath, nil)
	}
	updated, err := withBit("write", tagPath, current, bit, set)
	if err != nil {
		return err
	}
	return writeValue(ctx, disp, path, tagPath, updated, desc)
}

func writeValue(ctx context.Context, disp *dispatch.Dispatcher, path cip.EPath_t, tagPath string, v value.Value, desc value.Descriptor) error {
	encoded, err := value.Encode(v, desc)
	if err != nil {
		return err
	}

	wire := make([]byte, 4, 4+len(encoded))
	binary.LittleEndian.PutUint16(wire[0:2], wireTypeCode(desc))
	binary.LittleEndian.PutUint16(wire[2:4], 1)
	wire = append(wire, encoded...)

	req := cip.Request{Service: svcWriteTag, Path: path, Data: wire}
	resp, err := disp.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.GeneralStatus != 0x00 {
		return plcerr.FromCIPStatus("write", tagPath, resp.GeneralStatus, resp.AdditionalStatus)
	}
	return nil
}

// wireTypeCode mirrors batch.wireTypeCode: a UDT's wire type code is its
// structure handle with the structure flag set, not its bare Type.
func wireTypeCode(d value.Descriptor) uint16 {
	if d.IsStructure {
		return d.StructHandle | uint16(value.FlagStruct)
	}
	return uint16(d.Type)
}
