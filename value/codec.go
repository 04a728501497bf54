package value

import (
	"encoding/binary"
	"fmt"
	"math"

	"warlogix/plcerr"
)

// Value is a Plc value: a tagged union over the AB atomic types, STRING,
// UDT member maps, and row-major arrays. Raw holds one of:
// bool, int8, int16, int32, int64, uint8, uint16, uint32, uint64,
// float32, float64, string, map[string]Value, []Value.
type Value struct {
	Type Type
	Raw  interface{}
}

func Bool(b bool) Value        { return Value{Type: TypeBOOL, Raw: b} }
func Sint(v int8) Value        { return Value{Type: TypeSINT, Raw: v} }
func Int(v int16) Value        { return Value{Type: TypeINT, Raw: v} }
func Dint(v int32) Value       { return Value{Type: TypeDINT, Raw: v} }
func Lint(v int64) Value       { return Value{Type: TypeLINT, Raw: v} }
func Usint(v uint8) Value      { return Value{Type: TypeUSINT, Raw: v} }
func Uint(v uint16) Value      { return Value{Type: TypeUINT, Raw: v} }
func Udint(v uint32) Value     { return Value{Type: TypeUDINT, Raw: v} }
func Ulint(v uint64) Value     { return Value{Type: TypeULINT, Raw: v} }
func Real(v float32) Value     { return Value{Type: TypeREAL, Raw: v} }
func Lreal(v float64) Value    { return Value{Type: TypeLREAL, Raw: v} }
func Str(s string) Value       { return Value{Type: TypeSTRING, Raw: s} }
func Udt(m map[string]Value) Value { return Value{Raw: m} }
func Arr(elemType Type, elems []Value) Value { return Value{Type: elemType, Raw: elems} }

// Encode serializes v according to d. The returned bytes are the service
// data for a Write Tag (0x4D) request - they do not include the type code
// prefix that Logix write requests carry ahead of the value; callers that
// need that prefix (batch/plan.go, ops.go) prepend it themselves from d.Type.
func Encode(v Value, d Descriptor) ([]byte, error) {
	if len(d.Dims) > 0 {
		elems, ok := v.Raw.([]Value)
		if !ok {
			return nil, typeErr("encode", fmt.Sprintf("expected array of %d elements, got %T", d.ElementCount(), v.Raw))
		}
		if len(elems) != d.ElementCount() {
			return nil, typeErr("encode", fmt.Sprintf("array element count mismatch: descriptor wants %d, value has %d", d.ElementCount(), len(elems)))
		}
		elemDesc := Descriptor{Type: d.Type, ElementSize: d.ElementSize, IsStructure: d.IsStructure, StructHandle: d.StructHandle}
		out := make([]byte, 0, len(elems)*d.ElementSize)
		for _, e := range elems {
			b, err := Encode(e, elemDesc)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	}

	switch d.Type {
	case TypeBOOL:
		b, ok := v.Raw.(bool)
		if !ok {
			return nil, typeErr("encode", "expected bool for BOOL")
		}
		if b {
			return []byte{0xFF}, nil
		}
		return []byte{0x00}, nil
	case TypeSINT:
		n, ok := v.Raw.(int8)
		if !ok {
			return nil, typeErr("encode", "expected int8 for SINT")
		}
		return []byte{byte(n)}, nil
	case TypeUSINT:
		n, ok := v.Raw.(uint8)
		if !ok {
			return nil, typeErr("encode", "expected uint8 for USINT")
		}
		return []byte{n}, nil
	case TypeINT:
		n, ok := v.Raw.(int16)
		if !ok {
			return nil, typeErr("encode", "expected int16 for INT")
		}
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(n))
		return out, nil
	case TypeUINT:
		n, ok := v.Raw.(uint16)
		if !ok {
			return nil, typeErr("encode", "expected uint16 for UINT")
		}
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, n)
		return out, nil
	case TypeDINT:
		n, ok := v.Raw.(int32)
		if !ok {
			return nil, typeErr("encode", "expected int32 for DINT")
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(n))
		return out, nil
	case TypeUDINT:
		n, ok := v.Raw.(uint32)
		if !ok {
			return nil, typeErr("encode", "expected uint32 for UDINT")
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, n)
		return out, nil
	case TypeLINT:
		n, ok := v.Raw.(int64)
		if !ok {
			return nil, typeErr("encode", "expected int64 for LINT")
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(n))
		return out, nil
	case TypeULINT:
		n, ok := v.Raw.(uint64)
		if !ok {
			return nil, typeErr("encode", "expected uint64 for ULINT")
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, n)
		return out, nil
	case TypeREAL:
		f, ok := v.Raw.(float32)
		if !ok {
			return nil, typeErr("encode", "expected float32 for REAL")
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, math.Float32bits(f))
		return out, nil
	case TypeLREAL:
		f, ok := v.Raw.(float64)
		if !ok {
			return nil, typeErr("encode", "expected float64 for LREAL")
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, math.Float64bits(f))
		return out, nil
	case TypeSTRING:
		s, ok := v.Raw.(string)
		if !ok {
			return nil, typeErr("encode", "expected string for STRING")
		}
		return encodeString(s)
	default:
		if v.Raw != nil {
			if m, ok := v.Raw.(map[string]Value); ok {
				return EncodeUDT(m, d)
			}
		}
		return nil, typeErr("encode", fmt.Sprintf("unsupported type %s", d.Type))
	}
}

// Decode parses b (the Read Tag service data, type code already consumed by
// the caller) into a Value per d.
func Decode(b []byte, d Descriptor) (Value, error) {
	if len(d.Dims) > 0 {
		n := d.ElementCount()
		if d.ElementSize <= 0 {
			return Value{}, typeErr("decode", "array descriptor missing element size")
		}
		if len(b) < n*d.ElementSize {
			return Value{}, typeErr("decode", fmt.Sprintf("array needs %d bytes, have %d", n*d.ElementSize, len(b)))
		}
		elemDesc := Descriptor{Type: d.Type, ElementSize: d.ElementSize, IsStructure: d.IsStructure, StructHandle: d.StructHandle}
		elems := make([]Value, n)
		for i := 0; i < n; i++ {
			chunk := b[i*d.ElementSize : (i+1)*d.ElementSize]
			e, err := Decode(chunk, elemDesc)
			if err != nil {
				return Value{}, err
			}
			elems[i] = e
		}
		return Value{Type: d.Type, Raw: elems}, nil
	}

	switch d.Type {
	case TypeBOOL:
		if len(b) < 1 {
			return Value{}, shortErr("BOOL", 1, len(b))
		}
		return Bool(b[0] != 0), nil
	case TypeSINT:
		if len(b) < 1 {
			return Value{}, shortErr("SINT", 1, len(b))
		}
		return Sint(int8(b[0])), nil
	case TypeUSINT:
		if len(b) < 1 {
			return Value{}, shortErr("USINT", 1, len(b))
		}
		return Usint(b[0]), nil
	case TypeINT:
		if len(b) < 2 {
			return Value{}, shortErr("INT", 2, len(b))
		}
		return Int(int16(binary.LittleEndian.Uint16(b))), nil
	case TypeUINT:
		if len(b) < 2 {
			return Value{}, shortErr("UINT", 2, len(b))
		}
		return Uint(binary.LittleEndian.Uint16(b)), nil
	case TypeDINT:
		if len(b) < 4 {
			return Value{}, shortErr("DINT", 4, len(b))
		}
		return Dint(int32(binary.LittleEndian.Uint32(b))), nil
	case TypeUDINT:
		if len(b) < 4 {
			return Value{}, shortErr("UDINT", 4, len(b))
		}
		return Udint(binary.LittleEndian.Uint32(b)), nil
	case TypeLINT:
		if len(b) < 8 {
			return Value{}, shortErr("LINT", 8, len(b))
		}
		return Lint(int64(binary.LittleEndian.Uint64(b))), nil
	case TypeULINT:
		if len(b) < 8 {
			return Value{}, shortErr("ULINT", 8, len(b))
		}
		return Ulint(binary.LittleEndian.Uint64(b)), nil
	case TypeREAL:
		if len(b) < 4 {
			return Value{}, shortErr("REAL", 4, len(b))
		}
		return Real(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case TypeLREAL:
		if len(b) < 8 {
			return Value{}, shortErr("LREAL", 8, len(b))
		}
		return Lreal(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	case TypeSTRING, TypeSTRINGShort:
		return decodeString(b, d.Type)
	default:
		if d.IsStructure {
			return DecodeUDT(b, d)
		}
		return Value{}, typeErr("decode", fmt.Sprintf("unsupported type %s", d.Type))
	}
}

// encodeString produces the fixed 86-byte STRING wire form: Len (4 bytes LE)
// followed by Data[82], zero-padded. Per the boundary rule, an empty string
// yields Len=0 with all 82 data bytes zero.
func encodeString(s string) ([]byte, error) {
	if len(s) > StringMemberData {
		return nil, typeErr("encode", fmt.Sprintf("STRING value too long: %d bytes, max %d", len(s), StringMemberData))
	}
	out := make([]byte, StringWireSize)
	binary.LittleEndian.PutUint32(out[:StringMemberLen], uint32(len(s)))
	copy(out[StringMemberLen:], s)
	return out, nil
}

// decodeString parses the STRING wire form. The primary layout (TypeSTRING,
// 0x02A0) is the fixed 86-byte {Len;Data[82]} structure; TypeSTRINGShort
// (0x00D0) is an older variable-length convention, kept decode-only: Len
// (4 bytes LE) followed by exactly Len data bytes.
func decodeString(b []byte, t Type) (Value, error) {
	if len(b) < StringMemberLen {
		return Value{}, shortErr("STRING", StringMemberLen, len(b))
	}
	strLen := binary.LittleEndian.Uint32(b[:StringMemberLen])
	data := b[StringMemberLen:]

	if t == TypeSTRING {
		if strLen > StringMemberData {
			return Value{}, &plcerr.Error{Kind: plcerr.Protocol, Op: "decode", Err: fmt.Errorf("STRING Len=%d exceeds %d-byte data member", strLen, StringMemberData)}
		}
		if len(data) < int(strLen) {
			return Value{}, shortErr("STRING", StringMemberLen+int(strLen), len(b))
		}
		return Str(string(data[:strLen])), nil
	}

	// legacy short form: exactly Len bytes follow, no fixed padding.
	if len(data) < int(strLen) {
		return Value{}, shortErr("STRING(legacy)", StringMemberLen+int(strLen), len(b))
	}
	return Str(string(data[:strLen])), nil
}

func typeErr(op, msg string) *plcerr.Error {
	return &plcerr.Error{Kind: plcerr.Type, Op: op, Err: fmt.Errorf("%s", msg)}
}

func shortErr(what string, need, have int) *plcerr.Error {
	return &plcerr.Error{Kind: plcerr.Type, Op: "decode", Err: fmt.Errorf("%s needs %d bytes, have %d", what, need, have)}
}
