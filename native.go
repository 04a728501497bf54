package warlogix

import (
	"fmt"

	"warlogix/plcerr"
	"warlogix/value"
)

// nativeToValue converts a Go native value into a (Value, Descriptor) pair
// for a single, type-inferred write: the wire type is inferred from the
// argument's own Go type rather than consulting the tag directory. Batch
// writes use the same conversion per-op; only batch reads need a directory
// lookup, since decoding (unlike encoding) can't infer a type from nothing.
func nativeToValue(op string, tagPath string, v interface{}) (value.Value, value.Descriptor, error) {
	switch x := v.(type) {
	case bool:
		return value.Bool(x), value.Descriptor{Type: value.TypeBOOL, ElementSize: 1}, nil
	case int8:
		return value.Sint(x), value.Descriptor{Type: value.TypeSINT, ElementSize: 1}, nil
	case int16:
		return value.Int(x), value.Descriptor{Type: value.TypeINT, ElementSize: 2}, nil
	case int32:
		return value.Dint(x), value.Descriptor{Type: value.TypeDINT, ElementSize: 4}, nil
	case int64:
		return value.Lint(x), value.Descriptor{Type: value.TypeLINT, ElementSize: 8}, nil
	case int:
		return value.Dint(int32(x)), value.Descriptor{Type: value.TypeDINT, ElementSize: 4}, nil
	case uint8:
		return value.Usint(x), value.Descriptor{Type: value.TypeUSINT, ElementSize: 1}, nil
	case uint16:
		return value.Uint(x), value.Descriptor{Type: value.TypeUINT, ElementSize: 2}, nil
	case uint32:
		return value.Udint(x), value.Descriptor{Type: value.TypeUDINT, ElementSize: 4}, nil
	case uint64:
		return value.Ulint(x), value.Descriptor{Type: value.TypeULINT, ElementSize: 8}, nil
	case uint:
		return value.Udint(uint32(x)), value.Descriptor{Type: value.TypeUDINT, ElementSize: 4}, nil
	case float32:
		return value.Real(x), value.Descriptor{Type: value.TypeREAL, ElementSize: 4}, nil
	case float64:
		return value.Lreal(x), value.Descriptor{Type: value.TypeLREAL, ElementSize: 8}, nil
	case string:
		return value.Str(x), value.Descriptor{Type: value.TypeSTRING, ElementSize: value.StringWireSize}, nil
	default:
		return value.Value{}, value.Descriptor{}, plcerr.New(plcerr.Type, op, tagPath, fmt.Errorf("unsupported value type %T", v))
	}
}

// intBits returns v's integer content as a 64-bit pattern plus its bit
// width, or ok=false if v.Raw isn't an integer type - used to apply a bit
// suffix (Logix's "Tag.N" bit-within-word addressing) atop an already
// decoded scalar.
func intBits(v value.Value) (bits uint64, width int, ok bool) {
	switch x := v.Raw.(type) {
	case bool:
		if x {
			return 1, 1, true
		}
		return 0, 1, true
	case int8:
		return uint64(uint8(x)), 8, true
	case uint8:
		return uint64(x), 8, true
	case int16:
		return uint64(uint16(x)), 16, true
	case uint16:
		return uint64(x), 16, true
	case int32:
		return uint64(uint32(x)), 32, true
	case uint32:
		return uint64(x), 32, true
	case int64:
		return uint64(x), 64, true
	case uint64:
		return x, 64, true
	default:
		return 0, 0, false
	}
}

// bitOf extracts bit n (0-63) from v's integer content.
func bitOf(op, tagPath string, v value.Value, n int) (bool, error) {
	bits, width, ok := intBits(v)
	if !ok {
		return false, plcerr.New(plcerr.Type, op, tagPath, fmt.Errorf("bit access on non-integer type %v", v.Type))
	}
	if n >= width {
		return false, plcerr.New(plcerr.Path, op, tagPath, fmt.Errorf("bit %d out of range for a %d-bit value", n, width))
	}
	return bits&(uint64(1)<<uint(n)) != 0, nil
}

// withBit returns a copy of v with bit n set to set, preserving v's Go type.
func withBit(op, tagPath string, v value.Value, n int, set bool) (value.Value, error) {
	bits, width, ok := intBits(v)
	if !ok {
		return value.Value{}, plcerr.New(plcerr.Type, op, tagPath, fmt.Errorf("bit access on non-integer type %v", v.Type))
	}
	if n >= width {
		return value.Value{}, plcerr.New(plcerr.Path, op, tagPath, fmt.Errorf("bit %d out of range for a %d-bit value", n, width))
	}
	mask := uint64(1) << uint(n)
	if set {
		bits |= mask
	} else {
		bits &^= mask
	}

	switch v.Raw.(type) {
	case bool:
		return value.Bool(bits != 0), nil
	case int8:
		return value.Sint(int8(bits)), nil
	case uint8:
		return value.Usint(uint8(bits)), nil
	case int16:
		return value.Int(int16(bits)), nil
	case uint16:
		return value.Uint(uint16(bits)), nil
	case int32:
		return value.Dint(int32(bits)), nil
	case uint32:
		return value.Udint(uint32(bits)), nil
	case int64:
		return value.Lint(int64(bits)), nil
	case uint64:
		return value.Ulint(bits), nil
	default:
		return value.Value{}, plcerr.New(plcerr.Type, op, tagPath, fmt.Errorf("bit access on unsupported type %T", v.Raw))
	}
}
