// Package value implements the CIP value codec: serialization and
// deserialization between in-memory Plc values and the wire representation
// described by a type descriptor (atomic type, STRING, UDT, or array).
package value

import "fmt"

// Type is a CIP atomic or structure type code as carried on the wire (and in
// a symbol's type word's low byte when the structure flag is clear).
type Type uint16

const (
	TypeBOOL  Type = 0x00C1
	TypeSINT  Type = 0x00C2
	TypeINT   Type = 0x00C3
	TypeDINT  Type = 0x00C4
	TypeLINT  Type = 0x00C5
	TypeUSINT Type = 0x00C6
	TypeUINT  Type = 0x00C7
	TypeUDINT Type = 0x00C8
	TypeULINT Type = 0x00C9
	TypeREAL  Type = 0x00CA
	TypeLREAL Type = 0x00CB

	// TypeSTRING is the standard AB STRING structure code: a fixed
	// two-member {DINT Len; SINT Data[82]} layout, 86 bytes on the wire.
	TypeSTRING Type = 0x02A0

	// TypeSTRINGShort is an older variable-length STRING convention
	// (code 0x00D0). Kept as a decode-only alias for compatibility with older
	// log captures; the codec never emits it on encode. See DESIGN.md
	// "Value codec" for the reasoning behind keeping this alias.
	TypeSTRINGShort Type = 0x00D0
)

// Structure/array/system flag bits on a symbol type word (bits 15, 14-13,
// and 12 respectively).
const (
	FlagStruct Type = 0x8000
	FlagSystem Type = 0x1000

	// Array dimensionality occupies bits 14..13: 0x2000/0x4000/0x6000 mark
	// 1/2/3-dimension arrays.
	FlagArray1D Type = 0x2000
	FlagArray2D Type = 0x4000
	FlagArray3D Type = 0x6000
)

// StringMemberLen and StringMemberData are the fixed member sizes of the AB
// STRING structure: a 4-byte length prefix followed by 82 bytes of data.
const (
	StringMemberLen  = 4
	StringMemberData = 82
	StringWireSize   = StringMemberLen + StringMemberData // 86
)

// Size returns the on-wire byte size of an atomic type or of STRING (its
// fixed 86-byte form), or 0, false for any other code (structures, the
// legacy short STRING).
func (t Type) Size() (int, bool) {
	switch t {
	case TypeBOOL, TypeSINT, TypeUSINT:
		return 1, true
	case TypeINT, TypeUINT:
		return 2, true
	case TypeDINT, TypeUDINT, TypeREAL:
		return 4, true
	case TypeLINT, TypeULINT, TypeLREAL:
		return 8, true
	case TypeSTRING:
		return StringWireSize, true
	default:
		return 0, false
	}
}

func (t Type) String() string {
	switch t {
	case TypeBOOL:
		return "BOOL"
	case TypeSINT:
		return "SINT"
	case TypeINT:
		return "INT"
	case TypeDINT:
		return "DINT"
	case TypeLINT:
		return "LINT"
	case TypeUSINT:
		return "USINT"
	case TypeUINT:
		return "UINT"
	case TypeUDINT:
		return "UDINT"
	case TypeULINT:
		return "ULINT"
	case TypeREAL:
		return "REAL"
	case TypeLREAL:
		return "LREAL"
	case TypeSTRING:
		return "STRING"
	case TypeSTRINGShort:
		return "STRING(legacy 0x00D0)"
	default:
		return fmt.Sprintf("Type(0x%04X)", uint16(t))
	}
}

// IsAtomic reports whether t is a fixed-size atomic type (not STRING or a
// structure handle).
func (t Type) IsAtomic() bool {
	_, ok := t.Size()
	return ok && t != TypeSTRING
}

// Descriptor describes the CIP shape of a tag value: its type code, element
// size, array rank/bounds, and (for structures) the resolved Template that
// the tag directory attached after walking the Template Object. Descriptor
// carries the Template by value reference rather than a handle looked up in
// a global registry, so the codec never needs process-wide mutable state -
// templates stay owned by whichever tagdir instance resolved them.
type Descriptor struct {
	Type         Type
	ElementSize  int      // bytes per element; for structures this is Template.StructureSize
	Dims         []int    // array dims, outer-to-inner; empty for scalars
	StructHandle uint16   // structure handle, for diagnostics/lookup keys
	IsStructure  bool
	Template     *Template // resolved member layout; required when IsStructure
}

// ElementCount returns the product of Dims, or 1 for a scalar.
func (d Descriptor) ElementCount() int {
	n := 1
	for _, dim := range d.Dims {
		n *= dim
	}
	return n
}

// IsBoolArray reports whether this descriptor names a packed BOOL array,
// the shape that makes a trailing bit suffix on a tag reference ambiguous.
func (d Descriptor) IsBoolArray() bool {
	return d.Type == TypeBOOL && len(d.Dims) > 0
}
