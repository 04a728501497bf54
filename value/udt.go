package value

import (
	"fmt"
)

// Template describes a UDT's member layout as resolved from the Template
// Object (class 0x6C): structure handle, overall byte size, and an ordered
// member list at the template's declared offsets.
type Template struct {
	Handle        uint16
	StructureSize int // attribute 5: byte size of one instance
	Members       []TemplateMember
}

// TemplateMember is one field of a UDT template.
type TemplateMember struct {
	Name      string
	Type      Type
	Offset    int  // byte offset within the structure
	BitOffset int  // bit position within the byte at Offset, valid when IsBit
	IsBit     bool // true for a BOOL member packed into a host DINT/byte
	Dims      []int
	IsStruct  bool
	Nested    *Template // resolved only when IsStruct
}

func (m TemplateMember) elementSize() int {
	if m.IsStruct && m.Nested != nil {
		return m.Nested.StructureSize
	}
	if sz, ok := m.Type.Size(); ok {
		return sz
	}
	return 0
}

// DecodeUDT walks t in declared member order, producing a map of member name
// to decoded Value. Bit-packed BOOL members read a single bit from the byte
// at their offset rather than consuming a whole element.
func DecodeUDT(b []byte, d Descriptor) (Value, error) {
	t := templateFor(d)
	if t == nil {
		return Value{}, typeErr("decode", "UDT descriptor missing resolved template")
	}
	if len(b) < t.StructureSize {
		return Value{}, shortErr(fmt.Sprintf("UDT(handle=0x%04X)", t.Handle), t.StructureSize, len(b))
	}

	out := make(map[string]Value, len(t.Members))
	for _, m := range t.Members {
		if m.IsBit {
			if m.Offset >= len(b) {
				return Value{}, shortErr(m.Name, m.Offset+1, len(b))
			}
			bit := (b[m.Offset] >> uint(m.BitOffset)) & 0x01
			out[m.Name] = Bool(bit != 0)
			continue
		}

		memberDesc := Descriptor{Type: m.Type, Dims: m.Dims}
		if m.IsStruct {
			memberDesc.IsStructure = true
			memberDesc.StructHandle = m.Nested.Handle
			memberDesc.Template = m.Nested
		}
		elemSize := m.elementSize()
		n := memberDesc.ElementCount()
		total := elemSize * n
		if m.Offset+total > len(b) {
			return Value{}, shortErr(m.Name, m.Offset+total, len(b))
		}
		memberDesc.ElementSize = elemSize

		var mv Value
		var err error
		if m.IsStruct {
			mv, err = decodeNestedStruct(b[m.Offset:m.Offset+total], memberDesc, m.Nested)
		} else {
			mv, err = Decode(b[m.Offset:m.Offset+total], memberDesc)
		}
		if err != nil {
			return Value{}, err
		}
		out[m.Name] = mv
	}
	return Udt(out), nil
}

// EncodeUDT serializes a member map back into the template's fixed-size
// layout. Every byte of the structure is written (bit-packed BOOL members
// first OR their bit into a zeroed host byte), so round-tripping through
// Decode/Encode preserves any inter-member padding as zero.
func EncodeUDT(m map[string]Value, d Descriptor) ([]byte, error) {
	t := templateFor(d)
	if t == nil {
		return nil, typeErr("encode", "UDT descriptor missing resolved template")
	}
	out := make([]byte, t.StructureSize)

	for _, mem := range t.Members {
		mv, ok := m[mem.Name]
		if !ok {
			continue // member left at the structure's zeroed default
		}
		if mem.IsBit {
			b, ok := mv.Raw.(bool)
			if !ok {
				return nil, typeErr("encode", fmt.Sprintf("member %s: expected bool", mem.Name))
			}
			if b {
				out[mem.Offset] |= 1 << uint(mem.BitOffset)
			}
			continue
		}

		memberDesc := Descriptor{Type: mem.Type, Dims: mem.Dims, ElementSize: mem.elementSize()}
		if mem.IsStruct {
			memberDesc.IsStructure = true
			memberDesc.StructHandle = mem.Nested.Handle
			memberDesc.Template = mem.Nested
		}
		enc, err := Encode(mv, memberDesc)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", mem.Name, err)
		}
		if mem.Offset+len(enc) > len(out) {
			return nil, typeErr("encode", fmt.Sprintf("member %s overflows structure size %d", mem.Name, t.StructureSize))
		}
		copy(out[mem.Offset:], enc)
	}
	return out, nil
}

func decodeNestedStruct(b []byte, d Descriptor, t *Template) (Value, error) {
	if len(d.Dims) == 0 {
		return DecodeUDT(b, d)
	}
	n := d.ElementCount()
	elems := make([]Value, n)
	for i := 0; i < n; i++ {
		chunk := b[i*t.StructureSize : (i+1)*t.StructureSize]
		elemDesc := Descriptor{Type: d.Type, IsStructure: true, StructHandle: t.Handle, Template: t}
		v, err := DecodeUDT(chunk, elemDesc)
		if err != nil {
			return Value{}, err
		}
		elems[i] = v
	}
	return Value{Type: d.Type, Raw: elems}, nil
}

func templateFor(d Descriptor) *Template {
	return d.Template
}

// CalculateBoolBitOffsets assigns packed bit offsets to consecutive BOOL
// members sharing a host byte: eight BOOL members in a row share one byte
// before the offset advances.
func CalculateBoolBitOffsets(members []TemplateMember) {
	bitCursor := 0
	byteOffset := -1
	for i := range members {
		if members[i].Type != TypeBOOL || len(members[i].Dims) > 0 {
			bitCursor = 0
			byteOffset = -1
			continue
		}
		if byteOffset == -1 || bitCursor == 8 {
			byteOffset = members[i].Offset
			bitCursor = 0
		}
		members[i].IsBit = true
		members[i].Offset = byteOffset
		members[i].BitOffset = bitCursor
		bitCursor++
	}
}
