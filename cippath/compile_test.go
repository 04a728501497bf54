package cippath

import (
	"testing"
)

func TestCompile_SimpleTag(t *testing.T) {
	ref, err := Compile("MyTag")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ref.Bit != nil {
		t.Errorf("expected no bit suffix, got %v", *ref.Bit)
	}
	if len(ref.Path) == 0 {
		t.Error("expected non-empty path")
	}
	if ref.IsProgramScoped() {
		t.Error("expected not program scoped")
	}
}

func TestCompile_ArrayIndex(t *testing.T) {
	ref, err := Compile("MyArray[5]")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ref.Bit != nil {
		t.Error("array index must not be mistaken for a bit suffix")
	}
}

func TestCompile_MultiDimIndex(t *testing.T) {
	ref, err := Compile("MyArray[1,2]")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ref.Bit != nil {
		t.Error("unexpected bit suffix")
	}

	indices := elementSegmentIndices(ref.Path)
	if len(indices) != 2 || indices[0] != 1 || indices[1] != 2 {
		t.Fatalf("expected two element segments [1, 2], got %v (path=% X)", indices, []byte(ref.Path))
	}
}

// elementSegmentIndices walks a compiled EPATH and returns the index carried
// by every 8/16/32-bit member (element) logical segment it finds, in order,
// so a test can tell "[1,2]" produced two segments apart from one segment
// that happened to decode to 12.
func elementSegmentIndices(path []byte) []uint32 {
	var out []uint32
	for i := 0; i < len(path); {
		switch path[i] {
		case 0x28: // 8-bit member segment
			if i+1 >= len(path) {
				return out
			}
			out = append(out, uint32(path[i+1]))
			i += 2
		case 0x29: // 16-bit member segment, with pad byte
			if i+3 >= len(path) {
				return out
			}
			out = append(out, uint32(path[i+2])|uint32(path[i+3])<<8)
			i += 4
		case 0x2A: // 32-bit member segment, with pad byte
			if i+5 >= len(path) {
				return out
			}
			out = append(out, uint32(path[i+2])|uint32(path[i+3])<<8|uint32(path[i+4])<<16|uint32(path[i+5])<<24)
			i += 6
		case 0x91: // symbolic segment: 1 length byte + symbol, padded to even
			if i+1 >= len(path) {
				return out
			}
			n := int(path[i+1])
			i += 2 + n
			if n%2 != 0 {
				i++
			}
		default:
			// Unknown segment kind for this test's purposes; bail rather
			// than misinterpret the remaining bytes.
			return out
		}
	}
	return out
}

func TestCompile_BitSuffix(t *testing.T) {
	ref, err := Compile("MyDint.3")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ref.Bit == nil || *ref.Bit != 3 {
		t.Fatalf("expected bit suffix 3, got %v", ref.Bit)
	}
}

func TestCompile_BitSuffixBoundary(t *testing.T) {
	ref, err := Compile("MyLint.63")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ref.Bit == nil || *ref.Bit != 63 {
		t.Fatalf("expected bit suffix 63, got %v", ref.Bit)
	}
}

func TestCompile_OutOfRangeBitIsNotSuffix(t *testing.T) {
	// .64 is out of the 0-63 bit range; it must be treated as an ordinary
	// member/struct segment, not stripped out.
	ref, err := Compile("MyTag.64")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ref.Bit != nil {
		t.Errorf("expected .64 not to be treated as a bit suffix, got %v", *ref.Bit)
	}
}

func TestCompile_StructMember(t *testing.T) {
	ref, err := Compile("MyUDT.Member")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ref.Bit != nil {
		t.Error("unexpected bit suffix on named member")
	}
}

func TestCompile_ProgramScoped(t *testing.T) {
	ref, err := Compile("Program:MainProgram.LocalTag")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !ref.IsProgramScoped() {
		t.Error("expected program scoped")
	}
	if ref.Bit != nil {
		t.Error("unexpected bit suffix")
	}
}

func TestCompile_ProgramScopedWithBit(t *testing.T) {
	ref, err := Compile("Program:MainProgram.Flags.7")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !ref.IsProgramScoped() {
		t.Error("expected program scoped")
	}
	if ref.Bit == nil || *ref.Bit != 7 {
		t.Fatalf("expected bit suffix 7, got %v", ref.Bit)
	}
}

func TestCompile_ArrayThenBit(t *testing.T) {
	ref, err := Compile("MyArray[2].5")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ref.Bit == nil || *ref.Bit != 5 {
		t.Fatalf("expected bit suffix 5, got %v", ref.Bit)
	}
}

func TestCompile_EmptyTagRejected(t *testing.T) {
	if _, err := Compile(""); err == nil {
		t.Error("expected error for empty tag")
	}
}

func TestCompile_NonASCIIRejected(t *testing.T) {
	if _, err := Compile("Tagé"); err == nil {
		t.Error("expected error for non-ASCII identifier")
	}
}

func TestCompile_EmptyProgramNameRejected(t *testing.T) {
	if _, err := Compile("Program:.Tag"); err == nil {
		t.Error("expected error for empty program name")
	}
}
