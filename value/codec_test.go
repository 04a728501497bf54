package value

import "testing"

func roundTrip(t *testing.T, v Value, d Descriptor) {
	t.Helper()
	enc, err := Encode(v, d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc, d)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	enc2, err := Encode(dec, d)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if string(enc) != string(enc2) {
		t.Fatalf("round-trip mismatch: %x vs %x", enc, enc2)
	}
}

func TestRoundTripAtomics(t *testing.T) {
	roundTrip(t, Bool(true), Descriptor{Type: TypeBOOL})
	roundTrip(t, Bool(false), Descriptor{Type: TypeBOOL})
	roundTrip(t, Dint(1500), Descriptor{Type: TypeDINT})
	roundTrip(t, Dint(-42), Descriptor{Type: TypeDINT})
	roundTrip(t, Real(3.25), Descriptor{Type: TypeREAL})
	roundTrip(t, Lreal(-1.5e10), Descriptor{Type: TypeLREAL})
	roundTrip(t, Ulint(18446744073709551615), Descriptor{Type: TypeULINT})
}

func TestWriteBoolEncoding(t *testing.T) {
	enc, err := Encode(Bool(true), Descriptor{Type: TypeBOOL})
	if err != nil {
		t.Fatal(err)
	}
	if enc[0] != 0x01 && enc[0] != 0xFF {
		t.Errorf("unexpected BOOL true encoding: %x", enc)
	}
}

func TestProgramScopedWriteBytes(t *testing.T) {
	// Matches the literal scenario: write(Dint(1500)) -> C4 00 01 00 DC 05 00 00
	// (type code prefix is added by the caller, not by Encode; verify the
	// 4-byte little-endian payload matches 0xDC 0x05 0x00 0x00).
	enc, err := Encode(Dint(1500), Descriptor{Type: TypeDINT})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xDC, 0x05, 0x00, 0x00}
	if string(enc) != string(want) {
		t.Errorf("got % x, want % x", enc, want)
	}
}

func TestStringRoundTrip(t *testing.T) {
	d := Descriptor{Type: TypeSTRING}
	enc, err := Encode(Str("ABC"), d)
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != StringWireSize {
		t.Fatalf("expected %d bytes, got %d", StringWireSize, len(enc))
	}
	if enc[0] != 3 || enc[1] != 0 || enc[2] != 0 || enc[3] != 0 {
		t.Errorf("expected Len=3 LE, got % x", enc[:4])
	}
	if string(enc[4:7]) != "ABC" {
		t.Errorf("expected data 'ABC', got %q", enc[4:7])
	}
	for _, b := range enc[7:] {
		if b != 0 {
			t.Fatalf("expected zero padding after data, got % x", enc[4:])
		}
	}

	dec, err := Decode(enc, d)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Raw.(string) != "ABC" {
		t.Errorf("expected decoded 'ABC', got %v", dec.Raw)
	}
}

func TestStringEmptyWrite(t *testing.T) {
	enc, err := Encode(Str(""), Descriptor{Type: TypeSTRING})
	if err != nil {
		t.Fatal(err)
	}
	if enc[0] != 0 || enc[1] != 0 || enc[2] != 0 || enc[3] != 0 {
		t.Errorf("expected Len=0, got % x", enc[:4])
	}
	for _, b := range enc[4:] {
		if b != 0 {
			t.Fatal("expected all-zero data for empty string")
		}
	}
}

func TestStringReadLenTooLargeIsProtocolError(t *testing.T) {
	b := make([]byte, StringWireSize)
	b[0] = 200 // Len > 82, must be rejected
	_, err := Decode(b, Descriptor{Type: TypeSTRING})
	if err == nil {
		t.Fatal("expected error for STRING Len > 82")
	}
}

func TestArrayRoundTrip(t *testing.T) {
	d := Descriptor{Type: TypeDINT, ElementSize: 4, Dims: []int{3}}
	v := Value{Type: TypeDINT, Raw: []Value{Dint(1), Dint(2), Dint(3)}}
	roundTrip(t, v, d)
}

func TestArrayElementCountMismatchIsTypeError(t *testing.T) {
	d := Descriptor{Type: TypeDINT, ElementSize: 4, Dims: []int{3}}
	v := Value{Type: TypeDINT, Raw: []Value{Dint(1), Dint(2)}} // only 2, descriptor wants 3
	if _, err := Encode(v, d); err == nil {
		t.Fatal("expected Type error for array element count mismatch")
	}
}

func TestUDTRoundTripWithPackedBools(t *testing.T) {
	tmpl := &Template{
		Handle:        0x00A1,
		StructureSize: 8,
		Members: []TemplateMember{
			{Name: "Count", Type: TypeDINT, Offset: 0},
			{Name: "FlagA", Type: TypeBOOL, Offset: 4},
			{Name: "FlagB", Type: TypeBOOL, Offset: 4},
		},
	}
	CalculateBoolBitOffsets(tmpl.Members)

	d := Descriptor{IsStructure: true, StructHandle: tmpl.Handle, Template: tmpl}
	v := Udt(map[string]Value{
		"Count": Dint(7),
		"FlagA": Bool(true),
		"FlagB": Bool(false),
	})

	enc, err := Encode(v, d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc) != 8 {
		t.Fatalf("expected 8-byte structure, got %d", len(enc))
	}

	dec, err := Decode(enc, d)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m := dec.Raw.(map[string]Value)
	if m["Count"].Raw.(int32) != 7 {
		t.Errorf("expected Count=7, got %v", m["Count"].Raw)
	}
	if m["FlagA"].Raw.(bool) != true {
		t.Errorf("expected FlagA=true, got %v", m["FlagA"].Raw)
	}
	if m["FlagB"].Raw.(bool) != false {
		t.Errorf("expected FlagB=false, got %v", m["FlagB"].Raw)
	}
}

func TestLegacyStringDecodeAlias(t *testing.T) {
	// 0x00D0 legacy form: Len (4 bytes LE) + exactly Len bytes, no fixed padding.
	b := append([]byte{2, 0, 0, 0}, []byte("hi")...)
	dec, err := Decode(b, Descriptor{Type: TypeSTRINGShort})
	if err != nil {
		t.Fatal(err)
	}
	if dec.Raw.(string) != "hi" {
		t.Errorf("expected 'hi', got %v", dec.Raw)
	}
}
