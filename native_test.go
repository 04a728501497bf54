package warlogix

import (
	"testing"

	"warlogix/value"
)

func TestNativeToValueInfersWireType(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want value.Type
	}{
		{"bool", true, value.TypeBOOL},
		{"int8", int8(5), value.TypeSINT},
		{"int16", int16(5), value.TypeINT},
		{"int32", int32(5), value.TypeDINT},
		{"int", 5, value.TypeDINT},
		{"int64", int64(5), value.TypeLINT},
		{"uint32", uint32(5), value.TypeUDINT},
		{"float32", float32(1.5), value.TypeREAL},
		{"float64", 1.5, value.TypeLREAL},
		{"string", "hi", value.TypeSTRING},
	}
	for _, c := range cases {
		v, desc, err := nativeToValue("write", "Tag1", c.in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.name, err)
		}
		if v.Type != c.want || desc.Type != c.want {
			t.Errorf("%s: got type %v/%v, want %v", c.name, v.Type, desc.Type, c.want)
		}
	}
}

func TestNativeToValueRejectsUnsupportedType(t *testing.T) {
	_, _, err := nativeToValue("write", "Tag1", struct{}{})
	if err == nil {
		t.Fatal("expected an error for an unsupported native type")
	}
}

func TestBitOfAndWithBit(t *testing.T) {
	v := value.Dint(0b0000_0101)

	bit0, err := bitOf("read", "Tag1.0", v, 0)
	if err != nil || !bit0 {
		t.Fatalf("bit 0 = %v, %v, want true, nil", bit0, err)
	}
	bit1, err := bitOf("read", "Tag1.1", v, 1)
	if err != nil || bit1 {
		t.Fatalf("bit 1 = %v, %v, want false, nil", bit1, err)
	}

	updated, err := withBit("write", "Tag1.1", v, 1, true)
	if err != nil {
		t.Fatalf("withBit: %v", err)
	}
	if updated.Raw.(int32) != 0b0000_0111 {
		t.Errorf("updated = %v, want 7", updated.Raw)
	}
}

func TestBitOfRejectsOutOfRangeBit(t *testing.T) {
	v := value.Sint(1)
	if _, err := bitOf("read", "Tag1.8", v, 8); err == nil {
		t.Fatal("expected an out-of-range bit error for an 8-bit value")
	}
}

func TestBitOfRejectsNonIntegerType(t *testing.T) {
	v := value.Real(1.5)
	if _, err := bitOf("read", "Tag1.0", v, 0); err == nil {
		t.Fatal("expected an error for bit access on a REAL")
	}
}
