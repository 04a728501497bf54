package warlogix

import (
	"testing"

	"warlogix/value"
)

func TestScopeAndRootName(t *testing.T) {
	cases := []struct {
		in          string
		scope, root string
	}{
		{"Counter", "", "Counter"},
		{"Counter.Value", "", "Counter"},
		{"Counter[3]", "", "Counter"},
		{"Program:MainProgram.Counter", "Program:MainProgram", "Counter"},
		{"Program:MainProgram.Counter.5", "Program:MainProgram", "Counter"},
	}
	for _, c := range cases {
		scope, root := scopeAndRootName(c.in)
		if scope != c.scope || root != c.root {
			t.Errorf("scopeAndRootName(%q) = (%q, %q), want (%q, %q)", c.in, scope, root, c.scope, c.root)
		}
	}
}

func TestDescriptorFromWireTypeAtomic(t *testing.T) {
	desc, err := descriptorFromWireType(nil, nil, nil, uint16(value.TypeDINT))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Type != value.TypeDINT || desc.IsStructure {
		t.Errorf("got %+v, want a plain DINT descriptor", desc)
	}
	if desc.ElementSize != 4 {
		t.Errorf("ElementSize = %d, want 4", desc.ElementSize)
	}
}
