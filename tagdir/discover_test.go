package tagdir

import (
	"encoding/binary"
	"testing"
	"time"
)

// buildSymbolEntry produces one Get Instance Attribute List entry at the
// wire's fixed nameLen+20 byte size (instance/name/type/array-size occupy the
// first nameLen+10 bytes; the remainder is reserved padding this parser skips).
func buildSymbolEntry(instance uint32, name string, typeCode, arraySize uint16) []byte {
	out := make([]byte, len(name)+20)
	binary.LittleEndian.PutUint16(out[0:2], uint16(instance))
	binary.LittleEndian.PutUint16(out[4:6], uint16(len(name)))
	copy(out[6:6+len(name)], name)
	binary.LittleEndian.PutUint16(out[6+len(name):8+len(name)], typeCode)
	binary.LittleEndian.PutUint16(out[8+len(name):10+len(name)], arraySize)
	return out
}

func TestParseSymbolListResponse(t *testing.T) {
	var data []byte
	data = append(data, buildSymbolEntry(1, "Counter", 0x00C4, 0)...)      // scalar DINT
	data = append(data, buildSymbolEntry(2, "Flags", 0x00C1|0x2000, 32)...) // BOOL[32]
	data = append(data, buildSymbolEntry(3, "Recipe", 0x8005, 0)...)        // struct handle 5

	entries, last := parseSymbolListResponse(data)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if last != 3 {
		t.Errorf("lastInstance = %d, want 3", last)
	}

	if entries[0].Name != "Counter" || entries[0].IsStructure {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Name != "Flags" || len(entries[1].Dims) != 1 || entries[1].Dims[0] != 32 {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	if !entries[2].IsStructure || entries[2].StructHandle != 5 {
		t.Errorf("entry 2 = %+v", entries[2])
	}
}

func TestParseSymbolListResponseStopsOnTruncation(t *testing.T) {
	full := buildSymbolEntry(1, "Good", 0x00C4, 0)
	truncated := append(full, buildSymbolEntry(2, "Bad", 0x00C4, 0)[:4]...)
	entries, last := parseSymbolListResponse(truncated)
	if len(entries) != 1 || entries[0].Name != "Good" {
		t.Fatalf("expected only the complete entry, got %+v", entries)
	}
	if last != 1 {
		t.Errorf("lastInstance = %d, want 1", last)
	}
}

func TestEntryScopePredicates(t *testing.T) {
	cases := []struct {
		name               string
		isProgram, isSys   bool
		isRoutine, readable bool
	}{
		{"Program:Main", true, false, false, false},
		{"Program:Main.Tag1", false, false, false, true},
		{"Map:Foo", false, true, false, false},
		{"Cxn:1", false, true, false, false},
		{"Task:Continuous", false, true, false, false},
		{"Program:Main.Routine:Startup", false, false, true, false},
		{"MyTag", false, false, false, true},
	}
	for _, c := range cases {
		e := Entry{Name: c.name}
		if e.IsProgram() != c.isProgram {
			t.Errorf("%q: IsProgram = %v, want %v", c.name, e.IsProgram(), c.isProgram)
		}
		if e.IsSystem() != c.isSys {
			t.Errorf("%q: IsSystem = %v, want %v", c.name, e.IsSystem(), c.isSys)
		}
		if e.IsRoutine() != c.isRoutine {
			t.Errorf("%q: IsRoutine = %v, want %v", c.name, e.IsRoutine(), c.isRoutine)
		}
		if e.IsReadable() != c.readable {
			t.Errorf("%q: IsReadable = %v, want %v", c.name, e.IsReadable(), c.readable)
		}
	}
}

func TestParseTemplateDefinition(t *testing.T) {
	// Two members: Count (DINT, offset 0), FlagA (BOOL, offset 4).
	members := make([]byte, 16)
	binary.LittleEndian.PutUint16(members[0:2], 0)      // array size
	binary.LittleEndian.PutUint16(members[2:4], 0x00C4) // DINT
	binary.LittleEndian.PutUint32(members[4:8], 0)       // offset
	binary.LittleEndian.PutUint16(members[8:10], 0)
	binary.LittleEndian.PutUint16(members[10:12], 0x00C1) // BOOL
	binary.LittleEndian.PutUint32(members[12:16], 4)

	names := "MyUDT;ver\x00Count\x00FlagA\x00"
	data := append(members, []byte(names)...)

	tmpl, err := parseTemplateDefinition(data, 2, 0x00A1, 8)
	if err != nil {
		t.Fatalf("parseTemplateDefinition: %v", err)
	}
	if len(tmpl.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(tmpl.Members))
	}
	if tmpl.Members[0].Name != "Count" || tmpl.Members[1].Name != "FlagA" {
		t.Errorf("member names = %q, %q", tmpl.Members[0].Name, tmpl.Members[1].Name)
	}
	if tmpl.Handle != 0x00A1 || tmpl.StructureSize != 8 {
		t.Errorf("handle/size = 0x%04X/%d", tmpl.Handle, tmpl.StructureSize)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	c.mu.Lock()
	c.scopes[""] = &cachedEntries{entries: []Entry{{Name: "Stale"}}, expiresAt: time.Now().Add(-time.Second)}
	c.mu.Unlock()

	c.mu.Lock()
	_, stillCached := c.scopes[""]
	expired := time.Now().After(c.scopes[""].expiresAt)
	c.mu.Unlock()
	if !stillCached || !expired {
		t.Fatal("expected the pre-seeded entry to be present but already expired")
	}
}

func TestInvalidateClearsCaches(t *testing.T) {
	c := NewCache(time.Minute)
	c.mu.Lock()
	c.scopes["Program:Main"] = &cachedEntries{entries: []Entry{{Name: "X"}}, expiresAt: time.Now().Add(time.Minute)}
	c.templates[1] = &cachedTemplate{tmpl: nil, expiresAt: time.Now().Add(time.Minute)}
	c.mu.Unlock()

	c.Invalidate()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.scopes) != 0 || len(c.templates) != 0 {
		t.Fatal("expected Invalidate to clear both maps")
	}
}

func TestShouldInvalidate(t *testing.T) {
	for _, status := range []byte{0x04, 0x05, 0x16} {
		if !ShouldInvalidate(status) {
			t.Errorf("status 0x%02X should invalidate", status)
		}
	}
	if ShouldInvalidate(0x00) || ShouldInvalidate(0x08) {
		t.Error("success/generic statuses should not invalidate")
	}
}
