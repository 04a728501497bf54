// Package tagdir implements tag discovery and UDT template resolution against
// the Symbol Object (class 0x6B) and Template Object (class 0x6C), with a
// per-endpoint cache.
package tagdir

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"warlogix/cip"
	"warlogix/dispatch"
	"warlogix/plcerr"
	"warlogix/value"
)

const (
	svcGetAttributeSingle        byte = 0x0E
	svcGetAttributeList          byte = 0x03
	svcGetInstanceAttributeList  byte = 0x55
	svcReadTag                   byte = 0x4C
	statusSuccess                byte = 0x00
	statusPartialTransfer        byte = 0x06
	classSymbolObject            byte = 0x6B
	classTemplateObject          byte = 0x6C

	// Symbol instance attributes 9 and 10: the 2nd and 3rd array dimension
	// sizes, alongside attribute 8 (1st dimension) already carried by the
	// Get Instance Attribute List page.
	attrArrayDim2 byte = 0x09
	attrArrayDim3 byte = 0x0A
)

// Entry describes one symbol table entry: a tag, program, or routine name.
type Entry struct {
	Name         string
	Instance     uint32
	TypeCode     uint16
	Dims         []int
	IsStructure  bool
	StructHandle uint16
}

// IsProgram reports whether Name names a program entry ("Program:Foo") rather
// than a program-scoped tag ("Program:Foo.Bar").
func (e Entry) IsProgram() bool {
	if !strings.HasPrefix(e.Name, "Program:") {
		return false
	}
	return !strings.Contains(e.Name[len("Program:"):], ".")
}

// IsSystem reports whether Name names an internal system entry (Map:, Cxn:, Task:).
func (e Entry) IsSystem() bool {
	for _, p := range []string{"Map:", "Cxn:", "Task:"} {
		if strings.HasPrefix(e.Name, p) {
			return true
		}
	}
	return false
}

// IsRoutine reports whether Name names a routine entry.
func (e Entry) IsRoutine() bool {
	return strings.Contains(e.Name, "Routine:")
}

// IsReadable reports whether Name is a tag that can be read or written.
func (e Entry) IsReadable() bool {
	return !e.IsProgram() && !e.IsRoutine() && !e.IsSystem()
}

// Descriptor builds the value.Descriptor for this entry's atomic/UDT shape.
// tmpl is required when IsStructure is true; callers resolve it separately
// via ResolveTemplate (structures aren't self-describing from the symbol
// list alone).
func (e Entry) Descriptor(tmpl *value.Template) value.Descriptor {
	d := value.Descriptor{
		Type:         value.Type(e.TypeCode & 0x0FFF),
		Dims:         e.Dims,
		IsStructure:  e.IsStructure,
		StructHandle: e.StructHandle,
	}
	if e.IsStructure {
		d.Template = tmpl
		if tmpl != nil {
			d.ElementSize = tmpl.StructureSize
		}
	} else if sz, ok := d.Type.Size(); ok {
		d.ElementSize = sz
	}
	return d
}

func isArrayTypeCode(t uint16) bool  { return t&0x6000 != 0 }
func isStructTypeCode(t uint16) bool { return t&0x8000 != 0 }

// Discover walks the Symbol Object's instance attribute list, paginating on
// general status 0x06, and returns every entry the controller reports. scope
// is "" for the controller scope or "Program:Name" for a program's local tags.
func Discover(ctx context.Context, d *dispatch.Dispatcher, scope string) ([]Entry, error) {
	var all []Entry
	instance := uint32(0)

	for page := 0; page < 1000; page++ {
		entries, lastInstance, hasMore, err := discoverPage(ctx, d, scope, instance)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
		if !hasMore || len(entries) == 0 {
			break
		}
		instance = lastInstance + 1
	}
	return all, nil
}

func discoverPage(ctx context.Context, d *dispatch.Dispatcher, scope string, startInstance uint32) (entries []Entry, lastInstance uint32, hasMore bool, err error) {
	path, err := symbolPath(scope, startInstance)
	if err != nil {
		return nil, 0, false, plcerr.New(plcerr.Path, "discover_tags", scope, err)
	}

	// Attribute 1: Symbol Name, attribute 2: Symbol Type, attribute 8: Byte Count.
	attrData := []byte{
		0x03, 0x00,
		0x01, 0x00,
		0x02, 0x00,
		0x08, 0x00,
	}
	req := cip.Request{Service: svcGetInstanceAttributeList, Path: path, Data: attrData}

	resp, err := d.Do(ctx, req)
	if err != nil {
		return nil, 0, false, err
	}
	if resp.ReplyService != (svcGetInstanceAttributeList | 0x80) {
		return nil, 0, false, plcerr.New(plcerr.Protocol, "discover_tags", scope, fmt.Errorf("unexpected reply service 0x%02X", resp.ReplyService))
	}

	hasMore = resp.GeneralStatus == statusPartialTransfer
	if resp.GeneralStatus != statusSuccess && resp.GeneralStatus != statusPartialTransfer {
		return nil, 0, false, plcerr.FromCIPStatus("discover_tags", scope, resp.GeneralStatus, resp.AdditionalStatus)
	}

	entries, lastInstance = parseSymbolListResponse(resp.Data)
	for i := range entries {
		dims, err := resolveDims(ctx, d, scope, entries[i])
		if err != nil {
			return nil, 0, false, err
		}
		entries[i].Dims = dims
	}
	return entries, lastInstance, hasMore, nil
}

// resolveDims fills in the full per-dimension bounds for an array entry.
// The Get Instance Attribute List page only carries attribute 8 (the first
// dimension's size, already in e.Dims[0]); 2D and 3D arrays need attributes
// 9 and 10 fetched individually via Get Attribute Single against the same
// symbol instance.
func resolveDims(ctx context.Context, d *dispatch.Dispatcher, scope string, e Entry) ([]int, error) {
	want := arrayDimCount(e.TypeCode)
	if want <= 1 {
		return e.Dims, nil
	}
	dims := append([]int(nil), e.Dims...)
	for _, attr := range []byte{attrArrayDim2, attrArrayDim3}[:want-1] {
		n, err := fetchAttributeUint16(ctx, d, scope, e.Instance, attr)
		if err != nil {
			return nil, plcerr.New(plcerr.Path, "discover_tags", e.Name, fmt.Errorf("resolving array dimension attribute 0x%02X: %w", attr, err))
		}
		dims = append(dims, int(n))
	}
	return dims, nil
}

// arrayDimCount reports how many dimensions a symbol type code's array flag
// bits (value.FlagArray1D/2D/3D) claim.
func arrayDimCount(typeCode uint16) int {
	switch typeCode & uint16(value.FlagArray3D) {
	case uint16(value.FlagArray1D):
		return 1
	case uint16(value.FlagArray2D):
		return 2
	case uint16(value.FlagArray3D):
		return 3
	default:
		return 0
	}
}

// fetchAttributeUint16 issues a Get Attribute Single request against one
// symbol instance's attribute and decodes a 16-bit result.
func fetchAttributeUint16(ctx context.Context, d *dispatch.Dispatcher, scope string, instance uint32, attr byte) (uint16, error) {
	path, err := symbolAttributePath(scope, instance, attr)
	if err != nil {
		return 0, err
	}
	resp, err := d.Do(ctx, cip.Request{Service: svcGetAttributeSingle, Path: path})
	if err != nil {
		return 0, err
	}
	if resp.GeneralStatus != statusSuccess {
		return 0, plcerr.FromCIPStatus("discover_tags", "", resp.GeneralStatus, resp.AdditionalStatus)
	}
	if len(resp.Data) < 2 {
		return 0, fmt.Errorf("attribute 0x%02X reply too short (%d bytes)", attr, len(resp.Data))
	}
	return binary.LittleEndian.Uint16(resp.Data[:2]), nil
}

func symbolAttributePath(scope string, instance uint32, attr byte) (cip.EPath_t, error) {
	builder := cip.EPath()
	if scope != "" {
		builder = builder.Symbol(scope)
	}
	builder = builder.Class(classSymbolObject)
	switch {
	case instance <= 0xFF:
		builder = builder.Instance(byte(instance))
	case instance <= 0xFFFF:
		builder = builder.Instance16(uint16(instance))
	default:
		return nil, fmt.Errorf("instance %d exceeds 16-bit maximum", instance)
	}
	builder = builder.Attribute(attr)
	return builder.Build()
}

func symbolPath(scope string, startInstance uint32) (cip.EPath_t, error) {
	builder := cip.EPath()
	if scope != "" {
		builder = builder.Symbol(scope)
	}
	builder = builder.Class(classSymbolObject)
	switch {
	case startInstance <= 0xFF:
		builder = builder.Instance(byte(startInstance))
	case startInstance <= 0xFFFF:
		builder = builder.Instance16(uint16(startInstance))
	default:
		return nil, fmt.Errorf("instance %d exceeds 16-bit maximum", startInstance)
	}
	return builder.Build()
}

// parseSymbolListResponse parses Get Instance Attribute List reply data: a
// run of fixed-prefix, variable-name entries, each
// [Instance u16][reserved u16][NameLen u16][Name NameLen][TypeCode u16][ArraySize u16]
// followed by 10 skipped bytes, NameLen+20 bytes in all.
func parseSymbolListResponse(data []byte) (entries []Entry, lastInstance uint32) {
	i := 0
	for i < len(data) {
		if i+8 > len(data) {
			break
		}
		instance := uint32(binary.LittleEndian.Uint16(data[i : i+2]))
		nameLen := int(binary.LittleEndian.Uint16(data[i+4 : i+6]))
		entrySize := nameLen + 20
		if i+entrySize > len(data) {
			break
		}
		entry := data[i : i+entrySize]
		name := string(entry[6 : 6+nameLen])
		typeCode := binary.LittleEndian.Uint16(entry[6+nameLen : 8+nameLen])
		arraySize := binary.LittleEndian.Uint16(entry[8+nameLen : 10+nameLen])

		i += entrySize
		if name == "" || instance == 0 {
			continue
		}

		var dims []int
		if isArrayTypeCode(typeCode) && arraySize > 0 {
			dims = []int{int(arraySize)}
		}

		entries = append(entries, Entry{
			Name:         name,
			Instance:     instance,
			TypeCode:     typeCode,
			Dims:         dims,
			IsStructure:  isStructTypeCode(typeCode),
			StructHandle: typeCode & 0x0FFF,
		})
		lastInstance = instance
	}
	return entries, lastInstance
}
