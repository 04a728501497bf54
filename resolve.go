package warlogix

import (
	"context"
	"strings"

	"warlogix/dispatch"
	"warlogix/plcerr"
	"warlogix/tagdir"
	"warlogix/value"
)

// scopeAndRootName splits a tag reference into its tag-directory scope ("" for
// the controller, "Program:Name" for a program) and the bare top-level symbol
// name the directory enumerates, stripping any member/index suffix. The
// symbol object never lists nested UDT members, so a deeper reference (e.g.
// "MyUDT.Member") resolves to MyUDT's own descriptor - accurate for member
// writes whose caller already knows the member's own size/type, but not a
// substitute for per-member type resolution.
func scopeAndRootName(tagPath string) (scope, root string) {
	name := tagPath
	const progPrefix = "Program:"
	if strings.HasPrefix(tagPath, progPrefix) {
		rest := tagPath[len(progPrefix):]
		if dot := strings.IndexByte(rest, '.'); dot >= 0 {
			scope = progPrefix + rest[:dot]
			name = rest[dot+1:]
		}
	}
	root = name
	if idx := strings.IndexAny(root, ".["); idx >= 0 {
		root = root[:idx]
	}
	return scope, root
}

// resolveDescriptor looks up tagPath's root symbol in the endpoint's cached
// tag directory and returns its descriptor, resolving the UDT template when
// the symbol is a structure. Used by read_many, get_metadata, the reads of
// execute_batch, and subscribe, which need a descriptor before any I/O happens; the single
// read/write path instead reads the type code straight off the wire (see
// ops.go) and never needs this.
func resolveDescriptor(ctx context.Context, cache *tagdir.Cache, disp *dispatch.Dispatcher, tagPath string) (value.Descriptor, error) {
	scope, root := scopeAndRootName(tagPath)
	entries, err := cache.Entries(ctx, disp, scope)
	if err != nil {
		return value.Descriptor{}, err
	}
	for _, e := range entries {
		if e.Name != root {
			continue
		}
		if !e.IsStructure {
			return e.Descriptor(nil), nil
		}
		tmpl, err := cache.Template(ctx, disp, e.StructHandle)
		if err != nil {
			return value.Descriptor{}, err
		}
		return e.Descriptor(tmpl), nil
	}
	return value.Descriptor{}, plcerr.New(plcerr.Path, "get_metadata", tagPath, nil)
}

// descriptorFromWireType builds a Descriptor from a Read Tag reply's own
// DataType field, resolving the UDT template via cache when the structure
// flag is set. Mirrors wireTypeCode in batch/plan.go in reverse.
func descriptorFromWireType(ctx context.Context, cache *tagdir.Cache, disp *dispatch.Dispatcher, tc uint16) (value.Descriptor, error) {
	isStruct := tc&uint16(value.FlagStruct) != 0
	base := value.Type(tc & 0x0FFF)

	if !isStruct {
		d := value.Descriptor{Type: base}
		if sz, ok := base.Size(); ok {
			d.ElementSize = sz
		}
		return d, nil
	}

	handle := uint16(base)
	tmpl, err := cache.Template(ctx, disp, handle)
	if err != nil {
		return value.Descriptor{}, err
	}
	d := value.Descriptor{Type: base, IsStructure: true, StructHandle: handle, Template: tmpl}
	if tmpl != nil {
		d.ElementSize = tmpl.StructureSize
	}
	return d, nil
}
