// Package cippath compiles symbolic Logix tag references into CIP EPATHs,
// including a trailing bit-suffix (e.g. MyDint.3) for single-bit access.
package cippath

import (
	"fmt"
	"strconv"
	"strings"

	"warlogix/cip"
)

// Reference is a compiled tag reference: the EPATH that addresses the
// containing value, plus an optional bit number recorded out-of-band per
// compilation rule 4 (bit access never extends the EPATH).
type Reference struct {
	Raw    string
	Path   cip.EPath_t
	Bit    *int // nil unless the reference ended in a recognized .0-.63 suffix
	isProgram bool
}

// IsProgramScoped reports whether the reference began with a "Program:<name>" prefix.
func (r Reference) IsProgramScoped() bool { return r.isProgram }

// Compile parses a tag reference per the grammar:
//
//	reference := [ "Program:" ident "." ] segment ( "." segment | "[" index ("," index)* "]" )*
//	segment   := ident
//	index     := unsigned integer
//
// A terminal ".<0-63>" is peeled off as a candidate bit suffix rather than
// emitted as a symbolic segment; compilation rule 4 requires it be carried as
// request metadata instead. Compile does not know the backing CIP type, so it
// cannot reject a bit suffix that turns out to address a packed BOOL array
// element ambiguously - the root package's singleRead and writeBit (ops.go)
// apply that rejection once the descriptor is known.
func Compile(tag string) (Reference, error) {
	if tag == "" {
		return Reference{}, fmt.Errorf("cippath: empty tag reference")
	}

	base, bit := splitBitSuffix(tag)

	builder := cip.EPath()
	isProgram := false

	rest := base
	if strings.HasPrefix(rest, "Program:") {
		isProgram = true
		// The "Program:Name" prefix is itself one dotted segment; find where
		// it ends (first '.' not part of the program name, or end of string).
		end := strings.IndexByte(rest, '.')
		var progSeg string
		if end == -1 {
			progSeg = rest
			rest = ""
		} else {
			progSeg = rest[:end]
			rest = rest[end+1:]
		}
		if progSeg == "Program:" {
			return Reference{}, fmt.Errorf("cippath: empty program name in %q", tag)
		}
		builder = builder.Symbol(progSeg)
	}

	if rest != "" {
		if err := validateIdentifiers(rest); err != nil {
			return Reference{}, fmt.Errorf("cippath: %w (in %q)", err, tag)
		}
		builder = builder.Symbol(rest)
	} else if !isProgram {
		return Reference{}, fmt.Errorf("cippath: empty tag reference")
	}

	path, err := builder.Build()
	if err != nil {
		return Reference{}, fmt.Errorf("cippath: compiling %q: %w", tag, err)
	}

	return Reference{Raw: tag, Path: path, Bit: bit, isProgram: isProgram}, nil
}

// splitBitSuffix peels a trailing ".0".."63" off tag, honoring bracket
// nesting so an array index like "Tag[3]" is never mistaken for a bit
// suffix. Returns the unmodified tag and a nil bit when no suffix is found.
func splitBitSuffix(tag string) (string, *int) {
	depth := 0
	lastDot := -1
	for i := 0; i < len(tag); i++ {
		switch tag[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '.':
			if depth == 0 {
				lastDot = i
			}
		}
	}
	if lastDot == -1 || lastDot == len(tag)-1 {
		return tag, nil
	}
	suffix := tag[lastDot+1:]
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return tag, nil
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 || n > 63 {
		return tag, nil
	}
	return tag[:lastDot], &n
}

// validateIdentifiers rejects empty or non-ASCII identifier segments ahead of
// the PathBuilder call, since PathBuilder.Symbol only surfaces encoding
// errors (too long, zero length) and not charset errors.
func validateIdentifiers(rest string) error {
	depth := 0
	afterIndex := false
	seg := strings.Builder{}
	flush := func() error {
		if depth == 0 {
			s := seg.String()
			seg.Reset()
			if s == "" {
				if afterIndex {
					afterIndex = false
					return nil // index-only segments are handled by PathBuilder
				}
				return fmt.Errorf("empty identifier")
			}
			afterIndex = false
			for _, r := range s {
				if r > 127 {
					return fmt.Errorf("non-ASCII identifier %q", s)
				}
			}
		}
		return nil
	}
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch c {
		case '.':
			if err := flush(); err != nil {
				return err
			}
		case '[':
			if err := flush(); err != nil {
				return err
			}
			depth++
		case ']':
			depth--
			if depth == 0 {
				afterIndex = true
			}
		default:
			if depth == 0 {
				seg.WriteByte(c)
			}
		}
	}
	return flush()
}
