// Package plcerr defines the client's error taxonomy: a single typed error
// carrying the kind of failure plus enough diagnostic context (tag path,
// endpoint, CIP status) for a caller to act on it without parsing strings.
package plcerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of failure, independent of the underlying cause.
type Kind int

const (
	// Transport covers socket connect/read/write failures and peer resets.
	Transport Kind = iota
	// Timeout covers a deadline exceeded for a round trip or a keep-alive probe.
	Timeout
	// Protocol covers malformed frames, unexpected CPF items, or a nonzero
	// encapsulation status.
	Protocol
	// CipStatus covers a nonzero CIP general status returned by the controller.
	CipStatus
	// Path covers a tag string rejected by the compiler, or one referring to
	// an unknown symbol or member.
	Path
	// Type covers a value variant or byte length incompatible with its descriptor.
	Type
	// Capacity covers a batch operation that exceeds the packet budget and
	// cannot be fragmented.
	Capacity
	// Cancelled covers caller- or manager-initiated teardown aborting an
	// in-flight operation.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "Transport"
	case Timeout:
		return "Timeout"
	case Protocol:
		return "Protocol"
	case CipStatus:
		return "CipStatus"
	case Path:
		return "Path"
	case Type:
		return "Type"
	case Capacity:
		return "Capacity"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the single error type returned across the client's public
// surface. Every field beyond Kind is optional context; populate whatever is
// known at the point of failure.
type Error struct {
	Kind      Kind
	Op        string // operation kind: "read", "write", "discover_tags", ...
	TagPath   string
	Endpoint  string
	CIPStatus *byte    // general status byte, whenever FromCIPStatus built the error (any Kind)
	ExtStatus []uint16 // additional status words, when present
	Err       error    // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Endpoint != "" {
		msg += " endpoint=" + e.Endpoint
	}
	if e.TagPath != "" {
		msg += " tag=" + e.TagPath
	}
	if e.CIPStatus != nil {
		msg += fmt.Sprintf(" cip_status=0x%02X", *e.CIPStatus)
	}
	if len(e.ExtStatus) > 0 {
		msg += fmt.Sprintf(" ext_status=%v", e.ExtStatus)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is comparisons against a Kind-only sentinel built with New(kind, "", "", nil).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// New constructs an Error with the given kind and wrapped cause.
func New(kind Kind, op, tagPath string, cause error) *Error {
	return &Error{Kind: kind, Op: op, TagPath: tagPath, Err: cause}
}

// WithEndpoint returns a copy of e with Endpoint set, for chaining at the
// layer (session/connmgr) that knows the endpoint but not necessarily the tag.
func (e *Error) WithEndpoint(endpoint string) *Error {
	cp := *e
	cp.Endpoint = endpoint
	return &cp
}

// WithTagPath returns a copy of e with TagPath set.
func (e *Error) WithTagPath(tagPath string) *Error {
	cp := *e
	cp.TagPath = tagPath
	return &cp
}

// FromCIPStatus maps a CIP general status byte (and optional extended status
// words) to a plcerr.Error. Status 0x06 (partial transfer) is not an error in
// the discovery/fragment continuation sense - callers on that path should not
// call FromCIPStatus at all and instead treat 0x06 as "continue"; it is
// mapped here to Protocol only for callers that hit it somewhere
// continuation isn't expected.
func FromCIPStatus(op, tagPath string, status byte, ext []uint16) *Error {
	kind := kindForCIPStatus(status)
	s := status
	return &Error{
		Kind:      kind,
		Op:        op,
		TagPath:   tagPath,
		CIPStatus: &s,
		ExtStatus: ext,
	}
}

func kindForCIPStatus(status byte) Kind {
	switch status {
	case 0x00:
		return CipStatus // callers should not construct an error for success; guarded by caller
	case 0x04, 0x05, 0x16:
		return Path
	case 0x06:
		return Protocol
	case 0x08:
		return Protocol
	case 0x0F, 0x13:
		return Type
	case 0x15:
		// "Too much data": the request or reply data segment did not fit
		// the CIP service's own framing, the controller-side counterpart to
		// a batch exceeding the packet budget on our side.
		return Capacity
	default:
		return CipStatus
	}
}
