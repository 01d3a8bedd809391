package tileerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide how to surface it.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindUpstreamFetch
	KindParse
	KindRender
	KindEncode
	KindInternalConsistency
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindUpstreamFetch:
		return "upstream fetch"
	case KindParse:
		return "parse"
	case KindRender:
		return "render"
	case KindEncode:
		return "encode"
	case KindInternalConsistency:
		return "internal consistency"
	case KindNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is.
var (
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrUpstreamFetch       = &Error{Kind: KindUpstreamFetch}
	ErrParse               = &Error{Kind: KindParse}
	ErrRender              = &Error{Kind: KindRender}
	ErrEncode              = &Error{Kind: KindEncode}
	ErrInternalConsistency = &Error{Kind: KindInternalConsistency}
	ErrNotFound            = &Error{Kind: KindNotFound}
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrParse) works
// regardless of Op and the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}
