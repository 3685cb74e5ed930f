// Package zaperr defines the error kinds shared by the signing, ledger and
// relay components so callers can branch on the failure class instead of on
// message text.
package zaperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindMalformedInput covers structurally invalid events, tags and JSON.
	KindMalformedInput Kind = "MALFORMED_INPUT"
	// KindInvalidEvent is an event whose id does not match its content.
	KindInvalidEvent Kind = "INVALID_EVENT"
	// KindSignatureInvalid is a well-formed event whose signature does not verify.
	KindSignatureInvalid Kind = "SIGNATURE_INVALID"
	// KindInvalidPublicKey is an x-only key that is not on the curve.
	KindInvalidPublicKey Kind = "INVALID_PUBLIC_KEY"
	// KindTransientNetwork covers unreachable relays, non-2xx replies and timeouts.
	KindTransientNetwork Kind = "TRANSIENT_NETWORK"
	// KindDuplicateEvent marks an idempotency-key collision.
	KindDuplicateEvent Kind = "DUPLICATE_EVENT"
	// KindConfiguration is a missing or invalid relay list or signing key.
	KindConfiguration Kind = "CONFIGURATION"
)

// IsCryptographic reports whether k is an id or signature failure.
func (k Kind) IsCryptographic() bool {
	return k == KindInvalidEvent || k == KindSignatureInvalid || k == KindInvalidPublicKey
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := string(e.Kind)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf is New with a formatted message.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
