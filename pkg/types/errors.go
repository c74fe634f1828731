package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	ErrNotFound                  = errors.New("not found")
	ErrDuplicateTarget           = errors.New("duplicate target")
	ErrStateInvariant            = errors.New("state invariant violation")
	ErrClassificationUnavailable = errors.New("classification unavailable")
	ErrStorageUnavailable        = errors.New("storage unavailable")
	ErrCycleInProgress           = errors.New("cycle already in progress")
)

// TransportError wraps a failed or timed-out call to an external
// collaborator (platform, inference, messaging). It is always recoverable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports untrusted text that did not match its grammar.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	in := e.Input
	if len(in) > 64 {
		in = in[:64] + "..."
	}
	return fmt.Sprintf("parse %q: %s", in, e.Reason)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
