// Package syncerr defines the error taxonomy shared by the sync engine.
// Every error the engine returns to a caller is either one of these or
// wraps one, so transports can map failures without string matching.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindAccessDenied
	KindReadOnly
	KindNotFound
	KindProvider
	KindPartialBatch
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAccessDenied:
		return "access_denied"
	case KindReadOnly:
		return "read_only_violation"
	case KindNotFound:
		return "not_found"
	case KindProvider:
		return "provider"
	case KindPartialBatch:
		return "partial_batch_failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against a kind
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrAccessDenied = &Error{Kind: KindAccessDenied}
	ErrReadOnly     = &Error{Kind: KindReadOnly}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrProvider     = &Error{Kind: KindProvider}
	ErrPartialBatch = &Error{Kind: KindPartialBatch}
)

// Error is a taxonomy-tagged error
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "chat.SendMessage"
	Err  error  // underlying cause, may be nil for sentinels
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

// Unwrap allows errors.Is and errors.As to reach the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind when the target is a sentinel
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// New tags err with kind for operation op
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, msg string) error {
	return New(KindValidation, op, errors.New(msg))
}

func AccessDenied(op, msg string) error {
	return New(KindAccessDenied, op, errors.New(msg))
}

func ReadOnly(op, msg string) error {
	return New(KindReadOnly, op, errors.New(msg))
}

func NotFound(op, msg string) error {
	return New(KindNotFound, op, errors.New(msg))
}

// Provider wraps a remote store failure. Errors that already carry a kind
// are returned unchanged so a NotFound coming up from a store stays one.
func Provider(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return New(KindProvider, op, err)
}

// KindOf returns the kind of the first tagged error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k interface{ SyncKind() Kind }
	if errors.As(err, &k) {
		return k.SyncKind()
	}
	return KindUnknown
}
