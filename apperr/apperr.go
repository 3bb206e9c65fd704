// Package apperr classifies failures so transport code can map them to
// responses without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindValidation covers user-correctable input: unknown plan, bad code.
	KindValidation Kind = iota
	// KindNotFound covers missing rows for a given key.
	KindNotFound
	// KindProvisioning covers failed remote VPN-panel operations.
	KindProvisioning
	// KindGateway covers failed payment-processor calls.
	KindGateway
	// KindConflict covers lost races: duplicate redemption, duplicate accrual.
	KindConflict
	// KindPersistence covers storage transaction failures.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindProvisioning:
		return "provisioning"
	case KindGateway:
		return "gateway"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of err, or ok=false if err carries none.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
