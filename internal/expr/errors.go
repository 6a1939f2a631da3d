package expr

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax is returned for malformed expressions.
	ErrSyntax = errors.New("syntax error")
	// ErrUnresolved is returned when a path or identifier cannot be found.
	ErrUnresolved = errors.New("unresolved reference")
	// ErrType is returned when an operator is applied to unsupported operands.
	ErrType = errors.New("type error")
	// ErrLimit is returned when an expression exceeds the engine bounds.
	ErrLimit = errors.New("expression too complex")
)

// UnresolvedError names the placeholder that could not be substituted.
type UnresolvedError struct {
	Placeholder string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved placeholder %s", e.Placeholder)
}

func (e *UnresolvedError) Unwrap() error { return ErrUnresolved }

func syntaxErr(pos int, format string, args ...any) error {
	return fmt.Errorf("%w at %d: %s", ErrSyntax, pos, fmt.Sprintf(format, args...))
}
