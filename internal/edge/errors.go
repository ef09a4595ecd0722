package edge

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("edge: invalid parameter")
	ErrOutOfMemory      = errors.New("edge: out of memory")
)

// Invalid wraps ErrInvalidParameter with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// NoMemory wraps ErrOutOfMemory with a formatted reason.
func NoMemory(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrOutOfMemory, fmt.Sprintf(format, args...))
}
