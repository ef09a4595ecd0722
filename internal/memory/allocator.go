// Package memory establishes "this layer now owns a private copy" semantics.
//
// Ownership boundary:
// - Allocator: byte budget accounting, the only source of ErrOutOfMemory
// - Dup/DupString/StrnDup/Sprintf: private copies charged to an allocator
// - Buffer: a byte slice tagged owned (with a releaser) or borrowed
package memory

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/danmuck/edgemsg/internal/edge"
	"github.com/danmuck/edgemsg/internal/logging"
)

// Allocator hands out private byte slices against an optional budget.
// A limit of zero or less means unlimited.
type Allocator struct {
	limit int64
	used  atomic.Int64
}

var defaultAllocator atomic.Pointer[Allocator]

func init() {
	defaultAllocator.Store(NewAllocator(0))
}

func NewAllocator(limit int64) *Allocator {
	if limit < 0 {
		limit = 0
	}
	return &Allocator{limit: limit}
}

// Default returns the process allocator.
func Default() *Allocator {
	return defaultAllocator.Load()
}

// SetDefault installs a as the process allocator and returns the previous one.
func SetDefault(a *Allocator) *Allocator {
	if a == nil {
		a = NewAllocator(0)
	}
	return defaultAllocator.Swap(a)
}

func (a *Allocator) Limit() int64 {
	return a.limit
}

// InUse reports the bytes currently charged to a.
func (a *Allocator) InUse() int64 {
	return a.used.Load()
}

// Reserve charges n bytes without handing out memory.
func (a *Allocator) Reserve(n int) error {
	if n <= 0 {
		return nil
	}
	for {
		used := a.used.Load()
		next := used + int64(n)
		if a.limit > 0 && next > a.limit {
			log := logging.For("memory")
			log.Error().Int("size", n).Int64("in_use", used).Int64("limit", a.limit).
				Msg("failed to allocate memory")
			return edge.NoMemory("allocation of %d bytes exceeds limit %d (in use %d)", n, a.limit, used)
		}
		if a.used.CompareAndSwap(used, next) {
			return nil
		}
	}
}

// Unreserve returns n bytes to the budget.
func (a *Allocator) Unreserve(n int) {
	if n <= 0 {
		return
	}
	if a.used.Add(-int64(n)) < 0 {
		a.used.Store(0)
	}
}

// Alloc returns a zeroed slice of n bytes. n <= 0 yields nil.
func (a *Allocator) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	if err := a.Reserve(n); err != nil {
		return nil, err
	}
	return make([]byte, n), nil
}

// Free returns b to the budget. It has the Releaser signature so private
// copies can name it as their releaser.
func (a *Allocator) Free(b []byte) {
	a.Unreserve(len(b))
}

// Dup returns a private copy of b. Nil or empty input yields nil.
func (a *Allocator) Dup(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	out, err := a.Alloc(len(b))
	if err != nil {
		return nil, err
	}
	copy(out, b)
	return out, nil
}

// DupString charges a private copy of s, terminator included.
func (a *Allocator) DupString(s string) (string, error) {
	if err := a.Reserve(StringCost(s)); err != nil {
		return "", err
	}
	return strings.Clone(s), nil
}

// StrnDup copies at most n bytes of s, stopping early at a NUL byte.
func (a *Allocator) StrnDup(s string, n int) (string, error) {
	if n < 0 {
		n = 0
	}
	if n < len(s) {
		s = s[:n]
	}
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return a.DupString(s)
}

// Sprintf formats into a charged private string.
func (a *Allocator) Sprintf(format string, args ...any) (string, error) {
	s := fmt.Sprintf(format, args...)
	if err := a.Reserve(StringCost(s)); err != nil {
		return "", err
	}
	return s, nil
}

// FreeString returns the charge taken by DupString, StrnDup or Sprintf.
func (a *Allocator) FreeString(s string) {
	a.Unreserve(StringCost(s))
}

// StringCost is the number of bytes a stored string is charged, including
// its terminator.
func StringCost(s string) int {
	return len(s) + 1
}

func Dup(b []byte) ([]byte, error) {
	return Default().Dup(b)
}

func DupString(s string) (string, error) {
	return Default().DupString(s)
}

func StrnDup(s string, n int) (string, error) {
	return Default().StrnDup(s, n)
}

func Sprintf(format string, args ...any) (string, error) {
	return Default().Sprintf(format, args...)
}

// FreeString returns a DupString, StrnDup or Sprintf result to the process
// allocator.
func FreeString(s string) {
	Default().FreeString(s)
}

// Free returns b to the process allocator.
func Free(b []byte) {
	Default().Free(b)
}
