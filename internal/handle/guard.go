// Package handle provides the liveness tag embedded in every edge object.
//
// A Guard is armed when its owner is constructed and killed as the first
// step of destruction. Every public operation checks Valid before touching
// any other field, so a destroyed or zero-value object is rejected instead
// of being read. The tag detects misuse on a single timeline only; it is
// not a lock.
package handle

const (
	magicAlive uint32 = 0xfeedfeed
	magicDead  uint32 = 0xdeaddead
)

// State is the observable liveness of a Guard.
type State int

const (
	StateNone State = iota
	StateAlive
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateDead:
		return "dead"
	default:
		return "none"
	}
}

// Guard is the liveness tag. The zero value is not alive.
type Guard struct {
	magic uint32
}

// Arm marks the guard alive.
func (g *Guard) Arm() {
	g.magic = magicAlive
}

// Valid reports whether g is non-nil and alive.
func (g *Guard) Valid() bool {
	return g != nil && g.magic == magicAlive
}

// Kill moves an alive guard to dead. It returns false, leaving the guard
// untouched, when the guard was not alive.
func (g *Guard) Kill() bool {
	if !g.Valid() {
		return false
	}
	g.magic = magicDead
	return true
}

func (g *Guard) State() State {
	if g == nil {
		return StateNone
	}
	switch g.magic {
	case magicAlive:
		return StateAlive
	case magicDead:
		return StateDead
	default:
		return StateNone
	}
}

// Checker is implemented by every object carrying a Guard.
type Checker interface {
	IsValid() bool
}

// IsValid reports whether h is a live object. A nil interface or a typed
// nil pointer both report false.
func IsValid(h Checker) bool {
	if h == nil {
		return false
	}
	return h.IsValid()
}
