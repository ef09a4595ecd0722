package event

import "fmt"

// Kind identifies what an Event notifies. Unknown is never a legal kind.
type Kind int

const (
	Unknown Kind = iota
	Capability
	NewDataReceived
	CallbackReleased
	ConnectionClosed
	ConnectionCompleted

	// Custom is the first application-defined kind.
	Custom Kind = 0x01000000
)

func (k Kind) String() string {
	switch k {
	case Unknown:
		return "unknown"
	case Capability:
		return "capability"
	case NewDataReceived:
		return "new_data_received"
	case CallbackReleased:
		return "callback_released"
	case ConnectionClosed:
		return "connection_closed"
	case ConnectionCompleted:
		return "connection_completed"
	}
	if k >= Custom {
		return fmt.Sprintf("custom_%d", int(k-Custom))
	}
	return fmt.Sprintf("kind_%d", int(k))
}

// Valid reports whether an Event may be created with k.
func (k Kind) Valid() bool {
	return (k > Unknown && k <= ConnectionCompleted) || k >= Custom
}
