package iostream

import "fmt"

// State is the closing state of a Stream. Active closing is started
// locally by Close, passive closing by the peer's EOF.
type State uint8

const (
	StateOpen State = iota
	StateActiveClosing
	StatePassiveClosing
	StateBothClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateActiveClosing:
		return "active-closing"
	case StatePassiveClosing:
		return "passive-closing"
	case StateBothClosing:
		return "both-closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s State) activeClosing() bool {
	return s == StateActiveClosing || s == StateBothClosing
}

func (s State) passiveClosing() bool {
	return s == StatePassiveClosing || s == StateBothClosing
}

func (s State) closing() bool {
	return s != StateOpen
}

func (s State) withActive() State {
	switch s {
	case StateOpen:
		return StateActiveClosing
	case StatePassiveClosing:
		return StateBothClosing
	}
	return s
}

func (s State) withPassive() State {
	switch s {
	case StateOpen:
		return StatePassiveClosing
	case StateActiveClosing:
		return StateBothClosing
	}
	return s
}
