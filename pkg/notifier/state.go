package notifier

import "fmt"

// State is the wireless connection state.
type State int

const (
	// StateIdle: stack not enabled or advertising could not start.
	StateIdle State = iota
	StateAdvertising
	StateConnected
	// StateDisconnecting: link lost, waiting for the stack to recycle it.
	StateDisconnecting
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateAdvertising:   "advertising",
	StateConnected:     "connected",
	StateDisconnecting: "disconnecting",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}
