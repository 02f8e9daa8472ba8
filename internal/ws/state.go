package ws

import "sync/atomic"

// ConnState represents the lifecycle state of a websocket session.
type ConnState int32

// Session lifecycle states. A session moves Disconnected -> Connecting -> Open,
// drops back to Disconnected on any close, and reaches Closing only when the
// owner shuts it down for good.
const (
	// StateDisconnected indicates no live connection.
	StateDisconnected ConnState = iota
	// StateConnecting indicates a dial is in progress.
	StateConnecting
	// StateOpen indicates an established, initialized connection.
	StateOpen
	// StateClosing indicates a locally requested permanent shutdown.
	StateClosing
	// StateClosed indicates the session is shut down and will not reconnect.
	StateClosed
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	return [...]string{
		"disconnected",
		"connecting",
		"open",
		"closing",
		"closed",
	}[s]
}

// State provides thread-safe atomic access to a ConnState value.
type State struct {
	state atomic.Int32
}

// Load returns the current connection state.
func (s *State) Load() ConnState {
	return ConnState(s.state.Load())
}

// Store sets the connection state to the given value.
func (s *State) Store(state ConnState) {
	s.state.Store(int32(state))
}

// CompareAndSwap atomically compares the current state with old and swaps to new if equal.
// It returns true if the swap was performed.
func (s *State) CompareAndSwap(old, new ConnState) bool {
	return s.state.CompareAndSwap(int32(old), int32(new))
}
