package marketchat

// ConnectionState represents the current state of the chat connection.
// It is owned by the Session and changes only on transport callbacks or
// explicit Connect/Disconnect calls.
type ConnectionState int

const (
	// StateDisconnected means the session is not connected.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a connection attempt is in flight.
	StateConnecting

	// StateConnected means the session is connected and ready.
	StateConnected

	// StateFailed means the last connection attempt or the live connection
	// failed. The failure reason travels in the StateEvent. A new Connect
	// call is allowed from this state; there is no automatic retry.
	StateFailed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateEvent represents a connection state change.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Err      error // reason, when NewState is StateFailed
}
