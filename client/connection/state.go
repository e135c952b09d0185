package connection

// State is the connection lifecycle state. It is owned and mutated only
// by the Manager; every other component observes it.
type State int

const (
	// StateDisconnected is the initial state and the terminal state after
	// an explicit Disconnect.
	StateDisconnected State = iota
	// StateConnecting means a dial and STOMP handshake are in progress.
	StateConnecting
	// StateConnected means the handshake completed and frames flow.
	StateConnected
	// StateReconnecting means the socket dropped and a reconnect timer is
	// pending.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
