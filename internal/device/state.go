package device

import "fmt"

// State is the lifecycle state of a band. The order of the constants is
// significant: capability checks compare ordinals.
type State int

const (
	StateNotConnected State = iota
	StateWaitingForReconnect
	StateConnecting
	StateConnected
	StateInitializing
	StateAuthenticating
	StateInitialized
)

var stateNames = [...]string{
	StateNotConnected:        "NotConnected",
	StateWaitingForReconnect: "WaitingForReconnect",
	StateConnecting:          "Connecting",
	StateConnected:           "Connected",
	StateInitializing:        "Initializing",
	StateAuthenticating:      "Authenticating",
	StateInitialized:         "Initialized",
}

// AllStates lists every state in ascending order.
func AllStates() []State {
	return []State{
		StateNotConnected,
		StateWaitingForReconnect,
		StateConnecting,
		StateConnected,
		StateInitializing,
		StateAuthenticating,
		StateInitialized,
	}
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// IsConnected is satisfied by Connected and every state above it.
func (s State) IsConnected() bool {
	return s >= StateConnected
}

// IsInitialized is satisfied only once the handshake has completed.
func (s State) IsInitialized() bool {
	return s >= StateInitialized
}

// IsConnecting reports whether a physical connection is being established.
func (s State) IsConnecting() bool {
	return s == StateConnecting
}

// IsInitializing reports whether the post-connect handshake is running.
func (s State) IsInitializing() bool {
	return s == StateInitializing || s == StateAuthenticating
}

// MarshalText renders the state by name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
