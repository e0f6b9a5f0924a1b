package client

// State is the connection lifecycle phase of a client process.
// Exactly one instance exists per process, owned by the Controller;
// everything outside reads it through the transition callback.
type State uint8

const (
	Initializing State = iota
	Ready
	Searching
	Connecting
	Connected
	Reconnecting
	Disconnected
	Errored
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Searching:
		return "searching"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disconnected:
		return "disconnected"
	case Errored:
		return "error"
	default:
		return "?"
	}
}

// edges is the full set of permitted transitions. Errored is terminal
// and requires a fresh Controller; Ready and Disconnected re-enter.
var edges = map[State][]State{
	Initializing: {Ready, Errored},
	Ready:        {Searching, Reconnecting, Errored},
	Searching:    {Connecting, Ready, Reconnecting, Errored},
	Connecting:   {Connected, Disconnected, Reconnecting, Errored},
	Connected:    {Disconnected, Reconnecting, Errored},
	Reconnecting: {Ready, Searching, Connecting, Connected, Disconnected, Errored},
	Disconnected: {Ready, Errored},
	Errored:      {},
}

func allowed(from, to State) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}
