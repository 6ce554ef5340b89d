package port

// Connectivity reports whether the origin server is reachable
type Connectivity interface {
	// Connected returns the current state
	Connected() bool

	// Changed returns a channel that is closed on the next state change
	Changed() <-chan struct{}
}
