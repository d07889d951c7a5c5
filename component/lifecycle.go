package component

// State represents the current lifecycle state of a component manager.
type State int

const (
	// StateInitializing indicates the manager is being constructed
	StateInitializing State = iota
	// StateReady indicates construction completed and Serve may be called
	StateReady
	// StateServing indicates the manager is in its wait loop answering requests
	StateServing
	// StateShuttingDown indicates the stop signal was observed and shutdown is running
	StateShuttingDown
	// StateStopped indicates shutdown completed; there is no way back
	StateStopped
)

// String returns a string representation of the manager state
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateServing:
		return "serving"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
