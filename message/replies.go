package message

// StartedComponentInformation is the successful reply to a start request,
// most importantly communicating the output channel the component publishes
// its data to.
//
// RequestID is a per-reply correlation identity. When a singleton manager
// serves a cached reply to several requesters, each receives a distinct copy
// so that stamping one requester's RequestID never leaks into another's.
type StartedComponentInformation struct {
	OutputChannel string `json:"output_channel"`
	IsSingleton   bool   `json:"is_singleton"`
	RequestID     string `json:"request_id,omitempty"`
}

// Copy returns a distinct value with the same field contents.
func (i *StartedComponentInformation) Copy() *StartedComponentInformation {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// IgnoreRequestMessage is the reply for a component name the manager has no
// registration for. The registry and active list are untouched.
type IgnoreRequestMessage struct{}

// NotStartedMessage is the reply for a component that failed to start,
// wrapping the failure cause.
type NotStartedMessage struct {
	Cause string `json:"cause"`
}

// NewNotStarted builds a NotStartedMessage from an error.
func NewNotStarted(err error) *NotStartedMessage {
	if err == nil {
		return &NotStartedMessage{}
	}
	return &NotStartedMessage{Cause: err.Error()}
}

// SuccessMessage is the generic acknowledgement, used to answer a stop
// request. A request must always receive a reply, even one that causes
// shutdown.
type SuccessMessage struct{}
