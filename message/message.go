// Package message defines the typed request and reply carriers exchanged
// between users and the device component manager over the bus.
//
// Messages travel as JSON envelopes. The envelope carries identity and
// correlation metadata; the payload is a kind-specific document. Payloads
// addressed to the manager are opaque beyond the fields defined here - in
// particular a component's configuration blob passes through the manager
// untouched.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/WouterBesse/social-interaction-cloud/errors"
)

// Kind identifies the payload type carried by an envelope.
type Kind string

// Request and reply kinds understood by the component manager.
const (
	// KindStartRequest asks the manager to start a named component.
	KindStartRequest Kind = "component.start_request"
	// KindStopRequest asks the manager itself to shut down.
	KindStopRequest Kind = "manager.stop_request"
	// KindStarted reports a successfully started (or reused) component.
	KindStarted Kind = "component.started"
	// KindIgnored reports that the requested component is not registered here.
	KindIgnored Kind = "component.request_ignored"
	// KindNotStarted reports a component that failed to start.
	KindNotStarted Kind = "component.not_started"
	// KindSuccess is the generic acknowledgement reply.
	KindSuccess Kind = "manager.success"
)

// Envelope is the wire form of every message on the bus. ID is unique per
// message; replies echo the request's ID in RequestID so callers can
// correlate them.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Source    string          `json:"source,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps a payload into a fresh envelope with a generated ID.
func NewEnvelope(kind Kind, source string, payload any) (*Envelope, error) {
	env := &Envelope{
		ID:        uuid.New().String(),
		Kind:      kind,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Envelope", "NewEnvelope", "marshal payload")
		}
		env.Payload = data
	}

	return env, nil
}

// NewReply wraps a payload into a reply envelope correlated to the given
// request.
func NewReply(kind Kind, source string, request *Envelope, payload any) (*Envelope, error) {
	env, err := NewEnvelope(kind, source, payload)
	if err != nil {
		return nil, err
	}
	if request != nil {
		env.RequestID = request.ID
	}
	return env, nil
}

// Encode serializes the envelope for transmission.
func (e *Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "Encode", "marshal envelope")
	}
	return data, nil
}

// Decode parses an envelope from its wire form.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "Decode", "unmarshal envelope")
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Validate checks the envelope's required metadata.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Envelope", "Validate", "missing id")
	}
	if e.Kind == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Envelope", "Validate", "missing kind")
	}
	return nil
}

// DecodePayload unmarshals the envelope payload into dst after checking the
// envelope carries the expected kind.
func (e *Envelope) DecodePayload(kind Kind, dst any) error {
	if e.Kind != kind {
		return errors.WrapInvalid(
			fmt.Errorf("%w: have %q, want %q", errors.ErrUnknownKind, e.Kind, kind),
			"Envelope", "DecodePayload", "kind check")
	}
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return errors.WrapInvalid(err, "Envelope", "DecodePayload", "unmarshal payload")
	}
	return nil
}
