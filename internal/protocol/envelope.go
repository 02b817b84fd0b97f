// Package protocol defines the JSON envelope exchanged between chat clients
// and the relay, along with the nested chat record carried by message frames.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode is returned (wrapped) for any frame that cannot be decoded into an Envelope.
var ErrDecode = errors.New("protocol: decode failed")

// Kind is the envelope's messageType tag.
type Kind string

const (
	KindRegister Kind = "register"
	KindTyping   Kind = "typing"
	KindMessage  Kind = "message"
	KindUsers    Kind = "users"
)

// Known reports whether k is one of the kinds the relay understands.
// Unknown kinds still decode so newer clients do not break the relay.
func (k Kind) Known() bool {
	switch k {
	case KindRegister, KindTyping, KindMessage, KindUsers:
		return true
	}
	return false
}

// Envelope is the wire message. At most one of Data and DataArray is set.
type Envelope struct {
	Kind      Kind     `json:"messageType"`
	Data      *string  `json:"data"`
	DataArray []string `json:"dataArray"`
}

// Payload returns the scalar payload and whether it was present.
func (e Envelope) Payload() (string, bool) {
	if e.Data == nil {
		return "", false
	}
	return *e.Data, true
}

// Decode parses a client frame.
func Decode(raw []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: not a JSON object", ErrDecode)
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.Kind == "" {
		return Envelope{}, fmt.Errorf("%w: missing messageType", ErrDecode)
	}
	return env, nil
}

// Encode serializes an envelope. Users envelopes always carry an array.
func Encode(env Envelope) []byte {
	if env.Kind == KindUsers && env.DataArray == nil {
		env.DataArray = []string{}
	}
	// Marshal cannot fail: every field is a string, string pointer or string slice.
	out, _ := json.Marshal(env)
	return out
}

// Frame returns the encoded envelope as an immutable string.
func (e Envelope) Frame() string {
	return string(Encode(e))
}

func scalar(kind Kind, data string) Envelope {
	return Envelope{Kind: kind, Data: &data}
}

// Register builds the client frame announcing a display name.
func Register(name string) Envelope { return scalar(KindRegister, name) }

// Typing builds a typing notice for name.
func Typing(name string) Envelope { return scalar(KindTyping, name) }

// Text builds a client-origin message frame carrying raw text.
func Text(text string) Envelope { return scalar(KindMessage, text) }

// Message builds the server-origin message frame with the record nested as JSON.
func Message(rec ChatRecord) Envelope { return scalar(KindMessage, EncodeRecord(rec)) }

// Users builds a roster frame.
func Users(names []string) Envelope {
	roster := make([]string, len(names))
	copy(roster, names)
	return Envelope{Kind: KindUsers, DataArray: roster}
}
