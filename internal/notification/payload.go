// Package notification defines the change notifications pushed to connected consoles.
package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/goevery/livefeed/internal/ierr"
)

type Type string

const (
	TypeConnected       Type = "connected"
	TypeVouchersUpdated Type = "vouchersUpdated"
)

// Known reports whether t is one of the types this build understands.
func (t Type) Known() bool {
	switch t {
	case TypeConnected, TypeVouchersUpdated:
		return true
	default:
		return false
	}
}

// Announceable reports whether t may be broadcast by a publisher.
// The connected greeting is private to a single connection.
func (t Type) Announceable() bool {
	return t == TypeVouchersUpdated
}

type Payload struct {
	Type      Type   `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
	ClientId  string `json:"clientId,omitempty"`
}

func New(eventType Type, now time.Time) Payload {
	return Payload{
		Type:      eventType,
		Timestamp: now.UnixMilli(),
	}
}

func Connected(clientId string) Payload {
	return Payload{
		Type:     TypeConnected,
		ClientId: clientId,
	}
}

func (p Payload) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

func Encode(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

var (
	dataPrefix = []byte("data: ")
	terminator = []byte("\n\n")
)

// Frame wraps an encoded payload as a single server-sent event.
func Frame(data []byte) []byte {
	frame := make([]byte, 0, len(dataPrefix)+len(data)+len(terminator))
	frame = append(frame, dataPrefix...)
	frame = append(frame, data...)
	frame = append(frame, terminator...)

	return frame
}

// Decode parses a payload received from the stream. Unknown types are returned
// as-is so callers can decide to ignore them.
func Decode(data []byte) (Payload, error) {
	var p Payload

	decoder := json.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&p); err != nil {
		return Payload{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	if p.Type == "" {
		return Payload{}, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("payload has no type"))
	}

	return p, nil
}
