package netlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType tags a NetworkEvent.
type EventType string

const (
	EventRequest  EventType = "request"
	EventResponse EventType = "response"
)

// TimestampLayout is UTC with millisecond precision, e.g. 2024-05-01T13:04:05.123Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// NetworkEvent is one observed request or response. Method is only set for
// requests; Status and Data only for responses. Data holds the body verbatim
// when it was valid JSON.
type NetworkEvent struct {
	Type      EventType
	Method    string
	URL       string
	Status    int
	Data      json.RawMessage
	Timestamp time.Time
}

type requestJSON struct {
	Type      EventType `json:"type"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Timestamp string    `json:"timestamp"`
}

type responseJSON struct {
	Type      EventType       `json:"type"`
	Status    int             `json:"status"`
	URL       string          `json:"url"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// MarshalJSON writes the per-variant shape so requests never carry status
// and responses never carry method.
func (e NetworkEvent) MarshalJSON() ([]byte, error) {
	ts := e.Timestamp.UTC().Format(TimestampLayout)
	switch e.Type {
	case EventRequest:
		return json.Marshal(requestJSON{Type: e.Type, Method: e.Method, URL: e.URL, Timestamp: ts})
	case EventResponse:
		return json.Marshal(responseJSON{Type: e.Type, Status: e.Status, URL: e.URL, Data: e.Data, Timestamp: ts})
	default:
		return nil, fmt.Errorf("netlog: unknown event type %q", e.Type)
	}
}

// ErrNotJSON marks a body that was read fine but is not JSON.
var ErrNotJSON = errors.New("response body is not valid JSON")

// DecodeError reports a response whose body could not be turned into data.
// It is never fatal; the event is kept without Data.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response body from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
