package proto

import (
	"encoding/json"
	"fmt"
)

// Response status codes.
const (
	StatusOK       = 0
	StatusFailure  = 1 // missing route, unparseable request, serialization failure
	StatusUncaught = 2 // fault raised inside a handler chain
)

// Close codes shared by every transport. The values match RFC 6455.
const (
	CloseNormalClosure   = 1000
	CloseAbnormalClosure = 1006
)

// Request is the client→server envelope.
type Request struct {
	ID    string          `json:"_rid"`           // correlation id generated by the client
	Route string          `json:"route"`          // route name resolved by the server
	Data  json.RawMessage `json:"data,omitempty"` // arbitrary request payload
}

// Response is the server→client envelope. A response to a request echoes the
// request's ID; a broadcast leaves ID empty and carries the event name in
// Message.
type Response struct {
	ID      string          `json:"_rid,omitempty"`
	Route   string          `json:"route,omitempty"`
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (r Response) OK() bool {
	return r.Status == StatusOK
}

// Bind decodes the response data into v.
func (r Response) Bind(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("invalid response data: %w", err)
	}
	return nil
}

// Key returns the listener key of the response: the correlation id when one is
// present, otherwise the event name.
func (r Response) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Message
}

// NewRequest builds a request envelope, marshalling data.
func NewRequest(id, route string, data any) (Request, error) {
	if data == nil {
		data = struct{}{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Request{}, fmt.Errorf("failed to marshal request data: %w", err)
	}
	return Request{ID: id, Route: route, Data: raw}, nil
}

// SerializationFailure is sent in place of a response whose payload could not
// be encoded.
func SerializationFailure(id string, err error) Response {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return Response{
		ID:      id,
		Status:  StatusFailure,
		Message: "Failed to serialize message",
		Data:    data,
	}
}

// ParseFailure is sent when an incoming request is not valid JSON.
func ParseFailure(err error) Response {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return Response{
		Status:  StatusFailure,
		Message: "Failed to parse JSON",
		Data:    data,
	}
}

// Encode marshals a response. When the marshal fails the minimal serialization
// failure envelope for the same id is encoded instead, along with the original
// error.
func Encode(resp Response) ([]byte, error) {
	b, err := json.Marshal(resp)
	if err == nil {
		return b, nil
	}
	fallback, ferr := json.Marshal(SerializationFailure(resp.ID, err))
	if ferr != nil {
		// Cannot happen: the fallback only contains strings.
		return nil, ferr
	}
	return fallback, err
}
