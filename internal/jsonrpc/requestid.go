package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// RequestID is a JSON-RPC id, which may be a string or a number. The
// zero value (and a nil pointer) represent the absent id of a
// notification.
type RequestID struct {
	value any
}

// NewRequestID wraps a string or numeric value as a request id.
func NewRequestID(value any) *RequestID {
	switch value.(type) {
	case string, int, int32, int64, float64:
		return &RequestID{value: value}
	default:
		return &RequestID{}
	}
}

// IsNil reports whether the id is absent.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// String renders the id for logging. Absent ids render as "".
func (id *RequestID) String() string {
	if id.IsNil() {
		return ""
	}
	if s, ok := id.value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", id.value)
}

func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	// A literal null id means a notification, not id 0: json.Unmarshal
	// into *float64 leaves the value untouched for null, so it has to
	// be checked before the number branch.
	if string(data) == "null" {
		id.value = nil
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}
	return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
}
