package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestRequestIDUnmarshal(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantNil bool
		wantStr string
	}{
		{name: "integer", input: `7`, wantStr: "7"},
		{name: "float", input: `1.5`, wantStr: "1.5"},
		{name: "string", input: `"abc"`, wantStr: "abc"},
		{name: "null is absent, not zero", input: `null`, wantNil: true, wantStr: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var id RequestID
			if err := json.Unmarshal([]byte(tc.input), &id); err != nil {
				t.Fatalf("unmarshal %q: %v", tc.input, err)
			}
			if id.IsNil() != tc.wantNil {
				t.Fatalf("IsNil() = %v, want %v", id.IsNil(), tc.wantNil)
			}
			if got := id.String(); got != tc.wantStr {
				t.Fatalf("String() = %q, want %q", got, tc.wantStr)
			}
		})
	}

	var id RequestID
	if err := json.Unmarshal([]byte(`true`), &id); err == nil {
		t.Fatal("expected an error for a boolean id")
	}
}

func TestRequestNullIDIsNotification(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"ping","id":null}`), &req); err != nil {
		t.Fatal(err)
	}
	if !req.IsNotification() {
		t.Fatal("a literal null id must be treated as a notification")
	}

	var withID Request
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"ping","id":0}`), &withID); err != nil {
		t.Fatal(err)
	}
	if withID.IsNotification() {
		t.Fatal("id 0 is a real id, not a notification")
	}
}

func TestRequestUnmarshalValidatesFraming(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{name: "wrong version", input: `{"jsonrpc":"1.0","method":"ping","id":1}`},
		{name: "missing method", input: `{"jsonrpc":"2.0","id":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var req Request
			if err := json.Unmarshal([]byte(tc.input), &req); err == nil {
				t.Fatalf("expected framing error for %s", tc.input)
			}
		})
	}
}

func TestErrorResponseCarriesErrorMember(t *testing.T) {
	resp := NewErrorResponse(nil, CodeParseError, "Parse error")
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if errBody, ok := raw["error"]; !ok || string(errBody) == "" {
		t.Fatal("expected an error member")
	}
}
