// Package rpc implements the JSON-RPC 2.0 envelope, the wire error
// table, and the per-connection session state machine.
package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only accepted jsonrpc version string.
const Version = "2.0"

// ID is a request identifier. JSON-RPC allows strings and integers; the
// raw form is preserved so responses echo the id exactly as received.
type ID struct {
	raw json.RawMessage
}

// UnmarshalJSON accepts string and integer ids.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("id must be a string or integer")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
	default:
		var n int64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("id must be a string or integer")
		}
	}
	id.raw = append(id.raw[:0], trimmed...)
	return nil
}

// MarshalJSON emits the id exactly as it arrived.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.raw == nil {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// String renders the id for logging.
func (id ID) String() string {
	if id.raw == nil {
		return "<none>"
	}
	return string(id.raw)
}

// Request is one decoded JSON-RPC request. A nil ID marks a
// notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool { return r.ID == nil }

// Response is one JSON-RPC response. Exactly one of Result and Error is
// set.
type Response struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      *ID          `json:"id"`
	Result  any          `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}

// NewResponse builds a success response echoing the request id.
func NewResponse(id *ID, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse builds an error response echoing the request id.
func NewErrorResponse(id *ID, errObj *ErrorObject) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: errObj}
}

// Parse decodes one frame into a request. Malformed JSON, batch arrays,
// and envelope violations all yield an invalid_request error; the
// returned request is nil in that case.
func Parse(frame []byte) (*Request, *ErrorObject) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, InvalidRequest("empty frame")
	}
	if trimmed[0] == '[' {
		return nil, InvalidRequest("batch requests are not supported")
	}
	if trimmed[0] != '{' {
		return nil, InvalidRequest("frame is not a JSON object")
	}

	var req Request
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&req); err != nil {
		return nil, InvalidRequest("malformed request: " + err.Error())
	}
	if req.JSONRPC != Version {
		return nil, InvalidRequest(`jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return nil, InvalidRequest("method is required")
	}
	return &req, nil
}

// Encode renders a response as one JSON object with no trailing newline.
func Encode(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}
