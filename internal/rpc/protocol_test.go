package rpc

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/outlook-mcp/internal/mailstore"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantErr  int
		method   string
		notify   bool
		idString string
	}{
		{
			name:     "string id",
			frame:    `{"jsonrpc":"2.0","id":"req-1","method":"get_folders","params":{}}`,
			method:   "get_folders",
			idString: `"req-1"`,
		},
		{
			name:     "integer id",
			frame:    `{"jsonrpc":"2.0","id":42,"method":"get_folders"}`,
			method:   "get_folders",
			idString: "42",
		},
		{
			name:   "notification has no id",
			frame:  `{"jsonrpc":"2.0","method":"send_email","params":{}}`,
			method: "send_email",
			notify: true,
		},
		{
			name:    "batch array rejected",
			frame:   `[{"jsonrpc":"2.0","id":1,"method":"get_folders"}]`,
			wantErr: CodeInvalidRequest,
		},
		{
			name:    "malformed json",
			frame:   `{"jsonrpc":"2.0","id":1,`,
			wantErr: CodeInvalidRequest,
		},
		{
			name:    "empty frame",
			frame:   "   ",
			wantErr: CodeInvalidRequest,
		},
		{
			name:    "bare scalar",
			frame:   `"hello"`,
			wantErr: CodeInvalidRequest,
		},
		{
			name:    "wrong version",
			frame:   `{"jsonrpc":"1.0","id":1,"method":"get_folders"}`,
			wantErr: CodeInvalidRequest,
		},
		{
			name:    "missing method",
			frame:   `{"jsonrpc":"2.0","id":1}`,
			wantErr: CodeInvalidRequest,
		},
		{
			name:    "null id rejected",
			frame:   `{"jsonrpc":"2.0","id":null,"method":"get_folders"}`,
			wantErr: CodeInvalidRequest,
		},
		{
			name:    "float id rejected",
			frame:   `{"jsonrpc":"2.0","id":1.5,"method":"get_folders"}`,
			wantErr: CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, errObj := Parse([]byte(tt.frame))
			if tt.wantErr != 0 {
				if errObj == nil {
					t.Fatalf("Parse succeeded, want code %d", tt.wantErr)
				}
				if errObj.Code != tt.wantErr {
					t.Errorf("Parse error code = %d, want %d", errObj.Code, tt.wantErr)
				}
				return
			}
			if errObj != nil {
				t.Fatalf("Parse: %v", errObj)
			}
			if req.Method != tt.method {
				t.Errorf("Method = %q, want %q", req.Method, tt.method)
			}
			if req.IsNotification() != tt.notify {
				t.Errorf("IsNotification = %t, want %t", req.IsNotification(), tt.notify)
			}
			if !tt.notify && req.ID.String() != tt.idString {
				t.Errorf("ID = %s, want %s", req.ID.String(), tt.idString)
			}
		})
	}
}

func TestIDEchoedVerbatim(t *testing.T) {
	for _, raw := range []string{`"abc"`, `17`, `"0017"`} {
		req, errObj := Parse([]byte(`{"jsonrpc":"2.0","id":` + raw + `,"method":"get_folders"}`))
		if errObj != nil {
			t.Fatalf("Parse(%s): %v", raw, errObj)
		}
		out, err := Encode(NewResponse(req.ID, map[string]any{"ok": true}))
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if !strings.Contains(string(out), `"id":`+raw) {
			t.Errorf("response %s does not echo id %s", out, raw)
		}
	}
}

func TestErrorResponseShape(t *testing.T) {
	var id ID
	if err := json.Unmarshal([]byte(`"req-9"`), &id); err != nil {
		t.Fatalf("unmarshal id: %v", err)
	}
	out, err := Encode(NewErrorResponse(&id, RateLimited(1500*time.Millisecond)))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded struct {
		JSONRPC string `json:"jsonrpc"`
		ID      string `json:"id"`
		Error   struct {
			Code int `json:"code"`
			Data struct {
				Type       string  `json:"type"`
				Details    string  `json:"details"`
				RetryAfter float64 `json:"retry_after"`
			} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if decoded.JSONRPC != "2.0" || decoded.ID != "req-9" {
		t.Errorf("envelope = %+v", decoded)
	}
	if decoded.Error.Code != CodeRateLimited {
		t.Errorf("code = %d, want %d", decoded.Error.Code, CodeRateLimited)
	}
	if decoded.Error.Data.Type != "RateLimitError" {
		t.Errorf("data.type = %q, want RateLimitError", decoded.Error.Data.Type)
	}
	if decoded.Error.Data.RetryAfter != 1.5 {
		t.Errorf("retry_after = %v, want 1.5", decoded.Error.Data.RetryAfter)
	}
}

func TestFromStoreError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		folder   bool
		wantCode int
		wantType string
	}{
		{"unavailable", mailstore.Errorf(mailstore.KindUnavailable, "probe", "down"), false, CodeUnavailable, "OutlookConnectionError"},
		{"transient maps to unavailable", mailstore.Errorf(mailstore.KindTransient, "list", "reset"), false, CodeUnavailable, "OutlookConnectionError"},
		{"email not found", mailstore.Errorf(mailstore.KindNotFound, "get_email", "no such id"), false, CodeNotFound, "EmailNotFoundError"},
		{"folder not found", mailstore.Errorf(mailstore.KindNotFound, "list_emails", "no such folder"), true, CodeNotFound, "FolderNotFoundError"},
		{"permission denied", mailstore.Errorf(mailstore.KindPermissionDenied, "list_emails", "refused"), false, CodePermissionDenied, "PermissionError"},
		{"timeout", mailstore.Errorf(mailstore.KindTimeout, "get_email", "deadline"), false, CodeTimeout, "TimeoutError"},
		{"invalid argument", mailstore.Errorf(mailstore.KindInvalidArgument, "send", "bad address"), false, CodeInvalidParams, "ValidationError"},
		{"unknown error is internal", errForTest{}, false, CodeInternalError, "InternalError"},
		{"wire error passes through", SearchFailed("index offline"), false, CodeSearchFailed, "SearchError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eo := FromStoreError(tt.err, tt.folder)
			if eo.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", eo.Code, tt.wantCode)
			}
			if eo.Data == nil || eo.Data.Type != tt.wantType {
				t.Errorf("data.type = %v, want %s", eo.Data, tt.wantType)
			}
		})
	}
}

type errForTest struct{}

func (errForTest) Error() string { return "boom" }

func TestSessionStateMachine(t *testing.T) {
	s := NewSession()
	if s.State() != SessionNew {
		t.Fatalf("State = %v, want new", s.State())
	}

	// Operations before the handshake are rejected.
	if eo := s.RequireReady(); eo == nil || eo.Code != CodeSessionUninitialized {
		t.Errorf("RequireReady before handshake = %v, want session_uninitialized", eo)
	}

	if eo := s.BeginInitialize("test-client", "1.0"); eo != nil {
		t.Fatalf("BeginInitialize: %v", eo)
	}
	if s.State() != SessionInitializing {
		t.Errorf("State = %v, want initializing", s.State())
	}

	// A second handshake is an error.
	if eo := s.BeginInitialize("again", "2.0"); eo == nil {
		t.Error("second BeginInitialize succeeded")
	}

	s.CompleteInitialize()
	if s.State() != SessionReady {
		t.Errorf("State = %v, want ready", s.State())
	}
	if eo := s.RequireReady(); eo != nil {
		t.Errorf("RequireReady when ready = %v", eo)
	}
	if name, version := s.Client(); name != "test-client" || version != "1.0" {
		t.Errorf("Client = %q, %q", name, version)
	}

	s.BeginClose()
	if eo := s.RequireReady(); eo == nil {
		t.Error("RequireReady while closing succeeded")
	}
	s.Close()
	if s.State() != SessionClosed {
		t.Errorf("State = %v, want closed", s.State())
	}
}
