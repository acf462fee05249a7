package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/toolwire/mcp-client-go/internal/errors"
)

// Version is the JSON-RPC protocol version carried by every envelope.
const Version = "2.0"

// MCPVersion is the MCP protocol revision offered during the handshake.
const MCPVersion = "2025-06-18"

// Method names understood by this client.
const (
	MethodInitialize    = "initialize"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodPromptsList   = "prompts/list"
	MethodPromptsGet    = "prompts/get"

	NotificationInitialized      = "notifications/initialized"
	NotificationProgress         = "notifications/progress"
	NotificationCancelled        = "notifications/cancelled"
	NotificationResourcesUpdated = "notifications/resources/updated"
	NotificationPromptsUpdated   = "notifications/prompts/updated"
)

// RequestID is a JSON-RPC request id. The wire allows both strings and
// numbers; ids generated locally are always ULID strings, but responses and
// peer-initiated requests may carry either form.
type RequestID struct {
	value  string
	number bool
}

// StringID creates a string-form request id.
func StringID(s string) RequestID {
	return RequestID{value: s}
}

// String returns the canonical form used as the correlation key.
func (id RequestID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id RequestID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.number {
		return []byte(id.value), nil
	}

	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler, accepting strings and numbers.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		id.value = s
		id.number = false

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		id.value = n.String()
		id.number = true

		return nil
	}

	return fmt.Errorf("request id must be a string or number, got %s", strconv.Quote(string(data)))
}

// ErrorObject is the error member of a response envelope.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Err converts the wire error into the typed RPC error surfaced to callers.
func (e *ErrorObject) Err() error {
	return &errors.RPCError{Code: e.Code, Message: e.Message, Data: e.Data}
}

// Envelope is a single protocol message. Three shapes exist:
//
//   - request: id and method present
//   - response: id and result-or-error present, no method
//   - notification: method present, no id
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// NewRequest builds a request envelope. params may be nil.
func NewRequest(id string, method string, params any) (*Envelope, error) {
	env := &Envelope{
		JSONRPC: Version,
		ID:      &RequestID{value: id},
		Method:  method,
	}

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}

		env.Params = raw
	}

	return env, nil
}

// NewNotification builds a notification envelope. params may be nil.
func NewNotification(method string, params any) (*Envelope, error) {
	env := &Envelope{
		JSONRPC: Version,
		Method:  method,
	}

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}

		env.Params = raw
	}

	return env, nil
}

// IsRequest reports whether the envelope is a peer request (id and method).
func (e *Envelope) IsRequest() bool {
	return e.ID != nil && !e.ID.IsZero() && e.Method != ""
}

// IsResponse reports whether the envelope is a response (id, no method).
func (e *Envelope) IsResponse() bool {
	return e.ID != nil && !e.ID.IsZero() && e.Method == ""
}

// IsNotification reports whether the envelope is a notification (method, no id).
func (e *Envelope) IsNotification() bool {
	return (e.ID == nil || e.ID.IsZero()) && e.Method != ""
}
