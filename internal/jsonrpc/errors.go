// ABOUTME: JSON-RPC 2.0 error object, standard error codes and schema errors
// ABOUTME: Error doubles as a Go error so handlers can return protocol failures directly

package jsonrpc

import "fmt"

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Server error codes (reserved range -32000 to -32099)
const (
	CodeShuttingDown   = -32000
	CodeRequestTimeout = -32001
)

var standardMessages = map[int]string{
	CodeParseError:     "Parse error",
	CodeInvalidRequest: "Invalid Request",
	CodeMethodNotFound: "Method not found",
	CodeInvalidParams:  "Invalid params",
	CodeInternalError:  "Internal error",
	CodeShuttingDown:   "Server shutting down",
	CodeRequestTimeout: "Request timed out",
}

// StandardMessage returns the canonical message for a known code, or
// "Server error" for anything else.
func StandardMessage(code int) string {
	if msg, ok := standardMessages[code]; ok {
		return msg
	}
	return "Server error"
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewError creates an error with the standard message for code.
func NewError(code int, data any) *Error {
	return &Error{Code: code, Message: StandardMessage(code), Data: data}
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// SchemaError reports a message that is not structurally valid JSON-RPC 2.0.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
