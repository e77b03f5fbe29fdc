// ABOUTME: Constructors for well-formed JSON-RPC 2.0 requests, notifications and responses
// ABOUTME: Generated requests get a random UUID id; absent params are omitted

package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidParams is returned when params do not encode to a JSON object or array.
var ErrInvalidParams = errors.New("params must be an object or array")

// NewRequest builds a request with a freshly generated UUID id.
func NewRequest(method string, params any) (*Request, error) {
	return NewRequestWithID(method, params, StringID(uuid.New().String()))
}

// NewRequestWithID builds a request with the given id. A nil params is omitted.
func NewRequestWithID(method string, params any, id ID) (*Request, error) {
	if method == "" {
		return nil, errors.New("method is required")
	}
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, Method: method, Params: raw, ID: id}, nil
}

// NewNotification builds a notification. A nil params is omitted.
func NewNotification(method string, params any) (*Notification, error) {
	if method == "" {
		return nil, errors.New("method is required")
	}
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResponse builds a success response. A nil result is encoded as null.
func NewResponse(result any, id ID) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return &Response{JSONRPC: Version, Result: raw, ID: id}, nil
}

// NewErrorResponse builds an error response. A nil data is omitted.
func NewErrorResponse(code int, message string, id ID, data any) *Response {
	if message == "" {
		message = StandardMessage(code)
	}
	return &Response{
		JSONRPC: Version,
		Error:   &Error{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

// ErrorResponse wraps an existing error object in a response.
func ErrorResponse(err *Error, id ID) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: id}
}

// NewBatch wraps messages in a batch, preserving their order.
func NewBatch(msgs ...any) Batch {
	return Batch(msgs)
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}

	var raw json.RawMessage
	switch p := params.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = json.RawMessage(p)
	default:
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding params: %w", err)
		}
		raw = b
	}

	if isNull(raw) {
		return nil, nil
	}
	if !isStructured(raw) {
		return nil, ErrInvalidParams
	}
	return raw, nil
}
