// ABOUTME: JSON-RPC 2.0 message types and the request identifier
// ABOUTME: ID distinguishes string, integer and null identifiers on the wire

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// Version is the only protocol version accepted.
const Version = "2.0"

type idKind uint8

const (
	idNull idKind = iota
	idString
	idNumber
)

// ID is a request identifier: a string, an integer, or null. The zero value is null.
type ID struct {
	kind idKind
	str  string
	num  int64
}

// StringID returns a string identifier.
func StringID(s string) ID { return ID{kind: idString, str: s} }

// IntID returns an integer identifier.
func IntID(n int64) ID { return ID{kind: idNumber, num: n} }

// NullID returns the null identifier used when a request id cannot be determined.
func NullID() ID { return ID{} }

// IsNull reports whether the id is null.
func (id ID) IsNull() bool { return id.kind == idNull }

// String returns a printable form, suitable for logs and map keys.
func (id ID) String() string {
	switch id.kind {
	case idString:
		return strconv.Quote(id.str)
	case idNumber:
		return strconv.FormatInt(id.num, 10)
	default:
		return "null"
	}
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idString:
		return json.Marshal(id.str)
	case idNumber:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	default:
		return []byte("null"), nil
	}
}

var errInvalidID = errors.New("id must be a string, an integer or null")

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = NullID()
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	default:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return errInvalidID
		}
		*id = IntID(n)
		return nil
	}
}

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

// Notification represents a JSON-RPC 2.0 request without an id.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// Batch is an ordered list of messages sent as one JSON array.
type Batch []any
