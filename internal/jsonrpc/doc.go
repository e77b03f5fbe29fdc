// Package jsonrpc implements JSON-RPC 2.0 message construction, validation and
// decoding.
//
// # Message Kinds
//
// Four shapes travel on the wire:
//
//   - Request: {"jsonrpc":"2.0","method":"m","params":{...},"id":1}
//   - Notification: a request without "id"; it never receives a reply
//   - Response: {"jsonrpc":"2.0","result":...,"id":1} or with "error" instead of "result"
//   - Batch: a JSON array of any of the above
//
// # Validation
//
// ValidateRequest, ValidateResponse and ValidateNotification inspect raw JSON
// structurally and return a *SchemaError naming the offending field. They never
// panic on malformed input.
//
// # Decoding
//
// Decode classifies a payload. Batch elements are classified independently, so
// one invalid element yields a per-element error and the rest are processed
// normally. Malformed JSON yields a *Error with CodeParseError.
package jsonrpc
