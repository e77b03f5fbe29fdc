// ABOUTME: Structural validation of raw JSON-RPC 2.0 messages
// ABOUTME: Total over arbitrary input: every failure is a SchemaError naming the field

package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// object is a decoded JSON object whose member values stay raw, so that
// presence and explicit null can be told apart.
type object map[string]json.RawMessage

func parseObject(raw []byte) (object, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &SchemaError{Reason: "message must be a JSON object"}
	}
	var obj object
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, &SchemaError{Reason: "message must be a JSON object"}
	}
	return obj, nil
}

// ValidateRequest checks that raw is a well-formed request.
func ValidateRequest(raw []byte) error {
	obj, err := parseObject(raw)
	if err != nil {
		return err
	}
	return obj.validateRequest()
}

// ValidateNotification checks that raw is a well-formed notification.
func ValidateNotification(raw []byte) error {
	obj, err := parseObject(raw)
	if err != nil {
		return err
	}
	return obj.validateNotification()
}

// ValidateResponse checks that raw is a well-formed response.
func ValidateResponse(raw []byte) error {
	obj, err := parseObject(raw)
	if err != nil {
		return err
	}
	return obj.validateResponse()
}

func (o object) validateRequest() error {
	if err := o.checkVersion(); err != nil {
		return err
	}
	if err := o.checkMethod(); err != nil {
		return err
	}
	if err := o.checkParams(); err != nil {
		return err
	}
	// Any id value is accepted here; ids that do not decode become null.
	if _, ok := o["id"]; !ok {
		return &SchemaError{Field: "id", Reason: "is required"}
	}
	return nil
}

func (o object) validateNotification() error {
	if err := o.checkVersion(); err != nil {
		return err
	}
	if err := o.checkMethod(); err != nil {
		return err
	}
	if err := o.checkParams(); err != nil {
		return err
	}
	if _, ok := o["id"]; ok {
		return &SchemaError{Field: "id", Reason: "must be absent in a notification"}
	}
	return nil
}

func (o object) validateResponse() error {
	if err := o.checkVersion(); err != nil {
		return err
	}

	if _, ok := o["id"]; !ok {
		return &SchemaError{Field: "id", Reason: "is required"}
	}

	_, hasResult := o["result"]
	errRaw, hasError := o["error"]
	switch {
	case hasResult && hasError:
		return &SchemaError{Reason: "response must not contain both result and error"}
	case !hasResult && !hasError:
		return &SchemaError{Reason: "response must contain result or error"}
	case hasError:
		return validateErrorObject(errRaw)
	}
	return nil
}

func validateErrorObject(raw json.RawMessage) error {
	var eo object
	if err := json.Unmarshal(raw, &eo); err != nil || eo == nil {
		return &SchemaError{Field: "error", Reason: "must be an object"}
	}
	code, ok := eo["code"]
	if !ok || !isInteger(code) {
		return &SchemaError{Field: "error.code", Reason: "must be an integer"}
	}
	msg, ok := eo["message"]
	if !ok || !isString(msg) {
		return &SchemaError{Field: "error.message", Reason: "must be a string"}
	}
	return nil
}

func (o object) checkVersion() error {
	raw, ok := o["jsonrpc"]
	if !ok {
		return &SchemaError{Field: "jsonrpc", Reason: "is required"}
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil || v != Version {
		return &SchemaError{Field: "jsonrpc", Reason: `must be exactly "2.0"`}
	}
	return nil
}

func (o object) checkMethod() error {
	raw, ok := o["method"]
	if !ok {
		return &SchemaError{Field: "method", Reason: "is required"}
	}
	var m string
	if err := json.Unmarshal(raw, &m); err != nil || !isString(raw) {
		return &SchemaError{Field: "method", Reason: "must be a string"}
	}
	if m == "" {
		return &SchemaError{Field: "method", Reason: "must not be empty"}
	}
	return nil
}

func (o object) checkParams() error {
	raw, ok := o["params"]
	if !ok {
		return nil
	}
	if !isStructured(raw) {
		return &SchemaError{Field: "params", Reason: "must be an object or array"}
	}
	return nil
}

func firstByte(raw []byte) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func isStructured(raw []byte) bool {
	b := firstByte(raw)
	return b == '{' || b == '['
}

func isString(raw []byte) bool {
	return firstByte(raw) == '"'
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isInteger(raw []byte) bool {
	var id ID
	b := firstByte(raw)
	if b != '-' && (b < '0' || b > '9') {
		return false
	}
	return id.UnmarshalJSON(raw) == nil
}
