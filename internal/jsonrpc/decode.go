// ABOUTME: Payload decoding: splits batches and classifies each message independently
// ABOUTME: Builds the wire reply, omitting slots that belong to notifications

package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Kind classifies a decoded message.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Message is one classified element of a payload.
type Message struct {
	Kind         Kind
	Request      *Request
	Notification *Notification
	Response     *Response

	// Err is set for KindInvalid and explains why the element was rejected.
	Err error
	// ID is the element's id when one could be recovered, null otherwise.
	ID  ID
	Raw json.RawMessage
}

// Payload is a decoded HTTP body: a single message or a batch.
type Payload struct {
	Batch    bool
	Messages []Message
}

// Decode parses a payload. Malformed JSON returns a *Error with
// CodeParseError; an empty batch returns CodeInvalidRequest. Structurally
// invalid elements are reported per element and do not fail the payload.
func Decode(data []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, NewError(CodeParseError, "empty payload")
	}
	if !json.Valid(trimmed) {
		return nil, NewError(CodeParseError, "invalid JSON")
	}

	if trimmed[0] != '[' {
		return &Payload{Messages: []Message{Classify(trimmed)}}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, NewError(CodeParseError, err.Error())
	}
	if len(elems) == 0 {
		return nil, NewError(CodeInvalidRequest, "empty batch")
	}

	p := &Payload{Batch: true, Messages: make([]Message, len(elems))}
	for i, raw := range elems {
		p.Messages[i] = Classify(raw)
	}
	return p, nil
}

// Classify decides what kind of message raw is and validates it as that kind.
func Classify(raw json.RawMessage) Message {
	msg := Message{Raw: raw}

	obj, err := parseObject(raw)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.ID = recoverID(obj)

	_, hasMethod := obj["method"]
	_, hasID := obj["id"]
	_, hasResult := obj["result"]
	_, hasError := obj["error"]

	switch {
	case hasMethod && hasID:
		if err := obj.validateRequest(); err != nil {
			msg.Err = err
			return msg
		}
		msg.Kind = KindRequest
		msg.Request = &Request{
			JSONRPC: Version,
			Method:  obj.method(),
			Params:  obj["params"],
			ID:      msg.ID,
		}

	case hasMethod:
		if err := obj.validateNotification(); err != nil {
			msg.Err = err
			return msg
		}
		msg.Kind = KindNotification
		msg.Notification = &Notification{
			JSONRPC: Version,
			Method:  obj.method(),
			Params:  obj["params"],
		}

	case hasResult || hasError:
		if err := obj.validateResponse(); err != nil {
			msg.Err = err
			return msg
		}
		resp := &Response{JSONRPC: Version, ID: msg.ID}
		if errRaw, ok := obj["error"]; ok {
			var rpcErr Error
			if err := json.Unmarshal(errRaw, &rpcErr); err != nil {
				msg.Err = &SchemaError{Field: "error", Reason: err.Error()}
				return msg
			}
			resp.Error = &rpcErr
		} else {
			resp.Result = obj["result"]
		}
		msg.Kind, msg.Response = KindResponse, resp

	default:
		msg.Err = &SchemaError{Reason: "message must contain method, result or error"}
	}

	return msg
}

func (o object) method() string {
	var m string
	_ = json.Unmarshal(o["method"], &m)
	return m
}

// recoverID decodes the id member. Missing ids and values that are not a
// string or an integer yield null.
func recoverID(obj object) ID {
	raw, ok := obj["id"]
	if !ok {
		return NullID()
	}
	var id ID
	if err := id.UnmarshalJSON(raw); err != nil {
		return NullID()
	}
	return id
}

// InvalidResponse returns the error reply for a message that failed validation.
func (m Message) InvalidResponse() *Response {
	reason := "invalid message"
	if m.Err != nil {
		reason = m.Err.Error()
	}
	return NewErrorResponse(CodeInvalidRequest, "", m.ID, reason)
}

// EncodeReply marshals the replies for a payload. Nil entries (notification
// slots) are skipped. It returns nil when nothing needs to be sent.
func EncodeReply(batch bool, responses []*Response) ([]byte, error) {
	out := make([]*Response, 0, len(responses))
	for _, r := range responses {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	if !batch {
		return json.Marshal(out[0])
	}
	return json.Marshal(out)
}
