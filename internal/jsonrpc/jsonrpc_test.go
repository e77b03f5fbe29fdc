// ABOUTME: Tests for JSON-RPC message builders, validators and payload decoding
// ABOUTME: Covers id handling, schema failures, batch classification and reply encoding

package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestNewRequest_GeneratesUUID(t *testing.T) {
	req, err := NewRequest("tools/list", nil)
	require.NoError(t, err)

	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, "tools/list", req.Method)
	assert.Nil(t, req.Params)

	var id string
	require.NoError(t, json.Unmarshal(mustMarshal(t, req.ID), &id))
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	other, err := NewRequest("tools/list", nil)
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, other.ID)
}

func TestNewRequest_OmitsAbsentParams(t *testing.T) {
	req, err := NewRequestWithID("ping", nil, IntID(1))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"ping","id":1}`, string(mustMarshal(t, req)))

	var nilMap map[string]any
	req, err = NewRequestWithID("ping", nilMap, IntID(2))
	require.NoError(t, err)
	assert.Nil(t, req.Params)
}

func TestNewRequest_RejectsScalarParams(t *testing.T) {
	_, err := NewRequestWithID("echo", "hello", IntID(1))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewNotification("echo", 42)
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewRequest("", nil)
	assert.Error(t, err)
}

func TestBuildersProduceValidMessages(t *testing.T) {
	req, err := NewRequestWithID("echo_message", map[string]any{"message": "hi"}, StringID("abc"))
	require.NoError(t, err)
	assert.NoError(t, ValidateRequest(mustMarshal(t, req)))

	n, err := NewNotification("notifications/initialized", nil)
	require.NoError(t, err)
	assert.NoError(t, ValidateNotification(mustMarshal(t, n)))
	assert.Error(t, ValidateRequest(mustMarshal(t, n)))

	resp, err := NewResponse(map[string]any{"ok": true}, IntID(7))
	require.NoError(t, err)
	assert.NoError(t, ValidateResponse(mustMarshal(t, resp)))

	nullResult, err := NewResponse(nil, IntID(8))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":null,"id":8}`, string(mustMarshal(t, nullResult)))
	assert.NoError(t, ValidateResponse(mustMarshal(t, nullResult)))

	errResp := NewErrorResponse(CodeMethodNotFound, "", StringID("x"), "nope")
	assert.Equal(t, "Method not found", errResp.Error.Message)
	assert.NoError(t, ValidateResponse(mustMarshal(t, errResp)))
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found","data":"nope"},"id":"x"}`,
		string(mustMarshal(t, errResp)))
}

func TestNewErrorResponse_OmitsNilData(t *testing.T) {
	resp := NewErrorResponse(CodeInternalError, "boom", NullID(), nil)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32603,"message":"boom"},"id":null}`,
		string(mustMarshal(t, resp)))
}

func TestNewBatch_PreservesOrder(t *testing.T) {
	a, _ := NewRequestWithID("a", nil, IntID(1))
	b, _ := NewNotification("b", nil)
	c, _ := NewRequestWithID("c", nil, IntID(2))

	batch := NewBatch(a, b, c)
	require.Len(t, batch, 3)
	assert.Same(t, a, batch[0])
	assert.Same(t, b, batch[1])
	assert.Same(t, c, batch[2])

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(mustMarshal(t, batch), &decoded))
	assert.Equal(t, "a", decoded[0]["method"])
	assert.Equal(t, "b", decoded[1]["method"])
	assert.Equal(t, "c", decoded[2]["method"])
}

func TestID_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   ID
		wire string
	}{
		{"string", StringID("req-1"), `"req-1"`},
		{"integer", IntID(42), `42`},
		{"negative", IntID(-3), `-3`},
		{"null", NullID(), `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, string(mustMarshal(t, tt.id)))

			var got ID
			require.NoError(t, json.Unmarshal([]byte(tt.wire), &got))
			assert.Equal(t, tt.id, got)
		})
	}
}

func TestID_RejectsOtherTypes(t *testing.T) {
	for _, wire := range []string{`1.5`, `true`, `{}`, `[1]`} {
		var id ID
		assert.Error(t, json.Unmarshal([]byte(wire), &id), wire)
	}
}

func TestValidateRequest_Failures(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"not an object", `"hello"`, ""},
		{"array", `[1,2]`, ""},
		{"garbage", `{not json`, ""},
		{"missing jsonrpc", `{"method":"m","id":1}`, "jsonrpc"},
		{"wrong version", `{"jsonrpc":"1.0","method":"m","id":1}`, "jsonrpc"},
		{"numeric version", `{"jsonrpc":2.0,"method":"m","id":1}`, "jsonrpc"},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, "method"},
		{"empty method", `{"jsonrpc":"2.0","method":"","id":1}`, "method"},
		{"non-string method", `{"jsonrpc":"2.0","method":5,"id":1}`, "method"},
		{"scalar params", `{"jsonrpc":"2.0","method":"m","params":"x","id":1}`, "params"},
		{"null params", `{"jsonrpc":"2.0","method":"m","params":null,"id":1}`, "params"},
		{"missing id", `{"jsonrpc":"2.0","method":"m"}`, "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest([]byte(tt.raw))
			require.Error(t, err)

			var serr *SchemaError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, tt.field, serr.Field)
		})
	}
}

func TestValidateRequest_AnyIDValue(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"string", `"abc"`},
		{"integer", `7`},
		{"null", `null`},
		{"fraction", `1.5`},
		{"bool", `true`},
		{"object", `{"k":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"jsonrpc":"2.0","method":"tools/list","id":` + tt.id + `}`
			assert.NoError(t, ValidateRequest([]byte(raw)))
		})
	}
}

func TestNewRequestWithID_ValidatesForEveryID(t *testing.T) {
	for _, id := range []ID{StringID("abc"), IntID(0), IntID(-9), NullID()} {
		for _, params := range []any{nil, map[string]any{"a": 1}, []any{1, "two"}} {
			req, err := NewRequestWithID("tools/list", params, id)
			require.NoError(t, err)
			assert.NoError(t, ValidateRequest(mustMarshal(t, req)), "id %s params %v", id, params)
		}
	}
}

func TestDecode_UndecodableIDBecomesNull(t *testing.T) {
	for _, raw := range []string{
		`{"jsonrpc":"2.0","method":"ping","id":null}`,
		`{"jsonrpc":"2.0","method":"ping","id":1.5}`,
	} {
		p, err := Decode([]byte(raw))
		require.NoError(t, err)
		m := p.Messages[0]
		require.Equal(t, KindRequest, m.Kind, raw)
		assert.Equal(t, "ping", m.Request.Method)
		assert.True(t, m.Request.ID.IsNull(), raw)
	}
}

func TestValidateRequest_ArrayParams(t *testing.T) {
	assert.NoError(t, ValidateRequest([]byte(`{"jsonrpc":"2.0","method":"m","params":[1,2],"id":"a"}`)))
}

func TestValidateNotification_RejectsID(t *testing.T) {
	err := ValidateNotification([]byte(`{"jsonrpc":"2.0","method":"m","id":1}`))
	var serr *SchemaError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "id", serr.Field)
}

func TestValidateResponse_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"both result and error", `{"jsonrpc":"2.0","result":1,"error":{"code":1,"message":"x"},"id":1}`},
		{"neither", `{"jsonrpc":"2.0","id":1}`},
		{"missing id", `{"jsonrpc":"2.0","result":1}`},
		{"error not object", `{"jsonrpc":"2.0","error":"bad","id":1}`},
		{"error null", `{"jsonrpc":"2.0","error":null,"id":1}`},
		{"error code string", `{"jsonrpc":"2.0","error":{"code":"x","message":"m"},"id":1}`},
		{"error missing message", `{"jsonrpc":"2.0","error":{"code":-1},"id":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateResponse([]byte(tt.raw)))
		})
	}

	assert.NoError(t, ValidateResponse([]byte(`{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":null}`)))
}

func TestDecode_Single(t *testing.T) {
	p, err := Decode([]byte(`{"jsonrpc":"2.0","method":"ping","id":1}`))
	require.NoError(t, err)
	assert.False(t, p.Batch)
	require.Len(t, p.Messages, 1)

	m := p.Messages[0]
	assert.Equal(t, KindRequest, m.Kind)
	assert.Equal(t, "ping", m.Request.Method)
	assert.Equal(t, IntID(1), m.Request.ID)
}

func TestDecode_ParseErrors(t *testing.T) {
	for _, payload := range []string{``, `   `, `{"jsonrpc":`, `[1,`} {
		_, err := Decode([]byte(payload))
		var rpcErr *Error
		require.True(t, errors.As(err, &rpcErr), "payload %q", payload)
		assert.Equal(t, CodeParseError, rpcErr.Code)
	}
}

func TestDecode_EmptyBatch(t *testing.T) {
	_, err := Decode([]byte(`[]`))
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, CodeInvalidRequest, rpcErr.Code)
}

func TestDecode_MixedBatch(t *testing.T) {
	payload := `[
		{"jsonrpc":"2.0","method":"a","id":1},
		{"jsonrpc":"2.0","method":"note"},
		{"jsonrpc":"1.0","method":"b","id":"bad-version"},
		42,
		{"jsonrpc":"2.0","result":{"ok":true},"id":9},
		{"jsonrpc":"2.0","foo":"bar","id":3}
	]`

	p, err := Decode([]byte(payload))
	require.NoError(t, err)
	assert.True(t, p.Batch)
	require.Len(t, p.Messages, 6)

	assert.Equal(t, KindRequest, p.Messages[0].Kind)
	assert.Equal(t, KindNotification, p.Messages[1].Kind)
	assert.Equal(t, "note", p.Messages[1].Notification.Method)

	assert.Equal(t, KindInvalid, p.Messages[2].Kind)
	assert.Equal(t, StringID("bad-version"), p.Messages[2].ID)

	assert.Equal(t, KindInvalid, p.Messages[3].Kind)
	assert.True(t, p.Messages[3].ID.IsNull())

	assert.Equal(t, KindResponse, p.Messages[4].Kind)
	assert.Equal(t, KindInvalid, p.Messages[5].Kind)
	assert.Equal(t, IntID(3), p.Messages[5].ID)
}

func TestMessage_InvalidResponse(t *testing.T) {
	m := Classify(json.RawMessage(`{"jsonrpc":"2.0","method":"","id":"x"}`))
	require.Equal(t, KindInvalid, m.Kind)

	resp := m.InvalidResponse()
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
	assert.Equal(t, StringID("x"), resp.ID)
	assert.Contains(t, resp.Error.Data, "method")
}

func TestEncodeReply(t *testing.T) {
	r1, _ := NewResponse("one", IntID(1))
	r2, _ := NewResponse("two", IntID(2))

	out, err := EncodeReply(false, []*Response{r1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"one","id":1}`, string(out))

	out, err = EncodeReply(true, []*Response{r1, nil, r2})
	require.NoError(t, err)
	assert.JSONEq(t,
		`[{"jsonrpc":"2.0","result":"one","id":1},{"jsonrpc":"2.0","result":"two","id":2}]`,
		string(out))

	out, err = EncodeReply(true, []*Response{nil, nil})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestErrorImplementsError(t *testing.T) {
	var err error = NewError(CodeInvalidParams, "name is required")
	assert.Contains(t, err.Error(), "-32602")
	assert.Contains(t, err.Error(), "name is required")
	assert.Equal(t, "Server error", StandardMessage(-32050))
}
