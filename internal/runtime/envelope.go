package runtime

import (
	"fmt"
	"unicode/utf8"

	"github.com/drblury/busflow/backend"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/jsoncodec"
)

// Reserved envelope keys. A JSON object carrying ContextKey at the top
// level is treated as an envelope; every other payload is bare application
// data.
const (
	ContextKey = "__context__"
	DataKey    = "__data__"
)

var emptyPayload = []byte("{}")

// decodeMessage parses a raw backend message into a Message, enforcing the
// envelope protocol. Checks run in a fixed order: missing data, bad UTF-8,
// bad JSON, missing subject, then shape classification. The first failure
// wins.
func decodeMessage(raw backend.RawMessage) (*Message, error) {
	if raw.Data == nil {
		return nil, &errspkg.InvalidMessageError{Reason: "message carries no data"}
	}
	if !utf8.Valid(raw.Data) {
		return nil, &errspkg.InvalidMessageError{Reason: "data is not valid UTF-8"}
	}

	var value any
	if err := jsoncodec.Unmarshal(raw.Data, &value); err != nil {
		return nil, &errspkg.InvalidMessageError{Reason: fmt.Sprintf("data is not valid JSON: %v", err)}
	}

	if raw.Subject == "" {
		return nil, &errspkg.InvalidMessageError{Reason: "message carries no subject"}
	}

	msg := &Message{
		Subject: Subject(raw.Subject),
		Reply:   raw.Reply,
	}

	switch v := value.(type) {
	case []any:
		// Arrays never carry an envelope wrapper.
		msg.Data = v
	case map[string]any:
		if _, ok := v[ContextKey]; !ok {
			msg.Data = v
			break
		}
		msg.Context = decodeTraceContext(v[ContextKey])
		data, ok := v[DataKey]
		if !ok || data == nil {
			return nil, &errspkg.InvalidDataError{Reason: "envelope declares " + ContextKey + " but carries no " + DataKey}
		}
		msg.Data = data
	default:
		// Bare scalars are only legal wrapped under the data key.
		return nil, &errspkg.InvalidDataError{Reason: fmt.Sprintf("top-level %T is not an object or array", value)}
	}

	return msg, nil
}

// decodeTraceContext is lenient: anything that is not an object with a
// traceparent string yields no context rather than an error, so a producer
// with a broken tracer never poisons delivery.
func decodeTraceContext(v any) *TraceContext {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	tp, _ := obj[traceparentKey].(string)
	if tp == "" {
		return nil
	}
	return &TraceContext{Traceparent: tp}
}

// encodePayload serializes application data for the wire. Nil data encodes
// as the empty object so consumers always receive valid JSON.
func encodePayload(data any) ([]byte, error) {
	if data == nil {
		return emptyPayload, nil
	}
	return jsoncodec.Marshal(data)
}

// encodeEnvelope wraps data and trace context in the reserved-key envelope
// form. Nil data still writes {} under the data key so the receiver never
// sees an envelope without a payload.
func encodeEnvelope(tc *TraceContext, data any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	return jsoncodec.Marshal(map[string]any{
		ContextKey: tc,
		DataKey:    data,
	})
}
