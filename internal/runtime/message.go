package runtime

// Subject is a hierarchical broker topic name such as "orders.created".
type Subject string

const traceparentKey = "traceparent"

// TraceContext carries W3C trace propagation data inside the message
// envelope, so traces survive backends that strip transport headers.
type TraceContext struct {
	Traceparent string `json:"traceparent,omitempty"`
}

// Get implements propagation.TextMapCarrier.
func (tc *TraceContext) Get(key string) string {
	if tc == nil || key != traceparentKey {
		return ""
	}
	return tc.Traceparent
}

// Set implements propagation.TextMapCarrier. Keys other than traceparent
// are dropped; tracestate does not travel in the envelope.
func (tc *TraceContext) Set(key, value string) {
	if tc == nil || key != traceparentKey {
		return
	}
	tc.Traceparent = value
}

// Keys implements propagation.TextMapCarrier.
func (tc *TraceContext) Keys() []string {
	if tc == nil || tc.Traceparent == "" {
		return nil
	}
	return []string{traceparentKey}
}

// Message is one decoded broker message. Data holds the decoded JSON value
// (object or array at the top level); Context is only set when the payload
// arrived in envelope form; Reply names the subject the sender expects an
// answer on, empty for fire-and-forget.
type Message struct {
	Subject Subject       `json:"subject"`
	Data    any           `json:"data"`
	Context *TraceContext `json:"context,omitempty"`
	Reply   string        `json:"reply,omitempty"`
}
