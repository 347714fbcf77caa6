package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/busflow/backend"
	configpkg "github.com/drblury/busflow/internal/runtime/config"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	pluginpkg "github.com/drblury/busflow/plugin"
)

func TestNewBrokerRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, newTestLogger(), Deps{})
	if !errors.Is(err, errspkg.ErrConfigRequired) {
		t.Fatalf("expected config required error, got %v", err)
	}
}

func TestNewBrokerUnknownBackend(t *testing.T) {
	cfg := &configpkg.Config{Backend: "carrier-pigeon"}
	_, err := New(context.Background(), cfg, newTestLogger(), Deps{Registerer: prometheus.NewRegistry()})
	if !errors.Is(err, pluginpkg.ErrNotFound) {
		t.Fatalf("expected plugin not found error, got %v", err)
	}
}

func TestNewBrokerResolvesRegisteredBackend(t *testing.T) {
	cfg := &configpkg.Config{Backend: "channel", MetricsEnabled: true}
	b, err := New(context.Background(), cfg, newTestLogger(), Deps{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("channel backend should resolve: %v", err)
	}
	if b == nil {
		t.Fatal("expected broker instance")
	}
}

func TestBrokerConnectCloseIdempotent(t *testing.T) {
	be := &testBackend{}
	b := newTestBroker(t, be)
	ctx := context.Background()

	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connecting a connected broker should be a no-op: %v", err)
	}
	if be.connects != 1 {
		t.Fatalf("expected one backend connect, got %d", be.connects)
	}

	if err := b.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("closing a closed broker should be a no-op: %v", err)
	}
	if be.closes != 1 {
		t.Fatalf("expected one backend close, got %d", be.closes)
	}
}

func TestBrokerOperationsRequireConnect(t *testing.T) {
	b := newTestBroker(t, nil)
	ctx := context.Background()

	if err := b.Publish(ctx, "s", nil); !errors.Is(err, errspkg.ErrClientNotConnected) {
		t.Fatalf("expected not connected error, got %v", err)
	}
	if _, err := b.Request(ctx, "s", nil); !errors.Is(err, errspkg.ErrClientNotConnected) {
		t.Fatalf("expected not connected error, got %v", err)
	}
	if _, err := b.SubscribeSync(ctx, "s"); !errors.Is(err, errspkg.ErrClientNotConnected) {
		t.Fatalf("expected not connected error, got %v", err)
	}
	if _, err := b.Subscribe(ctx, "s", func() {}); !errors.Is(err, errspkg.ErrClientNotConnected) {
		t.Fatalf("expected not connected error, got %v", err)
	}
}

func TestBrokerPublishRequiresSubject(t *testing.T) {
	b := newTestBroker(t, nil)
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if err := b.Publish(ctx, "", nil); !errors.Is(err, errspkg.ErrSubjectRequired) {
		t.Fatalf("expected subject required error, got %v", err)
	}
	if _, err := b.RequestTimeout(ctx, "", nil, time.Second); !errors.Is(err, errspkg.ErrSubjectRequired) {
		t.Fatalf("expected subject required error, got %v", err)
	}
}

func TestBrokerPublish(t *testing.T) {
	be := &testBackend{}
	b := newTestBroker(t, be)
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if err := b.Publish(ctx, "orders.created", map[string]any{"id": 1}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	pubs := be.Published()
	if len(pubs) != 1 {
		t.Fatalf("expected one publish, got %d", len(pubs))
	}
	if pubs[0].subject != "orders.created" {
		t.Fatalf("unexpected subject: %s", pubs[0].subject)
	}
	if pubs[0].payload != `{"id":1}` {
		t.Fatalf("expected the bare wire form without an active span, got %s", pubs[0].payload)
	}

	// Nil data publishes the empty object.
	if err := b.Publish(ctx, "orders.created", nil); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	pubs = be.Published()
	if pubs[1].payload != "{}" {
		t.Fatalf("nil data should publish the empty object, got %s", pubs[1].payload)
	}

	m := b.Metrics().GetSubjectMetrics("orders.created")
	if m == nil || m.Published != 2 {
		t.Fatalf("publish counter not recorded: %#v", m)
	}
}

func TestBrokerPublishCarriesTraceContext(t *testing.T) {
	be := &testBackend{}
	b := newTestBroker(t, be)
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	if err != nil {
		t.Fatalf("trace id: %v", err)
	}
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	if err != nil {
		t.Fatalf("span id: %v", err)
	}
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	if err := b.Publish(ctx, "orders.created", map[string]any{"id": 1}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	pubs := be.Published()
	if !strings.Contains(pubs[0].payload, ContextKey) {
		t.Fatalf("expected envelope wire form, got %s", pubs[0].payload)
	}
	if !strings.Contains(pubs[0].payload, "4bf92f3577b34da6a3ce929d0e0e4736") {
		t.Fatalf("trace id missing from envelope: %s", pubs[0].payload)
	}
}

func TestBrokerRequestDecodesReplyEnvelope(t *testing.T) {
	be := &testBackend{}
	var gotSubject string
	var gotPayload string
	be.requestFn = func(_ context.Context, subject string, payload []byte, _ time.Duration) (backend.RawMessage, error) {
		gotSubject = subject
		gotPayload = string(payload)
		return backend.RawMessage{
			Subject: subject,
			Data:    []byte(`{"__context__":{"traceparent":"00-abc-def-01"},"__data__":{"id":9}}`),
		}, nil
	}
	b := newTestBroker(t, be)
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	result, err := b.RequestTimeout(ctx, "orders.get", map[string]any{"id": 9}, time.Second)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if gotSubject != "orders.get" {
		t.Fatalf("unexpected request subject: %s", gotSubject)
	}
	if gotPayload != `{"id":9}` {
		t.Fatalf("unexpected request payload: %s", gotPayload)
	}

	data, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected object result, got %T", result)
	}
	if data["id"] != float64(9) {
		t.Fatalf("unexpected reply data: %#v", data)
	}
}

func TestBrokerRequestTimeout(t *testing.T) {
	be := &testBackend{}
	b := newTestBroker(t, be)
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	_, err := b.RequestTimeout(ctx, "orders.get", nil, 10*time.Millisecond)
	if !errors.Is(err, errspkg.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}

	m := b.Metrics().GetSubjectMetrics("orders.get")
	if m == nil || m.RequestTimeouts != 1 {
		t.Fatalf("request timeout not counted: %#v", m)
	}
	if m.Published != 1 {
		t.Fatalf("the request publish happened and should be counted: %#v", m)
	}
}

func TestBrokerRequestTimeoutPlumbing(t *testing.T) {
	be := &testBackend{}
	var gotTimeout time.Duration
	be.requestFn = func(_ context.Context, subject string, _ []byte, timeout time.Duration) (backend.RawMessage, error) {
		gotTimeout = timeout
		return backend.RawMessage{Subject: subject, Data: []byte(`{}`)}, nil
	}

	cfg := &configpkg.Config{RequestTimeout: 250 * time.Millisecond, MetricsEnabled: true}
	b, err := New(context.Background(), cfg, newTestLogger(), Deps{Backend: be, Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("broker init failed: %v", err)
	}
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if _, err := b.Request(ctx, "s", nil); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if gotTimeout != 250*time.Millisecond {
		t.Fatalf("expected the configured timeout, got %v", gotTimeout)
	}

	if _, err := b.RequestTimeout(ctx, "s", nil, 0); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if gotTimeout != configpkg.DefaultRequestTimeout {
		t.Fatalf("non-positive timeout should fall back to the default, got %v", gotTimeout)
	}
}

func TestBrokerSubscribeStartsImmediately(t *testing.T) {
	be := &testBackend{}
	b := newTestBroker(t, be)
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	sub, err := b.SubscribeSync(ctx, "orders.created")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if sub.State() != SubscriptionStarted {
		t.Fatalf("expected started subscription, got %s", sub.State())
	}
	if be.subscribes != 1 {
		t.Fatalf("expected one backend subscribe, got %d", be.subscribes)
	}

	if err := be.deliver(ctx, backend.RawMessage{Subject: "orders.created", Data: []byte(`{"id":1}`)}); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	popCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	msg, err := sub.NextMessage(popCtx)
	if err != nil {
		t.Fatalf("next message failed: %v", err)
	}
	if msg.Subject != "orders.created" {
		t.Fatalf("unexpected subject: %s", msg.Subject)
	}
}

func TestBrokerSubscribeRequiresCallback(t *testing.T) {
	b := newTestBroker(t, nil)
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if _, err := b.Subscribe(ctx, "s", nil); !errors.Is(err, errspkg.ErrCallbackRequired) {
		t.Fatalf("expected callback required error, got %v", err)
	}
}

func TestBrokerOnMessageDefersBackendSubscribe(t *testing.T) {
	be := &testBackend{}
	b := newTestBroker(t, be)

	if err := b.OnMessage("orders.created", func() {}); err != nil {
		t.Fatalf("on message failed: %v", err)
	}
	if err := b.OnMessage("", func() {}); !errors.Is(err, errspkg.ErrSubjectRequired) {
		t.Fatalf("expected subject required error, got %v", err)
	}
	if err := b.OnMessage("orders.updated", nil); !errors.Is(err, errspkg.ErrCallbackRequired) {
		t.Fatalf("expected callback required error, got %v", err)
	}
	if err := b.OnMessage("orders.updated", 42); err == nil {
		t.Fatal("expected error for non-function callback")
	}

	if be.subscribes != 0 {
		t.Fatalf("backend subscribe must wait for Start, got %d", be.subscribes)
	}

	subs := b.Subscriptions()
	if len(subs) != 1 {
		t.Fatalf("expected one tracked subscription, got %d", len(subs))
	}
	if subs[0].State() != SubscriptionCreated {
		t.Fatalf("expected created state before Start, got %s", subs[0].State())
	}

	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if be.connects != 1 {
		t.Fatalf("start should connect, got %d connects", be.connects)
	}
	if be.subscribes != 1 {
		t.Fatalf("start should subscribe, got %d", be.subscribes)
	}
	if subs[0].State() != SubscriptionStarted {
		t.Fatalf("expected started state after Start, got %s", subs[0].State())
	}
}

func TestBrokerCloseStopsSubscriptions(t *testing.T) {
	be := &testBackend{}
	b := newTestBroker(t, be)
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	sub, err := b.SubscribeSync(ctx, "orders.created")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := b.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if sub.State() != SubscriptionStopped {
		t.Fatalf("close should stop subscriptions, got %s", sub.State())
	}
	if len(be.unsubbed) != 1 {
		t.Fatalf("expected one backend unsubscribe, got %d", len(be.unsubbed))
	}
	if be.closes != 1 {
		t.Fatalf("expected one backend close, got %d", be.closes)
	}
}

func TestBrokerEndToEndCallbackFlow(t *testing.T) {
	be := &testBackend{}
	b := newTestBroker(t, be)

	var got orderEvent
	if err := b.OnMessage("orders.created", func(ev orderEvent) { got = ev }); err != nil {
		t.Fatalf("on message failed: %v", err)
	}

	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := be.deliver(ctx, backend.RawMessage{Subject: "orders.created", Data: []byte(`{"id":5,"status":"paid"}`)}); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if got.ID != 5 || got.Status != "paid" {
		t.Fatalf("callback did not receive the event: %#v", got)
	}

	m := b.Metrics().GetSubjectMetrics("orders.created")
	if m == nil || m.Received != 1 {
		t.Fatalf("received counter not recorded: %#v", m)
	}
}
