package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/drblury/busflow/backend"
	configpkg "github.com/drblury/busflow/internal/runtime/config"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

func newTestMetrics() *BrokerMetrics {
	return NewBrokerMetrics(prometheus.NewRegistry())
}

type publishedRecord struct {
	subject string
	payload string
}

// testBackend is an in-memory backend double. Subscribe records the handler
// so tests can push raw messages through deliver, exactly as a real backend
// does on arrival.
type testBackend struct {
	mu         sync.Mutex
	connects   int
	closes     int
	subscribes int
	published  []publishedRecord
	handlers   map[string]backend.Handler
	unsubbed   []string

	connectErr     error
	closeErr       error
	publishErr     error
	subscribeErr   error
	unsubscribeErr error
	requestFn      func(ctx context.Context, subject string, payload []byte, timeout time.Duration) (backend.RawMessage, error)
}

func (b *testBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connects++
	return nil
}

func (b *testBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		return b.closeErr
	}
	b.closes++
	return nil
}

func (b *testBackend) Publish(ctx context.Context, subject string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, publishedRecord{subject: subject, payload: string(payload)})
	return nil
}

func (b *testBackend) Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) (backend.RawMessage, error) {
	if b.requestFn != nil {
		return b.requestFn(ctx, subject, payload, timeout)
	}
	return backend.RawMessage{}, fmt.Errorf("busflow: no reply on %q: %w", subject, errspkg.ErrTimeout)
}

func (b *testBackend) Subscribe(ctx context.Context, subject string, handler backend.Handler) (backend.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	if b.handlers == nil {
		b.handlers = make(map[string]backend.Handler)
	}
	b.handlers[subject] = handler
	b.subscribes++
	return subject, nil
}

func (b *testBackend) Unsubscribe(ctx context.Context, handle backend.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsubscribeErr != nil {
		return b.unsubscribeErr
	}
	subject, _ := handle.(string)
	delete(b.handlers, subject)
	b.unsubbed = append(b.unsubbed, subject)
	return nil
}

// deliver pushes one raw message through the handler subscribed to its
// subject.
func (b *testBackend) deliver(ctx context.Context, raw backend.RawMessage) error {
	b.mu.Lock()
	handler := b.handlers[raw.Subject]
	b.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("no subscription on %q", raw.Subject)
	}
	return handler(ctx, raw)
}

func (b *testBackend) Published() []publishedRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	clone := make([]publishedRecord, len(b.published))
	copy(clone, b.published)
	return clone
}

func buildSubscription(subject Subject, be backend.Backend, cb any) (*Subscription, error) {
	return newSubscription(subject, be, cb, newTestLogger(), newTestMetrics(), propagation.TraceContext{}, otel.Tracer("busflow-test"))
}

func newTestSubscription(t *testing.T, be backend.Backend, cb any) *Subscription {
	t.Helper()
	sub, err := buildSubscription("orders.created", be, cb)
	if err != nil {
		t.Fatalf("subscription init failed: %v", err)
	}
	return sub
}

func newTestBroker(t *testing.T, be backend.Backend) *Broker {
	t.Helper()
	if be == nil {
		be = &testBackend{}
	}
	b, err := New(context.Background(), &configpkg.Config{MetricsEnabled: true}, newTestLogger(), Deps{
		Backend:    be,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("broker init failed: %v", err)
	}
	return b
}
