package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/busflow/backend"
	configpkg "github.com/drblury/busflow/internal/runtime/config"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"

	// Import all backend packages to register them.
	_ "github.com/drblury/busflow/backend/backends"
)

// Deps holds the optional collaborators of a Broker. Zero values select
// working defaults.
type Deps struct {
	// Backend bypasses plugin resolution entirely when set. Used by tests
	// and by applications that construct their own backend.
	Backend backend.Backend

	// Registerer receives the broker metric collectors. Defaults to the
	// global Prometheus registerer.
	Registerer prometheus.Registerer

	// Propagator carries trace context onto and off the wire. Defaults to
	// W3C trace context.
	Propagator propagation.TextMapPropagator

	// Tracer opens dispatch spans. Defaults to the global tracer provider.
	Tracer trace.Tracer
}

// Broker is the client facade applications use: one backend connection,
// publish, request/reply, and the tracked subscription set.
type Broker struct {
	conf    *configpkg.Config
	logger  loggingpkg.ServiceLogger
	backend backend.Backend
	metrics *BrokerMetrics

	propagator propagation.TextMapPropagator
	tracer     trace.Tracer

	mu        sync.Mutex
	connected bool
	subs      []*Subscription
}

// New resolves the configured backend and constructs a Broker. Plugin
// resolution failures surface here, not at Connect, so a misconfigured
// service fails at startup.
func New(ctx context.Context, conf *configpkg.Config, logger loggingpkg.ServiceLogger, deps Deps) (*Broker, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}

	b := &Broker{
		conf:       conf,
		logger:     logger,
		metrics:    NewBrokerMetrics(deps.Registerer),
		propagator: deps.Propagator,
		tracer:     deps.Tracer,
	}
	if b.propagator == nil {
		b.propagator = propagation.TraceContext{}
	}
	if b.tracer == nil {
		b.tracer = otel.Tracer("busflow-broker-tracer")
	}

	if deps.Backend != nil {
		b.backend = deps.Backend
	} else {
		be, err := backend.Open(ctx, conf.Backend, conf, loggingpkg.NewWatermillAdapter(logger))
		if err != nil {
			return nil, err
		}
		b.backend = be
	}

	if conf.MetricsEnabled {
		if err := b.metrics.Register(); err != nil {
			return nil, fmt.Errorf("busflow: registering metrics: %w", err)
		}
	}

	name := conf.Backend
	if name == "" {
		name = backend.DefaultName
	}
	b.logger.Info("broker created", loggingpkg.LogFields{"backend": name})
	return b, nil
}

// Connect dials the backend. Connecting a connected broker is a no-op.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		return nil
	}
	if err := b.backend.Connect(ctx); err != nil {
		return err
	}
	b.connected = true
	b.logger.Info("broker connected", nil)
	return nil
}

// Close stops every started subscription, then closes the backend. Closing
// a broker that is not connected is a no-op. Stopped subscriptions keep
// their registrations, so a later Start resubscribes them freshly.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil
	}

	for _, sub := range b.subs {
		if err := sub.Stop(ctx); err != nil {
			b.logger.Error("stopping subscription", err, loggingpkg.LogFields{
				"subject": string(sub.Subject()),
			})
		}
	}

	if err := b.backend.Close(ctx); err != nil {
		return err
	}
	b.connected = false
	b.logger.Info("broker closed", nil)
	return nil
}

func (b *Broker) ensureConnected() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return errspkg.ErrClientNotConnected
	}
	return nil
}

// Publish encodes data and sends it to subject. When ctx carries an active
// span, the payload switches to the envelope form so the trace context
// travels with it.
func (b *Broker) Publish(ctx context.Context, subject string, data any) error {
	if subject == "" {
		return errspkg.ErrSubjectRequired
	}
	if err := b.ensureConnected(); err != nil {
		return err
	}

	payload, err := b.encodeForPublish(ctx, data)
	if err != nil {
		return err
	}

	if err := b.backend.Publish(ctx, subject, payload); err != nil {
		return err
	}

	b.metrics.RecordPublished(subject)
	b.logger.Trace("published", loggingpkg.LogFields{"subject": subject})
	return nil
}

// Request publishes and waits for a reply, using the configured default
// timeout.
func (b *Broker) Request(ctx context.Context, subject string, data any) (any, error) {
	return b.RequestTimeout(ctx, subject, data, b.conf.RequestTimeoutOrDefault())
}

// RequestTimeout publishes and waits up to timeout for a reply. The reply
// payload is decoded as a full envelope and only its data value is
// returned, so the responder's trace context never leaks to the caller.
func (b *Broker) RequestTimeout(ctx context.Context, subject string, data any, timeout time.Duration) (any, error) {
	if subject == "" {
		return nil, errspkg.ErrSubjectRequired
	}
	if err := b.ensureConnected(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = configpkg.DefaultRequestTimeout
	}

	payload, err := b.encodeForPublish(ctx, data)
	if err != nil {
		return nil, err
	}

	b.metrics.RecordPublished(subject)
	raw, err := b.backend.Request(ctx, subject, payload, timeout)
	if err != nil {
		if errors.Is(err, errspkg.ErrTimeout) {
			b.metrics.RecordRequestTimeout(subject)
		}
		return nil, err
	}

	reply, err := decodeMessage(raw)
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// Subscribe registers a callback subscription for subject and starts it
// immediately. The callback's signature is inspected once here; see
// OnMessage for the shapes accepted.
func (b *Broker) Subscribe(ctx context.Context, subject string, cb any) (*Subscription, error) {
	if cb == nil {
		return nil, errspkg.ErrCallbackRequired
	}
	return b.subscribe(ctx, subject, cb)
}

// SubscribeSync registers a queue-mode subscription for subject and starts
// it immediately. Consume it with NextMessage, or fan out with AddQueue.
func (b *Broker) SubscribeSync(ctx context.Context, subject string) (*Subscription, error) {
	return b.subscribe(ctx, subject, nil)
}

func (b *Broker) subscribe(ctx context.Context, subject string, cb any) (*Subscription, error) {
	if err := b.ensureConnected(); err != nil {
		return nil, err
	}

	sub, err := b.newSubscription(subject, cb)
	if err != nil {
		return nil, err
	}
	if err := sub.Start(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// OnMessage registers a callback for subject without touching the backend.
// The subscription is constructed now, so an unusable callback fails fast,
// but the backend subscribe is deferred until Start. Legal before Connect.
//
// Accepted callback parameters, resolved per message: context.Context,
// Subject, Message or *Message, and any struct (or pointer to struct)
// populated from the message data. Accepted results: none, error, a reply
// value, or a reply value and error.
func (b *Broker) OnMessage(subject string, cb any) error {
	if cb == nil {
		return errspkg.ErrCallbackRequired
	}

	sub, err := b.newSubscription(subject, cb)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	b.logger.Debug("registered deferred subscription", loggingpkg.LogFields{"subject": subject})
	return nil
}

// Start connects, then starts every tracked subscription that is not
// already started, in registration order.
func (b *Broker) Start(ctx context.Context) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}

	for _, sub := range b.Subscriptions() {
		if err := sub.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Subscriptions returns a snapshot of the tracked subscriptions in
// registration order.
func (b *Broker) Subscriptions() []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Subscription, len(b.subs))
	copy(out, b.subs)
	return out
}

// Metrics exposes the broker's metrics collector for snapshots.
func (b *Broker) Metrics() *BrokerMetrics {
	return b.metrics
}

func (b *Broker) newSubscription(subject string, cb any) (*Subscription, error) {
	return newSubscription(Subject(subject), b.backend, cb, b.logger, b.metrics, b.propagator, b.tracer)
}

// encodeForPublish picks the bare or envelope wire form depending on
// whether ctx carries a span worth propagating.
func (b *Broker) encodeForPublish(ctx context.Context, data any) ([]byte, error) {
	tc := b.injectTrace(ctx)
	if tc == nil {
		return encodePayload(data)
	}
	return encodeEnvelope(tc, data)
}

func (b *Broker) injectTrace(ctx context.Context) *TraceContext {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return nil
	}
	tc := &TraceContext{}
	b.propagator.Inject(ctx, tc)
	if tc.Traceparent == "" {
		return nil
	}
	return tc
}
