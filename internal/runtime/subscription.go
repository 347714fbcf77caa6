package runtime

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/busflow/backend"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
)

// SubscriptionState tracks the lifecycle of a Subscription.
type SubscriptionState int

const (
	SubscriptionCreated SubscriptionState = iota
	SubscriptionStarted
	SubscriptionStopped
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionCreated:
		return "created"
	case SubscriptionStarted:
		return "started"
	case SubscriptionStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Subscription owns one backend subscription for one subject. Constructed
// without a callback it feeds consumable queues; constructed with one it
// dispatches every message through the callback's parameter plan. The two
// modes are exclusive and fixed at construction.
type Subscription struct {
	subject Subject
	backend backend.Backend
	logger  loggingpkg.ServiceLogger
	metrics *BrokerMetrics

	plan *callbackPlan // nil in queue mode

	propagator propagation.TextMapPropagator
	tracer     trace.Tracer

	mu     sync.Mutex
	state  SubscriptionState
	handle backend.Handle

	primary *Queue
	queues  map[string]*Queue
}

func newSubscription(
	subject Subject,
	be backend.Backend,
	cb any,
	logger loggingpkg.ServiceLogger,
	metrics *BrokerMetrics,
	propagator propagation.TextMapPropagator,
	tracer trace.Tracer,
) (*Subscription, error) {
	if subject == "" {
		return nil, errspkg.ErrSubjectRequired
	}

	s := &Subscription{
		subject:    subject,
		backend:    be,
		logger:     logger.With(loggingpkg.LogFields{"subject": string(subject)}),
		metrics:    metrics,
		propagator: propagator,
		tracer:     tracer,
	}

	if cb != nil {
		plan, err := newCallbackPlan(cb)
		if err != nil {
			return nil, err
		}
		s.plan = plan
		return s, nil
	}

	s.primary = newQueue("")
	s.primary.onDepth = s.depthRecorder("primary")
	s.queues = make(map[string]*Queue)
	return s, nil
}

func (s *Subscription) depthRecorder(queue string) func(int) {
	return func(depth int) {
		s.metrics.SetQueueDepth(string(s.subject), queue, depth)
	}
}

// Subject returns the subscribed topic.
func (s *Subscription) Subject() Subject { return s.subject }

// HasCallback reports whether this subscription dispatches to a callback
// instead of feeding queues.
func (s *Subscription) HasCallback() bool { return s.plan != nil }

// State reports the current lifecycle state.
func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start subscribes on the backend. Starting a started subscription is a
// no-op; starting again after Stop creates a fresh backend subscription.
func (s *Subscription) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SubscriptionStarted {
		return nil
	}

	handle, err := s.backend.Subscribe(ctx, string(s.subject), s.dispatch)
	if err != nil {
		return fmt.Errorf("busflow: subscribing to %q: %w", s.subject, err)
	}

	s.handle = handle
	s.state = SubscriptionStarted
	s.logger.Debug("subscription started", nil)
	return nil
}

// Stop unsubscribes on the backend and clears the handle. Stopping a
// subscription that is not started is a no-op.
func (s *Subscription) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SubscriptionStarted {
		return nil
	}

	if err := s.backend.Unsubscribe(ctx, s.handle); err != nil {
		return fmt.Errorf("busflow: unsubscribing from %q: %w", s.subject, err)
	}

	s.handle = nil
	s.state = SubscriptionStopped
	s.logger.Debug("subscription stopped", nil)
	return nil
}

// NextMessage blocks until the next message arrives on the primary queue.
// The caller's context bounds the wait; a deadline maps to ErrTimeout.
// Iterate a subscription by calling NextMessage in a loop.
func (s *Subscription) NextMessage(ctx context.Context) (*Message, error) {
	if s.plan != nil {
		return nil, errspkg.ErrCallbackSubscription
	}
	return s.primary.Pop(ctx)
}

// AddQueue registers a named delivery queue. Every message delivered after
// registration is fanned out to it; earlier messages are not replayed.
// Each name may be added at most once per subscription.
func (s *Subscription) AddQueue(name string) (*Queue, error) {
	if s.plan != nil {
		return nil, errspkg.ErrCallbackSubscription
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[name]; ok {
		return nil, fmt.Errorf("busflow: delivery queue %q: %w", name, errspkg.ErrQueueExists)
	}

	q := newQueue(name)
	q.onDepth = s.depthRecorder(name)
	s.queues[name] = q
	return q, nil
}

// dispatch is the handler given to the backend. Failures are scoped to the
// one message; returning an error never tears the subscription down.
func (s *Subscription) dispatch(ctx context.Context, raw backend.RawMessage) error {
	msg, err := decodeMessage(raw)
	if err != nil {
		s.metrics.RecordDecodeError(raw.Subject)
		s.logger.Error("dropping undecodable message", err, loggingpkg.LogFields{
			"raw_subject": raw.Subject,
		})
		return err
	}

	s.metrics.RecordReceived(string(msg.Subject))
	s.logger.Trace("message received", loggingpkg.LogFields{"reply": msg.Reply})

	if s.plan == nil {
		s.fanOut(msg)
		return nil
	}
	return s.dispatchCallback(ctx, msg)
}

// fanOut delivers one message to the primary queue and to every delivery
// queue registered at this moment.
func (s *Subscription) fanOut(msg *Message) {
	s.mu.Lock()
	targets := make([]*Queue, 0, len(s.queues)+1)
	targets = append(targets, s.primary)
	for _, q := range s.queues {
		targets = append(targets, q)
	}
	s.mu.Unlock()

	for _, q := range targets {
		q.push(msg)
	}
}

func (s *Subscription) dispatchCallback(ctx context.Context, msg *Message) error {
	if msg.Context != nil {
		ctx = s.propagator.Extract(ctx, msg.Context)
	}

	ctx, span := s.tracer.Start(ctx, "DispatchMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.subject", string(msg.Subject)),
	)

	result, err := s.plan.invoke(ctx, msg)
	if err != nil {
		s.metrics.RecordCallbackError(string(msg.Subject))
		span.RecordError(err)
		s.logger.Error("callback failed", err, nil)
		return fmt.Errorf("busflow: callback for %q: %w", msg.Subject, err)
	}

	if msg.Reply == "" {
		return nil
	}

	payload, err := encodePayload(result)
	if err == nil {
		err = s.backend.Publish(ctx, msg.Reply, payload)
	}
	if err != nil {
		span.RecordError(err)
		s.logger.Error("reply publish failed", err, loggingpkg.LogFields{"reply": msg.Reply})
		return fmt.Errorf("busflow: replying to %q: %w", msg.Reply, err)
	}

	s.metrics.RecordReply(string(msg.Subject))
	return nil
}
