package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/ids"
)

// Metadata keys the bridge uses to carry routing fields across watermill
// transports, which only know topics and opaque payloads.
const (
	MetaSubject = "busflow_subject"
	MetaReply   = "busflow_reply"
)

// InboxPrefix starts every ephemeral reply subject created for emulated
// request/reply.
const InboxPrefix = "_inbox."

// PubSubBridge adapts a watermill publisher/subscriber pair to the Backend
// contract. Topics map one-to-one to subjects; reply addressing travels in
// message metadata; request/reply runs over ephemeral inbox topics. Any
// watermill transport becomes a busflow backend through it.
type PubSubBridge struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   map[*bridgeSubscription]struct{}
	closed bool
}

type bridgeSubscription struct {
	subject string
	cancel  context.CancelFunc
	done    chan struct{}
}

// FromPubSub wraps an already constructed publisher/subscriber pair. The
// pair is owned by the bridge afterwards; Close closes both.
func FromPubSub(pub message.Publisher, sub message.Subscriber, logger watermill.LoggerAdapter) *PubSubBridge {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &PubSubBridge{
		pub:    pub,
		sub:    sub,
		logger: logger,
		subs:   make(map[*bridgeSubscription]struct{}),
	}
}

// Connect is a no-op: watermill publishers and subscribers connect when they
// are constructed.
func (b *PubSubBridge) Connect(ctx context.Context) error { return nil }

// Close cancels all active subscriptions and closes the underlying
// publisher and subscriber.
func (b *PubSubBridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	active := make([]*bridgeSubscription, 0, len(b.subs))
	for s := range b.subs {
		active = append(active, s)
	}
	b.subs = make(map[*bridgeSubscription]struct{})
	b.mu.Unlock()

	for _, s := range active {
		s.cancel()
	}

	return errors.Join(b.pub.Close(), b.sub.Close())
}

// Publish sends payload on subject.
func (b *PubSubBridge) Publish(ctx context.Context, subject string, payload []byte) error {
	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata.Set(MetaSubject, subject)
	return b.pub.Publish(subject, msg)
}

// Subscribe starts a goroutine draining the topic into handler. Messages are
// acked after the handler returns regardless of its error, so one bad
// message never wedges or re-delivers; the error is logged here.
func (b *PubSubBridge) Subscribe(ctx context.Context, subject string, handler Handler) (Handle, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("busflow: bridge is closed")
	}
	b.mu.Unlock()

	// The subscription outlives the Subscribe call; its lifetime ends at
	// Unsubscribe or Close, not when the caller's ctx does.
	subCtx, cancel := context.WithCancel(context.Background())

	ch, err := b.sub.Subscribe(subCtx, subject)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &bridgeSubscription{subject: subject, cancel: cancel, done: make(chan struct{})}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go b.consume(subCtx, s, ch, handler)
	return s, nil
}

func (b *PubSubBridge) consume(ctx context.Context, s *bridgeSubscription, ch <-chan *message.Message, handler Handler) {
	defer close(s.done)
	for msg := range ch {
		raw := RawMessage{
			Subject: msg.Metadata.Get(MetaSubject),
			Reply:   msg.Metadata.Get(MetaReply),
			Data:    msg.Payload,
		}
		if raw.Subject == "" {
			raw.Subject = s.subject
		}
		if err := handler(ctx, raw); err != nil {
			b.logger.Error("message handler failed", err, watermill.LogFields{"subject": s.subject})
		}
		msg.Ack()
	}
}

// Unsubscribe cancels the subscription behind handle and waits for its
// consumer goroutine to drain.
func (b *PubSubBridge) Unsubscribe(ctx context.Context, handle Handle) error {
	s, ok := handle.(*bridgeSubscription)
	if !ok {
		return fmt.Errorf("busflow: foreign subscription handle %T", handle)
	}

	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()

	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request emulates request/reply: it subscribes to a fresh inbox topic,
// publishes with the inbox as reply address, and waits for the first
// delivery. The inbox subscription dies with the timeout, so a reply
// arriving later has nowhere to land and is dropped.
func (b *PubSubBridge) Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) (RawMessage, error) {
	inbox := InboxPrefix + ids.CreateULID()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := b.sub.Subscribe(reqCtx, inbox)
	if err != nil {
		return RawMessage{}, err
	}

	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata.Set(MetaSubject, subject)
	msg.Metadata.Set(MetaReply, inbox)
	if err := b.pub.Publish(subject, msg); err != nil {
		return RawMessage{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			// Channel closed by reqCtx expiry; distinguish caller
			// cancellation from a real timeout.
			if err := ctx.Err(); err != nil {
				return RawMessage{}, err
			}
			return RawMessage{}, fmt.Errorf("busflow: no reply for %q within %s: %w", subject, timeout, errspkg.ErrTimeout)
		}
		reply.Ack()
		raw := RawMessage{
			Subject: reply.Metadata.Get(MetaSubject),
			Reply:   reply.Metadata.Get(MetaReply),
			Data:    reply.Payload,
		}
		if raw.Subject == "" {
			raw.Subject = inbox
		}
		return raw, nil
	case <-reqCtx.Done():
		if err := ctx.Err(); err != nil {
			return RawMessage{}, err
		}
		return RawMessage{}, fmt.Errorf("busflow: no reply for %q within %s: %w", subject, timeout, errspkg.ErrTimeout)
	}
}
