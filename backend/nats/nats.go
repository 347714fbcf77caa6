// Package nats provides the core NATS backend for busflow, built on the
// native NATS client rather than a watermill wrapper. NATS carries reply
// subjects in the protocol itself, so request/reply maps straight onto
// conn.Request and the reply inbox management stays inside the client.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/drblury/busflow/backend"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

// BackendName is the name used to register this backend.
const BackendName = "nats"

// ConnectFactory allows overriding the connection creation for testing.
var ConnectFactory = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

func init() {
	backend.RegisterWithCapabilities(BackendName, Build, backend.NATSCapabilities)
}

// Build creates a new core NATS backend. The connection is dialed by
// Connect, not here.
func Build(ctx context.Context, cfg backend.Config, logger watermill.LoggerAdapter) (backend.Backend, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		url = nats.DefaultURL
	}
	name := cfg.GetNATSName()
	if name == "" {
		name = "busflow"
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Backend{url: url, name: name, logger: logger}, nil
}

// Backend implements the broker contract over a single NATS connection.
type Backend struct {
	url    string
	name   string
	logger watermill.LoggerAdapter

	mu   sync.Mutex
	conn *nats.Conn
}

// Connect dials the configured server. The connection reconnects forever on
// network failures; subscriptions survive reconnects.
func (b *Backend) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(b.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}

	conn, err := ConnectFactory(b.url, opts...)
	if err != nil {
		return fmt.Errorf("busflow: nats connect: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	b.logger.Info("connected to NATS", watermill.LogFields{"client_name": b.name})
	return nil
}

// Close flushes pending publishes and closes the connection.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	// Best effort: a dead server should not block Close.
	_ = conn.FlushWithContext(ctx)
	conn.Close()
	return nil
}

func (b *Backend) current() (*nats.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return nil, errspkg.ErrClientNotConnected
	}
	return b.conn, nil
}

// Publish sends payload on subject with no reply expectation.
func (b *Backend) Publish(ctx context.Context, subject string, payload []byte) error {
	conn, err := b.current()
	if err != nil {
		return err
	}
	return conn.Publish(subject, payload)
}

// Request publishes payload and waits for a single reply on a NATS inbox.
// No reply within timeout, and a subject nobody listens on, both surface as
// the busflow timeout error; later replies die in the closed inbox.
func (b *Backend) Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) (backend.RawMessage, error) {
	conn, err := b.current()
	if err != nil {
		return backend.RawMessage{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := conn.RequestWithContext(reqCtx, subject, payload)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
				return backend.RawMessage{}, ctxErr
			}
			return backend.RawMessage{}, fmt.Errorf("busflow: no reply for %q within %s: %w", subject, timeout, errspkg.ErrTimeout)
		case errors.Is(err, nats.ErrNoResponders):
			return backend.RawMessage{}, fmt.Errorf("busflow: no responders for %q: %w", subject, errspkg.ErrTimeout)
		}
		return backend.RawMessage{}, err
	}

	return backend.RawMessage{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data}, nil
}

// Subscribe delivers messages on subject to handler. NATS invokes the
// callback sequentially per subscription, which preserves arrival order.
func (b *Backend) Subscribe(ctx context.Context, subject string, handler backend.Handler) (backend.Handle, error) {
	conn, err := b.current()
	if err != nil {
		return nil, err
	}

	sub, err := conn.Subscribe(subject, func(m *nats.Msg) {
		raw := backend.RawMessage{Subject: m.Subject, Reply: m.Reply, Data: m.Data}
		if err := handler(context.Background(), raw); err != nil {
			b.logger.Error("message handler failed", err, watermill.LogFields{"subject": subject})
		}
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes the subscription behind handle.
func (b *Backend) Unsubscribe(ctx context.Context, handle backend.Handle) error {
	sub, ok := handle.(*nats.Subscription)
	if !ok {
		return fmt.Errorf("busflow: foreign subscription handle %T", handle)
	}
	return sub.Unsubscribe()
}

// Capabilities returns the capabilities of this backend.
func Capabilities() backend.Capabilities {
	return backend.NATSCapabilities
}
