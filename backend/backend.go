// Package backend defines the contract every broker backend implements and
// the registry the busflow client resolves backends from. Each backend
// implementation (nats, kafka, amqp, channel) lives in its own sub-package
// and registers itself under the broker plugin group.
//
// Backends move opaque byte payloads between subjects. Envelope encoding,
// callback dispatch and connection-state guarding all happen above this
// contract, in the busflow runtime.
package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/busflow/plugin"
)

// DefaultName is the backend used when the configuration names none.
const DefaultName = "nats"

// RawMessage is a message as a backend sees it: routing fields plus the
// undecoded payload.
type RawMessage struct {
	// Subject the message was delivered on.
	Subject string

	// Reply is the subject a response should be published to. Empty when
	// the sender does not expect one.
	Reply string

	// Data is the raw payload. A nil Data means the backend delivered a
	// message with no payload at all.
	Data []byte
}

// Handler consumes one raw message. Returning an error marks that single
// message as failed; the backend logs it and keeps the subscription alive.
type Handler func(ctx context.Context, msg RawMessage) error

// Handle identifies one active backend subscription. It is opaque to
// callers; only the backend that issued it can interpret it.
type Handle any

// Backend is the uniform surface the broker client drives. Connect and Close
// are not idempotent here; the client guards repeated calls.
type Backend interface {
	// Connect establishes the underlying connection.
	Connect(ctx context.Context) error

	// Close tears the connection down.
	Close(ctx context.Context) error

	// Publish sends payload to subject with no reply expectation.
	Publish(ctx context.Context, subject string, payload []byte) error

	// Request publishes payload and waits for a single reply. When no reply
	// arrives within timeout the returned error matches busflow.ErrTimeout;
	// replies arriving later are discarded.
	Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) (RawMessage, error)

	// Subscribe delivers every message on subject to handler, in arrival
	// order, until the returned handle is passed to Unsubscribe.
	Subscribe(ctx context.Context, subject string, handler Handler) (Handle, error)

	// Unsubscribe stops the subscription behind handle.
	Unsubscribe(ctx context.Context, handle Handle) error
}

// Factory builds an unconnected backend from configuration. Factories take
// the watermill logger form so watermill-based backends can hand it straight
// to their publishers and subscribers.
type Factory func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Backend, error)

// Config provides the configuration values backends need. The interface is
// narrow so backends see only their own settings without depending on the
// full config package.
type Config interface {
	// GetBackend returns the configured backend plugin name.
	GetBackend() string

	// NATS
	GetNATSURL() string
	GetNATSName() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// AMQP
	GetAMQPURL() string
}

// Registry maps backend names to factories within the broker plugin group
// and keeps each backend's declared capabilities alongside.
type Registry struct {
	*plugin.Registry[Factory]

	mu           sync.RWMutex
	capabilities map[string]Capabilities
}

// DefaultRegistry is the global broker backend registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty broker backend registry.
func NewRegistry() *Registry {
	return &Registry{
		Registry:     plugin.NewRegistry[Factory](plugin.GroupBroker),
		capabilities: make(map[string]Capabilities),
	}
}

// RegisterWithCapabilities adds a backend factory and its capabilities.
func (r *Registry) RegisterWithCapabilities(name string, factory Factory, caps Capabilities) {
	r.Register(name, factory)
	r.mu.Lock()
	r.capabilities[name] = caps
	r.mu.Unlock()
}

// GetCapabilities returns the capabilities declared for a registered backend.
// Returns a zero Capabilities struct carrying only the name if the backend is
// unknown or declared none.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Open resolves name and invokes its factory. An unknown name fails with the
// registry's *plugin.NotFoundError; a factory failure is wrapped in a
// *plugin.LoadError so the two cases stay distinguishable. An empty name
// falls back to DefaultName. The returned backend is not yet connected.
func (r *Registry) Open(ctx context.Context, name string, cfg Config, logger watermill.LoggerAdapter) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("busflow: backend config is required")
	}
	if name == "" {
		name = DefaultName
	}

	factory, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	be, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, &plugin.LoadError{Group: plugin.GroupBroker, Name: name, Err: err}
	}
	return be, nil
}

// Register adds a backend factory to the default registry.
func Register(name string, factory Factory) {
	DefaultRegistry.Register(name, factory)
}

// RegisterWithCapabilities adds a backend factory and its capabilities to the
// default registry.
func RegisterWithCapabilities(name string, factory Factory, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, factory, caps)
}

// GetCapabilities returns the capabilities of a backend in the default
// registry.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}

// Open resolves and builds a backend using the default registry.
func Open(ctx context.Context, name string, cfg Config, logger watermill.LoggerAdapter) (Backend, error) {
	return DefaultRegistry.Open(ctx, name, cfg, logger)
}
