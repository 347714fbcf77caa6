package backend

// Capabilities describes what a broker backend can do natively. Use this to
// introspect a backend before relying on behaviour that differs between
// protocols.
type Capabilities struct {
	// Name is the registered backend name.
	Name string

	// NativeRequestReply indicates the protocol itself carries a reply-to
	// address. When false, request/reply is emulated over ephemeral inbox
	// subjects.
	NativeRequestReply bool

	// Persistent indicates messages survive a broker restart.
	Persistent bool

	// InMemory indicates the backend never leaves the process.
	InMemory bool

	// SupportsOrdering indicates messages on one subject arrive in publish
	// order.
	SupportsOrdering bool

	// SupportsQueueGroups indicates competing consumers can share a subject.
	SupportsQueueGroups bool
}

// RequiresInboxEmulation returns true if request/reply runs over ephemeral
// inbox subjects instead of protocol-level reply addressing.
func (c Capabilities) RequiresInboxEmulation() bool {
	return !c.NativeRequestReply
}

// Predefined capability sets for the built-in backends.
var (
	// ChannelCapabilities for the in-memory channel backend.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		InMemory:         true,
		SupportsOrdering: true,
	}

	// NATSCapabilities for the core NATS backend.
	NATSCapabilities = Capabilities{
		Name:                "nats",
		NativeRequestReply:  true,
		SupportsOrdering:    true,
		SupportsQueueGroups: true,
	}

	// KafkaCapabilities for the Kafka backend.
	KafkaCapabilities = Capabilities{
		Name:                "kafka",
		Persistent:          true,
		SupportsOrdering:    true,
		SupportsQueueGroups: true,
	}

	// AMQPCapabilities for the RabbitMQ/AMQP backend.
	AMQPCapabilities = Capabilities{
		Name:                "amqp",
		Persistent:          true,
		SupportsOrdering:    true,
		SupportsQueueGroups: true,
	}
)
