// Package busflow is a backend-agnostic broker client: one Broker connects
// to the configured messaging backend (NATS, Kafka, RabbitMQ/AMQP, or
// in-memory Go channels), publishes JSON payloads, performs request/reply,
// and fans received messages out to consumable queues or to callbacks with
// reflectively resolved parameters.
//
// Backends are plugins resolved by name through a compiled-in registry, so
// switching infrastructure is a configuration change, not a code change. A
// minimal setup fills Config, creates a Broker with New, registers
// callbacks with OnMessage, and calls Start; see README.md for a
// copy/paste quick start snippet.
//
// # Backends
//
// Busflow supports 4 broker backends out of the box:
//   - channel: In-memory Go channels for testing
//   - nats: Core NATS with native request/reply
//   - kafka: High-throughput streaming with consumer groups
//   - amqp: RabbitMQ durable pub/sub
//
// Kafka and AMQP run through a Watermill bridge, which means any Watermill
// publisher/subscriber pair in the ecosystem can serve as a backend via
// FromPubSub.
//
// # Wire format
//
// Payloads are UTF-8 JSON. A publish made inside an active trace span wraps
// the payload in a two-key envelope ({"__context__": ..., "__data__": ...})
// so the W3C traceparent travels with the message; plain publishes send the
// bare document. Subscribers never need to care: decoding unwraps either
// form into the same Message.
//
// # Callbacks
//
// OnMessage and Subscribe accept ordinary functions. Parameters are
// resolved per message from the declared types: context.Context, Subject,
// Message, or any struct populated from the message data. A non-nil result
// becomes the reply payload when the sender asked for one.
package busflow
