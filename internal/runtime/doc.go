/*
Package runtime provides the core broker client infrastructure for busflow.

# Architecture Overview

The runtime package implements a backend-agnostic messaging client. One
Broker owns one backend connection (resolved through the plugin registry)
and every Subscription created through it. Payloads travel as UTF-8 JSON;
an optional reserved-key envelope carries trace context alongside the data.

# Package Structure

The runtime package is organized into the following components:

## Broker Client (broker.go)

The Broker struct is the facade applications use:
  - Connection lifecycle (idempotent Connect/Close)
  - Publish and request/reply with envelope encoding
  - Immediate subscriptions (Subscribe, SubscribeSync)
  - Deferred registrations activated by Start (OnMessage)

## Envelope Codec (message.go, envelope.go)

Decodes raw backend messages into Message values and encodes outgoing
payloads. The codec enforces the wire protocol: bare JSON documents for
plain publishes, the __context__/__data__ envelope when trace context
travels.

## Subscription (subscription.go, queue.go)

One Subscription owns one backend subscription handle. Without a callback
it fans messages out to consumable FIFO queues (NextMessage, AddQueue);
with a callback it runs the dispatch pipeline: decode, trace extraction,
parameter-resolved invocation, and reply publication for request messages.

## Callback Parameter Resolver (params.go)

Inspects a callback's signature once and compiles a per-parameter
extraction plan, so handlers declare exactly the inputs they need:
context.Context, the Subject, the whole Message, or typed model structs
populated from the message data.

## Metrics (metrics.go)

Prometheus collectors for publish/receive/error/reply activity per subject
plus live delivery-queue depth.

## Resources (resources.go)

The explicit dependency bundle services thread through their code, with an
HTTP exposition handler for the metric registry in use.

# Sub-packages

  - config/: Broker configuration with validation
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters

# Usage Example

	cfg := &busflow.Config{
		Backend:        "nats",
		NATSURL:        "nats://localhost:4222",
		MetricsEnabled: true,
	}

	broker, err := busflow.New(ctx, cfg, logger, busflow.Deps{})
	if err != nil {
		return err
	}

	broker.OnMessage("orders.created", func(ctx context.Context, order OrderCreated) error {
		return processOrder(ctx, order)
	})

	if err := broker.Start(ctx); err != nil {
		return err
	}
	defer broker.Close(ctx)
*/
package runtime
