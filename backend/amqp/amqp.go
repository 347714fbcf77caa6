// Package amqp provides a RabbitMQ/AMQP backend for busflow using
// watermill's durable pubsub topology: one fanout exchange per subject with
// a queue generated per subject. Request/reply runs over ephemeral inbox
// subjects through the watermill bridge.
package amqp

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/busflow/backend"
)

// BackendName is the name used to register this backend.
const BackendName = "amqp"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	backend.RegisterWithCapabilities(BackendName, Build, backend.AMQPCapabilities)
}

// Build creates a new AMQP backend.
func Build(ctx context.Context, cfg backend.Config, logger watermill.LoggerAdapter) (backend.Backend, error) {
	url := cfg.GetAMQPURL()

	amqpConfig := amqp.NewDurablePubSubConfig(
		url,
		amqp.GenerateQueueNameTopicName,
	)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return nil, err
	}

	return backend.FromPubSub(publisher, subscriber, logger), nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() backend.Capabilities {
	return backend.AMQPCapabilities
}
