// Package kafka provides a Kafka backend for busflow. Subjects map to
// topics; request/reply runs over ephemeral inbox topics through the
// watermill bridge, so the cluster must allow topic auto-creation for
// request traffic.
package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/busflow/backend"
)

// BackendName is the name used to register this backend.
const BackendName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	backend.RegisterWithCapabilities(BackendName, Build, backend.KafkaCapabilities)
}

// Build creates a new Kafka backend.
func Build(ctx context.Context, cfg backend.Config, logger watermill.LoggerAdapter) (backend.Backend, error) {
	brokers := cfg.GetKafkaBrokers()
	consumerGroup := cfg.GetKafkaConsumerGroup()

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: consumerGroup,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	return backend.FromPubSub(publisher, subscriber, logger), nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() backend.Capabilities {
	return backend.KafkaCapabilities
}
