// Package channel provides an in-memory backend for busflow, wired through
// watermill's gochannel pubsub. It is useful for tests and local development;
// nothing leaves the process and nothing survives it.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/busflow/backend"
)

// BackendName is the name used to register this backend.
const BackendName = "channel"

// Factory allows overriding the pubsub creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	backend.RegisterWithCapabilities(BackendName, Build, backend.ChannelCapabilities)
}

// Build creates a new in-memory channel backend.
func Build(ctx context.Context, cfg backend.Config, logger watermill.LoggerAdapter) (backend.Backend, error) {
	pub, sub := Factory(gochannel.Config{}, logger)
	return backend.FromPubSub(pub, sub, logger), nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() backend.Capabilities {
	return backend.ChannelCapabilities
}
