// Package backends imports all built-in backends for auto-registration.
// Import this package to have every backend registered with the default
// registry.
package backends

import (
	// Import all backends for side-effect registration.
	_ "github.com/drblury/busflow/backend/amqp"
	_ "github.com/drblury/busflow/backend/channel"
	_ "github.com/drblury/busflow/backend/kafka"
	_ "github.com/drblury/busflow/backend/nats"
)
