package busflow

import (
	backendpkg "github.com/drblury/busflow/backend"
	runtimepkg "github.com/drblury/busflow/internal/runtime"
	configpkg "github.com/drblury/busflow/internal/runtime/config"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	idspkg "github.com/drblury/busflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/busflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	"github.com/drblury/busflow/plugin"
)

type (
	Config = configpkg.Config

	Broker = runtimepkg.Broker
	Deps   = runtimepkg.Deps

	Subject      = runtimepkg.Subject
	Message      = runtimepkg.Message
	TraceContext = runtimepkg.TraceContext

	Subscription      = runtimepkg.Subscription
	SubscriptionState = runtimepkg.SubscriptionState
	Queue             = runtimepkg.Queue
	Validator         = runtimepkg.Validator

	Resources     = runtimepkg.Resources
	ResourceUsage = runtimepkg.ResourceUsage

	// Broker metrics
	BrokerMetrics         = runtimepkg.BrokerMetrics
	SubjectMetrics        = runtimepkg.SubjectMetrics
	BrokerMetricsSnapshot = runtimepkg.BrokerMetricsSnapshot

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Backend contract types (for implementing custom backends)
	Backend        = backendpkg.Backend
	BackendFactory = backendpkg.Factory
	BackendConfig  = backendpkg.Config
	BackendHandle  = backendpkg.Handle
	RawMessage     = backendpkg.RawMessage
	Handler        = backendpkg.Handler
	Capabilities   = backendpkg.Capabilities

	// Plugin registry error types
	PluginNotFoundError = plugin.NotFoundError
	PluginLoadError     = plugin.LoadError
)

var (
	New          = runtimepkg.New
	NewResources = runtimepkg.NewResources

	DefaultConfig  = configpkg.DefaultConfig
	ValidateConfig = configpkg.ValidateConfig

	NewBrokerMetrics = runtimepkg.NewBrokerMetrics

	// Backend registry. The built-in backends register themselves when this
	// package is imported; RegisterBackend adds custom ones.
	RegisterBackend                 = backendpkg.Register
	RegisterBackendWithCapabilities = backendpkg.RegisterWithCapabilities
	OpenBackend                     = backendpkg.Open
	GetCapabilities                 = backendpkg.GetCapabilities
	FromPubSub                      = backendpkg.FromPubSub

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopLogger              = loggingpkg.NewNopLogger

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	CreateULID = idspkg.CreateULID

	ErrClientNotConnected   = errspkg.ErrClientNotConnected
	ErrInvalidMessage       = errspkg.ErrInvalidMessage
	ErrInvalidMessageData   = errspkg.ErrInvalidMessageData
	ErrTimeout              = errspkg.ErrTimeout
	ErrCallbackSubscription = errspkg.ErrCallbackSubscription
	ErrQueueExists          = errspkg.ErrQueueExists
	ErrSubjectRequired      = errspkg.ErrSubjectRequired
	ErrCallbackRequired     = errspkg.ErrCallbackRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired

	// Plugin registry sentinels
	ErrPluginNotFound   = plugin.ErrNotFound
	ErrPluginLoadFailed = plugin.ErrLoadFailed
)

// Subscription lifecycle states.
const (
	SubscriptionCreated = runtimepkg.SubscriptionCreated
	SubscriptionStarted = runtimepkg.SubscriptionStarted
	SubscriptionStopped = runtimepkg.SubscriptionStopped
)

// Reserved envelope keys on the wire.
const (
	EnvelopeContextKey = runtimepkg.ContextKey
	EnvelopeDataKey    = runtimepkg.DataKey
)

// DefaultBackend is the backend used when Config.Backend is empty.
const DefaultBackend = backendpkg.DefaultName

// DefaultRequestTimeout bounds request/reply waits when no explicit
// timeout is configured.
const DefaultRequestTimeout = configpkg.DefaultRequestTimeout
