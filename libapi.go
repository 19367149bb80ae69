package eventdispatch

import (
	"context"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/eventdispatch/internal/runtime"
	ce "github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	configpkg "github.com/drblury/eventdispatch/internal/runtime/config"
	"github.com/drblury/eventdispatch/internal/runtime/dispatch"
	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
	headerspkg "github.com/drblury/eventdispatch/internal/runtime/headers"
	idspkg "github.com/drblury/eventdispatch/internal/runtime/ids"
	jsoncodec "github.com/drblury/eventdispatch/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventdispatch/internal/runtime/logging"
	publisherpkg "github.com/drblury/eventdispatch/internal/runtime/publisher"
	"github.com/drblury/eventdispatch/internal/runtime/registry"
	"github.com/drblury/eventdispatch/transport"
	_ "github.com/drblury/eventdispatch/transport/transports"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	// CloudEvents types
	Event                 = ce.Event
	TypedEvent[T any]     = ce.TypedEvent[T]
	Metadata              = ce.Metadata
	Attributes            = ce.Attributes
	DeadLetterError       = ce.DeadLetterError
	DecodeError           = ce.DecodeError
	HandlerResult         = ce.HandlerResult
	ConfigValidationError = errspkg.ConfigValidationError

	// Handlers
	Handler[T any]     = registry.Handler[T]
	HandlerFunc[T any] = registry.HandlerFunc[T]
	Resolver           = registry.Resolver
	ResolverFunc       = registry.ResolverFunc
	Binding            = registry.Binding
	HandlerInfo        = runtimepkg.HandlerInfo
	PoolStats          = runtimepkg.PoolStats

	// Publishing
	Publisher     = publisherpkg.Publisher
	EventOption   = publisherpkg.EventOption
	Outcome       = dispatch.Outcome
	Headers       = headerspkg.Headers
	JobContext    = runtimepkg.JobContext
	JobHooks      = runtimepkg.JobHooks
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Transports
	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	// CloudEvents constructors and helpers
	NewCloudEvent      = ce.New
	EncodeCloudEvent   = ce.Encode
	DecodeCloudEvent   = ce.Decode
	CorrelationID      = ce.CorrelationID
	CopyTracingContext = ce.CopyTracingContext
	DeadLetterTopic    = ce.DeadLetterTopic

	// Handler errors
	ErrSkip                 = ce.ErrSkip
	ErrDeadLetter           = ce.ErrDeadLetter
	ErrUnprocessable        = ce.ErrUnprocessable
	ErrDeadLetterWithReason = ce.ErrDeadLetterWithReason
	ClassifyError           = ce.ClassifyError

	// Publish options
	WithID        = publisherpkg.WithID
	WithTime      = publisherpkg.WithTime
	WithSubject   = publisherpkg.WithSubject
	WithExtension = publisherpkg.WithExtension
	CausedBy      = publisherpkg.CausedBy
	AsBinaryProto = publisherpkg.AsBinaryProto

	// Job hooks
	WithJobHooks  = runtimepkg.WithJobHooks
	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	// The built-in transports are registered on import. RegisterTransport
	// adds custom ones to the same registry.
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	CreateULID = idspkg.CreateULID

	ErrServiceRequired   = errspkg.ErrServiceRequired
	ErrServiceStarted    = errspkg.ErrServiceStarted
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrMetadataNotFound  = errspkg.ErrMetadataNotFound
	ErrMessageTooLarge   = errspkg.ErrMessageTooLarge
	ErrRegistryFrozen    = errspkg.ErrRegistryFrozen

	ErrDataDecode          = errspkg.ErrDataDecode
	ErrRedeliveryExhausted = errspkg.ErrRedeliveryExhausted
)

// Dispatch outcomes reported to hooks and telemetry.
const (
	OutcomeSucceeded         = dispatch.OutcomeSucceeded
	OutcomeFailedRedelivered = dispatch.OutcomeFailedRedelivered
	OutcomeDeadLettered      = dispatch.OutcomeDeadLettered
	OutcomeSkipped           = dispatch.OutcomeSkipped
	OutcomeFaulted           = dispatch.OutcomeFaulted
)

// Message headers set on redelivered and dead-lettered messages.
const (
	HeaderRedeliveryCount  = headerspkg.RedeliveryCount
	HeaderOriginalTopic    = headerspkg.OriginalTopic
	HeaderError            = headerspkg.Error
	HeaderDeadLetterReason = headerspkg.DeadLetterReason
	HeaderCorrelationID    = headerspkg.CorrelationID
)

// NewService creates a Service. See runtime documentation for the wiring.
func NewService(ctx context.Context, conf *Config, log ServiceLogger, deps ServiceDependencies) (*Service, error) {
	return runtimepkg.NewService(ctx, conf, log, deps)
}

// RegisterHandler routes JSON events carrying T to h.
func RegisterHandler[T any](svc *Service, attrs Attributes, h Handler[T]) (Metadata, error) {
	return runtimepkg.RegisterHandler(svc, attrs, h)
}

// RegisterProtoHandler routes protobuf events carrying T to h.
func RegisterProtoHandler[T proto.Message](svc *Service, attrs Attributes, h Handler[T]) (Metadata, error) {
	return runtimepkg.RegisterProtoHandler(svc, attrs, h)
}

// RegisterEventType declares the routing metadata of a type this process
// only publishes.
func RegisterEventType[T any](svc *Service, attrs Attributes) (Metadata, error) {
	return runtimepkg.RegisterEventType[T](svc, attrs)
}

// Publish sends data as a CloudEvent on the topic registered for T.
func Publish[T any](ctx context.Context, svc *Service, data T, opts ...EventOption) (Event, error) {
	return runtimepkg.Publish(ctx, svc, data, opts...)
}
