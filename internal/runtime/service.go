package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/eventdispatch/internal/runtime/config"
	consumerpkg "github.com/drblury/eventdispatch/internal/runtime/consumer"
	"github.com/drblury/eventdispatch/internal/runtime/dispatch"
	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventdispatch/internal/runtime/logging"
	publisherpkg "github.com/drblury/eventdispatch/internal/runtime/publisher"
	"github.com/drblury/eventdispatch/internal/runtime/redelivery"
	"github.com/drblury/eventdispatch/internal/runtime/registry"
	"github.com/drblury/eventdispatch/internal/runtime/telemetry"
	"github.com/drblury/eventdispatch/internal/runtime/workers"
	"github.com/drblury/eventdispatch/transport"
)

const shutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators of a Service. Leave
// fields nil to use the defaults.
type ServiceDependencies struct {
	// TransportRegistry builds the transport named by Config.PubSubSystem.
	// Defaults to transport.DefaultRegistry.
	TransportRegistry *transport.Registry
	// Resolver constructs handler instances when the service starts. The
	// default resolver hands out the handlers passed to the Register helpers.
	Resolver registry.Resolver
	// TracerProvider defaults to the global OpenTelemetry provider.
	TracerProvider trace.TracerProvider
	// MetricsRegistry receives the dispatcher and transport collectors and is
	// served on /metrics. A private registry is created when nil.
	MetricsRegistry *prometheus.Registry
	// Hooks observe every handler invocation.
	Hooks JobHooks
}

// Service wires the transport, the handler registry, the consumption loop
// and the publisher of one process.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport   transport.Transport
	registry    *registry.Registry
	resolver    registry.Resolver
	handlers    *registry.StaticResolver
	telemetry   *telemetry.Telemetry
	processing  dispatch.Telemetry
	metrics     *telemetry.Metrics
	metricsReg  *prometheus.Registry
	redeliverer *redelivery.Producer
	publisher   *publisherpkg.Publisher
	started     atomic.Bool
	pool        atomic.Pointer[workers.Pool]

	hooks JobHooks

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService validates conf, builds the configured transport and wires the
// dispatcher around it. Register handlers on the returned Service before
// calling Start.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	resolved := conf.WithDefaults()
	if err := resolved.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating event service", loggingpkg.LogFields{
		"pubsub_system": resolved.PubSubSystem,
		"pubsub_name":   resolved.PubSubName,
		"config":        resolved.String(),
	})

	transports := deps.TransportRegistry
	if transports == nil {
		transports = transport.DefaultRegistry
	}
	tr, err := transports.Build(ctx, &resolved, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, err
	}

	s := &Service{
		Conf:       &resolved,
		Logger:     log,
		registry:   registry.New(resolved.PubSubName, resolved.DefaultTopic, resolved.DefaultSource),
		handlers:   registry.NewStaticResolver(),
		metricsReg: deps.MetricsRegistry,
		hooks:      deps.Hooks,
	}
	s.resolver = deps.Resolver
	if s.resolver == nil {
		s.resolver = s.handlers
	}
	if s.metricsReg == nil {
		s.metricsReg = prometheus.NewRegistry()
	}

	if err := s.wire(tr, deps.TracerProvider); err != nil {
		_ = tr.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) wire(tr transport.Transport, tp trace.TracerProvider) error {
	s.metrics = telemetry.NewMetrics(s.metricsReg)
	if s.Conf.MetricsEnabled {
		if err := s.metrics.Register(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		decorated, err := decorateTransport(tr, s.metricsReg, s.Conf.PubSubSystem)
		if err != nil {
			return err
		}
		tr = decorated
	}
	s.transport = tr
	s.telemetry = telemetry.New(telemetry.WithTracerProvider(tp), telemetry.WithMetrics(s.metrics))
	s.processing = WithJobHooks(s.telemetry, s.hooks)

	var err error
	s.redeliverer, err = redelivery.NewProducer(tr.Publisher, redelivery.Config{
		MaxRedeliveries: s.Conf.RedeliveryLimit(),
		DeadLetterTopic: s.Conf.DeadLetterTopic,
	}, s.Logger, s.metrics)
	if err != nil {
		return err
	}

	s.publisher, err = publisherpkg.New(tr.Publisher, s.registry,
		publisherpkg.WithTracer(s.telemetry),
		publisherpkg.WithLogger(s.Logger),
		publisherpkg.WithMaxMessageSize(tr.Capabilities.MaxMessageSize),
	)
	return err
}

// decorateTransport adds the Watermill publish and subscribe metrics.
func decorateTransport(tr transport.Transport, registerer prometheus.Registerer, subsystem string) (transport.Transport, error) {
	builder := metrics.NewPrometheusMetricsBuilder(registerer, "eventdispatch", subsystem)

	pub, err := builder.DecoratePublisher(tr.Publisher)
	if err != nil {
		return tr, fmt.Errorf("decorate publisher: %w", err)
	}
	sub, err := builder.DecorateSubscriber(tr.Subscriber)
	if err != nil {
		return tr, fmt.Errorf("decorate subscriber: %w", err)
	}
	tr.Publisher = pub
	tr.Subscriber = sub
	return tr, nil
}

// Registry returns the handler registry. It is frozen once Start runs.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Handlers returns the resolver fed by the Register helpers. It is only
// consulted when no custom resolver was supplied.
func (s *Service) Handlers() *registry.StaticResolver {
	return s.handlers
}

// Publisher returns the event publisher bound to the service transport.
func (s *Service) Publisher() *publisherpkg.Publisher {
	return s.publisher
}

// Metrics returns the dispatcher collectors.
func (s *Service) Metrics() *telemetry.Metrics {
	return s.metrics
}

// Capabilities describes the transport in use.
func (s *Service) Capabilities() transport.Capabilities {
	return s.transport.Capabilities
}

// Start builds the handler registry and consumes every subscribed topic
// until ctx is cancelled. It can be called once.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errspkg.ErrServiceStarted
	}

	if !s.registry.Built() {
		if err := s.registry.Build(s.resolver); err != nil {
			return fmt.Errorf("build registry: %w", err)
		}
	}
	s.Logger.Debug("Registry built", loggingpkg.LogFields{"registry": s.registry.Debug()})

	if s.Conf.MetricsEnabled {
		s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.HandlerFor(s.metricsReg, promhttp.HandlerOpts{}))
		s.RegisterHTTPHandler(s.Conf.MetricsPort, "/api/handlers", http.HandlerFunc(s.handleGetHandlers))
	}
	shutdownHTTP := s.startHTTPServers()
	defer shutdownHTTP()

	pool := workers.New(workers.Config{
		Workers:       s.Conf.WorkerCount,
		QueueSize:     s.Conf.QueueSize,
		SubmitTimeout: s.Conf.SubmitTimeout,
	}, s.Logger)
	s.pool.Store(pool)

	consumer, err := consumerpkg.New(s.transport.Subscriber, s.registry, consumerpkg.Config{
		PubSubName:    s.Conf.PubSubName,
		ConsumerGroup: s.Conf.KafkaConsumerGroup,
		ConsumerName:  s.Conf.ConsumerName,
	},
		consumerpkg.WithPool(pool),
		consumerpkg.WithRedeliverer(s.redeliverer),
		consumerpkg.WithTelemetry(s.processing),
		consumerpkg.WithLogger(s.Logger),
	)
	if err != nil {
		return errors.Join(err, pool.Close())
	}
	s.Logger.Info("Starting event service", loggingpkg.LogFields{
		"pubsub_name": s.Conf.PubSubName,
		"topics":      consumer.Topics(),
		"workers":     pool.Workers(),
	})

	runErr := consumer.Run(ctx)
	return errors.Join(runErr, pool.Close())
}

// Close releases the transport.
func (s *Service) Close() error {
	return s.transport.Close()
}

// RegisterHTTPHandler serves handler on port once the service starts.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() func() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)

		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				s.Logger.Error("Failed to shut down HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}
	}
}
