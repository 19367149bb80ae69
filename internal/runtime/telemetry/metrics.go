package telemetry

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "eventdispatch"
	metricsSubsystem = "cloudevents"
)

// Metrics holds the Prometheus collectors of the dispatcher.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	published    *prometheus.CounterVec
	processed    *prometheus.CounterVec
	redelivered  *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. They are not registered until Register
// is called. A nil registerer selects prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:   registerer,
		published:    newCounterVec("published_total", "CloudEvents published", []string{"pubsub", "topic", "type"}),
		processed:    newCounterVec("processed_total", "CloudEvents processed by outcome", []string{"pubsub", "topic", "type", "outcome"}),
		redelivered:  newCounterVec("redelivered_total", "Messages republished after a handler failure", []string{"topic"}),
		deadLettered: newCounterVec("dead_lettered_total", "Messages moved to a dead letter topic", []string{"topic", "reason"}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "processing_duration_seconds",
				Help:      "Time from unit start to completion",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pubsub", "topic", "type"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times; collectors
// that are already registered are reused.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	if err := registerCounterVec(m.registerer, &m.published); err != nil {
		return err
	}
	if err := registerCounterVec(m.registerer, &m.processed); err != nil {
		return err
	}
	if err := registerCounterVec(m.registerer, &m.redelivered); err != nil {
		return err
	}
	if err := registerCounterVec(m.registerer, &m.deadLettered); err != nil {
		return err
	}
	if err := m.registerer.Register(m.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
		if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
			m.duration = existing
		}
	}

	m.registered = true
	return nil
}

func registerCounterVec(registerer prometheus.Registerer, c **prometheus.CounterVec) error {
	err := registerer.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return err
	}
	if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
		*c = existing
	}
	return nil
}

// RecordPublished counts a published event.
func (m *Metrics) RecordPublished(pubsub, topic, eventType string) {
	m.published.WithLabelValues(pubsub, topic, labelOrUnknown(eventType)).Inc()
}

// RecordProcessed counts a completed unit and observes its duration.
func (m *Metrics) RecordProcessed(pubsub, topic, eventType, outcome string, d time.Duration) {
	eventType = labelOrUnknown(eventType)
	m.processed.WithLabelValues(pubsub, topic, eventType, outcome).Inc()
	m.duration.WithLabelValues(pubsub, topic, eventType).Observe(d.Seconds())
}

// RecordRedelivered counts a message republished on topic.
func (m *Metrics) RecordRedelivered(topic string) {
	m.redelivered.WithLabelValues(topic).Inc()
}

// RecordDeadLettered counts a message moved away from topic.
func (m *Metrics) RecordDeadLettered(topic, reason string) {
	m.deadLettered.WithLabelValues(topic, reason).Inc()
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
