// Package eventdispatch routes CloudEvents received from a pub/sub broker to
// typed handlers. It reads the target transport (Kafka, RabbitMQ, AWS SNS/SQS,
// NATS or Go channels) from Config, subscribes to every topic a registered
// handler needs and runs each message on a bounded worker pool.
//
// Handlers are registered per data type with RegisterHandler or
// RegisterProtoHandler. The routing key of an event is its pub/sub name,
// topic, type and source; a message with no matching handler is acknowledged
// and skipped. A message is acknowledged once its handler has finished.
//
// # Failures
//
// A handler that returns an error or panics has its message republished on
// the same topic with an incremented redelivery count. After
// Config.MaxRedeliveries the message is moved to the dead letter topic,
// "<topic>.dead" unless Config.DeadLetterTopic is set. Handlers can return
// ErrSkip to drop an event, or ErrDeadLetter and ErrUnprocessable to dead
// letter it at once. Event data that cannot be decoded into the handler's
// type is redelivered like any other failure. Config.DisableRedelivery sends
// a failed message straight to the dead letter topic.
//
// # Publishing
//
// Publish builds a CloudEvent with a ULID id from the metadata registered for
// the data type and writes the W3C trace context into the traceparent and
// tracestate extensions. The event subject is used as the Kafka partition key.
//
// # Observability
//
// Processing and publishing spans are created with the global OpenTelemetry
// tracer provider unless ServiceDependencies.TracerProvider is set. With
// Config.MetricsEnabled the Prometheus collectors are served on /metrics and
// the built handlers on /api/handlers. JobHooks add callbacks around every
// handler invocation.
package eventdispatch
