/*
Package runtime wires the dispatcher of one process.

# Architecture Overview

Messages arrive from a Watermill subscriber, are wrapped in a dispatch unit
each, run on a bounded worker pool and are acknowledged once their unit has
completed. A unit decodes the structured-mode CloudEvent, derives its routing
key, invokes the handler bound to that key and republishes the message when
the handler fails.

# Package Structure

## Core Service (service.go)

The Service struct builds the configured transport and wires together:
  - the handler registry and its resolver
  - the consumption loop and the worker pool
  - the redelivery producer and its dead letter path
  - the publisher with trace context propagation
  - HTTP servers for /metrics and /api/handlers

## Handler Registration (registration.go)

RegisterHandler and RegisterProtoHandler record the routing metadata of a
data type and the handler that serves it. RegisterEventType declares types
that are only published. The registry is frozen when Start runs.

## Job Hooks (hooks.go)

JobHooks observe every handler invocation. They wrap the dispatch telemetry
so hooks and spans see the same start and end.

## Introspection (introspection.go)

HandlerInfos and PoolStats back the /api/handlers endpoint.

# Sub-packages

  - cloudevents/: envelope model, codec, routing metadata, handler errors
  - registry/: routing keys to handler bindings, resolvers
  - dispatch/: the per-message unit and its collaborator interfaces
  - redelivery/: republishing and dead lettering over a Watermill publisher
  - telemetry/: OpenTelemetry spans and Prometheus collectors
  - workers/: bounded worker pool
  - consumer/: subscription loop feeding units to the pool
  - publisher/: typed publishing with registry metadata
  - config/: configuration, validation and viper loading
  - logging/: logger contract and slog, zap and Watermill adapters
  - headers/: message header helpers
  - errors/, ids/, jsoncodec/: sentinel errors, ULIDs, sonic JSON

# Usage Example

	cfg := &eventdispatch.Config{
		PubSubSystem:       "kafka",
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaConsumerGroup: "billing",
		MetricsEnabled:     true,
	}

	svc, err := eventdispatch.NewService(ctx, cfg, logger, eventdispatch.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	_, err = eventdispatch.RegisterHandler[OrderCreated](svc, eventdispatch.Attributes{Topic: "orders"},
		eventdispatch.HandlerFunc[OrderCreated](handleOrder))
	if err != nil {
		return err
	}

	return svc.Start(ctx)
*/
package runtime
