package consumer

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/tradegate/internal/gateway/config"
	"github.com/drblury/tradegate/internal/gateway/ids"
	"github.com/drblury/tradegate/internal/gateway/logging"
	"github.com/drblury/tradegate/internal/gateway/model"
)

// Service hosts the watermill router running the consumer pipeline. The
// configured consumer count becomes that many competing handlers on the same
// queue: at-least-once delivery with no cross-message ordering, exactly as the
// broker guarantees.
type Service struct {
	router *message.Router
	logger logging.ServiceLogger
}

// NewService wires the router, middleware chain and handler instances.
func NewService(conf *config.Config, logger logging.ServiceLogger, subscriber message.Subscriber, mediator *Mediator) (*Service, error) {
	wmLogger := logging.NewWatermillAdapter(logger)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}
	router.AddPlugin(plugin.SignalsHandler)

	router.AddMiddleware(
		correlationIDMiddleware(),
		logMessagesMiddleware(logger),
		tracerMiddleware(),
		middleware.Recoverer,
	)

	count := conf.ConsumerCount
	if count <= 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		router.AddNoPublisherHandler(
			fmt.Sprintf("resource-events-%d", i),
			conf.QueueName,
			subscriber,
			mediator.OnMessage,
		)
	}

	return &Service{router: router, logger: logger}, nil
}

// Run blocks until the context is cancelled or the router stops.
func (s *Service) Run(ctx context.Context) error {
	return s.router.Run(ctx)
}

// Running reports whether the router has started and not yet closed.
func (s *Service) Running() bool {
	select {
	case <-s.router.Running():
		return !s.router.IsClosed()
	default:
		return false
	}
}

// correlationIDMiddleware injects a correlation identifier when the message
// carries none, so every downstream log line can be tied together.
func correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if _, ok := msg.Metadata[model.MetadataKeyCorrelationID]; !ok {
				msg.Metadata[model.MetadataKeyCorrelationID] = ids.CreateULID()
			}
			return h(msg)
		}
	}
}

// tracerMiddleware wraps message handling with an OpenTelemetry span.
func tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer("tradegate/consumer")
			ctx, span := tracer.Start(msg.Context(), "consume",
				trace.WithAttributes(
					attribute.String("message.uuid", msg.UUID),
					attribute.String("gateway.resource_type", msg.Metadata.Get(model.MetadataKeyResourceType)),
				))
			defer span.End()
			msg.SetContext(ctx)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
			}
			return msgs, err
		}
	}
}

// logMessagesMiddleware traces each handled message with its metadata.
func logMessagesMiddleware(logger logging.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("handling queue message", logging.LogFields{
				"message_id":     msg.UUID,
				"resource_type":  msg.Metadata.Get(model.MetadataKeyResourceType),
				"resource_id":    msg.Metadata.Get(model.MetadataKeyResourceID),
				"correlation_id": msg.Metadata.Get(model.MetadataKeyCorrelationID),
			})
			return h(msg)
		}
	}
}
