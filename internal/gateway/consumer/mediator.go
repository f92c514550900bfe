// Package consumer implements the queue-driven outbound pipeline: a mediator
// dispatching resource events to per-type consumers that fetch authoritative
// state, convert it to the legacy SOAP dialect and deliver it upstream.
package consumer

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/tradegate/internal/gateway/gerrors"
	"github.com/drblury/tradegate/internal/gateway/logging"
	"github.com/drblury/tradegate/internal/gateway/model"
)

// Event is one decoded resource event handed to a ResourceConsumer.
type Event struct {
	MessageID       string
	ResourceID      string
	SubResourceType string
	Envelope        *model.ResourceEvent
}

// ResourceConsumer handles all events of one resource kind. Returning an
// error nacks the message so the broker's redelivery/DLQ mechanism governs
// retry; the gateway never loops on a message itself.
type ResourceConsumer interface {
	Kind() string
	Handle(ctx context.Context, event Event) error
}

// Mediator reads the ResourceType message attribute and dispatches to the
// matching consumer. Unknown kinds are acknowledged: they are
// forward-compatible traffic, not failures.
type Mediator struct {
	consumers map[string]ResourceConsumer
	logger    logging.ServiceLogger
	handled   *prometheus.CounterVec
}

// NewMediator wires the given consumers into a dispatch table.
func NewMediator(logger logging.ServiceLogger, registerer prometheus.Registerer, consumers ...ResourceConsumer) (*Mediator, error) {
	m := &Mediator{
		consumers: make(map[string]ResourceConsumer, len(consumers)),
		logger:    logger,
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradegate",
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Total queue messages by resource type and outcome.",
		}, []string{"resource_type", "outcome"}),
	}
	for _, c := range consumers {
		m.consumers[c.Kind()] = c
	}

	if registerer != nil {
		if err := registerer.Register(m.handled); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return m, nil
}

// OnMessage is the watermill handler func. One message is either fully
// processed or returned with an error for redelivery; errors never escape to
// stop the consuming loop (the recoverer middleware catches panics).
func (m *Mediator) OnMessage(msg *message.Message) error {
	resourceType := msg.Metadata.Get(model.MetadataKeyResourceType)

	// Dispatch is decided before any decoding: an unhandled kind is
	// acknowledged as-is, whatever its payload or encoding looks like.
	consumer, ok := m.consumers[resourceType]
	if !ok {
		m.handled.WithLabelValues(resourceType, "unhandled").Inc()
		m.logger.Info("unhandled resource type", logging.LogFields{
			"message_id":    msg.UUID,
			"resource_type": resourceType,
		})
		return nil
	}

	body, err := decodeBody(msg.Payload, msg.Metadata.Get(model.MetadataKeyContentEncoding))
	if err != nil {
		m.handled.WithLabelValues(resourceType, "undecodable").Inc()
		fatal := gerrors.Fatal(msg.Metadata.Get(model.MetadataKeyResourceID), msg.UUID, err)
		m.logger.Error("message body cannot be decoded", fatal, logging.LogFields{
			"message_id":    msg.UUID,
			"resource_type": resourceType,
		})
		return fatal
	}

	envelope, err := parseEvent(body)
	if err != nil {
		m.handled.WithLabelValues(resourceType, "undecodable").Inc()
		fatal := gerrors.Fatal(msg.Metadata.Get(model.MetadataKeyResourceID), msg.UUID, err)
		m.logger.Error("resource event envelope is invalid", fatal, logging.LogFields{
			"message_id":    msg.UUID,
			"resource_type": resourceType,
		})
		return fatal
	}

	event := Event{
		MessageID:       msg.UUID,
		ResourceID:      msg.Metadata.Get(model.MetadataKeyResourceID),
		SubResourceType: msg.Metadata.Get(model.MetadataKeySubResourceType),
		Envelope:        envelope,
	}
	if event.ResourceID == "" {
		event.ResourceID = envelope.ResourceID
	}

	if err := consumer.Handle(msg.Context(), event); err != nil {
		m.handled.WithLabelValues(resourceType, "failed").Inc()
		// Conflicts were already logged at the origin; re-logging here would
		// duplicate the noise.
		if !gerrors.Conflict(err) {
			m.logger.Error("message processing failed", err, logging.LogFields{
				"message_id":    msg.UUID,
				"resource_type": resourceType,
				"resource_id":   event.ResourceID,
			})
		}
		return err
	}

	m.handled.WithLabelValues(resourceType, "ok").Inc()
	return nil
}
