package consumer

import (
	"context"
	"errors"

	"github.com/drblury/tradegate/internal/gateway/config"
	"github.com/drblury/tradegate/internal/gateway/gerrors"
	"github.com/drblury/tradegate/internal/gateway/jsoncodec"
	"github.com/drblury/tradegate/internal/gateway/logging"
	"github.com/drblury/tradegate/internal/gateway/model"
	"github.com/drblury/tradegate/internal/gateway/soap"
)

// ProcessingErrorConsumer reacts to ProcessingError events: the latest error
// on the resource is converted and delivered to the decision comparer.
// Tombstoned or partial events (nil resource, empty error collection) are
// expected traffic and complete as no-ops.
type ProcessingErrorConsumer struct {
	deliverer      SoapDeliverer
	destinationKey string
	logger         logging.ServiceLogger
}

func NewProcessingErrorConsumer(deliverer SoapDeliverer, destinationKey string, logger logging.ServiceLogger) *ProcessingErrorConsumer {
	return &ProcessingErrorConsumer{
		deliverer:      deliverer,
		destinationKey: destinationKey,
		logger:         logger,
	}
}

func (c *ProcessingErrorConsumer) Kind() string {
	return model.ResourceKindProcessingError
}

func (c *ProcessingErrorConsumer) Handle(ctx context.Context, event Event) error {
	if len(event.Envelope.Resource) == 0 {
		c.logger.Info("processing error event without resource, skipping", logging.LogFields{
			"resource_id": event.ResourceID,
			"message_id":  event.MessageID,
		})
		return nil
	}

	var resource model.ProcessingErrorResource
	if err := jsoncodec.Unmarshal(event.Envelope.Resource, &resource); err != nil {
		return gerrors.Fatal(event.ResourceID, event.MessageID, err)
	}

	latest := resource.Latest()
	if latest == nil {
		c.logger.Info("processing error event with empty error collection, skipping", logging.LogFields{
			"resource_id": event.ResourceID,
			"message_id":  event.MessageID,
		})
		return nil
	}

	mrn := event.ResourceID
	if resource.MovementReferenceNumber != "" {
		mrn = resource.MovementReferenceNumber
	}
	envelope := soap.ErrorNotificationToSoap(latest, mrn)

	if err := c.deliverer.Deliver(ctx, c.destinationKey, config.PoolDecisionComparer, envelope, latest.CorrelationID); err != nil {
		var deliveryErr *gerrors.DeliveryError
		if errors.As(err, &deliveryErr) && !gerrors.Conflict(err) {
			c.logger.Error("error notification delivery rejected", err, logging.LogFields{
				"resource_id":    event.ResourceID,
				"correlation_id": latest.CorrelationID,
				"status":         deliveryErr.StatusCode,
				"reason":         deliveryErr.Reason,
				"response_body":  deliveryErr.Body,
			})
		}
		return gerrors.Fatal(event.ResourceID, event.MessageID, err)
	}

	c.logger.Info("error notification delivered", logging.LogFields{
		"resource_id":    event.ResourceID,
		"correlation_id": latest.CorrelationID,
		"destination":    c.destinationKey,
	})
	return nil
}
