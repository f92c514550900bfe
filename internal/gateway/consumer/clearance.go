package consumer

import (
	"context"

	"github.com/drblury/tradegate/internal/gateway/config"
	"github.com/drblury/tradegate/internal/gateway/dataapi"
	"github.com/drblury/tradegate/internal/gateway/gerrors"
	"github.com/drblury/tradegate/internal/gateway/logging"
	"github.com/drblury/tradegate/internal/gateway/model"
	"github.com/drblury/tradegate/internal/gateway/soap"
)

// ClearanceDecisionConsumer reacts to CustomsDeclaration events. The queue
// message is only a pointer: the declaration of record is fetched from the
// Data API by MRN, converted and delivered to the CDS-bound destination.
type ClearanceDecisionConsumer struct {
	fetcher        dataapi.Fetcher
	deliverer      SoapDeliverer
	destinationKey string
	logger         logging.ServiceLogger
}

func NewClearanceDecisionConsumer(fetcher dataapi.Fetcher, deliverer SoapDeliverer, destinationKey string, logger logging.ServiceLogger) *ClearanceDecisionConsumer {
	return &ClearanceDecisionConsumer{
		fetcher:        fetcher,
		deliverer:      deliverer,
		destinationKey: destinationKey,
		logger:         logger,
	}
}

func (c *ClearanceDecisionConsumer) Kind() string {
	return model.ResourceKindCustomsDeclaration
}

// Handle fetches, converts and delivers one clearance decision. A missing
// declaration or missing nested decision is fatal for this message: the
// event references state the gateway cannot reconstruct, so the broker's
// redelivery/expiry owns the retry.
func (c *ClearanceDecisionConsumer) Handle(ctx context.Context, event Event) error {
	mrn := event.ResourceID

	declaration, err := c.fetcher.GetCustomsDeclaration(ctx, mrn)
	if err != nil {
		return gerrors.Fatal(mrn, event.MessageID, err)
	}
	if declaration == nil {
		return gerrors.Fatal(mrn, event.MessageID, gerrors.ErrResourceMissing)
	}
	if declaration.ClearanceDecision == nil {
		return gerrors.Fatal(mrn, event.MessageID, gerrors.ErrDecisionMissing)
	}

	decision := declaration.ClearanceDecision
	envelope := soap.ClearanceDecisionToSoap(decision, mrn)

	if err := c.deliverer.Deliver(ctx, c.destinationKey, config.PoolProxyUnvalidated, envelope, decision.ExternalCorrelationID); err != nil {
		return gerrors.Fatal(mrn, event.MessageID, err)
	}

	c.logger.Info("clearance decision delivered", logging.LogFields{
		"mrn":             mrn,
		"decision_number": decision.DecisionNumber,
		"destination":     c.destinationKey,
	})
	return nil
}
