package consumer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/drblury/tradegate/internal/gateway/forwarder"
	"github.com/drblury/tradegate/internal/gateway/gerrors"
	"github.com/drblury/tradegate/internal/gateway/logging"
	"github.com/drblury/tradegate/internal/gateway/routing"
	"github.com/drblury/tradegate/internal/gateway/sender"
	"github.com/drblury/tradegate/internal/gateway/soap"
)

// SoapDeliverer posts converted SOAP envelopes to a fixed destination. The
// narrow contract keeps consumers independent of routing and transport
// details and lets tests substitute a fake.
type SoapDeliverer interface {
	Deliver(ctx context.Context, destinationKey, pool string, envelope soap.Envelope, correlationID string) error
}

// UpstreamDeliverer delivers through the resilient sender to destinations
// from the route table.
type UpstreamDeliverer struct {
	table  *routing.Table
	sender *sender.Sender
	logger logging.ServiceLogger
	now    func() time.Time
}

func NewUpstreamDeliverer(table *routing.Table, s *sender.Sender, logger logging.ServiceLogger) *UpstreamDeliverer {
	return &UpstreamDeliverer{table: table, sender: s, logger: logger, now: time.Now}
}

// Deliver posts the envelope and classifies the outcome. A non-2xx terminal
// response is a typed DeliveryError so callers can distinguish idempotency
// conflicts from real failures.
func (d *UpstreamDeliverer) Deliver(ctx context.Context, destinationKey, pool string, envelope soap.Envelope, correlationID string) error {
	destination, ok := d.table.Destination(destinationKey)
	if !ok {
		return fmt.Errorf("destination %s is not configured", destinationKey)
	}

	contentType := destination.ContentType
	if contentType == "" {
		contentType = "application/soap+xml"
	}
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Accept", contentType)
	header.Set(forwarder.HeaderDate, d.now().UTC().Format(http.TimeFormat))
	if correlationID != "" {
		header.Set(forwarder.HeaderCorrelationID, correlationID)
	}

	resp, err := d.sender.Send(ctx, pool, sender.Request{
		Method:             destination.Method,
		URL:                destination.URLFor(""),
		Header:             header,
		Body:               []byte(envelope),
		HostHeaderOverride: destination.HostHeaderOverride,
	})
	if err != nil {
		return fmt.Errorf("delivery to %s failed: %w", destinationKey, err)
	}
	if !resp.Success() {
		deliveryErr := &gerrors.DeliveryError{
			Destination: destinationKey,
			StatusCode:  resp.StatusCode,
			Reason:      http.StatusText(resp.StatusCode),
			Body:        string(resp.Body),
		}
		// Conflicts are logged once, here at the origin.
		if gerrors.Conflict(deliveryErr) {
			d.logger.Info("upstream reported duplicate delivery", logging.LogFields{
				"destination":    destinationKey,
				"correlation_id": correlationID,
			})
		}
		return deliveryErr
	}
	return nil
}
