// Package gerrors defines the gateway's error taxonomy. Transient upstream
// failures are retried inside the resilient sender and never surface here;
// everything in this package is terminal for the operation that raised it.
package gerrors

import (
	sterrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrRouteTableDuplicateKey = sterrors.New("tradegate: duplicate destination key in route table")
	ErrDestinationLinkInvalid = sterrors.New("tradegate: destination base link is not an absolute URL")
	ErrSenderPoolUnknown      = sterrors.New("tradegate: unknown sender client pool")
	ErrUnsupportedEncoding    = sterrors.New("tradegate: unsupported message content encoding")
	ErrResourceMissing        = sterrors.New("tradegate: resource not found in data api")
	ErrDecisionMissing        = sterrors.New("tradegate: customs declaration carries no clearance decision")
)

// FatalProcessingError marks a queue message as unprocessable by this
// delivery attempt. The consumer returns it to the router so the message is
// nacked and the broker's own redelivery/DLQ mechanism takes over; the
// gateway never retries these itself.
type FatalProcessingError struct {
	ResourceID string
	MessageID  string
	Err        error
}

func (e *FatalProcessingError) Error() string {
	return fmt.Sprintf("fatal processing failure for resource %s (message %s): %v", e.ResourceID, e.MessageID, e.Err)
}

func (e *FatalProcessingError) Unwrap() error { return e.Err }

// Fatal wraps err for the given resource/message identifiers.
func Fatal(resourceID, messageID string, err error) *FatalProcessingError {
	return &FatalProcessingError{ResourceID: resourceID, MessageID: messageID, Err: err}
}

// DeliveryError records a terminal non-2xx response from an upstream system.
type DeliveryError struct {
	Destination string
	StatusCode  int
	Reason      string
	Body        string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed with status %d: %s", e.Destination, e.StatusCode, e.Reason)
}

// Conflict reports whether err is a 409 delivery failure. Conflicts are
// idempotency signals from downstream and are logged once at the origin;
// callers re-throwing them must not log again.
func Conflict(err error) bool {
	var de *DeliveryError
	if sterrors.As(err, &de) {
		return de.StatusCode == http.StatusConflict
	}
	return false
}
