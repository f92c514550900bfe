// Package model holds the domain objects exchanged with the Data API and the
// resource-event queue. The gateway never persists these; every instance
// lives for a single request or message.
package model

import (
	"encoding/json"
	"time"
)

// Resource kinds carried in the queue message's ResourceType attribute.
// Dispatch is a closed set; anything else is ResourceKindUnknown.
const (
	ResourceKindCustomsDeclaration = "CustomsDeclaration"
	ResourceKindProcessingError    = "ProcessingError"
)

// Metadata keys carried as queue-message attributes, not payload content.
const (
	MetadataKeyResourceType    = "ResourceType"
	MetadataKeySubResourceType = "SubResourceType"
	MetadataKeyResourceID      = "ResourceId"
	MetadataKeyContentEncoding = "Content-Encoding"
	MetadataKeyCorrelationID   = "correlation_id"
)

// ResourceEvent is the JSON envelope of a queue message. Resource is kept raw
// so each consumer decodes only the type it handles; a missing resource is
// expected traffic (tombstoned or partial events), not a parse failure.
type ResourceEvent struct {
	ResourceID string          `json:"resourceId"`
	Resource   json.RawMessage `json:"resource,omitempty"`
}

// CustomsDeclaration is the authoritative declaration fetched from the Data
// API by MRN. The queue message is only a pointer to it.
type CustomsDeclaration struct {
	MovementReferenceNumber string             `json:"movementReferenceNumber"`
	ClearanceDecision       *ClearanceDecision `json:"clearanceDecision,omitempty"`
}

// ClearanceDecision is the customs decision nested in a declaration.
type ClearanceDecision struct {
	ExternalCorrelationID string                  `json:"externalCorrelationId,omitempty"`
	Created               time.Time               `json:"created"`
	ExternalVersionNumber int                     `json:"externalVersionNumber"`
	DecisionNumber        int                     `json:"decisionNumber"`
	Items                 []ClearanceDecisionItem `json:"items,omitempty"`
}

type ClearanceDecisionItem struct {
	ItemNumber int                      `json:"itemNumber"`
	Checks     []ClearanceDecisionCheck `json:"checks,omitempty"`
}

type ClearanceDecisionCheck struct {
	CheckCode           string   `json:"checkCode"`
	DecisionCode        string   `json:"decisionCode"`
	DecisionsValidUntil string   `json:"decisionsValidUntil,omitempty"`
	DecisionReasons     []string `json:"decisionReasons,omitempty"`
}

// ProcessingErrorResource is the queue payload for ProcessingError events.
// A resource may carry several errors accumulated over re-submissions.
type ProcessingErrorResource struct {
	MovementReferenceNumber string            `json:"movementReferenceNumber,omitempty"`
	ProcessingErrors        []ProcessingError `json:"processingErrors,omitempty"`
}

// ProcessingError describes one failed processing attempt upstream.
type ProcessingError struct {
	CorrelationID         string      `json:"correlationId,omitempty"`
	Created               time.Time   `json:"created"`
	ExternalVersionNumber int         `json:"externalVersionNumber"`
	Errors                []ErrorItem `json:"errors,omitempty"`
}

type ErrorItem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Latest returns the most recently created processing error, ties broken by
// arrival order (last wins). Returns nil for an empty collection.
func (r *ProcessingErrorResource) Latest() *ProcessingError {
	if r == nil || len(r.ProcessingErrors) == 0 {
		return nil
	}
	latest := 0
	for i := 1; i < len(r.ProcessingErrors); i++ {
		if !r.ProcessingErrors[i].Created.Before(r.ProcessingErrors[latest].Created) {
			latest = i
		}
	}
	return &r.ProcessingErrors[latest]
}
