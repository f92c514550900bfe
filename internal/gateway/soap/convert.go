// Package soap converts domain objects into the fixed legacy XML dialect
// accepted by ALVS and CDS. Downstream systems string-match on the documents,
// so the builders emit a stable layout: fixed element order, fixed two-space
// indentation, no self-closing tags. Identical input reproduces identical
// bytes.
package soap

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/tradegate/internal/gateway/model"
)

// Envelope is the serialised SOAP document.
type Envelope string

const (
	soapNamespace   = "http://www.w3.org/2003/05/soap-envelope"
	legacyNamespace = "http://uk.gov.hmrc.ITSW2.ws"

	sourceSystem      = "CDS"
	destinationSystem = "ALVS"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// ClearanceDecisionToSoap renders a clearance decision as a
// DecisionNotification envelope for the given MRN. Pure and deterministic;
// the service timestamp is taken from the decision itself.
func ClearanceDecisionToSoap(decision *model.ClearanceDecision, mrn string) Envelope {
	w := newWriter()
	w.openEnvelope()
	w.serviceHeader(decision.ExternalCorrelationID, decision.Created)
	w.openBody()

	w.open("DecisionNotification")
	w.open("DecisionNotificationMessage")
	w.element("EntryReference", mrn)
	w.element("EntryVersionNumber", strconv.Itoa(decision.ExternalVersionNumber))
	w.element("DecisionNumber", strconv.Itoa(decision.DecisionNumber))
	for _, item := range decision.Items {
		w.open("Item")
		w.element("ItemNumber", strconv.Itoa(item.ItemNumber))
		for _, check := range item.Checks {
			w.open("Check")
			w.element("CheckCode", check.CheckCode)
			w.element("DecisionCode", check.DecisionCode)
			// Absent validity maps to an empty element, never a missing one.
			w.element("DecisionValidUntil", check.DecisionsValidUntil)
			for _, reason := range check.DecisionReasons {
				w.element("DecisionReason", reason)
			}
			w.close("Check")
		}
		w.close("Item")
	}
	w.close("DecisionNotificationMessage")
	w.close("DecisionNotification")

	w.closeBody()
	w.closeEnvelope()
	return Envelope(w.String())
}

// ErrorNotificationToSoap renders one processing error as an
// ALVSErrorNotification envelope for the given MRN.
func ErrorNotificationToSoap(processingError *model.ProcessingError, mrn string) Envelope {
	w := newWriter()
	w.openEnvelope()
	w.serviceHeader(processingError.CorrelationID, processingError.Created)
	w.openBody()

	w.open("ALVSErrorNotification")
	w.open("ErrorNotificationMessage")
	w.element("EntryReference", mrn)
	w.element("EntryVersionNumber", strconv.Itoa(processingError.ExternalVersionNumber))
	for _, item := range processingError.Errors {
		w.open("Error")
		w.element("ErrorCode", item.Code)
		w.element("ErrorMessage", item.Message)
		w.close("Error")
	}
	w.close("ErrorNotificationMessage")
	w.close("ALVSErrorNotification")

	w.closeBody()
	w.closeEnvelope()
	return Envelope(w.String())
}

type writer struct {
	sb    strings.Builder
	depth int
}

func newWriter() *writer {
	return &writer{}
}

func (w *writer) indent() {
	for i := 0; i < w.depth; i++ {
		w.sb.WriteString("  ")
	}
}

func (w *writer) openEnvelope() {
	w.sb.WriteString(`<soap:Envelope xmlns:soap="` + soapNamespace + `" xmlns:NS1="` + legacyNamespace + `">`)
	w.sb.WriteByte('\n')
	w.depth++
}

func (w *writer) closeEnvelope() {
	w.depth--
	w.sb.WriteString("</soap:Envelope>")
	w.sb.WriteByte('\n')
}

func (w *writer) serviceHeader(correlationID string, timestamp time.Time) {
	w.indent()
	w.sb.WriteString("<soap:Header>\n")
	w.depth++
	w.open("ServiceHeader")
	w.element("SourceSystem", sourceSystem)
	w.element("DestinationSystem", destinationSystem)
	w.element("CorrelationId", correlationID)
	w.element("ServiceCallTimestamp", timestamp.UTC().Format(timestampLayout))
	w.close("ServiceHeader")
	w.depth--
	w.indent()
	w.sb.WriteString("</soap:Header>\n")
}

func (w *writer) openBody() {
	w.indent()
	w.sb.WriteString("<soap:Body>\n")
	w.depth++
}

func (w *writer) closeBody() {
	w.depth--
	w.indent()
	w.sb.WriteString("</soap:Body>\n")
}

func (w *writer) open(name string) {
	w.indent()
	w.sb.WriteString("<NS1:" + name + ">\n")
	w.depth++
}

func (w *writer) close(name string) {
	w.depth--
	w.indent()
	w.sb.WriteString("</NS1:" + name + ">\n")
}

func (w *writer) element(name, value string) {
	w.indent()
	w.sb.WriteString("<NS1:" + name + ">")
	w.sb.WriteString(escape(value))
	w.sb.WriteString("</NS1:" + name + ">\n")
}

func (w *writer) String() string {
	return w.sb.String()
}

func escape(value string) string {
	if value == "" {
		return ""
	}
	var sb strings.Builder
	// xml.EscapeText never fails on a strings.Builder.
	_ = xml.EscapeText(&sb, []byte(value))
	return sb.String()
}
