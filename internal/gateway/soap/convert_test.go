package soap

import (
	"encoding/xml"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/drblury/tradegate/internal/gateway/model"
)

const testMRN = "24GB0000000000000001"

func sampleDecision() *model.ClearanceDecision {
	return &model.ClearanceDecision{
		ExternalCorrelationID: "000123456",
		Created:               time.Date(2026, 3, 14, 9, 30, 15, 123000000, time.UTC),
		ExternalVersionNumber: 2,
		DecisionNumber:        5,
		Items: []model.ClearanceDecisionItem{
			{
				ItemNumber: 1,
				Checks: []model.ClearanceDecisionCheck{
					{CheckCode: "H221", DecisionCode: "C03", DecisionReasons: []string{"Documentary check required"}},
					{CheckCode: "H224", DecisionCode: "X00"},
				},
			},
			{ItemNumber: 2},
		},
	}
}

func TestClearanceDecisionToSoapIsDeterministic(t *testing.T) {
	first := ClearanceDecisionToSoap(sampleDecision(), testMRN)
	second := ClearanceDecisionToSoap(sampleDecision(), testMRN)
	if first != second {
		t.Fatal("expected byte-identical envelopes for identical input")
	}
}

func TestClearanceDecisionToSoapLayout(t *testing.T) {
	envelope := string(ClearanceDecisionToSoap(sampleDecision(), testMRN))

	for _, want := range []string{
		`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:NS1="http://uk.gov.hmrc.ITSW2.ws">`,
		"<NS1:SourceSystem>CDS</NS1:SourceSystem>",
		"<NS1:DestinationSystem>ALVS</NS1:DestinationSystem>",
		"<NS1:CorrelationId>000123456</NS1:CorrelationId>",
		"<NS1:ServiceCallTimestamp>2026-03-14T09:30:15.123Z</NS1:ServiceCallTimestamp>",
		"<NS1:EntryReference>" + testMRN + "</NS1:EntryReference>",
		"<NS1:EntryVersionNumber>2</NS1:EntryVersionNumber>",
		"<NS1:DecisionNumber>5</NS1:DecisionNumber>",
		"<NS1:CheckCode>H221</NS1:CheckCode>",
		"<NS1:DecisionCode>C03</NS1:DecisionCode>",
		"<NS1:DecisionReason>Documentary check required</NS1:DecisionReason>",
	} {
		if !strings.Contains(envelope, want) {
			t.Fatalf("envelope missing %q:\n%s", want, envelope)
		}
	}

	// Absent validity must render an empty element, not disappear.
	if strings.Count(envelope, "<NS1:DecisionValidUntil></NS1:DecisionValidUntil>") != 2 {
		t.Fatalf("expected empty DecisionValidUntil elements:\n%s", envelope)
	}
	if strings.Count(envelope, "<NS1:Item>") != 2 {
		t.Fatalf("expected two items:\n%s", envelope)
	}
}

func TestClearanceDecisionToSoapEscapesValues(t *testing.T) {
	decision := sampleDecision()
	decision.Items[0].Checks[0].DecisionReasons = []string{`Goods "on hold" <pending review> & inspection`}

	envelope := string(ClearanceDecisionToSoap(decision, testMRN))
	if !strings.Contains(envelope, "Goods &#34;on hold&#34; &lt;pending review&gt; &amp; inspection") {
		t.Fatalf("expected escaped reason text:\n%s", envelope)
	}
}

func TestErrorNotificationToSoap(t *testing.T) {
	processingError := &model.ProcessingError{
		CorrelationID:         "err-789",
		Created:               time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		ExternalVersionNumber: 1,
		Errors: []model.ErrorItem{
			{Code: "ALVSVAL303", Message: "Entry version mismatch"},
			{Code: "ALVSVAL401", Message: "Unknown entry reference"},
		},
	}

	first := ErrorNotificationToSoap(processingError, testMRN)
	if first != ErrorNotificationToSoap(processingError, testMRN) {
		t.Fatal("expected byte-identical envelopes for identical input")
	}

	envelope := string(first)
	for _, want := range []string{
		"<NS1:ALVSErrorNotification>",
		"<NS1:CorrelationId>err-789</NS1:CorrelationId>",
		"<NS1:EntryReference>" + testMRN + "</NS1:EntryReference>",
		"<NS1:ErrorCode>ALVSVAL303</NS1:ErrorCode>",
		"<NS1:ErrorMessage>Entry version mismatch</NS1:ErrorMessage>",
		"<NS1:ErrorCode>ALVSVAL401</NS1:ErrorCode>",
	} {
		if !strings.Contains(envelope, want) {
			t.Fatalf("envelope missing %q:\n%s", want, envelope)
		}
	}

	// Error elements keep arrival order.
	if strings.Index(envelope, "ALVSVAL303") > strings.Index(envelope, "ALVSVAL401") {
		t.Fatalf("expected errors in arrival order:\n%s", envelope)
	}
}

func TestEnvelopesAreWellFormedXML(t *testing.T) {
	for name, envelope := range map[string]Envelope{
		"decision": ClearanceDecisionToSoap(sampleDecision(), testMRN),
		"error": ErrorNotificationToSoap(&model.ProcessingError{
			Created: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
			Errors:  []model.ErrorItem{{Code: "ALVSVAL101", Message: "bad"}},
		}, testMRN),
	} {
		decoder := xml.NewDecoder(strings.NewReader(string(envelope)))
		for {
			_, err := decoder.Token()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("%s envelope is not well-formed: %v\n%s", name, err, envelope)
			}
		}
	}
}
