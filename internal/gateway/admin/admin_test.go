package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/drblury/tradegate/internal/gateway/logging"
)

type fakeRecovery struct {
	redriveOK   bool
	removeText  string
	removedID   string
	drainCount  int
	drainOK     bool
	drainCalled bool
}

func (f *fakeRecovery) Redrive(context.Context) bool { return f.redriveOK }

func (f *fakeRecovery) Remove(_ context.Context, messageID string) string {
	f.removedID = messageID
	return f.removeText
}

func (f *fakeRecovery) Drain(context.Context) (int, bool) {
	f.drainCalled = true
	return f.drainCount, f.drainOK
}

func serve(t *testing.T, recovery Recoverer, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(recovery, logging.Nop()).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestRedriveRespondsAcceptedOnSuccess(t *testing.T) {
	rec := serve(t, &fakeRecovery{redriveOK: true}, http.MethodPost, "/admin/redrive")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
}

func TestRedriveRespondsServerErrorOnFailure(t *testing.T) {
	rec := serve(t, &fakeRecovery{redriveOK: false}, http.MethodPost, "/admin/redrive")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRemoveReturnsOutcomeText(t *testing.T) {
	fake := &fakeRecovery{removeText: "Removed message msg-1 from the dead letter queue"}
	rec := serve(t, fake, http.MethodPost, "/admin/remove?messageId=msg-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fake.removedID != "msg-1" {
		t.Fatalf("expected removal of msg-1, got %q", fake.removedID)
	}
	if !strings.Contains(rec.Body.String(), "Removed message msg-1") {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestRemoveRequiresMessageID(t *testing.T) {
	rec := serve(t, &fakeRecovery{}, http.MethodPost, "/admin/remove")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDrainReportsRemovedCount(t *testing.T) {
	fake := &fakeRecovery{drainCount: 7, drainOK: true}
	rec := serve(t, fake, http.MethodPost, "/admin/drain")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "7 messages") {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestDrainRespondsServerErrorOnFailure(t *testing.T) {
	fake := &fakeRecovery{drainCount: 2, drainOK: false}
	rec := serve(t, fake, http.MethodPost, "/admin/drain")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !fake.drainCalled {
		t.Fatal("drain was not invoked")
	}
}

func TestAdminEndpointsRejectGet(t *testing.T) {
	rec := serve(t, &fakeRecovery{redriveOK: true}, http.MethodGet, "/admin/redrive")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
