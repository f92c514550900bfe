// Package admin exposes the administrator surface for dead letter recovery.
// Authorization is enforced upstream of this process.
package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/drblury/tradegate/internal/gateway/logging"
)

// Recoverer is the slice of the dead letter recovery service the handlers
// drive.
type Recoverer interface {
	Redrive(ctx context.Context) bool
	Remove(ctx context.Context, messageID string) string
	Drain(ctx context.Context) (int, bool)
}

// Handler serves the /admin endpoints.
type Handler struct {
	recovery Recoverer
	logger   logging.ServiceLogger
}

func NewHandler(recovery Recoverer, logger logging.ServiceLogger) *Handler {
	return &Handler{recovery: recovery, logger: logger}
}

// Register mounts the admin routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/redrive", h.redrive)
	mux.HandleFunc("POST /admin/remove", h.remove)
	mux.HandleFunc("POST /admin/drain", h.drain)
}

func (h *Handler) redrive(w http.ResponseWriter, r *http.Request) {
	if !h.recovery.Redrive(r.Context()) {
		http.Error(w, "redrive failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	messageID := r.URL.Query().Get("messageId")
	if messageID == "" {
		http.Error(w, "messageId query parameter is required", http.StatusBadRequest)
		return
	}

	result := h.recovery.Remove(r.Context(), messageID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, result)
}

func (h *Handler) drain(w http.ResponseWriter, r *http.Request) {
	removed, ok := h.recovery.Drain(r.Context())
	if !ok {
		http.Error(w, fmt.Sprintf("drain failed after removing %d messages", removed), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "drained %d messages from the dead letter queue\n", removed)
}
