// Package health serves the local liveness endpoint. Requests reach it
// through the forwarding pipeline's pass-through branch when no route
// matches.
package health

import (
	"net/http"
	"sync"
	"time"

	"github.com/drblury/tradegate/internal/gateway/jsoncodec"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusUnknown  = "unknown"
)

type ComponentStatus struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Details     string    `json:"details,omitempty"`
}

type Report struct {
	Status     string            `json:"status"`
	Components []ComponentStatus `json:"components"`
}

// Checker reports the current state of one component, for example the
// consumer router or the SQS connection.
type Checker func() ComponentStatus

// Handler aggregates component checks into a single liveness report.
type Handler struct {
	mu       sync.Mutex
	checkers []Checker
}

func NewHandler() *Handler {
	return &Handler{}
}

// AddCheck registers a component check. Safe to call after serving starts.
func (h *Handler) AddCheck(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// StaticCheck reports a fixed status for a component.
func StaticCheck(name, status string) Checker {
	return func() ComponentStatus {
		return ComponentStatus{Name: name, Status: status, LastChecked: time.Now().UTC()}
	}
}

// RunningCheck reports healthy while the returned probe is true.
func RunningCheck(name string, running func() bool) Checker {
	return func() ComponentStatus {
		status := StatusDegraded
		if running() {
			status = StatusHealthy
		}
		return ComponentStatus{Name: name, Status: status, LastChecked: time.Now().UTC()}
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report := h.report()

	code := http.StatusOK
	if report.Status == StatusDegraded {
		code = http.StatusServiceUnavailable
	}

	body, err := jsoncodec.Marshal(report)
	if err != nil {
		http.Error(w, "failed to encode health report", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

func (h *Handler) report() Report {
	h.mu.Lock()
	checkers := make([]Checker, len(h.checkers))
	copy(checkers, h.checkers)
	h.mu.Unlock()

	report := Report{Status: StatusHealthy, Components: make([]ComponentStatus, 0, len(checkers))}
	for _, check := range checkers {
		component := check()
		if component.Status == StatusDegraded {
			report.Status = StatusDegraded
		}
		report.Components = append(report.Components, component)
	}
	return report
}
