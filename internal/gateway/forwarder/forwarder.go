// Package forwarder implements the inbound request pipeline: resolve a route,
// forward via the resilient sender, optionally fork a best-effort copy to a
// secondary destination, and relay the primary response verbatim.
package forwarder

import (
	"context"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/tradegate/internal/gateway/config"
	"github.com/drblury/tradegate/internal/gateway/ids"
	"github.com/drblury/tradegate/internal/gateway/logging"
	"github.com/drblury/tradegate/internal/gateway/routing"
	"github.com/drblury/tradegate/internal/gateway/sender"
)

// Header names propagated end to end. Downstream must echo them and the
// gateway relays them back to the caller untouched.
const (
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderDate          = "Date"
)

// ForkResult reports the outcome of one detached fork dispatch. Observed only
// through the side channel; it never influences the primary response.
type ForkResult struct {
	Destination string
	StatusCode  int
	Err         error
}

// Pipeline is the http.Handler fronting every inbound request. Requests whose
// path resolves against the route table are forwarded; everything else passes
// through to next (health, admin).
type Pipeline struct {
	table    *routing.Table
	sender   *sender.Sender
	next     http.Handler
	logger   logging.ServiceLogger
	tracer   trace.Tracer
	forwards *prometheus.CounterVec
	forks    *prometheus.CounterVec

	// onForkResult, when set, receives every fork outcome. Used by tests and
	// optional observers; dispatch never blocks on it being slow because it
	// runs on the fork's own goroutine.
	onForkResult func(ForkResult)
}

// Option customises pipeline construction.
type Option func(*Pipeline)

// WithForkObserver registers a callback invoked with each fork outcome.
func WithForkObserver(fn func(ForkResult)) Option {
	return func(p *Pipeline) { p.onForkResult = fn }
}

// New builds the forwarding pipeline.
func New(table *routing.Table, s *sender.Sender, next http.Handler, logger logging.ServiceLogger, registerer prometheus.Registerer, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		table:  table,
		sender: s,
		next:   next,
		logger: logger,
		tracer: otel.Tracer("tradegate/forwarder"),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradegate",
			Subsystem: "forwarder",
			Name:      "forwards_total",
			Help:      "Total forwarded requests by destination and outcome.",
		}, []string{"destination", "outcome"}),
		forks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradegate",
			Subsystem: "forwarder",
			Name:      "forks_total",
			Help:      "Total fork dispatches by destination and outcome.",
		}, []string{"destination", "outcome"}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if registerer != nil {
		for _, c := range []prometheus.Collector{p.forwards, p.forks} {
			if err := registerer.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					return nil, err
				}
			}
		}
	}
	return p, nil
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	match, ok := p.table.Resolve(r.URL.Path)
	if !ok {
		// Routing miss is not an error: hand over to local endpoints.
		p.next.ServeHTTP(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		p.logger.Error("failed to buffer inbound body", err, logging.LogFields{"path": r.URL.Path})
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	destination := match.Destination
	header := outboundHeader(r, destination)

	ctx, span := p.tracer.Start(r.Context(), "forward",
		trace.WithAttributes(
			attribute.String("gateway.destination", destination.Key),
			attribute.String("gateway.path", r.URL.Path),
		))
	defer span.End()

	if destination.ForkTarget != nil {
		// Detached: the fork must never delay or fail the caller's response,
		// so it runs on its own goroutine with an uncancelled context.
		go p.dispatchFork(context.WithoutCancel(ctx), destination.ForkTarget, r.Method, r.URL.Path, header.Clone(), body)
	}

	resp, err := p.sender.Send(ctx, config.PoolRouted, sender.Request{
		Method:             r.Method,
		URL:                destination.URLFor(r.URL.Path),
		Header:             header,
		Body:               body,
		HostHeaderOverride: destination.HostHeaderOverride,
	})
	if err != nil {
		// No upstream response was ever obtained.
		p.forwards.WithLabelValues(destination.Key, "error").Inc()
		p.logger.Error("forward failed without upstream response", err, logging.LogFields{
			"destination": destination.Key,
			"path":        r.URL.Path,
		})
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	p.forwards.WithLabelValues(destination.Key, "ok").Inc()
	relay(w, resp)
}

// outboundHeader copies the inbound headers, ensures a correlation id exists
// and applies the destination's content type when configured.
func outboundHeader(r *http.Request, destination *routing.Destination) http.Header {
	header := make(http.Header, len(r.Header))
	for key, values := range r.Header {
		switch http.CanonicalHeaderKey(key) {
		case "Connection", "Content-Length", "Transfer-Encoding":
			continue
		}
		header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	if header.Get(HeaderCorrelationID) == "" {
		header.Set(HeaderCorrelationID, ids.CreateULID())
	}
	if destination.ContentType != "" {
		header.Set("Content-Type", destination.ContentType)
	}
	return header
}

// relay writes the upstream response to the caller unchanged: status, body,
// content type, and the echo headers.
func relay(w http.ResponseWriter, resp *sender.Response) {
	for _, key := range []string{"Content-Type", HeaderCorrelationID, HeaderDate} {
		if v := resp.Header.Get(key); v != "" {
			w.Header().Set(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func (p *Pipeline) dispatchFork(ctx context.Context, target *routing.Destination, method, path string, header http.Header, body []byte) {
	resp, err := p.sender.Send(ctx, config.PoolForked, sender.Request{
		Method:             method,
		URL:                target.URLFor(path),
		Header:             header,
		Body:               body,
		HostHeaderOverride: target.HostHeaderOverride,
	})

	result := ForkResult{Destination: target.Key, Err: err}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		p.logger.Error("fork dispatch failed", err, logging.LogFields{"destination": target.Key, "path": path})
	} else {
		result.StatusCode = resp.StatusCode
		if !resp.Success() {
			outcome = "non-2xx"
		}
		p.logger.Info("fork dispatched", logging.LogFields{
			"destination": target.Key,
			"path":        path,
			"status":      resp.StatusCode,
		})
	}
	p.forks.WithLabelValues(target.Key, outcome).Inc()

	if p.onForkResult != nil {
		p.onForkResult(result)
	}
}
