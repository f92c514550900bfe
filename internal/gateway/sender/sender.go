// Package sender wraps outbound HTTP calls in named client pools with a
// bounded retry policy. Both the forwarding pipeline and the queue consumers
// deliver through it; each traffic class gets its own pool so timeout and
// retry tuning differ without sharing state.
package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/tradegate/internal/gateway/config"
	"github.com/drblury/tradegate/internal/gateway/gerrors"
	"github.com/drblury/tradegate/internal/gateway/logging"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = time.Second
)

// Request is one outbound call. Body is buffered so retries resend identical
// bytes; callers must only enable retry for idempotent operations.
type Request struct {
	Method             string
	URL                string
	Header             http.Header
	Body               []byte
	HostHeaderOverride string
}

// Response is the terminal upstream response of a Send, after any retries.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports whether the status code is 2xx.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RetryPolicy bounds the retry loop of one pool.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

type clientPool struct {
	name   string
	client *http.Client
	policy RetryPolicy
}

// Sender owns the named client pools. Safe for unsynchronised concurrent use:
// all state is immutable configuration plus the transport's own connection
// pooling.
type Sender struct {
	pools    map[string]*clientPool
	logger   logging.ServiceLogger
	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

// New builds a Sender with the four standard pools, applying per-pool
// overrides from cfg.Pools. Every pool shares the proxy indirection derived
// from cfg.ProxyURI.
func New(cfg *config.Config, logger logging.ServiceLogger, registerer prometheus.Registerer) (*Sender, error) {
	proxy, err := proxyFunc(cfg.ProxyURI)
	if err != nil {
		return nil, err
	}

	s := &Sender{
		pools:  make(map[string]*clientPool, 4),
		logger: logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradegate",
			Subsystem: "sender",
			Name:      "requests_total",
			Help:      "Total outbound requests by pool and outcome.",
		}, []string{"pool", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradegate",
			Subsystem: "sender",
			Name:      "retries_total",
			Help:      "Total retry attempts by pool.",
		}, []string{"pool"}),
	}

	for _, name := range []string{
		config.PoolRouted,
		config.PoolForked,
		config.PoolDecisionComparer,
		config.PoolProxyUnvalidated,
	} {
		pc := cfg.Pools[name]
		timeout := pc.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		policy := RetryPolicy{MaxAttempts: pc.MaxAttempts, Backoff: pc.Backoff}
		if policy.MaxAttempts <= 0 {
			policy.MaxAttempts = defaultMaxAttempts
		}
		if policy.Backoff <= 0 {
			policy.Backoff = defaultBackoff
		}
		s.pools[name] = &clientPool{
			name: name,
			client: &http.Client{
				Timeout:   timeout,
				Transport: &http.Transport{Proxy: proxy},
			},
			policy: policy,
		}
	}

	if registerer != nil {
		for _, c := range []prometheus.Collector{s.requests, s.retries} {
			if err := registerer.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					return nil, err
				}
			}
		}
	}

	return s, nil
}

// transientStatusError signals that the response warrants a retry. The
// response is kept so the last one can be surfaced after exhaustion.
type transientStatusError struct {
	response *Response
}

func (e *transientStatusError) Error() string {
	return fmt.Sprintf("transient upstream status %d", e.response.StatusCode)
}

// Send performs the request through the named pool, retrying transient
// failures up to the pool's MaxAttempts total tries with a fixed backoff.
// Transient means a 5xx or 408 status or a connection-level failure; any
// other response, including non-2xx business responses, short-circuits the
// loop and is returned as-is. After exhaustion the last upstream response is
// returned; a nil response with an error means no response was ever obtained.
func (s *Sender) Send(ctx context.Context, pool string, req Request) (*Response, error) {
	cp, ok := s.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gerrors.ErrSenderPoolUnknown, pool)
	}

	var last *Response
	attempt := 0

	operation := func() (*Response, error) {
		attempt++
		if attempt > 1 {
			s.retries.WithLabelValues(cp.name).Inc()
		}
		resp, err := s.attempt(ctx, cp, req)
		if err != nil {
			// Connection-level failures are always retryable.
			return nil, err
		}
		if transientStatus(resp.StatusCode) {
			last = resp
			return nil, &transientStatusError{response: resp}
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(cp.policy.Backoff)),
		backoff.WithMaxTries(uint(cp.policy.MaxAttempts)),
	)
	if err != nil {
		if last != nil {
			// Retries exhausted on a transient status: relay the last
			// upstream response rather than synthesising one.
			s.requests.WithLabelValues(cp.name, "exhausted").Inc()
			s.logger.Error("retries exhausted, surfacing last upstream response", err, logging.LogFields{
				"pool":   cp.name,
				"url":    req.URL,
				"status": last.StatusCode,
			})
			return last, nil
		}
		s.requests.WithLabelValues(cp.name, "error").Inc()
		s.logger.Error("request failed without upstream response", err, logging.LogFields{
			"pool": cp.name,
			"url":  req.URL,
		})
		return nil, err
	}

	s.requests.WithLabelValues(cp.name, "ok").Inc()
	return resp, nil
}

func (s *Sender) attempt(ctx context.Context, cp *clientPool, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.HostHeaderOverride != "" {
		httpReq.Host = req.HostHeaderOverride
	}

	resp, err := cp.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}

func transientStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout
}

// proxyFunc builds the per-request proxy selector. Loopback targets bypass
// the proxy so local traffic never leaves the host.
func proxyFunc(proxyURI string) (func(*http.Request) (*url.URL, error), error) {
	if proxyURI == "" {
		return nil, nil
	}
	proxyURL, err := url.Parse(proxyURI)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URI: %w", err)
	}
	return func(req *http.Request) (*url.URL, error) {
		host := req.URL.Hostname()
		if host == "localhost" {
			return nil, nil
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return nil, nil
		}
		return proxyURL, nil
	}, nil
}
