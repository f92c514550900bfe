// Package routing holds the static mapping from URL-path prefixes to upstream
// destinations. The table is built once from configuration and is safe for
// unsynchronised concurrent reads.
package routing

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/drblury/tradegate/internal/gateway/config"
	"github.com/drblury/tradegate/internal/gateway/gerrors"
)

// Destination describes one upstream target resolved from configuration.
// Immutable after table construction.
type Destination struct {
	Key                string
	BaseLink           *url.URL
	RoutePathSuffix    string
	Method             string
	ContentType        string
	HostHeaderOverride string
	ForkTarget         *Destination
}

// URLFor builds the outbound URL for an inbound path. Routed traffic keeps
// the caller's path so upstreams see the same resource; destinations with a
// configured suffix always post to that fixed endpoint.
func (d *Destination) URLFor(inboundPath string) string {
	base := *d.BaseLink
	if d.RoutePathSuffix != "" {
		base.Path = joinPath(base.Path, d.RoutePathSuffix)
		return base.String()
	}
	base.Path = joinPath(base.Path, inboundPath)
	return base.String()
}

func joinPath(basePath, next string) string {
	base := strings.TrimSuffix(basePath, "/")
	if next == "" {
		return base
	}
	if !strings.HasPrefix(next, "/") {
		next = "/" + next
	}
	return base + next
}

// RouteMatch is the result of resolving one inbound path. Ephemeral, one per
// request.
type RouteMatch struct {
	Destination   *Destination
	RemainingPath string
}

// Table resolves inbound paths to destinations by exact match on the leading
// path segment (after the configured route prefix).
type Table struct {
	prefix       string
	destinations map[string]*Destination
}

// NewTable builds the route table from configuration. Duplicate keys,
// non-absolute base links and dangling fork targets are construction errors.
func NewTable(prefix string, configs []config.DestinationConfig) (*Table, error) {
	destinations := make(map[string]*Destination, len(configs))
	for _, dc := range configs {
		if _, dup := destinations[dc.Key]; dup {
			return nil, fmt.Errorf("%w: %s", gerrors.ErrRouteTableDuplicateKey, dc.Key)
		}
		link, err := url.Parse(dc.BaseLink)
		if err != nil || !link.IsAbs() || link.Host == "" {
			return nil, fmt.Errorf("%w: %s -> %q", gerrors.ErrDestinationLinkInvalid, dc.Key, dc.BaseLink)
		}
		method := dc.Method
		if method == "" {
			method = "POST"
		}
		destinations[dc.Key] = &Destination{
			Key:                dc.Key,
			BaseLink:           link,
			RoutePathSuffix:    dc.RoutePathSuffix,
			Method:             method,
			ContentType:        dc.ContentType,
			HostHeaderOverride: dc.HostHeaderOverride,
		}
	}
	for _, dc := range configs {
		if dc.ForkTargetKey == "" {
			continue
		}
		target, ok := destinations[dc.ForkTargetKey]
		if !ok {
			return nil, fmt.Errorf("fork target %s of destination %s is not configured", dc.ForkTargetKey, dc.Key)
		}
		destinations[dc.Key].ForkTarget = target
	}
	return &Table{prefix: normalisePrefix(prefix), destinations: destinations}, nil
}

func normalisePrefix(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// Resolve matches the leading segment of path against configured destination
// keys. A miss is not an error: the caller passes such requests through to
// local handling.
func (t *Table) Resolve(path string) (RouteMatch, bool) {
	trimmed := path
	if t.prefix != "" {
		if !strings.HasPrefix(path, t.prefix+"/") {
			return RouteMatch{}, false
		}
		trimmed = strings.TrimPrefix(path, t.prefix)
	}
	trimmed = strings.TrimPrefix(trimmed, "/")

	key := trimmed
	remaining := ""
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		key = trimmed[:idx]
		remaining = trimmed[idx:]
	}
	destination, ok := t.destinations[key]
	if !ok {
		return RouteMatch{}, false
	}
	return RouteMatch{Destination: destination, RemainingPath: remaining}, true
}

// Destination returns the destination configured under key. Used by the
// consumer pipeline, which addresses fixed destinations rather than inbound
// paths.
func (t *Table) Destination(key string) (*Destination, bool) {
	d, ok := t.destinations[key]
	return d, ok
}
