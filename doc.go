// Package tradegate is an integration gateway between a border trade
// case-management system and the external trade-control systems it talks to.
// It carries two independent flows through one process.
//
// The synchronous flow is an HTTP forwarding pipeline: inbound requests are
// matched against a route table keyed on the leading path segment, relayed to
// the configured upstream through a resilient sender with named client pools
// and per-pool retry tuning, and optionally forked to a second destination on
// a detached fire-and-forget branch that never delays the primary response.
// Requests that match no route fall through to the local surface (health,
// admin).
//
// The asynchronous flow consumes resource events from an SQS queue via a
// Watermill router. A mediator dispatches each event by resource type:
// customs declarations are enriched from the Data API, converted to a
// deterministic SOAP envelope, and delivered upstream; processing errors have
// their most recent notification extracted, converted, and delivered to the
// decision comparer. Unrecoverable messages land on a dead letter queue, and
// an administrative recovery service offers bulk redrive, targeted removal,
// and a full drain over HTTP.
//
// The binary lives in cmd/gateway; the building blocks sit under
// internal/gateway and are wired from a JSON configuration file with
// environment overrides for secrets.
package tradegate
