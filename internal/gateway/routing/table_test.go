package routing

import (
	"errors"
	"testing"

	"github.com/drblury/tradegate/internal/gateway/config"
	"github.com/drblury/tradegate/internal/gateway/gerrors"
)

func newTestTable(t *testing.T, prefix string, configs ...config.DestinationConfig) *Table {
	t.Helper()
	table, err := NewTable(prefix, configs)
	if err != nil {
		t.Fatalf("unexpected table error: %v", err)
	}
	return table
}

func TestResolveMatchesLeadingSegment(t *testing.T) {
	table := newTestTable(t, "",
		config.DestinationConfig{Key: "alvs-ipaffs", BaseLink: "http://alvs-ipaffs-host"},
		config.DestinationConfig{Key: "cds", BaseLink: "http://cds-host"},
	)

	match, ok := table.Resolve("/alvs-ipaffs/finalisation-notification")
	if !ok {
		t.Fatal("expected route match")
	}
	if match.Destination.Key != "alvs-ipaffs" {
		t.Fatalf("unexpected destination: %s", match.Destination.Key)
	}
	if match.RemainingPath != "/finalisation-notification" {
		t.Fatalf("unexpected remaining path: %q", match.RemainingPath)
	}

	if _, ok := table.Resolve("/unknown/path"); ok {
		t.Fatal("expected miss for unmatched leading segment")
	}
	if _, ok := table.Resolve("/health"); ok {
		t.Fatal("expected miss for local endpoint")
	}
}

func TestResolveHonoursRoutePrefix(t *testing.T) {
	table := newTestTable(t, "/route/path",
		config.DestinationConfig{Key: "alvs-ipaffs", BaseLink: "http://alvs-ipaffs-host"},
	)

	match, ok := table.Resolve("/route/path/alvs-ipaffs/finalisation-notification")
	if !ok {
		t.Fatal("expected prefixed path to match")
	}
	if got := match.Destination.URLFor("/route/path/alvs-ipaffs/finalisation-notification"); got != "http://alvs-ipaffs-host/route/path/alvs-ipaffs/finalisation-notification" {
		t.Fatalf("unexpected outbound URL: %s", got)
	}

	if _, ok := table.Resolve("/alvs-ipaffs/finalisation-notification"); ok {
		t.Fatal("expected unprefixed path to miss")
	}
}

func TestURLForFixedSuffixDestination(t *testing.T) {
	table := newTestTable(t, "",
		config.DestinationConfig{Key: "cds", BaseLink: "http://cds-host", RoutePathSuffix: "/ws/CDS/defra/alvsclearanceinbound/v1"},
	)

	destination, ok := table.Destination("cds")
	if !ok {
		t.Fatal("expected cds destination")
	}
	if got := destination.URLFor("/cds/anything"); got != "http://cds-host/ws/CDS/defra/alvsclearanceinbound/v1" {
		t.Fatalf("expected fixed endpoint regardless of inbound path, got %s", got)
	}
}

func TestNewTableRejectsInvalidConfig(t *testing.T) {
	_, err := NewTable("", []config.DestinationConfig{
		{Key: "cds", BaseLink: "http://cds-host"},
		{Key: "cds", BaseLink: "http://other"},
	})
	if !errors.Is(err, gerrors.ErrRouteTableDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}

	_, err = NewTable("", []config.DestinationConfig{{Key: "cds", BaseLink: "not-a-url"}})
	if !errors.Is(err, gerrors.ErrDestinationLinkInvalid) {
		t.Fatalf("expected invalid link error, got %v", err)
	}

	_, err = NewTable("", []config.DestinationConfig{
		{Key: "alvs", BaseLink: "http://alvs-host", ForkTargetKey: "missing"},
	})
	if err == nil {
		t.Fatal("expected dangling fork target error")
	}
}

func TestForkTargetResolved(t *testing.T) {
	table := newTestTable(t, "",
		config.DestinationConfig{Key: "alvs", BaseLink: "http://alvs-host", ForkTargetKey: "comparer"},
		config.DestinationConfig{Key: "comparer", BaseLink: "http://comparer-host", RoutePathSuffix: "/comparison"},
	)

	match, ok := table.Resolve("/alvs/decision-notification")
	if !ok {
		t.Fatal("expected match")
	}
	fork := match.Destination.ForkTarget
	if fork == nil || fork.Key != "comparer" {
		t.Fatalf("expected resolved fork target, got %#v", fork)
	}
	if match.Destination.Method != "POST" {
		t.Fatalf("expected default POST method, got %s", match.Destination.Method)
	}
}
