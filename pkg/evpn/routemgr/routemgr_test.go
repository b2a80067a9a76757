package routemgr

import (
	"context"
	"strings"
	"testing"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/resource"
)

func newManager(t *testing.T, v4JSON, v6JSON string) (*Manager, *cmdexec.FakeRunner) {
	t.Helper()
	f := cmdexec.NewFakeRunner()
	f.SetJSON([]string{"ip", "-4", "-j", "-d", "route", "show", "proto", "evpn-agent", "table", "all"}, v4JSON)
	f.SetJSON([]string{"ip", "-6", "-j", "-d", "route", "show", "proto", "evpn-agent", "table", "all"}, v6JSON)

	m := New(f, "evpn-agent")
	if err := m.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return m, f
}

func TestUpdate_NormalizesDefaultRoute(t *testing.T) {
	m, _ := newManager(t, `[{"dst":"default","gateway":"10.0.0.1","dev":"irb-1","table":"main"}]`, `[]`)

	found := false
	for _, r := range m.routes {
		if r.Dst == "0.0.0.0/0" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected normalised default route, got %+v", m.routes)
	}
}

func TestEnsure_SkipsExistingRoute(t *testing.T) {
	m, f := newManager(t, `[{"dst":"192.0.2.0/24","gateway":"10.0.0.1","dev":"irb-1","table":"main","type":"unicast","metric":1024}]`, `[]`)

	before := len(f.Calls)
	route := resource.Route{Dst: "192.0.2.0/24", Gateway: "10.0.0.1", Device: "irb-1"}
	if err := m.Ensure(context.Background(), route); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(f.Calls) != before {
		t.Fatalf("expected no new calls, got %d new", len(f.Calls)-before)
	}
}

func TestEnsure_AddsMissingRoute(t *testing.T) {
	m, f := newManager(t, `[]`, `[]`)

	route := resource.Route{Dst: "192.0.2.0/24", Gateway: "10.0.0.1", Device: "irb-1"}
	if err := m.Ensure(context.Background(), route); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	last := f.LastCall()
	joined := strings.Join(last, " ")
	if !strings.Contains(joined, "route add unicast 192.0.2.0/24 via 10.0.0.1 dev irb-1 metric 1024 table main proto evpn-agent") {
		t.Fatalf("unexpected call: %v", last)
	}
}

func TestPrune_RemovesUnensuredRoute(t *testing.T) {
	m, f := newManager(t, `[{"dst":"198.51.100.0/24","table":"main","type":"unicast","metric":1024}]`, `[]`)

	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	last := f.LastCall()
	joined := strings.Join(last, " ")
	if !strings.Contains(joined, "route del 198.51.100.0/24 table main proto evpn-agent") {
		t.Fatalf("unexpected call: %v", last)
	}
}
