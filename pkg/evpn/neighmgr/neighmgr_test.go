package neighmgr

import (
	"context"
	"strings"
	"testing"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
)

func newManager(t *testing.T, snapshot string) (*Manager, *cmdexec.FakeRunner) {
	t.Helper()
	f := cmdexec.NewFakeRunner()
	f.SetJSON([]string{"ip", "-j", "-d", "neigh", "show", "nud", "permanent", "proto", "evpn-agent"}, snapshot)
	m := New(f, "evpn-agent")
	if err := m.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return m, f
}

func TestEnsure_SkipsExistingEntry(t *testing.T) {
	m, f := newManager(t, `[{"dst":"198.51.100.5","dev":"irb-10","lladdr":"aa:bb:cc:dd:ee:ff","state":["PERMANENT"],"protocol":"evpn-agent"}]`)

	before := len(f.Calls)
	if err := m.Ensure(context.Background(), "198.51.100.5", "irb-10", "aa:bb:cc:dd:ee:ff"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(f.Calls) != before {
		t.Fatalf("expected no new calls, got %d new", len(f.Calls)-before)
	}
}

func TestEnsure_AddsMissingEntry(t *testing.T) {
	m, f := newManager(t, `[]`)

	if err := m.Ensure(context.Background(), "198.51.100.5", "irb-10", "aa:bb:cc:dd:ee:ff"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	last := f.LastCall()
	joined := strings.Join(last, " ")
	if !strings.Contains(joined, "neigh replace 198.51.100.5 dev irb-10 lladdr aa:bb:cc:dd:ee:ff nud permanent proto evpn-agent") {
		t.Fatalf("unexpected call: %v", last)
	}
}

func TestPrune_RemovesOrphanOnIRB(t *testing.T) {
	m, f := newManager(t, `[{"dst":"198.51.100.5","dev":"irb-10","lladdr":"aa:bb:cc:dd:ee:ff","state":["PERMANENT"],"protocol":"evpn-agent"}]`)

	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	last := f.LastCall()
	joined := strings.Join(last, " ")
	if !strings.Contains(joined, "neigh del 198.51.100.5 dev irb-10 lladdr aa:bb:cc:dd:ee:ff proto evpn-agent") {
		t.Fatalf("unexpected call: %v", last)
	}
}

func TestPrune_IgnoresNonIRBInterfaces(t *testing.T) {
	m, f := newManager(t, `[{"dst":"198.51.100.5","dev":"eth0","lladdr":"aa:bb:cc:dd:ee:ff","state":["PERMANENT"],"protocol":"evpn-agent"}]`)

	before := len(f.Calls)
	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(f.Calls) != before {
		t.Fatalf("expected non-irb neighbour to be left alone, got calls %v", f.Calls)
	}
}
