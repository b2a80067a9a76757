package addressmgr

import (
	"context"
	"strings"
	"testing"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
)

func newManager(t *testing.T, snapshot string) (*Manager, *cmdexec.FakeRunner) {
	t.Helper()
	f := cmdexec.NewFakeRunner()
	f.SetJSON([]string{"ip", "-j", "-d", "address", "show"}, snapshot)
	m := New(f)
	if err := m.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return m, f
}

func TestPrimaryLoopbackIPv4(t *testing.T) {
	m, _ := newManager(t, `[{"ifname":"lo","addr_info":[
		{"family":"inet","scope":"host","local":"127.0.0.1","prefixlen":8},
		{"family":"inet","scope":"global","local":"192.0.2.1","prefixlen":32}
	]}]`)

	if got := m.PrimaryLoopbackIPv4(); got != "192.0.2.1" {
		t.Fatalf("PrimaryLoopbackIPv4() = %q, want 192.0.2.1", got)
	}
}

func TestEnsure_AddsIPv6WithNodad(t *testing.T) {
	m, f := newManager(t, `[]`)

	if err := m.Ensure(context.Background(), "irb-10", "2001:db8::1/64"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	last := f.LastCall()
	if !strings.Contains(strings.Join(last, " "), "nodad") {
		t.Fatalf("expected nodad flag on IPv6 add, got %v", last)
	}
}

func TestEnsure_SkipsExistingAddress(t *testing.T) {
	m, f := newManager(t, `[{"ifname":"irb-10","addr_info":[
		{"family":"inet","scope":"global","local":"198.51.100.1","prefixlen":24}
	]}]`)

	before := len(f.Calls)
	if err := m.Ensure(context.Background(), "irb-10", "198.51.100.1/24"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(f.Calls) != before {
		t.Fatalf("expected no new calls, got %d new", len(f.Calls)-before)
	}
}

func TestPrune_SkipsIPv6LinkLocal(t *testing.T) {
	m, f := newManager(t, `[{"ifname":"irb-10","addr_info":[
		{"family":"inet6","scope":"link","local":"fe80::1","prefixlen":64}
	]}]`)

	before := len(f.Calls)
	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(f.Calls) != before {
		t.Fatalf("expected link-local address to be left alone, got calls %v", f.Calls)
	}
}

func TestPrune_RemovesOrphanOnIRB(t *testing.T) {
	m, f := newManager(t, `[{"ifname":"irb-10","addr_info":[
		{"family":"inet","scope":"global","local":"198.51.100.1","prefixlen":24}
	]}]`)

	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	last := f.LastCall()
	if !strings.Contains(strings.Join(last, " "), "198.51.100.1/24") {
		t.Fatalf("unexpected call: %v", last)
	}
}

func TestPrune_IgnoresNonIRBInterfaces(t *testing.T) {
	m, f := newManager(t, `[{"ifname":"eth0","addr_info":[
		{"family":"inet","scope":"global","local":"198.51.100.1","prefixlen":24}
	]}]`)

	before := len(f.Calls)
	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(f.Calls) != before {
		t.Fatalf("expected non-irb interface to be left alone, got calls %v", f.Calls)
	}
}
