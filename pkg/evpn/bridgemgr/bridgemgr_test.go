package bridgemgr

import (
	"context"
	"strings"
	"testing"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/linkmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/resource"
)

func newManager(t *testing.T, fdbJSON, linkJSON, vlanJSON string) (*Manager, *cmdexec.FakeRunner) {
	t.Helper()
	f := cmdexec.NewFakeRunner()
	f.SetJSON([]string{"ip", "-j", "-d", "link", "show"}, `[{"ifname":"veth-to-ovs","flags":["UP"],"linkinfo":{}}]`)
	links := linkmgr.New(f)
	if err := links.Update(context.Background()); err != nil {
		t.Fatalf("links.Update: %v", err)
	}

	f.SetJSON([]string{"bridge", "-j", "-d", "fdb", "show", "dev", "veth-to-ovs"}, fdbJSON)
	f.SetJSON([]string{"bridge", "-j", "-d", "link", "show"}, linkJSON)
	f.SetJSON([]string{"bridge", "-j", "-d", "vlan", "show"}, vlanJSON)

	m := New(f, links, "evpn-br0", "veth-to-ovs")
	if err := m.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return m, f
}

func TestEnsureFDB_AddsWhenMissing(t *testing.T) {
	m, f := newManager(t, `[]`, `[]`, `[]`)

	if err := m.EnsureFDB(context.Background(), "aa:bb:cc:dd:ee:ff", 100); err != nil {
		t.Fatalf("EnsureFDB: %v", err)
	}

	last := f.LastCall()
	joined := strings.Join(last, " ")
	if !strings.Contains(joined, "fdb replace aa:bb:cc:dd:ee:ff") || !strings.Contains(joined, "sticky") {
		t.Fatalf("unexpected call: %v", last)
	}
}

func TestEnsureFDB_AcceptsExternLearnSticky(t *testing.T) {
	m, f := newManager(t, `[{
		"mac": "aa:bb:cc:dd:ee:ff", "vlan": 100, "flags": ["extern_learn", "sticky"],
		"master": "evpn-br0", "state": "static"
	}]`, `[]`, `[]`)

	before := len(f.Calls)
	if err := m.EnsureFDB(context.Background(), "aa:bb:cc:dd:ee:ff", 100); err != nil {
		t.Fatalf("EnsureFDB: %v", err)
	}
	if len(f.Calls) != before {
		t.Fatalf("expected no new calls for already-correct FDB, got %d new", len(f.Calls)-before)
	}
}

func TestEnsureVLAN_UntaggedAddsPVID(t *testing.T) {
	m, f := newManager(t, `[]`, `[]`, `[]`)

	if err := m.EnsureVLAN(context.Background(), "evpn-br0", 100, false); err != nil {
		t.Fatalf("EnsureVLAN: %v", err)
	}
	last := f.LastCall()
	joined := strings.Join(last, " ")
	if !strings.Contains(joined, "pvid untagged") || !strings.Contains(joined, "self") {
		t.Fatalf("unexpected call: %v", last)
	}
}

func TestPrune_RemovesFDBsBeforeVLANs(t *testing.T) {
	m, f := newManager(t, `[{
		"mac": "11:22:33:44:55:66", "vlan": 200, "flags": ["sticky"],
		"master": "evpn-br0", "state": "static"
	}]`, `[]`, `[{"ifname": "evpn-br0", "vlans": [{"vlan": 200}]}]`)

	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	fdbIdx, vlanIdx := -1, -1
	for i, call := range f.Calls {
		joined := strings.Join(call, " ")
		if strings.Contains(joined, "fdb del") {
			fdbIdx = i
		}
		if strings.Contains(joined, "vlan del") {
			vlanIdx = i
		}
	}
	if fdbIdx == -1 || vlanIdx == -1 {
		t.Fatalf("expected both fdb del and vlan del calls, got %v", f.Calls)
	}
	if fdbIdx > vlanIdx {
		t.Fatalf("fdb del must precede vlan del: fdb at %d, vlan at %d", fdbIdx, vlanIdx)
	}
}

func TestPrune_IgnoresVLANsOnUnrelatedDevices(t *testing.T) {
	m, f := newManager(t, `[]`, `[]`, `[{"ifname": "irb-br1", "vlans": [{"vlan": 1}]}]`)

	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	for _, call := range f.Calls {
		if strings.Contains(strings.Join(call, " "), "vlan del") {
			t.Fatalf("should not prune VLAN on unrelated device: %v", call)
		}
	}
}

func TestPrune_SparesEnsuredVLANOnBridgePort(t *testing.T) {
	m, f := newManager(t, `[]`,
		`[{"ifname": "tap-vm1", "master": "evpn-br0"}]`,
		`[{"ifname": "tap-vm1", "vlans": [{"vlan": 50}]}]`)

	m.knownVLANs.Add(resource.BridgeVLAN{Device: "tap-vm1", VID: 50})

	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	for _, call := range f.Calls {
		if strings.Contains(strings.Join(call, " "), "vlan del") {
			t.Fatalf("should not prune ensured VLAN: %v", call)
		}
	}
}
