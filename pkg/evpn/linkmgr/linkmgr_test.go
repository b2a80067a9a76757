package linkmgr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/resource"
)

func newManager(t *testing.T, initialSnapshot string) (*Manager, *cmdexec.FakeRunner) {
	t.Helper()
	f := cmdexec.NewFakeRunner()
	f.SetJSON([]string{"ip", "-j", "-d", "link", "show"}, initialSnapshot)
	m := New(f)
	if err := m.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return m, f
}

func TestEnsure_CreatesMissingLink(t *testing.T) {
	m, f := newManager(t, `[]`)

	desc := resource.Link{
		Name: "l2vni-100",
		Kind: resource.LinkVXLAN,
		TypeAttrs: map[string]resource.AttrValue{
			"id":  resource.Int(100),
			"dev": resource.String("uplink0"),
		},
	}
	// After creation, Update() is called again; arrange the post-create
	// snapshot to show the link present and up so sync doesn't also try
	// to bring it up.
	f.SetJSON([]string{"ip", "-j", "-d", "link", "show"}, `[{
		"ifname": "l2vni-100",
		"flags": ["UP"],
		"linkinfo": {"info_kind": "vxlan", "info_data": {"id": 100, "dev": "uplink0"}}
	}]`)

	if err := m.Ensure(context.Background(), desc); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	found := false
	for _, call := range f.Calls {
		if len(call) > 2 && call[0] == "ip" && call[1] == "link" && call[2] == "add" {
			found = true
			joined := strings.Join(call, " ")
			if !strings.Contains(joined, "l2vni-100") {
				t.Fatalf("create call missing name: %v", call)
			}
		}
	}
	if !found {
		t.Fatal("expected an `ip link add` call")
	}
}

func TestEnsure_SyncsDriftedAttribute(t *testing.T) {
	m, f := newManager(t, `[{
		"ifname": "l2vni-100",
		"flags": ["UP"],
		"linkinfo": {"info_kind": "vxlan", "info_data": {"id": 100, "dev": "uplink0", "learning": true}}
	}]`)

	desc := resource.Link{
		Name: "l2vni-100",
		Kind: resource.LinkVXLAN,
		TypeAttrs: map[string]resource.AttrValue{
			"id":       resource.Int(100),
			"dev":      resource.String("uplink0"),
			"learning": resource.Bool(false),
		},
	}

	if err := m.Ensure(context.Background(), desc); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	last := f.LastCall()
	joined := strings.Join(last, " ")
	if !strings.Contains(joined, "nolearning") {
		t.Fatalf("expected a nolearning sync call, got calls: %v", f.Calls)
	}
}

func TestEnsure_KindMismatchReturnsError(t *testing.T) {
	m, _ := newManager(t, `[{
		"ifname": "l2vni-100",
		"flags": ["UP"],
		"linkinfo": {"info_kind": "bridge", "info_data": {}}
	}]`)

	desc := resource.Link{Name: "l2vni-100", Kind: resource.LinkVXLAN}

	err := m.Ensure(context.Background(), desc)
	var km *KindMismatchError
	if !errors.As(err, &km) {
		t.Fatalf("error = %v, want *KindMismatchError", err)
	}
}

func TestPrune_RemovesOnlyOwnedOrphans(t *testing.T) {
	m, f := newManager(t, `[
		{"ifname": "lo", "flags": ["UP"], "linkinfo": {}},
		{"ifname": "l2vni-999", "flags": ["UP"], "linkinfo": {"info_kind": "vxlan"}},
		{"ifname": "eth0", "flags": ["UP"], "linkinfo": {}}
	]`)

	// Nothing ensured this iteration.
	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	deleted := false
	for _, call := range f.Calls {
		if len(call) == 4 && call[1] == "link" && call[2] == "del" {
			if call[3] != "l2vni-999" {
				t.Fatalf("pruned unowned link: %v", call)
			}
			deleted = true
		}
	}
	if !deleted {
		t.Fatal("expected l2vni-999 to be pruned")
	}
}

func TestPrune_SparesEnsuredLinks(t *testing.T) {
	m, f := newManager(t, `[
		{"ifname": "l2vni-100", "flags": ["UP"], "linkinfo": {"info_kind": "vxlan"}}
	]`)

	m.known.Add(nameKey("l2vni-100"))

	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	for _, call := range f.Calls {
		if len(call) > 2 && call[2] == "del" {
			t.Fatalf("should not have deleted ensured link: %v", call)
		}
	}
}

func TestFinalise_ClearsKnownSet(t *testing.T) {
	m, _ := newManager(t, `[]`)
	m.known.Add(nameKey("irb-10"))

	if err := m.Finalise(context.Background()); err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	if m.known.Len() != 0 {
		t.Fatalf("known set not cleared, len = %d", m.known.Len())
	}
}
