// Package bridgemgr owns the EVPN bridge's FDB entries and VLAN
// memberships. Grounded on original_source/bridgemanager.py §4.3.
package bridgemgr

import (
	"context"
	"strconv"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/linkmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/resource"
	"github.com/redpill-linpro/evpn-agent/pkg/util"
)

// Manager owns the bridge's FDB/link/VLAN snapshot and the sets of FDBs
// and VLANs ensured this iteration.
type Manager struct {
	runner      cmdexec.Runner
	links       *linkmgr.Manager
	bridgeName  string
	vethName    string
	fdbs        []map[string]any
	bridgeLinks []map[string]any
	vlans       []map[string]any

	knownFDBs  *resource.Dedup[resource.FDB]
	knownVLANs *resource.Dedup[resource.BridgeVLAN]
}

// New constructs a bridge manager. links is the already-populated link
// manager the driver uses to check whether the OVS-facing veth exists yet
// (the FDB snapshot is only meaningful once it does).
func New(runner cmdexec.Runner, links *linkmgr.Manager, bridgeName, vethName string) *Manager {
	return &Manager{
		runner:     runner,
		links:      links,
		bridgeName: bridgeName,
		vethName:   vethName,
		knownFDBs:  resource.NewDedup[resource.FDB](),
		knownVLANs: resource.NewDedup[resource.BridgeVLAN](),
	}
}

// Update refreshes the FDB, bridge-link, and VLAN snapshots.
func (m *Manager) Update(ctx context.Context) error {
	if m.links.Get(m.vethName) != nil {
		tree, err := cmdexec.RunJSON(ctx, m.runner, []string{"bridge", "-j", "-d", "fdb", "show", "dev", m.vethName})
		if err != nil {
			return err
		}
		m.fdbs = asMaps(tree)
	} else {
		m.fdbs = nil
	}

	linkTree, err := cmdexec.RunJSON(ctx, m.runner, []string{"bridge", "-j", "-d", "link", "show"})
	if err != nil {
		return err
	}
	m.bridgeLinks = asMaps(linkTree)

	vlanTree, err := cmdexec.RunJSON(ctx, m.runner, []string{"bridge", "-j", "-d", "vlan", "show"})
	if err != nil {
		return err
	}
	m.vlans = asMaps(vlanTree)
	return nil
}

// EnsureFDB ensures a static sticky FDB entry for lladdr on vid. An entry
// already carrying the extern_learn flag (installed by the routing daemon
// from a remote VTEP) is accepted as-is rather than replaced, since there
// is no way to create one with both flags set nor to clear extern_learn
// via `bridge fdb replace`.
func (m *Manager) EnsureFDB(ctx context.Context, lladdr string, vid int) error {
	desc := resource.FDB{MAC: lladdr, VID: vid, MasterBridge: m.bridgeName, PortDevice: m.vethName}
	m.knownFDBs.Add(desc)

	for _, entry := range m.fdbs {
		mac, _ := entry["mac"].(string)
		evid := decodeVID(entry["vlan"])
		master, _ := entry["master"].(string)
		state, _ := entry["state"].(string)
		if mac == lladdr && evid == vid && master == m.bridgeName && state == "static" && hasStickyFlags(entry["flags"]) {
			return nil
		}
	}

	util.WithField("bridge", m.bridgeName).Warnf("adding static sticky FDB entry for %s on VLAN %d", lladdr, vid)
	_, err := m.runner.Run(ctx, []string{
		"bridge", "fdb", "replace", lladdr, "dev", m.vethName,
		"master", "vlan", strconv.Itoa(vid), "static", "sticky",
	}, cmdexec.DefaultOptions())
	return err
}

func hasStickyFlags(flags any) bool {
	list, ok := flags.([]any)
	if !ok {
		return false
	}
	strs := make([]string, 0, len(list))
	for _, f := range list {
		if s, ok := f.(string); ok {
			strs = append(strs, s)
		}
	}
	return sliceEqual(strs, []string{"sticky"}) || sliceEqual(strs, []string{"extern_learn", "sticky"})
}

func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EnsureVLAN ensures vid is a member of dev, tagged unless tagged is
// false (in which case it is added as the untagged PVID). The bridge
// device itself is addressed with the `self` keyword.
func (m *Manager) EnsureVLAN(ctx context.Context, dev string, vid int, tagged bool) error {
	desc := resource.BridgeVLAN{Device: dev, VID: vid, Tagged: tagged}
	m.knownVLANs.Add(desc)

	for _, port := range m.vlans {
		ifname, _ := port["ifname"].(string)
		if ifname != dev {
			continue
		}
		vlans, _ := port["vlans"].([]any)
		for _, v := range vlans {
			vm, ok := v.(map[string]any)
			if ok && decodeVID(vm["vlan"]) == vid {
				return nil
			}
		}
	}

	util.WithField("bridge", m.bridgeName).Warnf("adding VLAN %d to device %s (tagged=%v)", vid, dev, tagged)
	args := []string{"bridge", "vlan", "add", "dev", dev, "vid", strconv.Itoa(vid)}
	if !tagged {
		args = append(args, "pvid", "untagged")
	}
	if dev == m.bridgeName {
		args = append(args, "self")
	}
	_, err := m.runner.Run(ctx, args, cmdexec.DefaultOptions())
	return err
}

// Prune removes every static FDB entry and every VLAN membership that
// belongs to the EVPN bridge (or one of its ports) but was not ensured
// this iteration. FDBs are removed first: once a VLAN is gone, deleting an
// FDB entry that still references it fails ("RTM_DELNEIGH with
// unconfigured vlan").
func (m *Manager) Prune(ctx context.Context) error {
	for _, fdb := range m.fdbs {
		state, _ := fdb["state"].(string)
		if state != "static" {
			continue
		}
		mac, _ := fdb["mac"].(string)
		vid := decodeVID(fdb["vlan"])
		if m.knownFDBs.Has((resource.FDB{MAC: mac, VID: vid}).Key()) {
			continue
		}
		util.WithField("bridge", m.bridgeName).Warnf("removing orphaned FDB entry %s/%d", mac, vid)
		if _, err := m.runner.Run(ctx, []string{
			"bridge", "fdb", "del", mac, "dev", m.vethName, "master", "vlan", strconv.Itoa(vid),
		}, cmdexec.DefaultOptions()); err != nil {
			return err
		}
	}

	for _, dev := range m.vlans {
		ifname, _ := dev["ifname"].(string)
		if ifname != m.bridgeName && !m.isBridgePort(ifname) {
			continue
		}
		vlans, _ := dev["vlans"].([]any)
		for _, v := range vlans {
			vm, ok := v.(map[string]any)
			if !ok {
				continue
			}
			vid := decodeVID(vm["vlan"])
			if m.knownVLANs.Has((resource.BridgeVLAN{Device: ifname, VID: vid}).Key()) {
				continue
			}
			util.WithField("bridge", m.bridgeName).Warnf("removing orphaned VLAN %d from %s", vid, ifname)
			args := []string{"bridge", "vlan", "del", "dev", ifname, "vid", strconv.Itoa(vid)}
			if ifname == m.bridgeName {
				args = append(args, "self")
			}
			if _, err := m.runner.Run(ctx, args, cmdexec.DefaultOptions()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) isBridgePort(ifname string) bool {
	for _, l := range m.bridgeLinks {
		name, _ := l["ifname"].(string)
		master, _ := l["master"].(string)
		if name == ifname && master == m.bridgeName {
			return true
		}
	}
	return false
}

// Finalise prunes orphans, refreshes the snapshot, and clears the known
// sets for the next iteration.
func (m *Manager) Finalise(ctx context.Context) error {
	if err := m.Prune(ctx); err != nil {
		return err
	}
	if err := m.Update(ctx); err != nil {
		return err
	}
	m.knownFDBs.Clear()
	m.knownVLANs.Clear()
	return nil
}

func decodeVID(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func asMaps(tree []any) []map[string]any {
	out := make([]map[string]any, 0, len(tree))
	for _, item := range tree {
		if mp, ok := item.(map[string]any); ok {
			out = append(out, mp)
		}
	}
	return out
}

