// Package linkmgr owns L2/L3 interfaces (bridges, veth pairs, VLAN
// sub-interfaces, VXLAN, VRF): creation, attribute sync, and pruning of
// orphaned links. Grounded on original_source/linkmanager.py §4.2.
package linkmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/resource"
	"github.com/redpill-linpro/evpn-agent/pkg/util"
)

// ownedPrefixes are the name prefixes the link manager is allowed to
// prune. Anything else found in the snapshot but not ensured this
// iteration is left alone — it isn't ours.
var ownedPrefixes = []string{"irb-", "l2vni-", "l3vni-", "vrf-"}

// KindMismatchError reports that a pre-existing link under the desired
// name has a different kind than requested. No corrective action is
// attempted; this is an operator-visible error.
type KindMismatchError struct {
	Name     string
	Got      string
	Expected resource.LinkKind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("%s has the wrong type %s, should have been %s", e.Name, e.Got, e.Expected)
}

func (e *KindMismatchError) Unwrap() error { return util.ErrKindMismatch }

// Manager owns the link snapshot and the set of links ensured this
// iteration.
type Manager struct {
	runner cmdexec.Runner
	links  []map[string]any // decoded `ip -j -d link show` snapshot
	known  *resource.Dedup[nameKey]
}

type nameKey string

func (n nameKey) Key() string { return string(n) }

// New constructs a link manager. Callers must call Update once before the
// first Ensure/Get/Prune call (the driver does this at startup).
func New(runner cmdexec.Runner) *Manager {
	return &Manager{runner: runner, known: resource.NewDedup[nameKey]()}
}

// Update refreshes the snapshot from `ip -j -d link show`. Called at
// startup, after any creation that later ensures depend on (snapshot
// freshness, §8), and by Finalise.
func (m *Manager) Update(ctx context.Context) error {
	tree, err := cmdexec.RunJSON(ctx, m.runner, []string{"ip", "-j", "-d", "link", "show"})
	if err != nil {
		return err
	}
	m.links = asMaps(tree)
	return nil
}

// ListNames returns the link names present in the current snapshot.
func (m *Manager) ListNames() []string {
	names := make([]string, 0, len(m.links))
	for _, l := range m.links {
		if s, ok := l["ifname"].(string); ok {
			names = append(names, s)
		}
	}
	return names
}

// Get returns the decoded link entry for name, or nil if absent.
func (m *Manager) Get(name string) map[string]any {
	for _, l := range m.links {
		if s, _ := l["ifname"].(string); s == name {
			return l
		}
	}
	return nil
}

// Ensure creates desc if absent, then syncs every attribute and brings the
// link up if necessary. Always records desc.Name as known, even on error
// paths below the creation step, so that a later Prune doesn't remove a
// link this iteration already attempted to manage.
func (m *Manager) Ensure(ctx context.Context, desc resource.Link) error {
	m.known.Add(nameKey(desc.Name))

	if m.Get(desc.Name) == nil {
		util.WithField("link", desc.Name).Warn("creating link")
		if err := m.create(ctx, desc); err != nil {
			return err
		}
		// Snapshot-freshness invariant (§8): a just-created link must be
		// visible to the sync pass below and to any later manager that
		// peeks at this snapshot (e.g. bridgemgr's master lookup).
		if err := m.Update(ctx); err != nil {
			return err
		}
	}

	return m.sync(ctx, desc)
}

func (m *Manager) create(ctx context.Context, desc resource.Link) error {
	args := []string{"ip", "link", "add", "name", desc.Name}
	if desc.Kind != resource.LinkVeth && desc.PeerName != "" {
		args = append(args, "link", desc.PeerName)
	}
	for _, k := range orderedKeys(desc.LinkAttrs) {
		// addrgenmode cannot be set at creation time; deferred to sync.
		if k == "inet6_addr_gen_mode" {
			continue
		}
		args = append(args, linkAttrToCmd(k, desc.LinkAttrs[k])...)
	}
	args = append(args, "type", string(desc.Kind))
	if desc.Kind == resource.LinkVeth && desc.PeerName != "" {
		args = append(args, "peer", "name", desc.PeerName)
	}
	for _, k := range orderedKeys(desc.TypeAttrs) {
		args = append(args, typeAttrToCmd(k, desc.TypeAttrs[k])...)
	}

	_, err := m.runner.Run(ctx, args, cmdexec.DefaultOptions())
	return err
}

// sync runs the attribute-sync pass regardless of whether the link was
// just created, matching original_source/linkmanager.py's unconditional
// re-fetch-then-sync (design note §9(b): always re-fetch, never trust a
// stale local variable).
func (m *Manager) sync(ctx context.Context, desc resource.Link) error {
	link := m.Get(desc.Name)

	var logged error
	if link != nil {
		linkinfo, _ := link["linkinfo"].(map[string]any)
		kind, _ := linkinfo["info_kind"].(string)
		if kind != string(desc.Kind) {
			err := &KindMismatchError{Name: desc.Name, Got: kind, Expected: desc.Kind}
			util.WithField("link", desc.Name).Error(err)
			logged = err
		}
	}

	for _, k := range orderedKeys(desc.LinkAttrs) {
		v := desc.LinkAttrs[k]
		var cur any
		if link != nil {
			cur = link[k]
		}
		if !v.Equal(cur) {
			util.WithField("link", desc.Name).Warnf("updating link attribute %s: %v -> %s", k, cur, v.StringVal())
			args := append([]string{"ip", "link", "set", desc.Name}, linkAttrToCmd(k, v)...)
			if _, err := m.runner.Run(ctx, args, cmdexec.DefaultOptions()); err != nil {
				return err
			}
		}
	}

	var infoData map[string]any
	if link != nil {
		linkinfo, _ := link["linkinfo"].(map[string]any)
		infoData, _ = linkinfo["info_data"].(map[string]any)
	}
	for _, k := range orderedKeys(desc.TypeAttrs) {
		v := desc.TypeAttrs[k]
		var cur any
		if infoData != nil {
			cur = infoData[k]
		}
		if !v.Equal(cur) {
			util.WithField("link", desc.Name).Warnf("updating type attribute %s: %v -> %s", k, cur, v.StringVal())
			args := append([]string{"ip", "link", "set", desc.Name, "type", string(desc.Kind)}, typeAttrToCmd(k, v)...)
			if _, err := m.runner.Run(ctx, args, cmdexec.DefaultOptions()); err != nil {
				return err
			}
		}
	}

	// Bridge slave attributes cannot be set at creation time, so always
	// sync those, regardless of whether the link was just created.
	var slaveData map[string]any
	if link != nil {
		linkinfo, _ := link["linkinfo"].(map[string]any)
		slaveData, _ = linkinfo["info_slave_data"].(map[string]any)
	}
	for _, k := range orderedKeys(desc.BridgeSlaveAttrs) {
		v := desc.BridgeSlaveAttrs[k]
		var cur any
		if slaveData != nil {
			cur = slaveData[k]
		}
		if !v.Equal(cur) {
			util.WithField("link", desc.Name).Warnf("updating bridge slave attribute %s: %v -> %s", k, cur, v.StringVal())
			args := append([]string{"ip", "link", "set", desc.Name, "type", "bridge_slave"}, bridgeSlaveAttrToCmd(k, v)...)
			if _, err := m.runner.Run(ctx, args, cmdexec.DefaultOptions()); err != nil {
				return err
			}
		}
	}

	up := false
	if link != nil {
		if flags, ok := link["flags"].([]any); ok {
			for _, f := range flags {
				if s, _ := f.(string); s == "UP" {
					up = true
				}
			}
		}
	}
	if !up {
		util.WithField("link", desc.Name).Warn("setting link up")
		if _, err := m.runner.Run(ctx, []string{"ip", "link", "set", desc.Name, "up"}, cmdexec.DefaultOptions()); err != nil {
			return err
		}
	}

	return logged
}

// Prune removes every snapshot link that begins with an owned prefix and
// was not ensured this iteration.
func (m *Manager) Prune(ctx context.Context) error {
	for _, name := range m.ListNames() {
		if m.known.Has(name) {
			continue
		}
		if !ownedByUs(name) {
			continue
		}
		util.WithField("link", name).Warn("removing orphaned link")
		if _, err := m.runner.Run(ctx, []string{"ip", "link", "del", name}, cmdexec.DefaultOptions()); err != nil {
			return err
		}
	}
	return nil
}

func ownedByUs(name string) bool {
	for _, p := range ownedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Finalise prunes orphans, refreshes the snapshot, and clears the known
// set for the next iteration.
func (m *Manager) Finalise(ctx context.Context) error {
	if err := m.Prune(ctx); err != nil {
		return err
	}
	if err := m.Update(ctx); err != nil {
		return err
	}
	m.known.Clear()
	return nil
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

func orderedKeys(m map[string]resource.AttrValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Preserve a stable-ish order (alphabetical) since Go map iteration is
	// randomised and the spec's "iteration order" guarantee only matters
	// for reproducible command output, not semantics.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
