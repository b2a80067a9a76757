// Package neighmgr owns static permanent ARP/ND entries on IRB
// interfaces. Grounded on original_source/neighmanager.py §4.5.
package neighmgr

import (
	"context"
	"strings"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/resource"
	"github.com/redpill-linpro/evpn-agent/pkg/util"
)

// Manager owns the permanent-neighbour snapshot, scoped to the agent's
// own route protocol, and the set of entries ensured this iteration.
type Manager struct {
	runner  cmdexec.Runner
	rtProto string
	neighs  []map[string]any
	known   *resource.Dedup[resource.Neighbour]
}

func New(runner cmdexec.Runner, rtProto string) *Manager {
	return &Manager{runner: runner, rtProto: rtProto, known: resource.NewDedup[resource.Neighbour]()}
}

// Update refreshes the snapshot, scoped server-side to permanent entries
// tagged with the agent's own route protocol so that neighbours owned by
// other processes (the kernel, FRR itself) never appear as prune
// candidates.
func (m *Manager) Update(ctx context.Context) error {
	tree, err := cmdexec.RunJSON(ctx, m.runner, []string{
		"ip", "-j", "-d", "neigh", "show", "nud", "permanent", "proto", m.rtProto,
	})
	if err != nil {
		return err
	}
	m.neighs = asMaps(tree)
	return nil
}

// Ensure adds a permanent neigh entry dst→lladdr on dev if not already
// present exactly as specified.
func (m *Manager) Ensure(ctx context.Context, dst, dev, lladdr string) error {
	desc := resource.Neighbour{Dst: dst, Device: dev, LLAddr: lladdr, Protocol: m.rtProto}
	m.known.Add(desc)

	for _, n := range m.neighs {
		if matchesNeigh(n, desc) {
			return nil
		}
	}

	util.WithField("device", dev).Warnf("adding static neigh entry %s -> %s", dst, lladdr)
	_, err := m.runner.Run(ctx, []string{
		"ip", "neigh", "replace", dst, "dev", dev, "lladdr", lladdr,
		"nud", "permanent", "proto", m.rtProto,
	}, cmdexec.DefaultOptions())
	return err
}

func matchesNeigh(n map[string]any, desc resource.Neighbour) bool {
	dst, _ := n["dst"].(string)
	dev, _ := n["dev"].(string)
	lladdr, _ := n["lladdr"].(string)
	proto, _ := n["protocol"].(string)
	if dst != desc.Dst || dev != desc.Device || lladdr != desc.LLAddr || proto != desc.Protocol {
		return false
	}
	states, _ := n["state"].([]any)
	return len(states) == 1 && states[0] == "PERMANENT"
}

// Prune removes every neighbour on an irb- interface that was not ensured
// this iteration. The snapshot is already scoped to this manager's route
// protocol, so anything left here after a full Ensure pass is ours.
func (m *Manager) Prune(ctx context.Context) error {
	for _, n := range m.neighs {
		dev, _ := n["dev"].(string)
		if !strings.HasPrefix(dev, "irb-") {
			continue
		}
		dst, _ := n["dst"].(string)
		lladdr, _ := n["lladdr"].(string)
		key := (resource.Neighbour{Dst: dst, Device: dev}).Key()
		if m.known.Has(key) {
			if known, ok := m.known.Get(key); ok && known.LLAddr == lladdr {
				continue
			}
		}
		util.WithField("device", dev).Warnf("removing orphan neigh entry %s -> %s", dst, lladdr)
		if _, err := m.runner.Run(ctx, []string{
			"ip", "neigh", "del", dst, "dev", dev, "lladdr", lladdr, "proto", m.rtProto,
		}, cmdexec.DefaultOptions()); err != nil {
			return err
		}
	}
	return nil
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
