// Package addressmgr owns IRB interface addressing. Grounded on
// original_source/addressmanager.py §4.4.
package addressmgr

import (
	"context"
	"strconv"
	"strings"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/resource"
	"github.com/redpill-linpro/evpn-agent/pkg/util"
)

// Manager owns the address snapshot and the set of addresses ensured this
// iteration.
type Manager struct {
	runner  cmdexec.Runner
	devices []map[string]any
	known   *resource.Dedup[resource.Address]
}

func New(runner cmdexec.Runner) *Manager {
	return &Manager{runner: runner, known: resource.NewDedup[resource.Address]()}
}

// Update refreshes the address snapshot from `ip -j -d address show`.
func (m *Manager) Update(ctx context.Context) error {
	tree, err := cmdexec.RunJSON(ctx, m.runner, []string{"ip", "-j", "-d", "address", "show"})
	if err != nil {
		return err
	}
	m.devices = asMaps(tree)
	return nil
}

// PrimaryLoopbackIPv4 returns the global-scope IPv4 address on lo, used as
// the agent's own VTEP source address.
func (m *Manager) PrimaryLoopbackIPv4() string {
	for _, dev := range m.devices {
		if name, _ := dev["ifname"].(string); name != "lo" {
			continue
		}
		for _, ai := range addrInfo(dev) {
			family, _ := ai["family"].(string)
			scope, _ := ai["scope"].(string)
			if family == "inet" && scope == "global" {
				local, _ := ai["local"].(string)
				return local
			}
		}
	}
	return ""
}

// Ensure adds address (CIDR) to dev if not already present. IPv6
// addresses are added with `nodad`.
func (m *Manager) Ensure(ctx context.Context, dev, address string) error {
	m.known.Add(resource.Address{Device: dev, Address: address})

	ip, plen, ok := splitCIDR(address)
	if ok {
		for _, device := range m.devices {
			if name, _ := device["ifname"].(string); name != dev {
				continue
			}
			for _, ai := range addrInfo(device) {
				local, _ := ai["local"].(string)
				prefixlen := decodeInt(ai["prefixlen"])
				if local == ip && prefixlen == plen {
					return nil
				}
			}
		}
	}

	util.WithField("device", dev).Warnf("adding address %s", address)
	args := []string{"ip", "address", "add", "dev", dev, address}
	if strings.Contains(address, ":") {
		args = append(args, "nodad")
	}
	_, err := m.runner.Run(ctx, args, cmdexec.DefaultOptions())
	return err
}

// Prune removes every address on an irb- interface that was not ensured
// this iteration. IPv6 link-local addresses are never touched; they are
// kernel-assigned, not agent-managed.
func (m *Manager) Prune(ctx context.Context) error {
	for _, device := range m.devices {
		dev, _ := device["ifname"].(string)
		if !strings.HasPrefix(dev, "irb-") {
			continue
		}
		for _, ai := range addrInfo(device) {
			family, _ := ai["family"].(string)
			scope, _ := ai["scope"].(string)
			if family == "inet6" && scope == "link" {
				continue
			}
			local, _ := ai["local"].(string)
			prefixlen := decodeInt(ai["prefixlen"])
			address := local + "/" + strconv.Itoa(prefixlen)
			if m.known.Has((resource.Address{Device: dev, Address: address}).Key()) {
				continue
			}
			util.WithField("device", dev).Warnf("removing orphan address %s", address)
			if _, err := m.runner.Run(ctx, []string{"ip", "address", "del", "dev", dev, address}, cmdexec.DefaultOptions()); err != nil {
				return err
			}
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

func addrInfo(device map[string]any) []map[string]any {
	raw, _ := device["addr_info"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if mp, ok := item.(map[string]any); ok {
			out = append(out, mp)
		}
	}
	return out
}

func splitCIDR(address string) (ip string, prefixlen int, ok bool) {
	parts := strings.SplitN(address, "/", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, false
	}
	return parts[0], n, true
}

func decodeInt(v any) int {
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
