// Package routemgr owns kernel routes tagged with the agent's route
// protocol, across both IPv4 and IPv6 and across every table. Grounded
// on original_source/routemanager.py §4.6.
package routemgr

import (
	"context"
	"strconv"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/resource"
	"github.com/redpill-linpro/evpn-agent/pkg/util"
)

// Manager owns the merged IPv4+IPv6 route snapshot, scoped to the
// agent's own route protocol, and the set of routes ensured this
// iteration.
type Manager struct {
	runner  cmdexec.Runner
	rtProto string
	routes  []resource.Route
	known   *resource.Dedup[resource.Route]
}

func New(runner cmdexec.Runner, rtProto string) *Manager {
	return &Manager{runner: runner, rtProto: rtProto, known: resource.NewDedup[resource.Route]()}
}

// Update refreshes the snapshot by querying both address families
// separately (`ip -4`/`ip -6`) across every table, then merging the
// results. The kernel's "default" destination is normalised to its
// explicit CIDR form per family so it compares equal to a descriptor
// built by a caller.
func (m *Manager) Update(ctx context.Context) error {
	var routes []resource.Route

	for _, fam := range []struct {
		flag    string
		defCIDR string
	}{{"-4", "0.0.0.0/0"}, {"-6", "::/0"}} {
		tree, err := cmdexec.RunJSON(ctx, m.runner, []string{
			"ip", fam.flag, "-j", "-d", "route", "show",
			"proto", m.rtProto, "table", "all",
		})
		if err != nil {
			return err
		}
		for _, item := range tree {
			rt, ok := item.(map[string]any)
			if !ok {
				continue
			}
			dst, _ := rt["dst"].(string)
			if dst == "default" {
				dst = fam.defCIDR
			}
			gateway, _ := rt["gateway"].(string)
			dev, _ := rt["dev"].(string)
			rtype, _ := rt["type"].(string)
			routes = append(routes, (resource.Route{
				Dst:     dst,
				Gateway: gateway,
				Device:  dev,
				Type:    rtype,
				Metric:  decodeInt(rt["metric"]),
				Table:   resource.RouteTable(tableString(rt["table"])),
			}).WithDefaults())
		}
	}

	m.routes = routes
	return nil
}

// Ensure adds route if it is not already present exactly as specified.
// Zero-valued fields in route are filled with the kernel's own defaults
// before the comparison and before the command is built, so a caller may
// omit Type/Metric/Table for ordinary main-table routes.
func (m *Manager) Ensure(ctx context.Context, route resource.Route) error {
	route = route.WithDefaults()
	m.known.Add(route)

	for _, r := range m.routes {
		if r == route {
			return nil
		}
	}

	util.WithField("route", route.Dst).Warnf("adding route via %s dev %s table %s", route.Gateway, route.Device, route.Table)
	args := []string{"ip", "route", "add"}
	if route.Type != "" {
		args = append(args, route.Type)
	}
	args = append(args, route.Dst)
	if route.Gateway != "" {
		args = append(args, "via", route.Gateway)
	}
	if route.Device != "" {
		args = append(args, "dev", route.Device)
	}
	if route.Metric != 0 {
		args = append(args, "metric", strconv.Itoa(route.Metric))
	}
	if route.Table != "" {
		args = append(args, "table", string(route.Table))
	}
	args = append(args, "proto", m.rtProto)

	_, err := m.runner.Run(ctx, args, cmdexec.DefaultOptions())
	return err
}

// Prune removes every route in the snapshot that was not ensured this
// iteration. The snapshot is already scoped to this manager's route
// protocol and to every table, so anything left here is ours.
func (m *Manager) Prune(ctx context.Context) error {
	for _, route := range m.routes {
		if m.known.Has(route.Key()) {
			continue
		}
		util.WithField("route", route.Dst).Warnf("removing orphan route in table %s", route.Table)
		if _, err := m.runner.Run(ctx, []string{
			"ip", "route", "del", route.Dst, "table", string(route.Table), "proto", m.rtProto,
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

func decodeInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func tableString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.Itoa(int(t))
	}
	return "main"
}
