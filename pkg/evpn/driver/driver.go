// Package driver is the reconciliation loop's top-level orchestrator: one
// Run call walks every active network on this hypervisor and ensures its
// full complement of links, VLANs, addresses, neighbours, routes, and FRR
// configuration, then finalises every manager in dependency order.
// Grounded on original_source/agent.py's main loop.
package driver

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/redpill-linpro/evpn-agent/internal/config"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/addressmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/bridgemgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/frrmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/linkmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/neighmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/ovsmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/resource"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/routemgr"
	"github.com/redpill-linpro/evpn-agent/pkg/inventory"
	"github.com/redpill-linpro/evpn-agent/pkg/util"
)

// sentinelNexthopPrefixRE recognises a subnet route's nexthop as a dynamic
// BGP listener request (0.179.ge.le or ::179:ge:le) without validating the
// ge/le values themselves; frrmgr.EnsureBGPListener does that validation
// and reports a skippable error for a malformed encoding.
var sentinelNexthopPrefixRE = regexp.MustCompile(`^(?:::|0\.)179[:.]`)

// Driver owns every resource manager and the inventory source they're
// reconciled against.
type Driver struct {
	cfg   *config.Config
	inv   inventory.Source
	links *linkmgr.Manager
	br    *bridgemgr.Manager
	addr  *addressmgr.Manager
	neigh *neighmgr.Manager
	route *routemgr.Manager
	ovs   *ovsmgr.Manager
	frr   *frrmgr.Manager
}

// New wires together a Driver from its already-constructed managers.
// Callers (cmd/evpn-agentd) are responsible for constructing each manager
// with its own injected cmdexec.Runner / frrmgr.Vtysh.
func New(cfg *config.Config, inv inventory.Source, links *linkmgr.Manager, br *bridgemgr.Manager, addr *addressmgr.Manager, neigh *neighmgr.Manager, route *routemgr.Manager, ovs *ovsmgr.Manager, frr *frrmgr.Manager) *Driver {
	return &Driver{cfg: cfg, inv: inv, links: links, br: br, addr: addr, neigh: neigh, route: route, ovs: ovs, frr: frr}
}

// Run executes exactly one reconciliation iteration: ensure the baseline
// bridge/OVS topology, ensure every active network's resources, then
// garbage collect everything that wasn't ensured this time around.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.updateAll(ctx); err != nil {
		return err
	}

	if err := d.ensureBaseline(ctx); err != nil {
		return err
	}

	ports, err := d.inv.Ports(ctx)
	if err != nil {
		return err
	}
	networks, err := d.inv.Networks(ctx)
	if err != nil {
		return err
	}

	for _, net := range networks {
		if err := d.ensureNetwork(ctx, net, ports); err != nil {
			return err
		}
	}

	return d.finalise(ctx)
}

// updateAll refreshes every manager's snapshot at the start of an
// iteration. ovsmgr has no snapshot lifecycle of its own.
func (d *Driver) updateAll(ctx context.Context) error {
	if err := d.links.Update(ctx); err != nil {
		return err
	}
	if err := d.br.Update(ctx); err != nil {
		return err
	}
	if err := d.addr.Update(ctx); err != nil {
		return err
	}
	if err := d.neigh.Update(ctx); err != nil {
		return err
	}
	if err := d.route.Update(ctx); err != nil {
		return err
	}
	return d.frr.Update(ctx)
}

// ensureBaseline ensures the EVPN bridge and its OVS downlink exist,
// independent of any active network.
func (d *Driver) ensureBaseline(ctx context.Context) error {
	util.Logger.Info("main loop: ensuring EVPN bridge and OVS downlink")

	if err := d.links.Ensure(ctx, resource.Link{
		Name: d.cfg.Bridge.Name,
		Kind: resource.LinkBridge,
		LinkAttrs: map[string]resource.AttrValue{
			"address":              resource.String(d.cfg.Bridge.Address),
			"inet6_addr_gen_mode": resource.String("none"),
			"mtu":                  resource.Int(d.cfg.Bridge.MTU),
		},
		TypeAttrs: map[string]resource.AttrValue{
			"vlan_default_pvid": resource.Int(0),
			"vlan_filtering":    resource.Int(1),
		},
	}); err != nil {
		return err
	}

	if err := d.links.Ensure(ctx, resource.Link{
		Name:     d.cfg.Bridge.Veth,
		Kind:     resource.LinkVeth,
		PeerName: d.cfg.OVS.Veth,
		LinkAttrs: map[string]resource.AttrValue{
			"master":              resource.String(d.cfg.Bridge.Name),
			"inet6_addr_gen_mode": resource.String("none"),
			"mtu":                  resource.Int(d.cfg.Bridge.MTU),
		},
	}); err != nil {
		return err
	}

	if err := d.links.Ensure(ctx, resource.Link{
		Name:     d.cfg.OVS.Veth,
		Kind:     resource.LinkVeth,
		PeerName: d.cfg.Bridge.Veth,
		LinkAttrs: map[string]resource.AttrValue{
			"inet6_addr_gen_mode": resource.String("none"),
			"mtu":                  resource.Int(d.cfg.Bridge.MTU),
		},
	}); err != nil {
		return err
	}

	return d.ovs.EnsureVeth(ctx)
}

// ensureNetwork ensures every resource belonging to one active network:
// its bridge VLAN, optional L2VNI, VRF/IRB/L3VNI stack, gateway
// addresses, subnet routes, and static FDB/neighbour entries for its
// known ports.
func (d *Driver) ensureNetwork(ctx context.Context, net inventory.Network, ports []inventory.Port) error {
	util.WithField("network", net.ID).Info("processing network")

	vid := net.SegmentationID
	mtu := net.MTU
	l2vni := net.L2VNI

	vrfID := vid
	if net.L3VNI != nil && *net.L3VNI != 0 {
		vrfID = *net.L3VNI
	}
	rtTable := vrfID + d.cfg.Agent.RTTableOffset

	if err := d.br.EnsureVLAN(ctx, d.cfg.Bridge.Veth, vid, true); err != nil {
		return err
	}

	if l2vni == nil && d.cfg.Agent.L2VNIOffset != nil {
		v := vid + *d.cfg.Agent.L2VNIOffset
		l2vni = &v
	}

	if l2vni != nil {
		util.WithField("network", net.ID).Infof("ensuring L2VNI %d (VLAN %d)", *l2vni, vid)
		devname := "l2vni-" + strconv.Itoa(*l2vni)
		if err := d.links.Ensure(ctx, resource.Link{
			Name: devname,
			Kind: resource.LinkVXLAN,
			LinkAttrs: map[string]resource.AttrValue{
				"master":              resource.String(d.cfg.Bridge.Name),
				"inet6_addr_gen_mode": resource.String("none"),
				"mtu":                  resource.Int(mtu),
				"ifalias":              resource.String("L2VNI for " + net.ID),
			},
			TypeAttrs: map[string]resource.AttrValue{
				"id":       resource.Int(*l2vni),
				"learning": resource.Bool(false),
				"local":    resource.String(d.addr.PrimaryLoopbackIPv4()),
				"port":     resource.Int(4789),
			},
			BridgeSlaveAttrs: map[string]resource.AttrValue{
				"learning":       resource.Bool(false),
				"neigh_suppress": resource.Bool(true),
			},
		}); err != nil {
			return err
		}
		if err := d.br.EnsureVLAN(ctx, devname, vid, false); err != nil {
			return err
		}
	}

	util.WithField("network", net.ID).Infof("ensuring VRF/IRB/L3VNI for VRF %d", vrfID)
	vrf := "vrf-" + strconv.Itoa(vrfID)
	irb := "irb-" + strconv.Itoa(vrfID)

	if err := d.links.Ensure(ctx, resource.Link{
		Name: vrf,
		Kind: resource.LinkVRF,
		LinkAttrs: map[string]resource.AttrValue{
			"ifalias":              resource.String("VRF " + strconv.Itoa(vrfID)),
			"inet6_addr_gen_mode": resource.String("none"),
		},
		TypeAttrs: map[string]resource.AttrValue{
			"table": resource.Int(rtTable),
		},
	}); err != nil {
		return err
	}

	d.frr.EnsureVRF(vrf, net.L3VNI)

	dev := "irb-" + strconv.Itoa(vid)
	if err := d.links.Ensure(ctx, resource.Link{
		Name:     dev,
		Kind:     resource.LinkVLAN,
		PeerName: d.cfg.Bridge.Name,
		LinkAttrs: map[string]resource.AttrValue{
			"mtu":     resource.Int(mtu),
			"ifalias": resource.String("IRB for VLAN " + strconv.Itoa(vid)),
			"master":  resource.String(vrf),
		},
		TypeAttrs: map[string]resource.AttrValue{
			"id": resource.Int(vid),
		},
	}); err != nil {
		return err
	}
	if err := d.br.EnsureVLAN(ctx, d.cfg.Bridge.Name, vid, true); err != nil {
		return err
	}

	if net.L3VNI != nil && *net.L3VNI != 0 {
		if err := d.links.Ensure(ctx, resource.Link{
			Name: irb,
			Kind: resource.LinkBridge,
			LinkAttrs: map[string]resource.AttrValue{
				"ifalias":              resource.String("IRB for VRF " + strconv.Itoa(vrfID)),
				"inet6_addr_gen_mode": resource.String("none"),
				"master":              resource.String(vrf),
				"mtu":                  resource.Int(d.cfg.Bridge.MTU - 50),
			},
		}); err != nil {
			return err
		}
		if err := d.links.Ensure(ctx, resource.Link{
			Name: "l3vni-" + strconv.Itoa(*net.L3VNI),
			Kind: resource.LinkVXLAN,
			LinkAttrs: map[string]resource.AttrValue{
				"ifalias":              resource.String("L3VNI for VRF " + strconv.Itoa(vrfID)),
				"inet6_addr_gen_mode": resource.String("none"),
				"master":              resource.String(irb),
				"mtu":                  resource.Int(d.cfg.Bridge.MTU - 50),
			},
			TypeAttrs: map[string]resource.AttrValue{
				"id":       resource.Int(*net.L3VNI),
				"learning": resource.Bool(false),
				"local":    resource.String(d.addr.PrimaryLoopbackIPv4()),
				"port":     resource.Int(4789),
			},
			BridgeSlaveAttrs: map[string]resource.AttrValue{
				"learning":       resource.Bool(false),
				"neigh_suppress": resource.Bool(true),
			},
		}); err != nil {
			return err
		}
	}

	if net.L3VNI != nil {
		if net.AdvertiseConnected {
			d.frr.EnsureAdvertiseConnected(vrf, vid)
		}

		subnets, err := d.inv.Subnets(ctx, net.ID)
		if err != nil {
			return err
		}
		for _, subnet := range subnets {
			if err := d.ensureSubnet(ctx, dev, vrf, vid, rtTable, subnet, ports); err != nil {
				return err
			}
		}
	}

	util.WithField("network", net.ID).Infof("ensuring static FDB/neigh entries for VLAN %d", vid)
	for _, port := range ports {
		if port.SegmentationID != vid {
			continue
		}
		if err := d.br.EnsureFDB(ctx, port.MACAddress, port.SegmentationID); err != nil {
			return err
		}
		if port.IPAddress == "" {
			continue
		}
		if err := d.neigh.Ensure(ctx, port.IPAddress, dev, port.MACAddress); err != nil {
			return err
		}
		if net.L3VNI != nil && *net.L3VNI == 0 {
			if err := d.route.Ensure(ctx, resource.Route{
				Dst:    port.IPAddress,
				Device: dev,
				Table:  resource.RouteTable(strconv.Itoa(rtTable)),
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

func (d *Driver) ensureSubnet(ctx context.Context, dev, vrf string, vid, rtTable int, subnet inventory.Subnet, ports []inventory.Port) error {
	util.WithField("subnet", subnet.ID).Debug("processing subnet")

	plen := subnet.CIDR[strings.LastIndex(subnet.CIDR, "/"):]
	gw := subnet.GatewayIP + plen
	if err := d.addr.Ensure(ctx, dev, gw); err != nil {
		return err
	}

	if subnet.EnableDHCP && subnet.IPv6RAMode != "" {
		d.frr.EnsureRA(dev, subnet.CIDR, frrmgr.RAMode(subnet.IPv6RAMode))
	}

	routes, err := d.inv.SubnetRoutes(ctx, subnet.ID)
	if err != nil {
		return err
	}
	for _, sr := range routes {
		util.WithField("subnet", subnet.ID).Debugf("considering subnet route %+v", sr)

		if isSentinelNexthop(sr.Nexthop) {
			if err := d.frr.EnsureBGPListener(dev, vrf, subnet.CIDR, frrmgr.SubnetRoute{
				Destination: sr.Destination,
				Nexthop:     sr.Nexthop,
			}); err != nil {
				util.Logger.Error(err)
			}
			continue
		}

		hasLocalPort := false
		for _, p := range ports {
			if p.SegmentationID == vid && p.IPAddress == sr.Nexthop {
				hasLocalPort = true
				break
			}
		}
		if !hasLocalPort {
			util.WithField("subnet", subnet.ID).Debug("skipping, nexthop has no local port")
			continue
		}

		if err := d.route.Ensure(ctx, resource.Route{
			Dst:     sr.Destination,
			Gateway: sr.Nexthop,
			Device:  dev,
			Table:   resource.RouteTable(strconv.Itoa(rtTable)),
		}); err != nil {
			return err
		}
	}

	if subnet.AddressScopeID == "" {
		return nil
	}

	util.WithField("subnet", subnet.ID).Infof("looking for tenant networks with address scope %s", subnet.AddressScopeID)
	for _, port := range ports {
		if port.SubnetID != subnet.ID {
			continue
		}
		if port.DeviceOwner != "network:router_gateway" {
			continue
		}

		tenantNets, err := d.inv.TenantNetworks(ctx, port.DeviceID, subnet.AddressScopeID)
		if err != nil {
			return err
		}
		for _, tn := range tenantNets {
			if err := d.route.Ensure(ctx, resource.Route{
				Dst:     tn.CIDR,
				Gateway: port.IPAddress,
				Device:  dev,
				Table:   resource.RouteTable(strconv.Itoa(rtTable)),
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

func isSentinelNexthop(nexthop string) bool {
	return sentinelNexthopPrefixRE.MatchString(nexthop)
}

// finalise garbage collects every manager in reverse dependency order:
// the routing daemon and neighbours/routes that reference interfaces
// must be torn down before the interfaces themselves.
func (d *Driver) finalise(ctx context.Context) error {
	util.Logger.Info("main loop: garbage collecting orphaned resources")

	if err := d.frr.Finalise(ctx); err != nil {
		return err
	}
	if err := d.neigh.Finalise(ctx); err != nil {
		return err
	}
	if err := d.route.Finalise(ctx); err != nil {
		return err
	}
	if err := d.addr.Finalise(ctx); err != nil {
		return err
	}
	if err := d.br.Finalise(ctx); err != nil {
		return err
	}
	return d.links.Finalise(ctx)
}

// Loop runs Run repeatedly at the configured interval until ctx is
// cancelled, or exactly once if oneshot is set. A failed iteration is
// logged and the next one starts after the interval; in oneshot mode the
// iteration's error is returned instead.
func (d *Driver) Loop(ctx context.Context, oneshot bool) error {
	for {
		if err := d.Run(ctx); err != nil {
			if oneshot {
				return err
			}
			util.Logger.Errorf("main loop: iteration failed, retrying after interval: %v", err)
		} else {
			util.Logger.Info("main loop: complete")
			if oneshot {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(d.cfg.Agent.Interval) * time.Second):
		}
	}
}
