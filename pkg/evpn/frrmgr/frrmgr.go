// Package frrmgr reconciles FRR's running BGP/EVPN configuration against
// the set of VRFs, route-maps, RA settings, and dynamic BGP listeners the
// agent has decided should exist. Grounded on
// original_source/frrmanager.py §4.8.
package frrmgr

import (
	"context"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/redpill-linpro/evpn-agent/pkg/evpn/frrcfg"
	"github.com/redpill-linpro/evpn-agent/pkg/util"
)

// Vtysh runs one vtysh invocation and returns its combined output. The
// driver wires this to a real `vtysh -c ...` shell-out in production and
// to a canned-output stub in tests, mirroring the injected command runner
// every other manager takes.
type Vtysh func(ctx context.Context, lines []string) (string, error)

// InvalidSentinelRouteError reports a malformed BGP-listener nexthop: the
// destination prefix is longer than the encoded ge value, or ge > le.
// The offending route is skipped; it does not abort the iteration.
type InvalidSentinelRouteError struct {
	Destination string
	Nexthop     string
	Reason      string
}

func (e *InvalidSentinelRouteError) Error() string {
	return fmt.Sprintf("invalid sentinel route %s via %s: %s", e.Destination, e.Nexthop, e.Reason)
}

func (e *InvalidSentinelRouteError) Unwrap() error { return util.ErrInvalidSentinelRoute }

// Manager owns the running/target FRR configuration pair.
type Manager struct {
	vtysh      Vtysh
	baseConfig string
	running    frrcfg.Config
	target     strings.Builder
}

// New builds a Manager that drives FRR through vtysh. baseConfigPath, if
// non-empty, names a file holding the operator's static policy (e.g.
// static route-maps or prefix-lists this agent doesn't own); its contents
// seed the target configuration on every Update, matching
// original_source/frrmanager.py's update() reading a base config file
// before any ensure_*() call runs.
func New(vtysh Vtysh, baseConfigPath string) (*Manager, error) {
	m := &Manager{vtysh: vtysh}
	if baseConfigPath != "" {
		contents, err := os.ReadFile(baseConfigPath)
		if err != nil {
			return nil, fmt.Errorf("frrmgr: reading base config %s: %w", baseConfigPath, err)
		}
		m.baseConfig = string(contents)
	}
	return m, nil
}

// Update loads the running configuration from `vtysh -c "show running-config"`
// and resets the target buffer back to the base config — every
// ensure_*() call in the coming iteration rebuilds the rest from scratch.
func (m *Manager) Update(ctx context.Context) error {
	out, err := m.vtysh(ctx, []string{"show running-config"})
	if err != nil {
		return err
	}
	m.running = frrcfg.Parse(out)
	m.target.Reset()
	if m.baseConfig != "" {
		m.target.WriteString(m.baseConfig)
	}
	return nil
}

func (m *Manager) addConfig(snippet string) {
	util.Logger.Debug("adding to FRR target config:")
	for _, line := range strings.Split(snippet, "\n") {
		if line != "" {
			util.Logger.Debugf("> %s", line)
		}
	}
	m.target.WriteString(snippet)
}

// asn returns the ASN of the default (non-VRF) BGP instance found in the
// running configuration, or "" if none is configured yet.
var bgpHeaderRE = regexp.MustCompile(`^router bgp (\d+)$`)

func (m *Manager) asn() string {
	for _, e := range m.running {
		if len(e.Context) != 1 {
			continue
		}
		if match := bgpHeaderRE.FindStringSubmatch(e.Context[0]); match != nil {
			return match[1]
		}
	}
	return ""
}

// EnsureVRF stages the per-VRF BGP instance, its redistribute-connected
// guard route-map, and (if l3vni is non-nil and non-zero) the L3VNI
// mapping. An l3vni
// of exactly 0 additionally stages underlay route leaking between the
// default VRF and this one.
func (m *Manager) EnsureVRF(vrf string, l3vni *int) {
	asn := m.asn()

	var b strings.Builder
	fmt.Fprintf(&b, "route-map %s-redistribute-connected deny 65535\n", vrf)
	b.WriteString("exit\n")
	fmt.Fprintf(&b, "router bgp %s vrf %s\n", asn, vrf)
	b.WriteString("    no bgp default ipv4-unicast\n")
	b.WriteString("    bgp disable-ebgp-connected-route-check\n")
	b.WriteString("    bgp bestpath as-path multipath-relax\n")
	b.WriteString("    address-family ipv4 unicast\n")
	b.WriteString("        redistribute kernel\n")
	fmt.Fprintf(&b, "        redistribute connected route-map %s-redistribute-connected\n", vrf)
	b.WriteString("    exit-address-family\n")
	b.WriteString("    address-family ipv6 unicast\n")
	b.WriteString("        redistribute kernel\n")
	fmt.Fprintf(&b, "        redistribute connected route-map %s-redistribute-connected\n", vrf)
	b.WriteString("    exit-address-family\n")
	b.WriteString("    address-family l2vpn evpn\n")
	b.WriteString("        advertise ipv4 unicast\n")
	b.WriteString("        advertise ipv6 unicast\n")
	b.WriteString("    exit-address-family\n")
	b.WriteString("exit\n")

	if l3vni != nil && *l3vni != 0 {
		fmt.Fprintf(&b, "vrf %s\n    vni %d\nexit-vrf\n", vrf, *l3vni)
	}

	if l3vni != nil && *l3vni == 0 {
		fmt.Fprintf(&b, "router bgp %s\n", asn)
		b.WriteString("    address-family ipv4 unicast\n")
		fmt.Fprintf(&b, "        import vrf %s\n", vrf)
		b.WriteString("    exit-address-family\n")
		b.WriteString("    address-family ipv6 unicast\n")
		fmt.Fprintf(&b, "        import vrf %s\n", vrf)
		b.WriteString("    exit-address-family\n")
		b.WriteString("exit\n")
		fmt.Fprintf(&b, "router bgp %s vrf %s\n", asn, vrf)
		b.WriteString("    address-family ipv4 unicast\n")
		b.WriteString("        import vrf default\n")
		b.WriteString("    exit-address-family\n")
		b.WriteString("    address-family ipv6 unicast\n")
		b.WriteString("        import vrf default\n")
		b.WriteString("    exit-address-family\n")
		b.WriteString("exit\n")
	}

	m.addConfig(b.String())
}

// EnsureAdvertiseConnected stages a permit clause in the VRF's
// redistribute-connected route-map that matches the IRB interface for
// vlanID, using vlanID itself as the route-map sequence number.
func (m *Manager) EnsureAdvertiseConnected(vrf string, vlanID int) {
	m.addConfig(fmt.Sprintf(
		"route-map %s-redistribute-connected permit %d\n    match interface irb-%d\nexit\n",
		vrf, vlanID, vlanID,
	))
}

// RAMode names the Neutron ipv6_ra_mode values that control which ICMPv6
// RA flags FRR advertises on an IRB interface.
type RAMode string

const (
	RASLAAC           RAMode = "slaac"
	RADHCPv6Stateful  RAMode = "dhcpv6-stateful"
	RADHCPv6Stateless RAMode = "dhcpv6-stateless"
)

// EnsureRA stages router-advertisement configuration on dev for prefix,
// per Neutron's ipv6_ra_mode semantics (A,M,O flags). SLAAC is FRR's
// default behaviour and needs no extra lines.
func (m *Manager) EnsureRA(dev, prefix string, mode RAMode) {
	var b strings.Builder
	fmt.Fprintf(&b, "interface %s\n", dev)
	switch mode {
	case RADHCPv6Stateful:
		b.WriteString("    ipv6 nd managed-config-flag\n")
		fmt.Fprintf(&b, "    ipv6 nd prefix %s no-autoconfig\n", prefix)
	case RADHCPv6Stateless:
		b.WriteString("    ipv6 nd other-config-flag\n")
	}
	b.WriteString("    no ipv6 nd suppress-ra\n")
	b.WriteString("exit\n")
	m.addConfig(b.String())
}

// SubnetRoute is the nexthop/destination pair a dynamic BGP listener is
// derived from.
type SubnetRoute struct {
	Destination string
	Nexthop     string
}

var sentinelNexthopRE = regexp.MustCompile(`^(?:::|0\.)179[:.](\d+)[:.](\d+)$`)

// EnsureBGPListener stages a dynamic BGP listen range on dev, accepting
// prefixes within route.Destination between the ge/le mask lengths
// encoded in route.Nexthop's sentinel form (0.179.ge.le or ::179:ge:le).
// A malformed encoding is reported as an *InvalidSentinelRouteError and
// the route is skipped without staging anything.
func (m *Manager) EnsureBGPListener(dev, vrf, subnet string, route SubnetRoute) error {
	asn := m.asn()

	match := sentinelNexthopRE.FindStringSubmatch(route.Nexthop)
	if match == nil {
		return &InvalidSentinelRouteError{Destination: route.Destination, Nexthop: route.Nexthop, Reason: "nexthop is not a 0.179.ge.le / ::179:ge:le sentinel"}
	}
	ge, _ := strconv.Atoi(match[1])
	le, _ := strconv.Atoi(match[2])

	_, cidr, err := net.ParseCIDR(route.Destination)
	if err != nil {
		return &InvalidSentinelRouteError{Destination: route.Destination, Nexthop: route.Nexthop, Reason: "destination is not a valid prefix"}
	}
	prefixLen, _ := cidr.Mask.Size()
	if !(prefixLen <= ge && ge <= le) {
		return &InvalidSentinelRouteError{Destination: route.Destination, Nexthop: route.Nexthop, Reason: "mask length <= ge <= le does not hold"}
	}

	afi, pltype := "ipv4", "ip"
	if strings.Contains(route.Destination, ":") {
		afi, pltype = "ipv6", "ipv6"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s prefix-list %s-accept-bgp permit %s ge %d le %d\n", pltype, dev, cidr.String(), ge, le)
	fmt.Fprintf(&b, "router bgp %s vrf %s\n", asn, vrf)
	fmt.Fprintf(&b, "    neighbor %s peer-group\n", dev)
	fmt.Fprintf(&b, "    neighbor %s remote-as external\n", dev)
	fmt.Fprintf(&b, "    bgp listen range %s peer-group %s\n", subnet, dev)
	b.WriteString("    no bgp default ipv4-unicast\n")
	fmt.Fprintf(&b, "    address-family %s unicast\n", afi)
	fmt.Fprintf(&b, "        neighbor %s activate\n", dev)
	fmt.Fprintf(&b, "        neighbor %s prefix-list %s-accept-bgp in\n", dev, dev)
	b.WriteString("    exit-address-family\n")
	b.WriteString("exit\n")

	m.addConfig(b.String())
	return nil
}

// Finalise diffs the staged target configuration against the running
// configuration and applies the difference through vtysh: deletions
// first, then additions, each batch deduplicated while preserving
// first-occurrence order (the same ensured resource, e.g. a shared
// L3VNI/VRF mapping, may have been staged once per network this
// iteration).
func (m *Manager) Finalise(ctx context.Context) error {
	target := frrcfg.Parse(m.target.String())
	add, del := frrcfg.Diff(target, m.running)

	for _, e := range del {
		cmds := append([]string{"configure"}, e.ToCommands(true)...)
		util.Logger.Warnf("configuring FRR: %v", cmds)
		if _, err := m.vtysh(ctx, cmds); err != nil {
			return err
		}
	}
	for _, e := range add {
		cmds := append([]string{"configure"}, e.ToCommands(false)...)
		util.Logger.Warnf("configuring FRR: %v", cmds)
		if _, err := m.vtysh(ctx, cmds); err != nil {
			return err
		}
	}

	return m.Update(ctx)
}
