package linkmgr

import "github.com/redpill-linpro/evpn-agent/pkg/evpn/resource"

// linkAttrToCmd maps a generic link attribute to its `ip link set`
// argument pair. Two attributes have kernel-JSON names that differ from
// their iproute2 command names.
func linkAttrToCmd(attr string, v resource.AttrValue) []string {
	switch attr {
	case "inet6_addr_gen_mode":
		attr = "addrgenmode"
	case "ifalias":
		attr = "alias"
	}
	return []string{attr, v.StringVal()}
}

// typeAttrToCmd maps a type-specific attribute (bridge/vxlan options) to
// its `ip link set ... type <kind>` argument pair. "learning" is a bare
// flag with a "no" prefix rather than an on/off value, and "port" means
// the VXLAN destination UDP port, spelled "dstport" on the command line.
func typeAttrToCmd(attr string, v resource.AttrValue) []string {
	if attr == "learning" {
		if b, ok := v.BoolVal(); ok {
			if b {
				return []string{"learning"}
			}
			return []string{"nolearning"}
		}
	}
	if attr == "port" {
		return []string{"dstport", v.StringVal()}
	}
	return []string{attr, v.StringVal()}
}

// bridgeSlaveAttrToCmd maps a bridge-slave attribute (set via `ip link
// set ... type bridge_slave`) to its argument pair. learning and
// neigh_suppress are on/off toggles rather than boolean literals.
func bridgeSlaveAttrToCmd(attr string, v resource.AttrValue) []string {
	if attr == "learning" || attr == "neigh_suppress" {
		if b, ok := v.BoolVal(); ok {
			if b {
				return []string{attr, "on"}
			}
			return []string{attr, "off"}
		}
	}
	return []string{attr, v.StringVal()}
}
