// Package resource defines the descriptor types shared by every resource
// manager in pkg/evpn: the declarative attribute maps a manager diffs
// against the host, and the small ordered-set helper used to track each
// manager's "known" set for one reconciliation iteration.
package resource

import (
	"strconv"
	"strings"
)

// AttrValue is a tagged scalar carried in a Link's attribute maps. The link
// manager's attribute translators (linkmgr) branch on both the attribute
// name and its Go type, so attributes are kept as typed values rather than
// pre-stringified text.
type AttrValue struct {
	kind ValueKind
	s    string
	i    int
	b    bool
}

// ValueKind identifies which field of AttrValue is populated.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindBool
)

func String(v string) AttrValue { return AttrValue{kind: KindString, s: v} }
func Int(v int) AttrValue       { return AttrValue{kind: KindInt, i: v} }
func Bool(v bool) AttrValue     { return AttrValue{kind: KindBool, b: v} }

func (v AttrValue) Kind() ValueKind { return v.kind }

// StringVal renders the value the way the imperative CLI expects it: bare
// strings pass through, ints/bools are decimal/"true"/"false".
func (v AttrValue) StringVal() string {
	switch v.kind {
	case KindInt:
		return strconv.Itoa(v.i)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return v.s
	}
}

func (v AttrValue) IntVal() (int, bool)   { return v.i, v.kind == KindInt }
func (v AttrValue) BoolVal() (bool, bool) { return v.b, v.kind == KindBool }

// Equal reports whether v represents the same scalar as a decoded JSON
// value from an `ip -j` snapshot (float64 for numbers, per encoding/json's
// default decoding into interface{}).
func (v AttrValue) Equal(observed any) bool {
	switch v.kind {
	case KindString:
		s, ok := observed.(string)
		return ok && s == v.s
	case KindInt:
		switch o := observed.(type) {
		case float64:
			return int(o) == v.i
		case int:
			return o == v.i
		case string:
			return o == strconv.Itoa(v.i)
		}
		return false
	case KindBool:
		b, ok := observed.(bool)
		return ok && b == v.b
	}
	return false
}


// LinkKind enumerates the link types the link manager is allowed to create.
// Once a link is created its kind is immutable (§3 invariant); a collision
// with a pre-existing link of a different kind is a KindMismatchError, not
// an auto-correction.
type LinkKind string

const (
	LinkBridge LinkKind = "bridge"
	LinkVeth   LinkKind = "veth"
	LinkVLAN   LinkKind = "vlan"
	LinkVXLAN  LinkKind = "vxlan"
	LinkVRF    LinkKind = "vrf"
)

// Link is the declarative descriptor for an L2/L3 interface.
type Link struct {
	Name              string
	Kind              LinkKind
	PeerName          string // veth peer, or vlan/vxlan parent link
	LinkAttrs         map[string]AttrValue
	TypeAttrs         map[string]AttrValue
	BridgeSlaveAttrs  map[string]AttrValue
}

// Key identifies a Link within a known-set by name alone — at most one
// descriptor per name may be ensured in an iteration.
func (l Link) Key() string { return l.Name }

// BridgeVLAN is the declarative descriptor for a VLAN membership on a
// bridge port (or on the bridge device itself, which bridgemgr addresses
// with the `self` keyword).
type BridgeVLAN struct {
	Device string
	VID    int
	Tagged bool
}

func (v BridgeVLAN) Key() string { return v.Device + "/" + strconv.Itoa(v.VID) }

// FDB is a static sticky forwarding-database entry.
type FDB struct {
	MAC          string
	VID          int
	MasterBridge string
	PortDevice   string
}

func (f FDB) Key() string { return f.MAC + "/" + strconv.Itoa(f.VID) }

// Address is an IP address assigned to an IRB interface.
type Address struct {
	Device  string
	Address string // CIDR
}

func (a Address) Key() string { return a.Device + "/" + a.Address }

// Neighbour is a permanent ARP/ND entry tagged with the agent's route
// protocol.
type Neighbour struct {
	Dst      string
	Device   string
	LLAddr   string
	Protocol string
}

func (n Neighbour) Key() string { return n.Dst + "/" + n.Device }

// RouteTable names a kernel routing table, either the symbolic "main" or
// a numeric VRF table id rendered as a decimal string.
type RouteTable string

const MainTable RouteTable = "main"

// Route is a kernel route tagged with the agent's route protocol.
// Descriptor defaults mirror the kernel's own defaults so that a freshly
// decoded snapshot entry compares equal to a freshly constructed
// descriptor (§8 round-trip law).
type Route struct {
	Dst     string // CIDR, or normalised 0.0.0.0/0 / ::/0 for default
	Gateway string
	Device  string
	Type    string     // default "unicast"
	Metric  int        // default 1024
	Table   RouteTable // default "main"
}

// Key identifies a Route by every field the kernel uses to distinguish
// routes (§3: descriptors compare by structural equality of all seven
// fields), not just Dst+Table — two routes sharing a destination and
// table but differing in gateway/device/type/metric are distinct
// resources and must not collapse into one known-set entry.
func (r Route) Key() string {
	return strings.Join([]string{r.Dst, r.Gateway, r.Device, r.Type, strconv.Itoa(r.Metric), string(r.Table)}, "\x00")
}

// WithDefaults returns r with the kernel defaults for Type/Metric/Table
// filled in where the caller left them zero.
func (r Route) WithDefaults() Route {
	if r.Type == "" {
		r.Type = "unicast"
	}
	if r.Metric == 0 {
		r.Metric = 1024
	}
	if r.Table == "" {
		r.Table = MainTable
	}
	return r
}
