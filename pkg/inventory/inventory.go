// Package inventory queries the Neutron database (or any equivalent
// store) for the set of ports, networks, subnets, and routes active on
// this hypervisor. Grounded on original_source/inventory.py §4.9; the
// driver calls through the Source interface so the reconciliation engine
// never depends on a concrete database.
package inventory

import "context"

// Port is an active Neutron port (or floating IP) bound to this host.
type Port struct {
	SegmentationID int
	MACAddress     string
	DeviceID       string
	DeviceOwner    string
	IPAddress      string
	SubnetID       string
}

// Network is an EVPN-enabled network with at least one active port or
// floating IP on this host.
type Network struct {
	ID                  string
	L2VNI               *int
	L3VNI               *int
	AdvertiseConnected  bool
	SegmentationID      int
	MTU                 int
}

// Subnet belongs to a Network.
type Subnet struct {
	ID               string
	GatewayIP        string
	CIDR             string
	EnableDHCP       bool
	IPv6RAMode       string
	AddressScopeID   string
}

// SubnetRoute is a static host-route (`openstack subnet set --host-route`)
// attached to a Subnet.
type SubnetRoute struct {
	Destination string
	Nexthop     string
}

// TenantNetwork is a prefix reachable behind a router gateway port whose
// address scope matches the provider subnet's.
type TenantNetwork struct {
	CIDR string
}

// Source is the read-only inventory query surface the driver consumes.
// Every method is scoped implicitly to this hypervisor (by physical
// network and host) the way the SQL queries in original_source/inventory.py
// are, via parameters baked into the Source implementation at
// construction time.
type Source interface {
	Ports(ctx context.Context) ([]Port, error)
	Networks(ctx context.Context) ([]Network, error)
	Subnets(ctx context.Context, networkID string) ([]Subnet, error)
	SubnetRoutes(ctx context.Context, subnetID string) ([]SubnetRoute, error)
	TenantNetworks(ctx context.Context, deviceID, addressScopeID string) ([]TenantNetwork, error)
}
