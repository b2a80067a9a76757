package inventory

import "context"

// StaticSource is an in-memory Source for tests: every method returns a
// pre-loaded slice, keyed the way the SQL queries scope their own results
// (Subnets by network ID, SubnetRoutes by subnet ID, TenantNetworks by
// device/scope pair).
type StaticSource struct {
	PortList           []Port
	NetworkList        []Network
	SubnetsByNetwork   map[string][]Subnet
	RoutesBySubnet     map[string][]SubnetRoute
	TenantNetsByDevice map[string][]TenantNetwork
}

func NewStaticSource() *StaticSource {
	return &StaticSource{
		SubnetsByNetwork:   make(map[string][]Subnet),
		RoutesBySubnet:     make(map[string][]SubnetRoute),
		TenantNetsByDevice: make(map[string][]TenantNetwork),
	}
}

func (s *StaticSource) Ports(context.Context) ([]Port, error)       { return s.PortList, nil }
func (s *StaticSource) Networks(context.Context) ([]Network, error) { return s.NetworkList, nil }

func (s *StaticSource) Subnets(_ context.Context, networkID string) ([]Subnet, error) {
	return s.SubnetsByNetwork[networkID], nil
}

func (s *StaticSource) SubnetRoutes(_ context.Context, subnetID string) ([]SubnetRoute, error) {
	return s.RoutesBySubnet[subnetID], nil
}

func (s *StaticSource) TenantNetworks(_ context.Context, deviceID, addressScopeID string) ([]TenantNetwork, error) {
	return s.TenantNetsByDevice[deviceID+"/"+addressScopeID], nil
}
