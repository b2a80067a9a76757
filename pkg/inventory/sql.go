package inventory

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"

	"github.com/redpill-linpro/evpn-agent/pkg/util"
)

// SQLSource queries a Neutron (or compatible) MySQL database directly,
// transcribing the UNION queries in original_source/inventory.py
// literally rather than reinterpreting them through an ORM.
type SQLSource struct {
	db              *sql.DB
	host            string
	physicalNetwork string
}

// OpenSQLSource opens a MySQL connection using dsn (in
// github.com/go-sql-driver/mysql's standard "user:pass@tcp(host:port)/db"
// form) and scopes every query to host and physicalNetwork.
func OpenSQLSource(dsn, host, physicalNetwork string) (*SQLSource, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	return &SQLSource{db: db, host: host, physicalNetwork: physicalNetwork}, nil
}

func (s *SQLSource) Close() error { return s.db.Close() }

const portsQuery = `
SELECT
    networksegments.segmentation_id AS segmentation_id,
    ports.mac_address               AS mac_address,
    ports.device_id                 AS device_id,
    ports.device_owner              AS device_owner,
    ipallocations.ip_address        AS ip_address,
    ipallocations.subnet_id         AS subnet_id
FROM
    ports LEFT JOIN ipallocations ON ports.id = ipallocations.port_id,
    ml2_port_bindings,
    networks,
    networksegments
WHERE
    ports.network_id = networks.id
    AND ports.id = ml2_port_bindings.port_id
    AND networks.id = networksegments.network_id
    AND networksegments.network_type = 'vlan'
    AND networksegments.physical_network = ?
    AND ports.status = 'ACTIVE'
    AND ml2_port_bindings.host = ?
UNION
SELECT
    networksegments.segmentation_id AS segmentation_id,
    ports.mac_address               AS mac_address,
    ports.device_id                 AS device_id,
    ports.device_owner              AS device_owner,
    floatingips.floating_ip_address AS ip_address,
    NULL                            AS subnet_id
FROM
    floatingips,
    ports,
    ml2_port_bindings,
    networks,
    networksegments
WHERE
    floatingips.floating_network_id = networks.id
    AND floatingips.fixed_port_id = ml2_port_bindings.port_id
    AND floatingips.floating_port_id = ports.id
    AND networks.id = networksegments.network_id
    AND networksegments.network_type = 'vlan'
    AND networksegments.physical_network = ?
    AND ml2_port_bindings.status = 'ACTIVE'
    AND ml2_port_bindings.host = ?`

func (s *SQLSource) Ports(ctx context.Context) ([]Port, error) {
	rows, err := s.db.QueryContext(ctx, portsQuery, s.physicalNetwork, s.host, s.physicalNetwork, s.host)
	if err != nil {
		util.WithField("query", "ports").Errorf("inventory query failed: %v", err)
		return nil, &QueryError{Query: "ports", Cause: err}
	}
	defer rows.Close()

	var out []Port
	for rows.Next() {
		var p Port
		var ip, subnetID sql.NullString
		if err := rows.Scan(&p.SegmentationID, &p.MACAddress, &p.DeviceID, &p.DeviceOwner, &ip, &subnetID); err != nil {
			return nil, &QueryError{Query: "ports", Cause: err}
		}
		p.IPAddress = ip.String
		p.SubnetID = subnetID.String
		out = append(out, p)
	}
	return out, rows.Err()
}

const networksQuery = `
SELECT DISTINCT
    networks.id                      AS id,
    evpnnetworks.l2vni               AS l2vni,
    evpnnetworks.l3vni               AS l3vni,
    evpnnetworks.advertise_connected AS advertise_connected,
    networksegments.segmentation_id  AS segmentation_id,
    networks.mtu                     AS mtu
FROM
    evpnnetworks,
    ports,
    ml2_port_bindings,
    networks,
    networksegments
WHERE
    evpnnetworks.id = networks.id
    AND networksegments.network_id = networks.id
    AND ports.network_id = networks.id
    AND ports.id = ml2_port_bindings.port_id
    AND networksegments.network_type = 'vlan'
    AND networksegments.physical_network = ?
    AND ports.status = 'ACTIVE'
    AND ml2_port_bindings.host = ?
UNION
SELECT
    networks.id                      AS id,
    evpnnetworks.l2vni               AS l2vni,
    evpnnetworks.l3vni               AS l3vni,
    evpnnetworks.advertise_connected AS advertise_connected,
    networksegments.segmentation_id  AS segmentation_id,
    networks.mtu                     AS mtu
FROM
    evpnnetworks,
    floatingips,
    ml2_port_bindings,
    networks,
    networksegments
WHERE
    evpnnetworks.id = networks.id
    AND floatingips.floating_network_id = networks.id
    AND networksegments.network_id = networks.id
    AND floatingips.fixed_port_id = ml2_port_bindings.port_id
    AND networksegments.network_type = 'vlan'
    AND networksegments.physical_network = ?
    AND ml2_port_bindings.status = 'ACTIVE'
    AND ml2_port_bindings.host = ?`

func (s *SQLSource) Networks(ctx context.Context) ([]Network, error) {
	rows, err := s.db.QueryContext(ctx, networksQuery, s.physicalNetwork, s.host, s.physicalNetwork, s.host)
	if err != nil {
		util.WithField("query", "networks").Errorf("inventory query failed: %v", err)
		return nil, &QueryError{Query: "networks", Cause: err}
	}
	defer rows.Close()

	var out []Network
	for rows.Next() {
		var n Network
		var l2vni, l3vni sql.NullInt64
		if err := rows.Scan(&n.ID, &l2vni, &l3vni, &n.AdvertiseConnected, &n.SegmentationID, &n.MTU); err != nil {
			return nil, &QueryError{Query: "networks", Cause: err}
		}
		if l2vni.Valid {
			v := int(l2vni.Int64)
			n.L2VNI = &v
		}
		if l3vni.Valid {
			v := int(l3vni.Int64)
			n.L3VNI = &v
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

const subnetsQuery = `
SELECT
    subnets.id                   AS id,
    subnets.gateway_ip           AS gateway_ip,
    subnets.cidr                 AS cidr,
    subnets.enable_dhcp          AS enable_dhcp,
    subnets.ipv6_ra_mode         AS ipv6_ra_mode,
    subnetpools.address_scope_id AS address_scope_id
FROM
    subnets LEFT JOIN subnetpools ON subnets.subnetpool_id = subnetpools.id
WHERE
    subnets.network_id = ?`

func (s *SQLSource) Subnets(ctx context.Context, networkID string) ([]Subnet, error) {
	rows, err := s.db.QueryContext(ctx, subnetsQuery, networkID)
	if err != nil {
		util.WithField("query", "subnets").Errorf("inventory query failed: %v", err)
		return nil, &QueryError{Query: "subnets", Cause: err}
	}
	defer rows.Close()

	var out []Subnet
	for rows.Next() {
		var sn Subnet
		var raMode, scopeID sql.NullString
		if err := rows.Scan(&sn.ID, &sn.GatewayIP, &sn.CIDR, &sn.EnableDHCP, &raMode, &scopeID); err != nil {
			return nil, &QueryError{Query: "subnets", Cause: err}
		}
		sn.IPv6RAMode = raMode.String
		sn.AddressScopeID = scopeID.String
		out = append(out, sn)
	}
	return out, rows.Err()
}

const subnetRoutesQuery = `
SELECT
    destination,
    nexthop
FROM
    subnetroutes
WHERE
    subnetroutes.subnet_id = ?`

func (s *SQLSource) SubnetRoutes(ctx context.Context, subnetID string) ([]SubnetRoute, error) {
	rows, err := s.db.QueryContext(ctx, subnetRoutesQuery, subnetID)
	if err != nil {
		util.WithField("query", "subnetroutes").Errorf("inventory query failed: %v", err)
		return nil, &QueryError{Query: "subnetroutes", Cause: err}
	}
	defer rows.Close()

	var out []SubnetRoute
	for rows.Next() {
		var r SubnetRoute
		if err := rows.Scan(&r.Destination, &r.Nexthop); err != nil {
			return nil, &QueryError{Query: "subnetroutes", Cause: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const tenantNetworksQuery = `
SELECT
    subnets.cidr AS cidr
FROM
    ipallocations,
    ports,
    subnets,
    subnetpools
WHERE
    ports.id = ipallocations.port_id
    AND subnets.id = ipallocations.subnet_id
    AND subnetpools.id = subnets.subnetpool_id
    AND ports.device_owner = "network:router_interface"
    AND ports.device_id = ?
    AND subnetpools.address_scope_id = ?`

func (s *SQLSource) TenantNetworks(ctx context.Context, deviceID, addressScopeID string) ([]TenantNetwork, error) {
	rows, err := s.db.QueryContext(ctx, tenantNetworksQuery, deviceID, addressScopeID)
	if err != nil {
		util.WithField("query", "tenant networks").Errorf("inventory query failed: %v", err)
		return nil, &QueryError{Query: "tenant networks", Cause: err}
	}
	defer rows.Close()

	var out []TenantNetwork
	for rows.Next() {
		var t TenantNetwork
		if err := rows.Scan(&t.CIDR); err != nil {
			return nil, &QueryError{Query: "tenant networks", Cause: err}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// QueryError wraps a failed inventory query.
type QueryError struct {
	Query string
	Cause error
}

func (e *QueryError) Error() string { return "inventory query " + e.Query + " failed: " + e.Cause.Error() }

func (e *QueryError) Unwrap() error { return util.ErrInventoryUnavailable }
