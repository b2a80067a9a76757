// Package config loads the agent's INI-style configuration file and
// applies the same defaults original_source/config.py hard-codes. No INI
// parsing library appears anywhere in the example pack searched while
// building this repository, so the scanner below is a deliberate
// standard-library fallback rather than an oversight.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Agent holds the top-level reconciliation-loop settings.
type Agent struct {
	Interval        int
	LogLevel        string
	PhysicalNetwork string
	RTProto         string
	RTTableOffset   int
	L2VNIOffset     *int
	Oneshot         bool
}

// Bridge describes the EVPN bridge device and its OVS-facing veth pair.
type Bridge struct {
	Address string
	Name    string
	MTU     int
	Veth    string
}

// OVS describes the hypervisor's OVS integration bridge and its
// EVPN-facing veth pair.
type OVS struct {
	Name string
	Veth string
}

// DB holds MySQL connection parameters, passed through verbatim to the
// driver DSN builder.
type DB struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// FRR points at the routing-daemon manager's static policy base file
// (spec.md §4.8: "a canonical on-disk base file (the operator's static
// policy)"), seeded into the target configuration on every Update.
type FRR struct {
	BaseConfig string
}

// Config is the fully-resolved agent configuration.
type Config struct {
	Agent  Agent
	Bridge Bridge
	OVS    OVS
	DB     DB
	FRR    FRR
}

// Default returns the built-in defaults, matching original_source/config.py's
// ConfigParser seed values.
func Default() *Config {
	return &Config{
		Agent: Agent{
			Interval:        1,
			LogLevel:        "WARNING",
			PhysicalNetwork: "physnet1",
			RTProto:         "255",
			RTTableOffset:   100000000,
		},
		Bridge: Bridge{
			Address: "00:00:5e:00:01:00",
			Name:    "br-evpn",
			MTU:     9216,
			Veth:    "veth-to-ovs",
		},
		OVS: OVS{
			Name: "br-ex",
			Veth: "veth-to-evpn",
		},
		DB: DB{
			Database: "neutron",
		},
	}
}

// Load reads path (an INI file with [agent]/[bridge]/[ovs]/[db] sections)
// on top of Default(). A missing file is not an error: the agent runs on
// defaults alone, matching configparser.read()'s silent-skip behaviour.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	section := ""
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			continue
		}
		key, value, ok := splitKV(line)
		if !ok {
			return nil, fmt.Errorf("config: %s:%d: malformed line %q", path, lineNo, line)
		}
		if err := cfg.set(section, strings.ToLower(key), value); err != nil {
			return nil, fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return cfg, nil
}

func splitKV(line string) (key, value string, ok bool) {
	idx := strings.IndexAny(line, "=:")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func (c *Config) set(section, key, value string) error {
	switch section {
	case "agent":
		switch key {
		case "interval":
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			c.Agent.Interval = n
		case "loglevel":
			c.Agent.LogLevel = value
		case "physical_network":
			c.Agent.PhysicalNetwork = value
		case "rt_proto":
			c.Agent.RTProto = value
		case "rt_table_offset":
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			c.Agent.RTTableOffset = n
		case "l2vni_offset":
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			c.Agent.L2VNIOffset = &n
		case "oneshot":
			// Presence alone enables oneshot mode, whatever the value.
			c.Agent.Oneshot = true
		default:
			return fmt.Errorf("unknown agent option %q", key)
		}
	case "bridge":
		switch key {
		case "address":
			c.Bridge.Address = value
		case "name":
			c.Bridge.Name = value
		case "mtu":
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			c.Bridge.MTU = n
		case "veth":
			c.Bridge.Veth = value
		default:
			return fmt.Errorf("unknown bridge option %q", key)
		}
	case "ovs":
		switch key {
		case "name":
			c.OVS.Name = value
		case "veth":
			c.OVS.Veth = value
		default:
			return fmt.Errorf("unknown ovs option %q", key)
		}
	case "db":
		switch key {
		case "host":
			c.DB.Host = value
		case "port":
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			c.DB.Port = n
		case "user":
			c.DB.User = value
		case "password":
			c.DB.Password = value
		case "database":
			c.DB.Database = value
		default:
			return fmt.Errorf("unknown db option %q", key)
		}
	case "frr":
		switch key {
		case "base_config":
			c.FRR.BaseConfig = value
		default:
			return fmt.Errorf("unknown frr option %q", key)
		}
	default:
		return fmt.Errorf("unknown section %q", section)
	}
	return nil
}
