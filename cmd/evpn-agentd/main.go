// Command evpn-agentd is the per-hypervisor EVPN/VXLAN reconciliation
// agent. It loads its configuration, opens the inventory database,
// wires every resource manager against the host's ip/bridge/ovs-vsctl/
// vtysh CLIs, and runs the reconcile loop: snapshot -> ensure -> prune.
//
// Usage:
//
//	evpn-agentd -c /etc/evpn-agent/agent.ini [-1] [-d] [-v]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
	"github.com/redpill-linpro/evpn-agent/internal/config"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/addressmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/bridgemgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/driver"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/frrmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/linkmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/neighmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/ovsmgr"
	"github.com/redpill-linpro/evpn-agent/pkg/evpn/routemgr"
	"github.com/redpill-linpro/evpn-agent/pkg/inventory"
	"github.com/redpill-linpro/evpn-agent/pkg/util"
	"github.com/redpill-linpro/evpn-agent/pkg/version"
)

// Sentinel errors for exit code mapping. RunE returns these instead of
// calling os.Exit directly, so deferred cleanup (closing the inventory
// DB handle) still runs.
var errAgentFailed = errors.New("reconciliation loop failed")

// flags holds the CLI overlay applied on top of the loaded config file,
// mirroring original_source/config.py's optparse overrides.
type flags struct {
	configPath string
	oneshot    bool
	debug      bool
	verbose    bool
}

func main() {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:   "evpn-agentd",
		Short: "EVPN/VXLAN hypervisor reconciliation agent",
		Long: `evpn-agentd reconciles this hypervisor's Linux networking state
(bridges, VLANs, VXLAN tunnels, VRFs, IRBs, routes) and FRR's BGP/EVPN
configuration against the tenant networks active on this host, as recorded
in the cloud-networking inventory database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	rootCmd.Flags().StringVarP(&f.configPath, "config", "c", "/etc/evpn-agent/agent.ini", "Path to agent.ini")
	rootCmd.Flags().BoolVarP(&f.oneshot, "oneshot", "1", false, "Run a single iteration and exit")
	rootCmd.Flags().BoolVarP(&f.debug, "debug", "d", false, "Enable debug logging")
	rootCmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Enable verbose (info) logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if version.Version == "dev" {
				fmt.Println("evpn-agentd dev build")
			} else {
				fmt.Printf("evpn-agentd %s (%s)\n", version.Version, version.GitCommit)
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errAgentFailed) {
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f *flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}

	level := cfg.Agent.LogLevel
	if f.debug {
		level = "debug"
	} else if f.verbose {
		level = "info"
	}
	if err := util.SetLogLevel(level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	oneshot := cfg.Agent.Oneshot || f.oneshot

	inv, closeInv, err := openInventory(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrInventoryUnavailable, err)
	}
	defer closeInv()

	d, err := wireDriver(cfg, inv)
	if err != nil {
		return err
	}

	util.Infof("evpn-agentd starting (oneshot=%v, interval=%ds)", oneshot, cfg.Agent.Interval)
	if err := d.Loop(ctx, oneshot); err != nil {
		if errors.Is(err, context.Canceled) {
			util.Info("evpn-agentd stopped")
			return nil
		}
		util.Errorf("reconciliation loop aborted: %v", err)
		return fmt.Errorf("%w: %v", errAgentFailed, err)
	}
	return nil
}

// openInventory opens the SQL-backed inventory source, scoped to this
// host and the configured physical network. The returned close func is
// always safe to call, even on error paths that never opened a handle.
func openInventory(cfg *config.Config) (inventory.Source, func(), error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, func() {}, err
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	src, err := inventory.OpenSQLSource(dsn, hostname, cfg.Agent.PhysicalNetwork)
	if err != nil {
		return nil, func() {}, err
	}
	return src, func() { _ = src.Close() }, nil
}

// wireDriver constructs every resource manager with an OS command runner
// and a vtysh shell-out, and assembles them into a Driver.
func wireDriver(cfg *config.Config, inv inventory.Source) (*driver.Driver, error) {
	runner := cmdexec.NewOSRunner()

	links := linkmgr.New(runner)
	br := bridgemgr.New(runner, links, cfg.Bridge.Name, cfg.Bridge.Veth)
	addr := addressmgr.New(runner)
	neigh := neighmgr.New(runner, cfg.Agent.RTProto)
	route := routemgr.New(runner, cfg.Agent.RTProto)
	ovs := ovsmgr.New(runner, cfg.OVS.Name, cfg.OVS.Veth)
	frr, err := frrmgr.New(vtyshRunner(runner), cfg.FRR.BaseConfig)
	if err != nil {
		return nil, err
	}

	return driver.New(cfg, inv, links, br, addr, neigh, route, ovs, frr), nil
}

// vtyshRunner adapts cmdexec.Runner to frrmgr.Vtysh: each call becomes a
// single `vtysh -c <line> -c <line> ...` invocation, grounded on
// original_source/frrmanager.py's subprocess invocation of vtysh.
func vtyshRunner(runner cmdexec.Runner) frrmgr.Vtysh {
	return func(ctx context.Context, lines []string) (string, error) {
		args := []string{"vtysh"}
		for _, line := range lines {
			args = append(args, "-c", line)
		}
		return runner.Run(ctx, args, cmdexec.Options{Capture: true, Check: true})
	}
}
