// Package ovsmgr plugs the EVPN bridge's veth pair into the hypervisor's
// OVS integration bridge. Grounded on original_source/ovsmanager.py §4.7.
package ovsmgr

import (
	"context"
	"strings"

	"github.com/redpill-linpro/evpn-agent/internal/cmdexec"
	"github.com/redpill-linpro/evpn-agent/pkg/util"
)

// Manager has no snapshot lifecycle of its own (no Update/Finalise): OVS
// port membership is never pruned, since the agent does not own the OVS
// bridge's full port list, only the single veth it plugs in.
type Manager struct {
	runner   cmdexec.Runner
	ovsName  string
	vethName string
}

func New(runner cmdexec.Runner, ovsName, vethName string) *Manager {
	return &Manager{runner: runner, ovsName: ovsName, vethName: vethName}
}

// EnsureVeth adds the veth to the OVS bridge if it is not already a
// member.
func (m *Manager) EnsureVeth(ctx context.Context) error {
	out, err := m.runner.Run(ctx, []string{"ovs-vsctl", "list-ports", m.ovsName}, cmdexec.Options{Capture: true, Check: true})
	if err != nil {
		return err
	}
	for _, line := range strings.Split(out, "\n") {
		if line == m.vethName {
			return nil
		}
	}

	util.WithField("ovs", m.ovsName).Warnf("adding %s to OVS bridge", m.vethName)
	_, err = m.runner.Run(ctx, []string{"ovs-vsctl", "add-port", m.ovsName, m.vethName}, cmdexec.DefaultOptions())
	return err
}
