package frrmgr

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func fakeVtysh(running string, calls *[][]string) Vtysh {
	return func(_ context.Context, lines []string) (string, error) {
		*calls = append(*calls, lines)
		if len(lines) == 1 && lines[0] == "show running-config" {
			return running, nil
		}
		return "", nil
	}
}

func TestEnsureVRF_StagesBaselineAndL3VNI(t *testing.T) {
	var calls [][]string
	m, err := New(fakeVtysh("router bgp 65000\nexit\n", &calls), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	l3vni := 5000
	m.EnsureVRF("vrf-100", &l3vni)

	if err := m.Finalise(context.Background()); err != nil {
		t.Fatalf("Finalise: %v", err)
	}

	var configureCalls []string
	for _, c := range calls {
		if len(c) > 0 && c[0] == "configure" {
			configureCalls = append(configureCalls, strings.Join(c, " "))
		}
	}
	foundVRF, foundVNI := false, false
	for _, c := range configureCalls {
		if strings.Contains(c, "router bgp 65000 vrf vrf-100") {
			foundVRF = true
		}
		if strings.Contains(c, "vrf vrf-100 vni 5000") {
			foundVNI = true
		}
	}
	if !foundVRF {
		t.Fatalf("expected a router bgp vrf configure call, got %v", configureCalls)
	}
	if !foundVNI {
		t.Fatalf("expected a vni mapping configure call, got %v", configureCalls)
	}
}

func TestEnsureVRF_DedupsRepeatedStaging(t *testing.T) {
	var calls [][]string
	m, err := New(fakeVtysh("router bgp 65000\nexit\n", &calls), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	l3vni := 5000
	// Same L3VNI staged twice, as the driver does once per network sharing it.
	m.EnsureVRF("vrf-100", &l3vni)
	m.EnsureVRF("vrf-100", &l3vni)

	if err := m.Finalise(context.Background()); err != nil {
		t.Fatalf("Finalise: %v", err)
	}

	vniCount := 0
	for _, c := range calls {
		if len(c) > 0 && c[0] == "configure" && strings.Contains(strings.Join(c, " "), "vni 5000") {
			vniCount++
		}
	}
	if vniCount != 1 {
		t.Fatalf("expected the vni mapping to be configured exactly once, got %d", vniCount)
	}
}

func TestEnsureBGPListener_RejectsInvalidGeLe(t *testing.T) {
	var calls [][]string
	m, err := New(fakeVtysh("router bgp 65000\nexit\n", &calls), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	err = m.EnsureBGPListener("irb-100", "vrf-100", "198.51.100.0/24", SubnetRoute{
		Destination: "198.51.100.0/28",
		Nexthop:     "0.179.30.20", // ge=30 > le=20, invalid
	})
	var sre *InvalidSentinelRouteError
	if !errors.As(err, &sre) {
		t.Fatalf("error = %v, want *InvalidSentinelRouteError", err)
	}
}

func TestEnsureBGPListener_AcceptsValidSentinel(t *testing.T) {
	var calls [][]string
	m, err := New(fakeVtysh("router bgp 65000\nexit\n", &calls), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	err = m.EnsureBGPListener("irb-100", "vrf-100", "198.51.100.0/24", SubnetRoute{
		Destination: "198.51.100.0/24",
		Nexthop:     "0.179.24.32",
	})
	if err != nil {
		t.Fatalf("EnsureBGPListener: %v", err)
	}
	if err := m.Finalise(context.Background()); err != nil {
		t.Fatalf("Finalise: %v", err)
	}

	found := false
	for _, c := range calls {
		if len(c) > 0 && c[0] == "configure" && strings.Contains(strings.Join(c, " "), "bgp listen range 198.51.100.0/24") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a bgp listen range configure call, got %v", calls)
	}
}
