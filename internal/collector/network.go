package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
	"go.uber.org/zap"

	"github.com/probelab/hwpulse/internal/sampling"
	"github.com/probelab/hwpulse/internal/schema"
	"github.com/probelab/hwpulse/internal/store"
)

func networkDataFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "name", Type: schema.Text, NotNull: true},
		{Name: "address_mac", Type: schema.Text},
		{Name: "network_type", Type: schema.Text},
		{Name: "received", Unit: "MB", Type: schema.Real},
		{Name: "transmitted", Unit: "MB", Type: schema.Real},
		{Name: "errors_received", Type: schema.Integer},
		{Name: "errors_transmitted", Type: schema.Integer},
		{Name: "packet_received", Type: schema.Integer},
		{Name: "packet_transmitted", Type: schema.Integer},
		{Name: "energy_consumed", Unit: "W", Type: schema.Real},
	}
}

// netTypeReference carries the per-technology energy figures: transfer
// ratio in Wh/GB and idle power in W, from ARCEP/CNRS/ADEME figures.
type netTypeReference struct {
	ratioWhPerGB float64
	idleW        float64
}

var netTypes = map[string]netTypeReference{
	"ETHERNET":   {0.2, 2.0},
	"INFINIBAND": {0.1, 1.5},
	"WIFI":       {0.4, 3.0},
	"CELLULAR":   {1.0, 5.0},
	"LOOPBACK":   {0, 0},
	"VIRTUAL":    {0, 0},
	"UNKNOWN":    {0, 0},
}

// NetInterfaceInfo is one interface's sample in the snapshot shape.
type NetInterfaceInfo struct {
	Name            string   `json:"name"`
	MAC             string   `json:"address_mac"`
	Type            string   `json:"network_type"`
	ReceivedMB      float64  `json:"received_mb"`
	TransmittedMB   float64  `json:"transmitted_mb"`
	ErrorsIn        uint64   `json:"errors_received"`
	ErrorsOut       uint64   `json:"errors_transmitted"`
	PacketsIn       uint64   `json:"packet_received"`
	PacketsOut      uint64   `json:"packet_transmitted"`
	EnergyConsumedW *float64 `json:"energy_consumed_w,omitempty"`
}

// Network collects per-interface traffic counters and an energy estimate
// derived from the traffic rate over the sample window.
type Network struct {
	logger      *zap.Logger
	sampleDelay time.Duration

	ddl    []string
	insert schema.Statement

	// sysNetDir is overridable for tests.
	sysNetDir string
}

func NewNetwork(logger *zap.Logger, sampleDelay time.Duration) (*Network, error) {
	n := &Network{logger: logger, sampleDelay: sampleDelay, sysNetDir: "/sys/class/net"}

	table := schema.Table{Name: "network_data", Fields: networkDataFields()}
	ddl, err := schema.CreateTable(table)
	if err != nil {
		return nil, err
	}
	n.ddl = []string{ddl}
	if n.insert, err = schema.Insert(table); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Network) Name() string { return "network" }

func (n *Network) DDL() []string { return n.ddl }

func (n *Network) Collect(ctx context.Context, sess *store.Session) error {
	interfaces, err := n.acquire(ctx)
	if err != nil {
		return err
	}
	ts := timestamp()

	for _, iface := range interfaces {
		var energy any
		if iface.EnergyConsumedW != nil {
			energy = *iface.EnergyConsumedW
		}
		if _, err := sess.Insert(ctx, n.insert.SQL,
			ts, iface.Name, iface.MAC, iface.Type,
			iface.ReceivedMB, iface.TransmittedMB,
			iface.ErrorsIn, iface.ErrorsOut,
			iface.PacketsIn, iface.PacketsOut,
			energy,
		); err != nil {
			return fmt.Errorf("network_data %s: %w", iface.Name, err)
		}
	}
	return nil
}

func (n *Network) Snapshot(ctx context.Context) (any, error) {
	return n.acquire(ctx)
}

func (n *Network) acquire(ctx context.Context) ([]NetInterfaceInfo, error) {
	counters, err := gnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("net io counters: %w", err)
	}
	if len(counters) == 0 {
		return nil, fmt.Errorf("no network interfaces reported")
	}

	macs := macAddresses(ctx)

	var result []NetInterfaceInfo
	for _, c := range counters {
		netType := n.interfaceType(c.Name)
		info := NetInterfaceInfo{
			Name:          c.Name,
			MAC:           macs[c.Name],
			Type:          netType,
			ReceivedMB:    float64(c.BytesRecv) / 1e6,
			TransmittedMB: float64(c.BytesSent) / 1e6,
			ErrorsIn:      c.Errin,
			ErrorsOut:     c.Errout,
			PacketsIn:     c.PacketsRecv,
			PacketsOut:    c.PacketsSent,
		}

		if energy, ok := n.estimateEnergy(ctx, c.Name, netType); ok {
			info.EnergyConsumedW = &energy
		}
		result = append(result, info)
	}
	return result, nil
}

// estimateEnergy samples the interface's combined byte counter over the
// sample window and converts the observed traffic to watts: transferred
// GB times the technology's Wh/GB ratio, plus its idle draw.
func (n *Network) estimateEnergy(ctx context.Context, name, netType string) (float64, bool) {
	ref := netTypes[netType]

	read := func() (float64, bool) {
		counters, err := gnet.IOCountersWithContext(ctx, true)
		if err != nil {
			return 0, false
		}
		for _, c := range counters {
			if c.Name == name {
				return float64(c.BytesRecv + c.BytesSent), true
			}
		}
		return 0, false
	}

	bytesPerSec, ok := sampling.Rate(read, n.sampleDelay)
	if !ok {
		return 0, false
	}
	if bytesPerSec < 0 {
		// Counter reset mid-sample; report idle draw only.
		bytesPerSec = 0
	}

	// Wh/GB * GB/s * 3600 s/h == W attributable to transfer.
	transferW := ref.ratioWhPerGB * (bytesPerSec / 1e9) * 3600
	return transferW + ref.idleW, true
}

// interfaceType classifies an interface from its sysfs shape.
func (n *Network) interfaceType(name string) string {
	if name == "lo" {
		return "LOOPBACK"
	}
	if _, err := os.Stat(filepath.Join(n.sysNetDir, name, "wireless")); err == nil {
		return "WIFI"
	}
	if strings.HasPrefix(name, "ib") {
		return "INFINIBAND"
	}
	if strings.HasPrefix(name, "wwan") {
		return "CELLULAR"
	}
	if target, err := os.Readlink(filepath.Join(n.sysNetDir, name)); err == nil &&
		strings.Contains(target, "devices/virtual") {
		return "VIRTUAL"
	}
	if _, err := os.Stat(filepath.Join(n.sysNetDir, name, "device")); err == nil {
		return "ETHERNET"
	}
	return "UNKNOWN"
}

func macAddresses(ctx context.Context) map[string]string {
	macs := make(map[string]string)
	interfaces, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return macs
	}
	for _, iface := range interfaces {
		macs[iface.Name] = iface.HardwareAddr
	}
	return macs
}
