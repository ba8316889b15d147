package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/probelab/hwpulse/internal/schema"
	"github.com/probelab/hwpulse/internal/store"
)

// memBenchSize is the default working-set size for the bandwidth
// micro-benchmark: large enough to defeat L2/L3 caches on common parts.
const memBenchSize = 100_000_000

func memoryDataFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "bandwidth_read", Unit: "MBps", Type: schema.Real},
		{Name: "bandwidth_write", Unit: "MBps", Type: schema.Real},
		{Name: "ram_total", Unit: "MB", Type: schema.Integer},
		{Name: "ram_used", Unit: "MB", Type: schema.Integer},
		{Name: "ram_free", Unit: "MB", Type: schema.Integer},
		{Name: "ram_available", Unit: "MB", Type: schema.Integer},
		{Name: "ram_power_consumption", Unit: "W", Type: schema.Real},
		{Name: "swap_total", Unit: "MB", Type: schema.Integer},
		{Name: "swap_used", Unit: "MB", Type: schema.Integer},
		{Name: "swap_free", Unit: "MB", Type: schema.Integer},
	}
}

func memoryModuleFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "device_id", Type: schema.Text, NotNull: true, Option: schema.OptUnique},
		{Name: "ram_type", Type: schema.Text},
		{Name: "size", Unit: "MB", Type: schema.Integer},
		{Name: "speed", Unit: "MTs", Type: schema.Integer},
		{Name: "voltage", Unit: "V", Type: schema.Real},
	}
}

// MemModule is one physical RAM module identified by its serial number.
type MemModule struct {
	DeviceID string  `json:"device_id"`
	Type     string  `json:"ram_type"`
	SizeMB   int64   `json:"size_mb"`
	SpeedMTs int64   `json:"speed_mts"`
	VoltageV float64 `json:"voltage_v"`
}

// MemInfo is the one-shot snapshot shape for the memory collector.
type MemInfo struct {
	BandwidthReadMBps  float64     `json:"bandwidth_read_mbps"`
	BandwidthWriteMBps float64     `json:"bandwidth_write_mbps"`
	RAMTotalMB         uint64      `json:"ram_total_mb"`
	RAMUsedMB          uint64      `json:"ram_used_mb"`
	RAMFreeMB          uint64      `json:"ram_free_mb"`
	RAMAvailableMB     uint64      `json:"ram_available_mb"`
	RAMPowerW          *float64    `json:"ram_power_w,omitempty"`
	SwapTotalMB        uint64      `json:"swap_total_mb"`
	SwapUsedMB         uint64      `json:"swap_used_mb"`
	SwapFreeMB         uint64      `json:"swap_free_mb"`
	Modules            []MemModule `json:"modules,omitempty"`
}

// Memory collects RAM/swap occupancy, a bandwidth micro-benchmark, a power
// estimate derived from module datasheet references, and per-module DMI
// facts.
type Memory struct {
	logger *zap.Logger

	ddl           []string
	insertData    schema.Statement
	upsertModules schema.Statement
}

func NewMemory(logger *zap.Logger) (*Memory, error) {
	m := &Memory{logger: logger}

	dataTable := schema.Table{Name: "memory_data", Fields: memoryDataFields()}
	ddl, err := schema.CreateTable(dataTable)
	if err != nil {
		return nil, err
	}
	m.ddl = append(m.ddl, ddl)
	if m.insertData, err = schema.Insert(dataTable); err != nil {
		return nil, err
	}

	// Modules are physical facts keyed on the module serial: repeated runs
	// update the row instead of appending duplicates.
	moduleTable := schema.Table{Name: "memory_modules", Fields: memoryModuleFields()}
	ddl, err = schema.CreateTable(moduleTable)
	if err != nil {
		return nil, err
	}
	m.ddl = append(m.ddl, ddl)
	m.upsertModules, err = schema.Upsert(moduleTable, []string{"device_id"}, []string{"id", "timestamp"})
	if err != nil {
		return nil, err
	}
	if m.upsertModules.IndexDDL != "" {
		m.ddl = append(m.ddl, m.upsertModules.IndexDDL)
	}

	return m, nil
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) DDL() []string { return m.ddl }

func (m *Memory) Collect(ctx context.Context, sess *store.Session) error {
	info, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	ts := timestamp()

	var power any
	if info.RAMPowerW != nil {
		power = *info.RAMPowerW
	}
	if _, err := sess.Insert(ctx, m.insertData.SQL,
		ts,
		info.BandwidthReadMBps, info.BandwidthWriteMBps,
		info.RAMTotalMB, info.RAMUsedMB, info.RAMFreeMB, info.RAMAvailableMB,
		power,
		info.SwapTotalMB, info.SwapUsedMB, info.SwapFreeMB,
	); err != nil {
		return fmt.Errorf("memory_data: %w", err)
	}

	for _, mod := range info.Modules {
		if _, err := sess.Insert(ctx, m.upsertModules.SQL,
			ts, mod.DeviceID, mod.Type, mod.SizeMB, mod.SpeedMTs, mod.VoltageV,
		); err != nil {
			return fmt.Errorf("memory_modules: %w", err)
		}
	}
	return nil
}

func (m *Memory) Snapshot(ctx context.Context) (any, error) {
	return m.acquire(ctx)
}

func (m *Memory) acquire(ctx context.Context) (*MemInfo, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}
	swap, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("swap memory: %w", err)
	}

	readBW, writeBW := memBandwidth(memBenchSize)

	info := &MemInfo{
		BandwidthReadMBps:  readBW,
		BandwidthWriteMBps: writeBW,
		RAMTotalMB:         vm.Total / 1e6,
		RAMUsedMB:          vm.Used / 1e6,
		RAMFreeMB:          vm.Free / 1e6,
		RAMAvailableMB:     vm.Available / 1e6,
		SwapTotalMB:        swap.Total / 1e6,
		SwapUsedMB:         swap.Used / 1e6,
		SwapFreeMB:         swap.Free / 1e6,
	}

	modules, err := memModules(ctx)
	if err != nil {
		// dmidecode needs root and may be absent entirely; module facts
		// and the power estimate are extras, not a collector failure.
		m.logger.Debug("memory modules unavailable", zap.Error(err))
	} else {
		info.Modules = modules
		if p, ok := estimateMemPower(modules, vm.Used, vm.Total); ok {
			info.RAMPowerW = &p
		}
	}

	return info, nil
}

// memBandwidth times a sequential write then a sequential read over a
// buffer, returning (read, write) throughput in MB/s.
func memBandwidth(size int) (float64, float64) {
	buf := make([]byte, size)

	start := time.Now()
	for i := range buf {
		buf[i] = byte(i)
	}
	writeSecs := time.Since(start).Seconds()

	start = time.Now()
	var sum uint64
	for _, b := range buf {
		sum += uint64(b)
	}
	readSecs := time.Since(start).Seconds()
	_ = sum

	if writeSecs <= 0 || readSecs <= 0 {
		return 0, 0
	}
	return float64(size) / readSecs / 1e6, float64(size) / writeSecs / 1e6
}

// memTypeReference maps a module technology to its reference voltage and
// typical power draw per GB, from module datasheet figures.
var memTypeReference = map[string][2]float64{
	"SDRAM":  {3.3, 0.70},
	"DDR":    {2.5, 0.60},
	"DDR2":   {1.8, 0.48},
	"DDR3":   {1.5, 0.45},
	"DDR4":   {1.2, 0.32},
	"DDR5":   {1.1, 0.25},
	"LPDDR2": {1.2, 0.19},
	"LPDDR3": {1.2, 0.16},
	"LPDDR4": {1.1, 0.16},
	"LPDDR5": {1.05, 0.12},
}

// estimateMemPower sums each module's per-GB reference draw scaled by its
// configured voltage, then scales the total by current RAM utilization.
func estimateMemPower(modules []MemModule, used, total uint64) (float64, bool) {
	if total == 0 {
		return 0, false
	}
	var power float64
	for _, mod := range modules {
		ref, ok := memTypeReference[strings.ToUpper(mod.Type)]
		if !ok || mod.SizeMB == 0 {
			continue
		}
		refVoltage, perGB := ref[0], ref[1]
		voltage := mod.VoltageV
		if voltage == 0 {
			voltage = refVoltage
		}
		power += perGB * (voltage / refVoltage) * float64(mod.SizeMB) / 1e3
	}
	if power == 0 {
		return 0, false
	}
	return power * float64(used) / float64(total), true
}

// memModules parses `dmidecode --type memory` output into module facts.
// Requires root; slots without a serial or with unknown type are skipped,
// matching how absent modules are reported.
func memModules(ctx context.Context) ([]MemModule, error) {
	out, err := runCommand(ctx, "dmidecode", "--type", "memory")
	if err != nil {
		return nil, err
	}
	return parseMemModules(out), nil
}

func parseMemModules(out string) []MemModule {
	var modules []MemModule
	var current *MemModule

	flush := func() {
		if current != nil && current.DeviceID != "" && current.Type != "" {
			modules = append(modules, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Memory Device") {
			flush()
			current = &MemModule{}
			continue
		}
		if current == nil {
			continue
		}

		key, value, found := strings.Cut(trimmed, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "Serial Number":
			if value != "Not Specified" && value != "Unknown" {
				current.DeviceID = value
			}
		case "Type":
			if value != "Unknown" && value != "Other" {
				current.Type = value
			}
		case "Size":
			current.SizeMB = parseDmiSizeMB(value)
		case "Configured Memory Speed", "Speed":
			if current.SpeedMTs == 0 {
				if n, err := strconv.ParseInt(firstField(value), 10, 64); err == nil {
					current.SpeedMTs = n
				}
			}
		case "Configured Voltage":
			if v, err := strconv.ParseFloat(firstField(value), 64); err == nil {
				current.VoltageV = v
			}
		}
	}
	flush()
	return modules
}

// parseDmiSizeMB normalizes dmidecode size strings ("8 GB", "8192 MB").
func parseDmiSizeMB(value string) int64 {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return 0
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0
	}
	switch fields[1] {
	case "GB":
		return n * 1024
	case "MB":
		return n
	case "TB":
		return n * 1024 * 1024
	default:
		return 0
	}
}

func firstField(value string) string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
