package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/sensors"
	"go.uber.org/zap"

	"github.com/probelab/hwpulse/internal/sampling"
	"github.com/probelab/hwpulse/internal/schema"
	"github.com/probelab/hwpulse/internal/store"
)

// powercapPath is the RAPL energy accounting root. Each zone exposes a
// monotonically increasing energy_uj counter.
const powercapPath = "/sys/class/powercap"

func cpuDataFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "architecture", Type: schema.Text},
		{Name: "model", Type: schema.Text},
		{Name: "family", Type: schema.Text},
		{Name: "frequency", Unit: "MHz", Type: schema.Integer},
		{Name: "cores_physic", Type: schema.Integer},
		{Name: "cores_logic", Type: schema.Integer},
	}
}

func cpuCoreFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "core_name", Type: schema.Text},
		{Name: "usage", Unit: "percent", Type: schema.Real},
	}
}

func cpuPowerFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "zone_name", Type: schema.Text},
		{Name: "power", Unit: "W", Type: schema.Real},
	}
}

func cpuTemperatureFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "zone_name", Type: schema.Text},
		{Name: "temperature", Unit: "C", Type: schema.Real},
	}
}

// CPUInfo is the one-shot snapshot shape for the cpu collector.
type CPUInfo struct {
	Architecture string             `json:"architecture"`
	Model        string             `json:"model"`
	Family       string             `json:"family"`
	FrequencyMHz int64              `json:"frequency_mhz"`
	CoresPhysic  int                `json:"cores_physic"`
	CoresLogic   int                `json:"cores_logic"`
	CoreUsage    map[string]float64 `json:"core_usage_percent"`
	PowerW       map[string]float64 `json:"power_w,omitempty"`
	TemperatureC map[string]float64 `json:"temperature_c,omitempty"`
}

// CPU collects processor identity, per-core usage, RAPL package power, and
// CPU temperature zones.
type CPU struct {
	logger      *zap.Logger
	sampleDelay time.Duration

	ddl         []string
	insertData  schema.Statement
	insertCore  schema.Statement
	insertPower schema.Statement
	insertTemp  schema.Statement

	powercapDir string
}

func NewCPU(logger *zap.Logger, sampleDelay time.Duration) (*CPU, error) {
	c := &CPU{logger: logger, sampleDelay: sampleDelay, powercapDir: powercapPath}

	tables := []struct {
		table schema.Table
		stmt  *schema.Statement
	}{
		{schema.Table{Name: "cpu_data", Fields: cpuDataFields()}, &c.insertData},
		{schema.Table{Name: "cpu_core", Fields: cpuCoreFields()}, &c.insertCore},
		{schema.Table{Name: "cpu_power", Fields: cpuPowerFields()}, &c.insertPower},
		{schema.Table{Name: "cpu_temperature", Fields: cpuTemperatureFields()}, &c.insertTemp},
	}
	for _, tb := range tables {
		ddl, err := schema.CreateTable(tb.table)
		if err != nil {
			return nil, err
		}
		c.ddl = append(c.ddl, ddl)
		stmt, err := schema.Insert(tb.table)
		if err != nil {
			return nil, err
		}
		*tb.stmt = stmt
	}
	return c, nil
}

func (c *CPU) Name() string { return "cpu" }

func (c *CPU) DDL() []string { return c.ddl }

func (c *CPU) Collect(ctx context.Context, sess *store.Session) error {
	info, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	ts := timestamp()

	if _, err := sess.Insert(ctx, c.insertData.SQL,
		ts, info.Architecture, info.Model, info.Family,
		info.FrequencyMHz, info.CoresPhysic, info.CoresLogic,
	); err != nil {
		return fmt.Errorf("cpu_data: %w", err)
	}

	for core, usage := range info.CoreUsage {
		if _, err := sess.Insert(ctx, c.insertCore.SQL, ts, core, usage); err != nil {
			return fmt.Errorf("cpu_core: %w", err)
		}
	}
	for zone, power := range info.PowerW {
		if _, err := sess.Insert(ctx, c.insertPower.SQL, ts, zone, power); err != nil {
			return fmt.Errorf("cpu_power: %w", err)
		}
	}
	for zone, temp := range info.TemperatureC {
		if _, err := sess.Insert(ctx, c.insertTemp.SQL, ts, zone, temp); err != nil {
			return fmt.Errorf("cpu_temperature: %w", err)
		}
	}
	return nil
}

func (c *CPU) Snapshot(ctx context.Context) (any, error) {
	return c.acquire(ctx)
}

func (c *CPU) acquire(ctx context.Context) (*CPUInfo, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil || len(infos) == 0 {
		return nil, fmt.Errorf("cpu info: %w", err)
	}

	hostInfo, err := host.InfoWithContext(ctx)
	arch := ""
	if err == nil {
		arch = hostInfo.KernelArch
	}

	physical, _ := cpu.CountsWithContext(ctx, false)
	logical, _ := cpu.CountsWithContext(ctx, true)

	info := &CPUInfo{
		Architecture: arch,
		Model:        infos[0].ModelName,
		Family:       infos[0].Family,
		FrequencyMHz: int64(infos[0].Mhz),
		CoresPhysic:  physical,
		CoresLogic:   logical,
		CoreUsage:    map[string]float64{},
		PowerW:       c.powerByZone(),
		TemperatureC: cpuTemperatures(ctx),
	}

	// Per-core usage over the sample window. The blocking interval doubles
	// as the measurement basis.
	percents, err := cpu.PercentWithContext(ctx, c.sampleDelay, true)
	if err != nil {
		c.logger.Debug("per-core usage unavailable", zap.Error(err))
	}
	for i, pct := range percents {
		info.CoreUsage[fmt.Sprintf("cpu%d", i)] = pct
	}

	return info, nil
}

// powerByZone derives instantaneous power per RAPL zone from the energy_uj
// counter: two reads sampleDelay apart, microjoules per second to watts.
func (c *CPU) powerByZone() map[string]float64 {
	zones, err := filepath.Glob(filepath.Join(c.powercapDir, "intel-rapl:*"))
	if err != nil || len(zones) == 0 {
		return nil
	}

	powers := make(map[string]float64)
	for _, zone := range zones {
		name := zoneName(zone)
		rate, ok := sampling.Rate(energyReader(zone), c.sampleDelay)
		if !ok {
			c.logger.Debug("powercap zone unreadable", zap.String("zone", name))
			continue
		}
		powers[name] = rate / 1e6
	}
	if len(powers) == 0 {
		return nil
	}
	return powers
}

// energyReader reads a zone's cumulative energy counter in microjoules.
func energyReader(zone string) sampling.ReadFunc {
	return func() (float64, bool) {
		raw, err := os.ReadFile(filepath.Join(zone, "energy_uj"))
		if err != nil {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
}

func zoneName(zone string) string {
	raw, err := os.ReadFile(filepath.Join(zone, "name"))
	if err != nil {
		return filepath.Base(zone)
	}
	return strings.TrimSpace(string(raw))
}

// cpuTemperatures filters the host sensor list down to processor zones.
func cpuTemperatures(ctx context.Context) map[string]float64 {
	stats, err := sensors.TemperaturesWithContext(ctx)
	if err != nil {
		return nil
	}

	temps := make(map[string]float64)
	for _, s := range stats {
		key := strings.ToLower(s.SensorKey)
		if strings.Contains(key, "core") || strings.Contains(key, "cpu") ||
			strings.Contains(key, "package") || strings.Contains(key, "k10temp") {
			temps[s.SensorKey] = s.Temperature
		}
	}
	if len(temps) == 0 {
		return nil
	}
	return temps
}
