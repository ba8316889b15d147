package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/probelab/hwpulse/internal/sampling"
	"github.com/probelab/hwpulse/internal/schema"
	"github.com/probelab/hwpulse/internal/store"
)

// gpuQueryFields is the nvidia-smi --query-gpu column list, in the order
// parseGPUInfo expects.
const gpuQueryFields = "name,pci.bus_id,clocks.gr,clocks.mem,clocks.sm,clocks.video," +
	"utilization.gpu,temperature.gpu,memory.free,memory.total,memory.used," +
	"power.draw,power.limit"

func gpuDataFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "gpu_bus_id", Type: schema.Text, NotNull: true},
		{Name: "gpu_name", Type: schema.Text},
		{Name: "gpu_clock_graphic", Unit: "MHz", Type: schema.Integer},
		{Name: "gpu_clock_memory", Unit: "MHz", Type: schema.Integer},
		{Name: "gpu_clock_sm", Unit: "MHz", Type: schema.Integer},
		{Name: "gpu_clock_video", Unit: "MHz", Type: schema.Integer},
		{Name: "gpu_usage", Unit: "percent", Type: schema.Real},
		{Name: "gpu_temperature", Unit: "C", Type: schema.Real},
		{Name: "gpu_memory_free", Unit: "MB", Type: schema.Integer},
		{Name: "gpu_memory_total", Unit: "MB", Type: schema.Integer},
		{Name: "gpu_memory_usage", Unit: "MB", Type: schema.Integer},
		{Name: "gpu_energy_consumption", Unit: "W", Type: schema.Real},
		{Name: "gpu_power_consumption", Unit: "W", Type: schema.Real},
		{Name: "gpu_power_ratio", Unit: "percent", Type: schema.Real},
	}
}

func gpuProcessFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "gpu_bus_id", Type: schema.Text, NotNull: true},
		{Name: "process_pid", Type: schema.Integer, NotNull: true},
		{Name: "process_memory", Unit: "MB", Type: schema.Integer},
	}
}

// GPUInfo is one adapter's sample.
type GPUInfo struct {
	BusID           string   `json:"gpu_bus_id"`
	Name            string   `json:"gpu_name"`
	ClockGraphicMHz int64    `json:"gpu_clock_graphic_mhz"`
	ClockMemoryMHz  int64    `json:"gpu_clock_memory_mhz"`
	ClockSMMHz      int64    `json:"gpu_clock_sm_mhz"`
	ClockVideoMHz   int64    `json:"gpu_clock_video_mhz"`
	UsagePercent    float64  `json:"gpu_usage_percent"`
	TemperatureC    float64  `json:"gpu_temperature_c"`
	MemoryFreeMB    int64    `json:"gpu_memory_free_mb"`
	MemoryTotalMB   int64    `json:"gpu_memory_total_mb"`
	MemoryUsedMB    int64    `json:"gpu_memory_used_mb"`
	EnergyW         *float64 `json:"gpu_energy_w,omitempty"`
	PowerDrawW      float64  `json:"gpu_power_w"`
	PowerRatio      float64  `json:"gpu_power_ratio_percent"`

	Processes []GPUProcess `json:"processes,omitempty"`
}

// GPUProcess is one compute process resident on the adapter.
type GPUProcess struct {
	PID      int64 `json:"pid"`
	MemoryMB int64 `json:"memory_mb"`
}

// GPU collects NVIDIA adapter telemetry through the nvidia-smi query
// interface. A machine without the tool or without an adapter produces no
// sample rather than a failure.
type GPU struct {
	logger      *zap.Logger
	sampleDelay time.Duration

	ddl           []string
	insertData    schema.Statement
	insertProcess schema.Statement
}

func NewGPU(logger *zap.Logger, sampleDelay time.Duration) (*GPU, error) {
	g := &GPU{logger: logger, sampleDelay: sampleDelay}

	dataTable := schema.Table{Name: "gpu_data", Fields: gpuDataFields()}
	ddl, err := schema.CreateTable(dataTable)
	if err != nil {
		return nil, err
	}
	g.ddl = append(g.ddl, ddl)
	if g.insertData, err = schema.Insert(dataTable); err != nil {
		return nil, err
	}

	processTable := schema.Table{Name: "gpu_process_data", Fields: gpuProcessFields()}
	ddl, err = schema.CreateTable(processTable)
	if err != nil {
		return nil, err
	}
	g.ddl = append(g.ddl, ddl)
	if g.insertProcess, err = schema.Insert(processTable); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GPU) Name() string { return "gpu" }

func (g *GPU) DDL() []string { return g.ddl }

func (g *GPU) Collect(ctx context.Context, sess *store.Session) error {
	gpus, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	if len(gpus) == 0 {
		g.logger.Info("no gpu detected, nothing to record")
		return nil
	}
	ts := timestamp()

	for _, gpu := range gpus {
		var energy any
		if gpu.EnergyW != nil {
			energy = *gpu.EnergyW
		}
		if _, err := sess.Insert(ctx, g.insertData.SQL,
			ts, gpu.BusID, gpu.Name,
			gpu.ClockGraphicMHz, gpu.ClockMemoryMHz, gpu.ClockSMMHz, gpu.ClockVideoMHz,
			gpu.UsagePercent, gpu.TemperatureC,
			gpu.MemoryFreeMB, gpu.MemoryTotalMB, gpu.MemoryUsedMB,
			energy, gpu.PowerDrawW, gpu.PowerRatio,
		); err != nil {
			return fmt.Errorf("gpu_data %s: %w", gpu.BusID, err)
		}

		for _, p := range gpu.Processes {
			if _, err := sess.Insert(ctx, g.insertProcess.SQL,
				ts, gpu.BusID, p.PID, p.MemoryMB,
			); err != nil {
				g.logger.Warn("gpu_process_data insert failed",
					zap.Int64("pid", p.PID), zap.Error(err))
			}
		}
	}
	return nil
}

func (g *GPU) Snapshot(ctx context.Context) (any, error) {
	return g.acquire(ctx)
}

// acquire queries nvidia-smi. A missing tool means no adapter to report:
// the run records nothing for this domain.
func (g *GPU) acquire(ctx context.Context) ([]GPUInfo, error) {
	out, err := runCommand(ctx, "nvidia-smi",
		"--query-gpu="+gpuQueryFields, "--format=csv,noheader,nounits")
	if err != nil {
		g.logger.Debug("nvidia-smi unavailable", zap.Error(err))
		return nil, nil
	}

	gpus := parseGPUInfo(out)
	for i := range gpus {
		if rate, ok := g.energyRate(ctx, gpus[i].BusID); ok {
			gpus[i].EnergyW = &rate
		}
		gpus[i].Processes = g.computeProcesses(ctx, gpus[i].BusID)
	}
	return gpus, nil
}

// parseGPUInfo parses one CSV line per adapter, fields in gpuQueryFields
// order. Unparseable numeric fields ("[N/A]") default to zero.
func parseGPUInfo(out string) []GPUInfo {
	var gpus []GPUInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(line, ",")
		if len(fields) < 13 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		info := GPUInfo{
			Name:            fields[0],
			BusID:           fields[1],
			ClockGraphicMHz: parseInt(fields[2]),
			ClockMemoryMHz:  parseInt(fields[3]),
			ClockSMMHz:      parseInt(fields[4]),
			ClockVideoMHz:   parseInt(fields[5]),
			UsagePercent:    parseFloat(fields[6]),
			TemperatureC:    parseFloat(fields[7]),
			MemoryFreeMB:    parseInt(fields[8]),
			MemoryTotalMB:   parseInt(fields[9]),
			MemoryUsedMB:    parseInt(fields[10]),
			PowerDrawW:      parseFloat(fields[11]),
		}
		if limit := parseFloat(fields[12]); limit > 0 {
			info.PowerRatio = info.PowerDrawW / limit * 100
		}
		if info.BusID != "" {
			gpus = append(gpus, info)
		}
	}
	return gpus
}

// energyRate derives average power over the sample window from the
// adapter's cumulative energy counter (millijoules; newer drivers only).
func (g *GPU) energyRate(ctx context.Context, busID string) (float64, bool) {
	read := func() (float64, bool) {
		out, err := runCommand(ctx, "nvidia-smi",
			"--query-gpu=total.energy.consumption",
			"--format=csv,noheader,nounits", "--id="+busID)
		if err != nil {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}

	rate, ok := sampling.Rate(read, g.sampleDelay)
	if !ok {
		return 0, false
	}
	return rate / 1e3, true // mJ/s to W
}

// computeProcesses lists the compute processes currently resident on the
// adapter. Best effort: failure just means no child rows.
func (g *GPU) computeProcesses(ctx context.Context, busID string) []GPUProcess {
	out, err := runCommand(ctx, "nvidia-smi",
		"--query-compute-apps=pid,used_memory",
		"--format=csv,noheader,nounits", "--id="+busID)
	if err != nil || out == "" {
		return nil
	}

	var procs []GPUProcess
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		pid := parseInt(strings.TrimSpace(fields[0]))
		if pid == 0 {
			continue
		}
		procs = append(procs, GPUProcess{
			PID:      pid,
			MemoryMB: parseInt(strings.TrimSpace(fields[1])),
		})
	}
	return procs
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
