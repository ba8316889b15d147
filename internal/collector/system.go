package collector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/probelab/hwpulse/internal/schema"
	"github.com/probelab/hwpulse/internal/store"
)

func systemDataFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "hostname", Type: schema.Text},
		{Name: "system_load", Type: schema.Text},
		{Name: "system_kernel", Type: schema.Text},
		{Name: "system_name", Type: schema.Text},
		{Name: "system_version", Type: schema.Text},
		{Name: "open_files_limit", Type: schema.Integer},
		{Name: "process_count", Type: schema.Integer},
		{Name: "uptime", Unit: "min", Type: schema.Integer},
	}
}

// systemProcessFields is the per-process detail table; system_data_id
// references the parent system_data rowid.
func systemProcessFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "pid", Type: schema.Integer, NotNull: true},
		{Name: "name", Type: schema.Text},
		{Name: "cpu_usage", Unit: "percent", Type: schema.Real},
		{Name: "disk_usage_read", Unit: "MB", Type: schema.Integer},
		{Name: "disk_usage_write", Unit: "MB", Type: schema.Integer},
		{Name: "id_user", Type: schema.Text},
		{Name: "memory_usage", Unit: "MB", Type: schema.Integer},
		{Name: "memory_virtual_usage", Unit: "MB", Type: schema.Integer},
		{Name: "status", Type: schema.Text},
		{Name: "run_time", Unit: "min", Type: schema.Integer},
		{Name: "system_data_id", Type: schema.Integer, NotNull: true},
	}
}

// ProcessInfo is one of the top resource-consuming processes.
type ProcessInfo struct {
	PID             int32   `json:"pid"`
	Name            string  `json:"name"`
	CPUPercent      float64 `json:"cpu_usage_percent"`
	DiskReadMB      int64   `json:"disk_usage_read_mb"`
	DiskWriteMB     int64   `json:"disk_usage_write_mb"`
	User            string  `json:"id_user"`
	MemoryMB        int64   `json:"memory_usage_mb"`
	MemoryVirtualMB int64   `json:"memory_virtual_usage_mb"`
	Status          string  `json:"status"`
	RunTimeMin      int64   `json:"run_time_min"`
}

// SystemInfo is the one-shot snapshot shape for the system collector.
type SystemInfo struct {
	Hostname       string        `json:"hostname"`
	Load           string        `json:"system_load"`
	Kernel         string        `json:"system_kernel"`
	Name           string        `json:"system_name"`
	Version        string        `json:"system_version"`
	OpenFilesLimit uint64        `json:"open_files_limit"`
	ProcessCount   uint64        `json:"process_count"`
	UptimeMin      uint64        `json:"uptime_min"`
	TopProcesses   []ProcessInfo `json:"top_processes"`
}

// System collects OS identity, load, uptime, and the top resource-consuming
// processes as child rows of the run's system_data row.
type System struct {
	logger       *zap.Logger
	topProcesses int

	ddl           []string
	insertData    schema.Statement
	insertProcess schema.Statement
}

func NewSystem(logger *zap.Logger, topProcesses int) (*System, error) {
	s := &System{logger: logger, topProcesses: topProcesses}

	dataTable := schema.Table{Name: "system_data", Fields: systemDataFields()}
	ddl, err := schema.CreateTable(dataTable)
	if err != nil {
		return nil, err
	}
	s.ddl = append(s.ddl, ddl)
	if s.insertData, err = schema.Insert(dataTable); err != nil {
		return nil, err
	}

	processTable := schema.Table{Name: "system_process_data", Fields: systemProcessFields()}
	ddl, err = schema.CreateTable(processTable)
	if err != nil {
		return nil, err
	}
	s.ddl = append(s.ddl, ddl)
	if s.insertProcess, err = schema.Insert(processTable); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *System) Name() string { return "system" }

func (s *System) DDL() []string { return s.ddl }

func (s *System) Collect(ctx context.Context, sess *store.Session) error {
	info, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	ts := timestamp()

	parentID, err := sess.Insert(ctx, s.insertData.SQL,
		ts, info.Hostname, info.Load, info.Kernel, info.Name, info.Version,
		info.OpenFilesLimit, info.ProcessCount, info.UptimeMin,
	)
	if err != nil {
		return fmt.Errorf("system_data: %w", err)
	}

	for _, p := range info.TopProcesses {
		if _, err := sess.Insert(ctx, s.insertProcess.SQL,
			ts, p.PID, p.Name, p.CPUPercent,
			p.DiskReadMB, p.DiskWriteMB, p.User,
			p.MemoryMB, p.MemoryVirtualMB, p.Status, p.RunTimeMin,
			parentID,
		); err != nil {
			s.logger.Warn("system_process_data insert failed",
				zap.Int32("pid", p.PID), zap.Error(err))
		}
	}
	return nil
}

func (s *System) Snapshot(ctx context.Context) (any, error) {
	return s.acquire(ctx)
}

func (s *System) acquire(ctx context.Context) (*SystemInfo, error) {
	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}

	info := &SystemInfo{
		Hostname:     hostInfo.Hostname,
		Kernel:       hostInfo.KernelVersion,
		Name:         hostInfo.Platform,
		Version:      hostInfo.PlatformVersion,
		ProcessCount: hostInfo.Procs,
		UptimeMin:    hostInfo.Uptime / 60,
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.Load = fmt.Sprintf("%.2f %.2f %.2f", avg.Load1, avg.Load5, avg.Load15)
	} else {
		s.logger.Debug("load average unavailable", zap.Error(err))
	}

	if limit, ok := openFilesLimit(); ok {
		info.OpenFilesLimit = limit
	}

	procs, err := s.topByMemory(ctx)
	if err != nil {
		s.logger.Debug("process details unavailable", zap.Error(err))
	} else {
		info.TopProcesses = procs
	}

	return info, nil
}

// topByMemory returns the topProcesses heaviest processes by resident
// memory, with their per-process detail filled in.
func (s *System) topByMemory(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var infos []ProcessInfo
	for _, p := range procs {
		memInfo, err := p.MemoryInfoWithContext(ctx)
		if err != nil || memInfo == nil {
			continue
		}

		info := ProcessInfo{
			PID:             p.Pid,
			MemoryMB:        int64(memInfo.RSS / 1e6),
			MemoryVirtualMB: int64(memInfo.VMS / 1e6),
		}
		info.Name, _ = p.NameWithContext(ctx)
		info.CPUPercent, _ = p.CPUPercentWithContext(ctx)
		info.User, _ = p.UsernameWithContext(ctx)

		if statuses, err := p.StatusWithContext(ctx); err == nil && len(statuses) > 0 {
			info.Status = statuses[0]
		}
		if io, err := p.IOCountersWithContext(ctx); err == nil && io != nil {
			info.DiskReadMB = int64(io.ReadBytes / 1e6)
			info.DiskWriteMB = int64(io.WriteBytes / 1e6)
		}
		if created, err := p.CreateTimeWithContext(ctx); err == nil {
			info.RunTimeMin = runMinutesSince(created)
		}

		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].MemoryMB > infos[j].MemoryMB })
	if len(infos) > s.topProcesses {
		infos = infos[:s.topProcesses]
	}
	return infos, nil
}

// runMinutesSince converts a process creation time (Unix milliseconds)
// into whole minutes of runtime.
func runMinutesSince(createdMillis int64) int64 {
	return int64(time.Since(time.UnixMilli(createdMillis)).Minutes())
}
