package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"

	"github.com/probelab/hwpulse/internal/sampling"
	"github.com/probelab/hwpulse/internal/schema"
	"github.com/probelab/hwpulse/internal/store"
)

// Disk energy figures: joules attributable to a transferred MB plus the
// drive's idle draw over the sample window.
const (
	diskJoulesPerMB = 0.02
	diskIdleW       = 2.5
)

func storageDataFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "timestamp", Type: schema.Text, NotNull: true},
		{Name: "name", Type: schema.Text, NotNull: true},
		{Name: "bandwidth_read", Unit: "MB", Type: schema.Integer},
		{Name: "bandwidth_write", Unit: "MB", Type: schema.Integer},
		{Name: "energy_consumed", Unit: "J", Type: schema.Real},
		{Name: "file_mount", Type: schema.Text},
		{Name: "file_system", Type: schema.Text},
		{Name: "kind", Type: schema.Text},
		{Name: "space_available", Unit: "MB", Type: schema.Integer},
		{Name: "space_total", Unit: "MB", Type: schema.Integer},
	}
}

// smartDataFields is the S.M.A.R.T. detail table; device_id references the
// parent storage_data rowid, so a child row is only ever written after its
// parent insert returned an id.
func smartDataFields() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "id", Type: schema.Integer, Key: schema.KeyPrimary, Option: schema.OptAutoincrement},
		{Name: "device_id", Type: schema.Integer, NotNull: true},
		{Name: "uptime_hours", Type: schema.Integer},
		{Name: "sectors_reallocated", Type: schema.Integer},
		{Name: "sectors_pending", Type: schema.Integer},
		{Name: "sectors_uncorrectable", Type: schema.Integer},
		{Name: "temperature", Unit: "C", Type: schema.Integer},
	}
}

// SmartInfo holds the S.M.A.R.T. attributes worth tracking for wear.
type SmartInfo struct {
	UptimeHours          int64 `json:"uptime_hours"`
	SectorsReallocated   int64 `json:"sectors_reallocated"`
	SectorsPending       int64 `json:"sectors_pending"`
	SectorsUncorrectable int64 `json:"sectors_uncorrectable"`
	TemperatureC         int64 `json:"temperature_c"`
}

// DiskInfo is one mounted device's sample.
type DiskInfo struct {
	Name             string     `json:"name"`
	BandwidthReadMB  int64      `json:"bandwidth_read_mbps"`
	BandwidthWriteMB int64      `json:"bandwidth_write_mbps"`
	EnergyConsumedJ  *float64   `json:"energy_consumed_j,omitempty"`
	FileMount        string     `json:"file_mount"`
	FileSystem       string     `json:"file_system"`
	Kind             string     `json:"kind"`
	SpaceAvailableMB uint64     `json:"space_available_mb"`
	SpaceTotalMB     uint64     `json:"space_total_mb"`
	Smart            *SmartInfo `json:"smart,omitempty"`
}

// Storage collects per-device capacity, I/O bandwidth over the sample
// window, an energy estimate, and S.M.A.R.T. details as child rows.
type Storage struct {
	logger      *zap.Logger
	sampleDelay time.Duration

	ddl         []string
	insertDisk  schema.Statement
	insertSmart schema.Statement
}

func NewStorage(logger *zap.Logger, sampleDelay time.Duration) (*Storage, error) {
	s := &Storage{logger: logger, sampleDelay: sampleDelay}

	diskTable := schema.Table{Name: "storage_data", Fields: storageDataFields()}
	ddl, err := schema.CreateTable(diskTable)
	if err != nil {
		return nil, err
	}
	s.ddl = append(s.ddl, ddl)
	if s.insertDisk, err = schema.Insert(diskTable); err != nil {
		return nil, err
	}

	smartTable := schema.Table{Name: "smart_data", Fields: smartDataFields()}
	ddl, err = schema.CreateTable(smartTable)
	if err != nil {
		return nil, err
	}
	s.ddl = append(s.ddl, ddl)
	if s.insertSmart, err = schema.Insert(smartTable); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) Name() string { return "storage" }

func (s *Storage) DDL() []string { return s.ddl }

// Collect persists each disk row, then its S.M.A.R.T. child row keyed on
// the returned parent id. A failing child leaves the parent in place and is
// reported without failing the sibling disks.
func (s *Storage) Collect(ctx context.Context, sess *store.Session) error {
	disks, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	ts := timestamp()

	var firstErr error
	for _, d := range disks {
		var energy any
		if d.EnergyConsumedJ != nil {
			energy = *d.EnergyConsumedJ
		}
		parentID, err := sess.Insert(ctx, s.insertDisk.SQL,
			ts, d.Name,
			d.BandwidthReadMB, d.BandwidthWriteMB, energy,
			d.FileMount, d.FileSystem, d.Kind,
			d.SpaceAvailableMB, d.SpaceTotalMB,
		)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("storage_data %s: %w", d.Name, err)
			}
			continue
		}

		if d.Smart == nil {
			continue
		}
		if _, err := sess.Insert(ctx, s.insertSmart.SQL,
			parentID,
			d.Smart.UptimeHours, d.Smart.SectorsReallocated,
			d.Smart.SectorsPending, d.Smart.SectorsUncorrectable,
			d.Smart.TemperatureC,
		); err != nil {
			// Parent row stays; the failed detail is logged and the run
			// moves on.
			s.logger.Warn("smart_data insert failed",
				zap.String("device", d.Name), zap.Error(err))
		}
	}
	return firstErr
}

func (s *Storage) Snapshot(ctx context.Context) (any, error) {
	return s.acquire(ctx)
}

func (s *Storage) acquire(ctx context.Context) ([]DiskInfo, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("disk partitions: %w", err)
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("no mounted disks reported")
	}

	var result []DiskInfo
	for _, p := range partitions {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			s.logger.Debug("disk usage unavailable",
				zap.String("mountpoint", p.Mountpoint), zap.Error(err))
			continue
		}

		device := strings.TrimPrefix(p.Device, "/dev/")
		info := DiskInfo{
			Name:             device,
			FileMount:        p.Mountpoint,
			FileSystem:       p.Fstype,
			Kind:             diskKind(device),
			SpaceAvailableMB: usage.Free / 1e6,
			SpaceTotalMB:     usage.Total / 1e6,
		}

		readMBps, writeMBps, ok := s.ioBandwidth(ctx, device)
		if ok {
			info.BandwidthReadMB = int64(readMBps)
			info.BandwidthWriteMB = int64(writeMBps)
			energy := (readMBps+writeMBps)*diskJoulesPerMB*s.sampleDelay.Seconds() +
				diskIdleW*s.sampleDelay.Seconds()
			info.EnergyConsumedJ = &energy
		}

		if smart, err := smartAttributes(ctx, p.Device); err != nil {
			s.logger.Debug("smart attributes unavailable",
				zap.String("device", p.Device), zap.Error(err))
		} else {
			info.Smart = smart
		}

		result = append(result, info)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no usable disks")
	}
	return result, nil
}

// ioBandwidth samples the device's cumulative read and write byte counters
// over the sample window and returns MB/s for each direction.
func (s *Storage) ioBandwidth(ctx context.Context, device string) (float64, float64, bool) {
	counter := func(pick func(disk.IOCountersStat) uint64) sampling.ReadFunc {
		return func() (float64, bool) {
			stats, err := disk.IOCountersWithContext(ctx, device)
			if err != nil {
				return 0, false
			}
			st, ok := stats[device]
			if !ok {
				return 0, false
			}
			return float64(pick(st)), true
		}
	}

	readRate, ok := sampling.Rate(counter(func(st disk.IOCountersStat) uint64 { return st.ReadBytes }), s.sampleDelay)
	if !ok {
		return 0, 0, false
	}
	writeRate, ok := sampling.Rate(counter(func(st disk.IOCountersStat) uint64 { return st.WriteBytes }), s.sampleDelay)
	if !ok {
		return 0, 0, false
	}
	return readRate / 1e6, writeRate / 1e6, true
}

// diskKind guesses the device technology from its name.
func diskKind(device string) string {
	switch {
	case strings.HasPrefix(device, "nvme"):
		return "NVMe"
	case strings.HasPrefix(device, "mmcblk"):
		return "eMMC"
	case strings.HasPrefix(device, "sd"):
		return "SSD/HDD"
	case strings.HasPrefix(device, "vd"), strings.HasPrefix(device, "xvd"):
		return "Virtual"
	default:
		return "Unknown"
	}
}

// smartAttributes shells out to smartctl and extracts the wear attributes.
// Requires root and a physical device; callers downgrade failure to "no
// S.M.A.R.T. detail".
func smartAttributes(ctx context.Context, device string) (*SmartInfo, error) {
	out, err := runCommand(ctx, "smartctl", "-A", device)
	if err != nil {
		return nil, err
	}
	info, ok := parseSmartAttributes(out)
	if !ok {
		return nil, fmt.Errorf("no smart attributes in smartctl output")
	}
	return info, nil
}

// parseSmartAttributes reads the ATA attribute table format: the attribute
// id is the first column, RAW_VALUE the last.
func parseSmartAttributes(out string) (*SmartInfo, bool) {
	info := &SmartInfo{}
	found := false

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		// Temperature raw values carry suffixes like "34 (Min/Max 20/45)".
		raw, err := strconv.ParseInt(fields[9], 10, 64)
		if err != nil {
			continue
		}

		switch id {
		case 5:
			info.SectorsReallocated = raw
			found = true
		case 9:
			info.UptimeHours = raw
			found = true
		case 194:
			info.TemperatureC = raw
			found = true
		case 197:
			info.SectorsPending = raw
			found = true
		case 198:
			info.SectorsUncorrectable = raw
			found = true
		}
	}
	return info, found
}
