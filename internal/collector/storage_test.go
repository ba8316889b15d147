package collector

import "testing"

const smartctlSample = `smartctl 7.2 2020-12-30 r5155 [x86_64-linux-5.15.0] (local build)
Copyright (C) 2002-20, Bruce Allen, Christian Franke, www.smartmontools.org

=== START OF READ SMART DATA SECTION ===
SMART Attributes Data Structure revision number: 16
Vendor Specific SMART Attributes with Thresholds:
ID# ATTRIBUTE_NAME          FLAG     VALUE WORST THRESH TYPE      UPDATED  WHEN_FAILED RAW_VALUE
  5 Reallocated_Sector_Ct   0x0033   100   100   010    Pre-fail  Always       -       12
  9 Power_On_Hours          0x0032   094   094   000    Old_age   Always       -       28451
194 Temperature_Celsius     0x0022   067   049   000    Old_age   Always       -       33
197 Current_Pending_Sector  0x0012   100   100   000    Old_age   Always       -       4
198 Offline_Uncorrectable   0x0010   100   100   000    Old_age   Offline      -       2
`

func TestParseSmartAttributes(t *testing.T) {
	info, ok := parseSmartAttributes(smartctlSample)
	if !ok {
		t.Fatal("no attributes parsed")
	}
	if info.SectorsReallocated != 12 {
		t.Errorf("reallocated = %d", info.SectorsReallocated)
	}
	if info.UptimeHours != 28451 {
		t.Errorf("uptime = %d", info.UptimeHours)
	}
	if info.TemperatureC != 33 {
		t.Errorf("temperature = %d", info.TemperatureC)
	}
	if info.SectorsPending != 4 {
		t.Errorf("pending = %d", info.SectorsPending)
	}
	if info.SectorsUncorrectable != 2 {
		t.Errorf("uncorrectable = %d", info.SectorsUncorrectable)
	}
}

func TestParseSmartAttributes_NoTable(t *testing.T) {
	if _, ok := parseSmartAttributes("SMART support is: Unavailable"); ok {
		t.Error("parse succeeded on output without an attribute table")
	}
}

func TestDiskKind(t *testing.T) {
	cases := []struct {
		device string
		want   string
	}{
		{"nvme0n1p2", "NVMe"},
		{"sda1", "SSD/HDD"},
		{"mmcblk0p1", "eMMC"},
		{"vda1", "Virtual"},
		{"xvda", "Virtual"},
		{"loop7", "Unknown"},
	}
	for _, tc := range cases {
		if got := diskKind(tc.device); got != tc.want {
			t.Errorf("diskKind(%q) = %q, want %q", tc.device, got, tc.want)
		}
	}
}
