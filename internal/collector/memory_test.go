package collector

import (
	"math"
	"testing"
)

const dmidecodeSample = `# dmidecode 3.3
Getting SMBIOS data from sysfs.

Handle 0x003A, DMI type 17, 40 bytes
Memory Device
	Array Handle: 0x0039
	Size: 16 GB
	Locator: DIMM_A1
	Type: DDR4
	Speed: 3200 MT/s
	Serial Number: 1A2B3C4D
	Configured Memory Speed: 2933 MT/s
	Configured Voltage: 1.2 V

Handle 0x003B, DMI type 17, 40 bytes
Memory Device
	Array Handle: 0x0039
	Size: No Module Installed
	Locator: DIMM_A2
	Type: Unknown
	Serial Number: Not Specified

Handle 0x003C, DMI type 17, 40 bytes
Memory Device
	Array Handle: 0x0039
	Size: 8192 MB
	Locator: DIMM_B1
	Type: DDR4
	Speed: 3200 MT/s
	Serial Number: 5E6F7A8B
	Configured Voltage: 1.2 V
`

func TestParseMemModules(t *testing.T) {
	modules := parseMemModules(dmidecodeSample)
	if len(modules) != 2 {
		t.Fatalf("parsed %d modules, want 2 (empty slot skipped)", len(modules))
	}

	m := modules[0]
	if m.DeviceID != "1A2B3C4D" {
		t.Errorf("device id = %q", m.DeviceID)
	}
	if m.Type != "DDR4" {
		t.Errorf("type = %q", m.Type)
	}
	if m.SizeMB != 16*1024 {
		t.Errorf("size = %d MB", m.SizeMB)
	}
	// Configured speed wins only when Speed was not seen first; here Speed
	// comes first in the block so it sticks.
	if m.SpeedMTs != 3200 {
		t.Errorf("speed = %d", m.SpeedMTs)
	}
	if m.VoltageV != 1.2 {
		t.Errorf("voltage = %v", m.VoltageV)
	}

	if modules[1].SizeMB != 8192 {
		t.Errorf("second module size = %d MB", modules[1].SizeMB)
	}
}

func TestParseDmiSizeMB(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"16 GB", 16 * 1024},
		{"8192 MB", 8192},
		{"2 TB", 2 * 1024 * 1024},
		{"No Module Installed", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := parseDmiSizeMB(tc.in); got != tc.want {
			t.Errorf("parseDmiSizeMB(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestEstimateMemPower(t *testing.T) {
	modules := []MemModule{
		{DeviceID: "A", Type: "DDR4", SizeMB: 16 * 1024, VoltageV: 1.2},
		{DeviceID: "B", Type: "DDR4", SizeMB: 16 * 1024, VoltageV: 1.2},
	}

	// Fully utilized: 2 modules * 16 GB * 0.32 W/GB at reference voltage.
	power, ok := estimateMemPower(modules, 100, 100)
	if !ok {
		t.Fatal("estimateMemPower returned no estimate")
	}
	want := 2 * 16.384 * 0.32
	if math.Abs(power-want) > 0.01 {
		t.Errorf("power = %v, want ~%v", power, want)
	}

	// Half utilization halves the estimate.
	half, _ := estimateMemPower(modules, 50, 100)
	if math.Abs(half-want/2) > 0.01 {
		t.Errorf("half-load power = %v, want ~%v", half, want/2)
	}
}

func TestEstimateMemPower_NoReference(t *testing.T) {
	modules := []MemModule{{DeviceID: "A", Type: "EDO", SizeMB: 64}}
	if _, ok := estimateMemPower(modules, 1, 2); ok {
		t.Error("unknown module type should yield no estimate")
	}
	if _, ok := estimateMemPower(nil, 1, 2); ok {
		t.Error("no modules should yield no estimate")
	}
	if _, ok := estimateMemPower(modules, 0, 0); ok {
		t.Error("zero total should yield no estimate")
	}
}
