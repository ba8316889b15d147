package collector

import "testing"

const gpuCSVSample = `NVIDIA GeForce RTX 3080, 00000000:2D:00.0, 1710, 9501, 1710, 1515, 37, 62, 2048, 10240, 8192, 220.50, 320.00
NVIDIA A100-SXM4-40GB, 00000000:3E:00.0, 1410, 1215, 1410, 1275, 91, 55, 30720, 40960, 10240, 312.00, 400.00`

func TestParseGPUInfo(t *testing.T) {
	gpus := parseGPUInfo(gpuCSVSample)
	if len(gpus) != 2 {
		t.Fatalf("parsed %d adapters, want 2", len(gpus))
	}

	g := gpus[0]
	if g.Name != "NVIDIA GeForce RTX 3080" {
		t.Errorf("name = %q", g.Name)
	}
	if g.BusID != "00000000:2D:00.0" {
		t.Errorf("bus id = %q", g.BusID)
	}
	if g.ClockGraphicMHz != 1710 || g.ClockMemoryMHz != 9501 {
		t.Errorf("clocks = %d/%d", g.ClockGraphicMHz, g.ClockMemoryMHz)
	}
	if g.UsagePercent != 37 {
		t.Errorf("usage = %v", g.UsagePercent)
	}
	if g.MemoryFreeMB != 2048 || g.MemoryTotalMB != 10240 || g.MemoryUsedMB != 8192 {
		t.Errorf("memory = %d/%d/%d", g.MemoryFreeMB, g.MemoryTotalMB, g.MemoryUsedMB)
	}
	if g.PowerDrawW != 220.5 {
		t.Errorf("power = %v", g.PowerDrawW)
	}
	// 220.5 / 320 * 100
	if g.PowerRatio < 68.9 || g.PowerRatio > 69.0 {
		t.Errorf("power ratio = %v", g.PowerRatio)
	}

	if gpus[1].BusID != "00000000:3E:00.0" {
		t.Errorf("second bus id = %q", gpus[1].BusID)
	}
}

// Older drivers report "[N/A]" for fields they do not support; those must
// degrade to zero instead of dropping the adapter.
func TestParseGPUInfo_NotAvailableFields(t *testing.T) {
	out := "Tesla K80, 00000000:05:00.0, 875, 2505, 875, [N/A], 12, 48, 10240, 11441, 1201, [N/A], [N/A]"
	gpus := parseGPUInfo(out)
	if len(gpus) != 1 {
		t.Fatalf("parsed %d adapters, want 1", len(gpus))
	}
	if gpus[0].ClockVideoMHz != 0 {
		t.Errorf("video clock = %d, want 0", gpus[0].ClockVideoMHz)
	}
	if gpus[0].PowerDrawW != 0 || gpus[0].PowerRatio != 0 {
		t.Errorf("power = %v ratio = %v, want 0", gpus[0].PowerDrawW, gpus[0].PowerRatio)
	}
}

func TestParseGPUInfo_Garbage(t *testing.T) {
	if gpus := parseGPUInfo(""); gpus != nil {
		t.Errorf("empty output parsed to %v", gpus)
	}
	if gpus := parseGPUInfo("No devices were found"); gpus != nil {
		t.Errorf("error banner parsed to %v", gpus)
	}
}
