package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.GridSize != 64 || d.HotThresholdAgents != 3 {
		t.Fatalf("grid defaults: %+v", d)
	}
	if d.TargetMspt != 45.0 || d.MinTps != 19.5 {
		t.Fatalf("performance defaults: %+v", d)
	}
	if d.ViewDistance.Hot.Min != 6 || d.ViewDistance.Cold.Max != 12 {
		t.Fatalf("view distance defaults: %+v", d.ViewDistance)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := []byte("grid_size: 128\nhot_threshold_agents: 5\ntarget_mspt: 40\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.GridSize != 128 || got.HotThresholdAgents != 5 || got.TargetMspt != 40 {
		t.Fatalf("overrides not applied: %+v", got)
	}
	// Untouched keys fall back to defaults.
	if got.MinTps != 19.5 || got.ChunkBudgetPerHotRegionPerSec != 12 {
		t.Fatalf("defaults lost on partial file: %+v", got)
	}
}

func TestValidateClampsOutOfRange(t *testing.T) {
	tt := Defaults()
	tt.GridSize = 7
	tt.HotThresholdAgents = 0
	tt.ScanIntervalTicks = 5000
	tt.TargetMspt = 400
	tt.MinTps = 3
	tt.ChunkBudgetPerHotRegionPerSec = -2

	tt.Validate(nil)

	if tt.GridSize != 64 {
		t.Fatalf("grid_size: got %d", tt.GridSize)
	}
	if tt.HotThresholdAgents != 3 {
		t.Fatalf("hot_threshold_agents: got %d", tt.HotThresholdAgents)
	}
	if tt.ScanIntervalTicks != 40 {
		t.Fatalf("scan_interval_ticks: got %d", tt.ScanIntervalTicks)
	}
	if tt.TargetMspt != 45.0 || tt.MinTps != 19.5 {
		t.Fatalf("performance clamp: %+v", tt)
	}
	if tt.ChunkBudgetPerHotRegionPerSec != 12 {
		t.Fatalf("budget clamp: got %d", tt.ChunkBudgetPerHotRegionPerSec)
	}
}

func TestValidateKeepsValidValues(t *testing.T) {
	tt := Defaults()
	tt.GridSize = 32
	tt.TargetMspt = 30
	tt.Validate(nil)
	if tt.GridSize != 32 || tt.TargetMspt != 30 {
		t.Fatalf("valid values clamped: %+v", tt)
	}
}
