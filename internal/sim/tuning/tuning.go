package tuning

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning is the controller configuration. Out-of-range values are clamped
// back to defaults by Validate rather than failing startup.
type Tuning struct {
	GridSize           int `yaml:"grid_size"`
	HotThresholdAgents int `yaml:"hot_threshold_agents"`
	ScanIntervalTicks  int `yaml:"scan_interval_ticks"`
	TicksPerSecond     int `yaml:"ticks_per_second"`

	TargetMspt float64 `yaml:"target_mspt"`
	MinTps     float64 `yaml:"min_tps"`

	ChunkBudgetPerHotRegionPerSec int `yaml:"chunk_budget_per_hot_region_per_sec"`

	RandomTickScale RandomTickScale `yaml:"random_tick_scale"`
	EntityCaps      EntityCaps      `yaml:"entity_caps"`
	ViewDistance    ViewDistance    `yaml:"view_distance"`

	Host  Host  `yaml:"host"`
	Debug Debug `yaml:"debug"`
}

type RandomTickScale struct {
	Hot  float64 `yaml:"hot"`
	Cold float64 `yaml:"cold"`
}

type EntityCaps struct {
	Cold ColdCaps `yaml:"cold"`
}

type ColdCaps struct {
	Mobs        int `yaml:"mobs"`
	Animals     int `yaml:"animals"`
	Projectiles int `yaml:"projectiles"`
}

type Range struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type ViewDistance struct {
	Hot    Range `yaml:"hot"`
	Normal Range `yaml:"normal"`
	Cold   Range `yaml:"cold"`
}

type Host struct {
	// Regionized: "auto", "true" or "false". Whether the host scheduler
	// is regionized; resolved once at startup into a capability set.
	Regionized string `yaml:"regionized"`
}

type Debug struct {
	Enabled        bool `yaml:"enabled"`
	VerboseLogging bool `yaml:"verbose_logging"`
}

func Defaults() Tuning {
	return Tuning{
		GridSize:                      64,
		HotThresholdAgents:            3,
		ScanIntervalTicks:             80,
		TicksPerSecond:                20,
		TargetMspt:                    45.0,
		MinTps:                        19.5,
		ChunkBudgetPerHotRegionPerSec: 12,
		RandomTickScale:               RandomTickScale{Hot: 1.0, Cold: 0.5},
		EntityCaps:                    EntityCaps{Cold: ColdCaps{Mobs: 60, Animals: 60, Projectiles: 50}},
		ViewDistance: ViewDistance{
			Hot:    Range{Min: 6, Max: 8},
			Normal: Range{Min: 8, Max: 10},
			Cold:   Range{Min: 10, Max: 12},
		},
		Host: Host{Regionized: "auto"},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Validate clamps out-of-range values back to defaults, logging each
// correction. The core never sees an invalid configuration.
func (t *Tuning) Validate(logger *log.Logger) {
	warn := func(field string, got, def any) {
		if logger != nil {
			logger.Printf("tuning: invalid %s: %v, using default %v", field, got, def)
		}
	}
	d := Defaults()

	if t.GridSize < 16 || t.GridSize > 256 {
		warn("grid_size", t.GridSize, d.GridSize)
		t.GridSize = d.GridSize
	}
	if t.HotThresholdAgents < 1 {
		warn("hot_threshold_agents", t.HotThresholdAgents, d.HotThresholdAgents)
		t.HotThresholdAgents = d.HotThresholdAgents
	}
	if t.ScanIntervalTicks < 20 || t.ScanIntervalTicks > 200 {
		warn("scan_interval_ticks", t.ScanIntervalTicks, 40)
		t.ScanIntervalTicks = 40
	}
	if t.TicksPerSecond < 1 {
		warn("ticks_per_second", t.TicksPerSecond, d.TicksPerSecond)
		t.TicksPerSecond = d.TicksPerSecond
	}
	if t.TargetMspt < 10.0 || t.TargetMspt > 100.0 {
		warn("target_mspt", t.TargetMspt, d.TargetMspt)
		t.TargetMspt = d.TargetMspt
	}
	if t.MinTps < 10.0 || t.MinTps > 20.0 {
		warn("min_tps", t.MinTps, d.MinTps)
		t.MinTps = d.MinTps
	}
	if t.ChunkBudgetPerHotRegionPerSec < 1 {
		warn("chunk_budget_per_hot_region_per_sec", t.ChunkBudgetPerHotRegionPerSec, d.ChunkBudgetPerHotRegionPerSec)
		t.ChunkBudgetPerHotRegionPerSec = d.ChunkBudgetPerHotRegionPerSec
	}
}
