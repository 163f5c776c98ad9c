// Package config loads the tunables that govern the VM, buffer-cache, and
// timer core (cache capacity, write-behind interval, timer frequency, sector
// and page sizes, stack-growth heuristics). Mirrors the teacher's
// viper-based LoadConfig in shape, generalized to the kernel's own tunables.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Tunables holds every compile-time constant spec.md §6 names, made
// runtime-configurable.
type Tunables struct {
	CacheCapacity         int   `mapstructure:"cache_capacity"`
	WriteBehindIntervalMs int64 `mapstructure:"write_behind_interval_ms"`
	TimerFreq             int   `mapstructure:"timer_freq"`
	IdleMargin            int64 `mapstructure:"idle_margin"`
	SectorSize            int   `mapstructure:"sector_size"`
	PageSize              int   `mapstructure:"page_size"`
	StackLimitBytes       int64 `mapstructure:"stack_limit_bytes"`
	StackGrowthMargin     int64 `mapstructure:"stack_growth_margin"`
	// FrameCapacity is the simulated physical frame pool size (ADDED):
	// spec.md names CACHE_CAPACITY only for the buffer cache (component G);
	// the frame table's pool size (component D) is a separate tunable this
	// project adds since Pintos derives it from real physical memory at
	// boot, which this simulation has no equivalent of.
	FrameCapacity int `mapstructure:"frame_capacity"`
}

// SectorsPerSlot reports how many device sectors back one swap slot.
func (t Tunables) SectorsPerSlot() int {
	return t.PageSize / t.SectorSize
}

// Default returns the tunables named literally in spec.md §6, plus the
// stack-growth margin and stack limit spec.md §9/§4.4 call for.
func Default() Tunables {
	return Tunables{
		CacheCapacity:         64,
		WriteBehindIntervalMs: 2000,
		TimerFreq:             100,
		IdleMargin:            2,
		SectorSize:            512,
		PageSize:              4096,
		StackLimitBytes:       8 * 1024 * 1024,
		StackGrowthMargin:     32,
		FrameCapacity:         64,
	}
}

// Load reads tunables from a YAML file at path, seeding unset fields with
// Default() first so a partial file only overrides what it names.
func Load(path string) (Tunables, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("cache_capacity", cfg.CacheCapacity)
	v.SetDefault("write_behind_interval_ms", cfg.WriteBehindIntervalMs)
	v.SetDefault("timer_freq", cfg.TimerFreq)
	v.SetDefault("idle_margin", cfg.IdleMargin)
	v.SetDefault("sector_size", cfg.SectorSize)
	v.SetDefault("page_size", cfg.PageSize)
	v.SetDefault("stack_limit_bytes", cfg.StackLimitBytes)
	v.SetDefault("stack_growth_margin", cfg.StackGrowthMargin)
	v.SetDefault("frame_capacity", cfg.FrameCapacity)

	if err := v.ReadInConfig(); err != nil {
		return Tunables{}, fmt.Errorf("read config: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Tunables{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
