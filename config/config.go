// Package config holds the settings of a dyncom run: the core, its dispatch
// engine, the global timing facility and the guest threads to start.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/dyncom/emu"
)

// Config is the top-level run configuration.
type Config struct {
	// InitialMode is the privilege mode a core starts in. Default: "user".
	InitialMode string `json:"initial_mode" yaml:"initial_mode"`

	// StackTop is the stack pointer of every core after construction, of the
	// main thread and of any thread that leaves its own stack_top at zero.
	// Default: 0x10000000.
	StackTop uint32 `json:"stack_top" yaml:"stack_top"`

	// Cores is the number of cores sharing one timing facility. Default: 1.
	Cores int `json:"cores" yaml:"cores"`

	// SliceLength is the cycle budget a core runs before reporting back.
	// Default: 20000 cycles.
	SliceLength int64 `json:"slice_length" yaml:"slice_length"`

	// ClockRate is the core clock in Hz. Default: 268111856.
	ClockRate uint64 `json:"clock_rate" yaml:"clock_rate"`

	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`

	// Threads are placed on the cores round-robin before the run starts.
	Threads []ThreadConfig `json:"threads,omitempty" yaml:"threads,omitempty"`
}

// EngineConfig configures the block dispatch engine.
type EngineConfig struct {
	// BlockLength is the number of instructions per block. Default: 8.
	BlockLength int `json:"block_length" yaml:"block_length"`

	// CyclesPerInstruction is the cost of one instruction. Default: 1.
	CyclesPerInstruction uint64 `json:"cycles_per_instruction" yaml:"cycles_per_instruction"`

	// TranslationPenalty is charged when a block misses the block cache.
	// Default: 0.
	TranslationPenalty uint64 `json:"translation_penalty" yaml:"translation_penalty"`

	// CacheSets and CacheWays size the block cache. Zero sets disables it.
	// Default: 256 sets, 4 ways.
	CacheSets int `json:"cache_sets" yaml:"cache_sets"`
	CacheWays int `json:"cache_ways" yaml:"cache_ways"`
}

// SchedulerConfig configures the guest-thread scheduler.
type SchedulerConfig struct {
	// Quantum is the preemption interval in cycles. Default: 10000.
	Quantum int64 `json:"quantum" yaml:"quantum"`

	// Budget is the instruction budget of one step. Default: 100.
	Budget int `json:"budget" yaml:"budget"`

	// Steps bounds the run per core; zero runs until every thread exits.
	// Default: 1000.
	Steps int `json:"steps" yaml:"steps"`
}

// ThreadConfig describes a guest thread to create.
type ThreadConfig struct {
	Name     string `json:"name" yaml:"name"`
	Entry    uint32 `json:"entry" yaml:"entry"`
	StackTop uint32 `json:"stack_top" yaml:"stack_top"`
	Arg      uint32 `json:"arg" yaml:"arg"`
	Priority uint32 `json:"priority" yaml:"priority"`
	// Thumb starts the thread in Thumb state.
	Thumb bool `json:"thumb,omitempty" yaml:"thumb,omitempty"`
}

// Default returns a Config with the ARM11 defaults.
func Default() *Config {
	return &Config{
		InitialMode: "user",
		StackTop:    0x10000000,
		Cores:       1,
		SliceLength: 20000,
		ClockRate:   268111856,
		Engine: EngineConfig{
			BlockLength:          8,
			CyclesPerInstruction: 1,
			TranslationPenalty:   0,
			CacheSets:            256,
			CacheWays:            4,
		},
		Scheduler: SchedulerConfig{
			Quantum: 10000,
			Budget:  100,
			Steps:   1000,
		},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a Config from a JSON or YAML file, chosen by extension. Fields
// the file leaves out keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// Save writes the Config to a JSON or YAML file, chosen by extension.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Mode returns the parsed initial privilege mode.
func (c *Config) Mode() (emu.PrivilegeMode, error) {
	return emu.ParseMode(c.InitialMode)
}

// Validate checks that the configuration can build a run.
func (c *Config) Validate() error {
	if _, err := c.Mode(); err != nil {
		return fmt.Errorf("initial_mode: %w", err)
	}
	if c.Cores <= 0 {
		return fmt.Errorf("cores must be > 0")
	}
	if c.SliceLength <= 0 {
		return fmt.Errorf("slice_length must be > 0")
	}
	if c.ClockRate == 0 {
		return fmt.Errorf("clock_rate must be > 0")
	}
	if c.Engine.BlockLength <= 0 {
		return fmt.Errorf("engine.block_length must be > 0")
	}
	if c.Engine.CacheSets < 0 || c.Engine.CacheWays < 0 {
		return fmt.Errorf("engine cache geometry must not be negative")
	}
	if c.Engine.CacheSets > 0 && c.Engine.CacheWays == 0 {
		return fmt.Errorf("engine.cache_ways must be > 0 when the cache is enabled")
	}
	if c.Scheduler.Quantum <= 0 {
		return fmt.Errorf("scheduler.quantum must be > 0")
	}
	if c.Scheduler.Budget <= 0 {
		return fmt.Errorf("scheduler.budget must be > 0")
	}
	if c.Scheduler.Steps < 0 {
		return fmt.Errorf("scheduler.steps must be >= 0")
	}
	for i, t := range c.Threads {
		if t.Priority > 63 {
			return fmt.Errorf("threads[%d].priority %d must be <= 63", i, t.Priority)
		}
	}
	return nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Threads != nil {
		clone.Threads = make([]ThreadConfig, len(c.Threads))
		copy(clone.Threads, c.Threads)
	}
	return &clone
}
