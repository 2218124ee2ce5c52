// Package config holds the renderer configuration and loads it from HCL
// or YAML files.
//
// HCL files are evaluated with a small context: the variable cpus holds
// the number of logical CPUs and the functions min and max are available,
// so a file can say
//
//	mesh_workers = max(1, cpus - 2)
//
// Attributes a file leaves out keep their Default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned by Validate and Load for out-of-range
	// values.
	ErrInvalidConfig = errors.New("config: invalid configuration")

	// ErrUnknownFormat is returned by Load for an unsupported extension.
	ErrUnknownFormat = errors.New("config: unknown file format")
)

// Config is the renderer configuration.
type Config struct {
	// RenderDistance is the horizontal flood radius in sections.
	RenderDistance int `hcl:"render_distance,optional" yaml:"render_distance"`

	// NearRadius is the Chebyshev radius of the near set.
	NearRadius int `hcl:"near_radius,optional" yaml:"near_radius"`

	// SmartCull enables pruning through opaque section faces.
	SmartCull bool `hcl:"smart_cull,optional" yaml:"smart_cull"`

	// MeshWorkers sizes the bake pool; zero means GOMAXPROCS.
	MeshWorkers int `hcl:"mesh_workers,optional" yaml:"mesh_workers"`

	SyncCompileBudget int `hcl:"sync_compile_budget,optional" yaml:"sync_compile_budget"`
	SyncCompileRadius int `hcl:"sync_compile_radius,optional" yaml:"sync_compile_radius"`

	// RingDepth is the number of frames a ring buffer rotates through.
	RingDepth int `hcl:"ring_depth,optional" yaml:"ring_depth"`

	// UniformCapacity is the initial block capacity of the uniform arena.
	UniformCapacity int `hcl:"uniform_capacity,optional" yaml:"uniform_capacity"`

	ResortMin     int `hcl:"resort_min,optional" yaml:"resort_min"`
	ResortDivisor int `hcl:"resort_divisor,optional" yaml:"resort_divisor"`

	FenceTimeoutMS    int `hcl:"fence_timeout_ms,optional" yaml:"fence_timeout_ms"`
	PoolMaxIdleFrames int `hcl:"pool_max_idle_frames,optional" yaml:"pool_max_idle_frames"`
	MeshCacheSize     int `hcl:"mesh_cache_size,optional" yaml:"mesh_cache_size"`

	Target   *TargetBlock   `hcl:"target,block" yaml:"target"`
	Features *FeaturesBlock `hcl:"features,block" yaml:"features"`
}

// TargetBlock is the size of the main render target.
type TargetBlock struct {
	Width  int `hcl:"width,optional" yaml:"width"`
	Height int `hcl:"height,optional" yaml:"height"`
}

// FeaturesBlock toggles optional stages. Features left out of a present
// block are disabled.
type FeaturesBlock struct {
	Outline      bool `hcl:"outline,optional" yaml:"outline"`
	Transparency bool `hcl:"transparency,optional" yaml:"transparency"`
	Clouds       bool `hcl:"clouds,optional" yaml:"clouds"`
	Debug        bool `hcl:"debug,optional" yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RenderDistance:    12,
		NearRadius:        2,
		SmartCull:         true,
		SyncCompileBudget: 8,
		SyncCompileRadius: 1,
		RingDepth:         3,
		UniformCapacity:   1024,
		ResortMin:         15,
		ResortDivisor:     8,
		FenceTimeoutMS:    5000,
		PoolMaxIdleFrames: 3,
		MeshCacheSize:     4096,
		Target:            &TargetBlock{Width: 1280, Height: 720},
		Features:          &FeaturesBlock{Transparency: true, Clouds: true},
	}
}

// FenceTimeout returns FenceTimeoutMS as a duration.
func (c *Config) FenceTimeout() time.Duration {
	return time.Duration(c.FenceTimeoutMS) * time.Millisecond
}

func newHCLEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"cpus": cty.NumberIntVal(int64(runtime.NumCPU())),
		},
		Functions: map[string]function.Function{
			"min": stdlib.MinFunc,
			"max": stdlib.MaxFunc,
		},
	}
}

// Load reads a configuration file. The format follows the extension:
// .hcl for HCL, .yaml or .yml for YAML. The result is validated.
func Load(path string) (*Config, error) {
	// Blocks decode whole, so both formats treat a present block the same.
	cfg := Default()
	cfg.Target, cfg.Features = nil, nil
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl":
		if err := hclsimple.DecodeFile(path, newHCLEvalContext(), cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}

	cfg.fillBlocks()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// fillBlocks restores defaults for absent blocks and zero target sizes.
func (c *Config) fillBlocks() {
	def := Default()
	if c.Target == nil {
		c.Target = def.Target
	}
	if c.Target.Width == 0 {
		c.Target.Width = def.Target.Width
	}
	if c.Target.Height == 0 {
		c.Target.Height = def.Target.Height
	}
	if c.Features == nil {
		c.Features = def.Features
	}
}

// Validate checks value ranges. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.RenderDistance >= 2 && c.RenderDistance <= 64, "render_distance %d outside [2, 64]", c.RenderDistance)
	check(c.NearRadius >= 0 && c.NearRadius <= c.RenderDistance, "near_radius %d outside [0, render_distance]", c.NearRadius)
	check(c.MeshWorkers >= 0, "mesh_workers %d is negative", c.MeshWorkers)
	check(c.SyncCompileBudget >= 0, "sync_compile_budget %d is negative", c.SyncCompileBudget)
	check(c.SyncCompileRadius >= 0, "sync_compile_radius %d is negative", c.SyncCompileRadius)
	check(c.RingDepth >= 1, "ring_depth %d is less than 1", c.RingDepth)
	check(c.UniformCapacity >= 1, "uniform_capacity %d is less than 1", c.UniformCapacity)
	check(c.ResortMin >= 0, "resort_min %d is negative", c.ResortMin)
	check(c.ResortDivisor >= 1, "resort_divisor %d is less than 1", c.ResortDivisor)
	check(c.FenceTimeoutMS > 0, "fence_timeout_ms %d is not positive", c.FenceTimeoutMS)
	check(c.PoolMaxIdleFrames >= 0, "pool_max_idle_frames %d is negative", c.PoolMaxIdleFrames)
	check(c.MeshCacheSize >= 1, "mesh_cache_size %d is less than 1", c.MeshCacheSize)
	check(c.Features != nil, "features block missing")
	if check(c.Target != nil, "target block missing"); c.Target != nil {
		check(c.Target.Width > 0 && c.Target.Height > 0, "target %dx%d is empty", c.Target.Width, c.Target.Height)
	}
	return errors.Join(errs...)
}
