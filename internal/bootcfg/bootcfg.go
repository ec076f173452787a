// Package bootcfg is the hosted-harness configuration format (spec.md §6,
// "Hosted harness boundary"): a YAML description of the firmware memory
// banks, the embedded ELF image path, the kernel image end address, and
// the timer tick interval, parsed with
// gopkg.in/yaml.v3 the way cmd/ccapp/site_config.go in the teacher pack
// loads its own YAML-backed config.
package bootcfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MemBank mirrors atag.MemTag in the config file's vocabulary; bootcfg
// stays independent of the atag package's wire-format concerns so the
// YAML schema doesn't leak ATAG parsing details.
type MemBank struct {
	Start uint64 `yaml:"start"`
	Size  uint64 `yaml:"size"`
}

// Config is the full hosted-harness boot configuration cmd/bootsim loads.
type Config struct {
	// MemBanks lists the firmware-reported RAM banks in enumeration order.
	MemBanks []MemBank `yaml:"mem_banks"`

	// ImagePath is the path to the embedded init ELF64 image.
	ImagePath string `yaml:"image_path"`

	// KernelImageEnd is the linker-provided end-of-kernel-image VA this
	// module has no linker script to derive on its own (spec.md's
	// Supplemented features note); kernel_top is computed from it.
	KernelImageEnd uint64 `yaml:"kernel_image_end"`

	// TickMicros is the configured timer tick interval (spec.md §4.6's
	// TICK), in microseconds.
	TickMicros uint32 `yaml:"tick_micros"`

	// Verbose enables the untyped-carving progress trace (spec.md §6).
	Verbose bool `yaml:"verbose"`
}

// Load reads and parses a Config from the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootcfg: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("bootcfg: parse %s: %w", path, err)
	}
	if len(cfg.MemBanks) == 0 {
		return nil, fmt.Errorf("bootcfg: %s declares no mem_banks", path)
	}
	if cfg.ImagePath == "" {
		return nil, fmt.Errorf("bootcfg: %s missing image_path", path)
	}
	return &cfg, nil
}
