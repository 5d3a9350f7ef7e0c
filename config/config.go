// Package config holds the settings the context switch port is built with.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"omibyte.io/rtport/scs"
	"omibyte.io/rtport/targets"
)

type Config struct {
	// Target is a chip or series name from the target catalog.
	Target string `yaml:"target"`

	// PriorityBits is the number of implemented priority bits. Zero takes
	// the value from the target.
	PriorityBits uint8 `yaml:"priorityBits"`

	// KernelInterruptPriority is written to the PendSV and SysTick priority
	// fields. It must be the numerically lowest (least urgent) priority.
	KernelInterruptPriority uint8 `yaml:"kernelInterruptPriority"`

	// MaxSyscallInterruptPriority is the BASEPRI value used while the
	// scheduler runs.
	MaxSyscallInterruptPriority uint8 `yaml:"maxSyscallInterruptPriority"`

	CPUClockHz uint32 `yaml:"cpuClockHz"`
	TickRateHz uint32 `yaml:"tickRateHz"`

	// PrivilegedTasks keeps tasks in privileged thread mode after the first
	// restore.
	PrivilegedTasks bool `yaml:"privilegedTasks"`
}

func Default() Config {
	return Config{
		Target:                      "atsamd51j19a",
		PriorityBits:                3,
		KernelInterruptPriority:     255,
		MaxSyscallInterruptPriority: 191,
		CPUClockHz:                  120000000,
		TickRateHz:                  1000,
	}
}

// Load reads a YAML file over the defaults and resolves the target.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and resolves the target.
func Parse(b []byte) (Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return Decode(doc.Content[0])
	}
	return Decode(nil)
}

// Decode reads a config out of a node of a larger document. A nil node
// yields the defaults.
func Decode(node *yaml.Node) (Config, error) {
	cfg := Default()
	// These come from the target unless the node sets them.
	cfg.PriorityBits = 0
	cfg.CPUClockHz = 0
	if node != nil {
		if err := node.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}
	if err := cfg.Resolve(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Resolve fills in values that come from the target catalog.
func (c *Config) Resolve() error {
	if c.Target == "" {
		if c.PriorityBits == 0 {
			c.PriorityBits = 8
		}
		return nil
	}
	target, err := targets.All().Find(c.Target)
	if err != nil {
		return err
	}
	if err = target.Check(); err != nil {
		return err
	}
	if c.PriorityBits == 0 {
		c.PriorityBits = target.PriorityBits
	}
	if c.CPUClockHz == 0 {
		c.CPUClockHz = target.ClockHz
	}
	return nil
}

// PriorityMask returns the implemented bits of a priority field.
func (c Config) PriorityMask() uint8 {
	return scs.PriorityMask(c.PriorityBits)
}

// Reload returns the SysTick reload value for one tick period.
func (c Config) Reload() (uint32, error) {
	if c.TickRateHz == 0 {
		return 0, nil
	}
	ticks := c.CPUClockHz / c.TickRateHz
	if ticks == 0 || ticks-1 > scs.SYST_RVR_RELOAD {
		return 0, fmt.Errorf("%w: %d Hz at %d Hz", ErrReloadOutOfRange, c.TickRateHz, c.CPUClockHz)
	}
	return ticks - 1, nil
}

// Validate checks the priority settings against the implemented bits.
func (c Config) Validate() error {
	var errs []error
	if c.PriorityBits < 2 || c.PriorityBits > 8 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidPriorityBits, c.PriorityBits))
	}

	mask := c.PriorityMask()
	kernel := c.KernelInterruptPriority & mask
	ceiling := c.MaxSyscallInterruptPriority & mask
	if kernel != mask {
		errs = append(errs, fmt.Errorf("%w: %#02x reads back as %#02x", ErrKernelPriorityNotLowest, c.KernelInterruptPriority, kernel))
	}
	if ceiling == 0 {
		errs = append(errs, fmt.Errorf("%w: %#02x", ErrZeroCeiling, c.MaxSyscallInterruptPriority))
	} else if ceiling >= kernel {
		errs = append(errs, fmt.Errorf("%w: %#02x >= %#02x", ErrCeilingBelowKernel, ceiling, kernel))
	}
	if _, err := c.Reload(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
