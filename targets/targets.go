package targets

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

//go:embed targets.yaml
var rawTargets []byte

var targets Targets

var (
	ErrTargetNotFound = errors.New("target not found")
	ErrNoBasePriority = errors.New("target core has no BASEPRI register")
)

func All() Targets {
	return targets
}

type Targets []TargetInfo
type TargetInfo struct {
	Series       string   `yaml:"series"`
	Chips        []string `yaml:"chips"`
	Cpu          string   `yaml:"cpu"`
	Architecture string   `yaml:"architecture"`
	PriorityBits uint8    `yaml:"priorityBits"`
	FlashBase    uint32   `yaml:"flashBase"`
	FlashSize    uint32   `yaml:"flashSize"`
	RAMBase      uint32   `yaml:"ramBase"`
	RAMSize      uint32   `yaml:"ramSize"`
	ClockHz      uint32   `yaml:"clockHz"`
	Features     []string `yaml:"features"`
}

// HasBasePriority reports whether the core can mask interrupts by priority.
// ARMv6-M parts only have PRIMASK.
func (t TargetInfo) HasBasePriority() bool {
	return t.Architecture == "armv7m" || t.Architecture == "armv7em"
}

// Check returns an error if the context switch port cannot run on t.
func (t TargetInfo) Check() error {
	if !t.HasBasePriority() {
		return fmt.Errorf("%w: %s is %s", ErrNoBasePriority, t.Series, t.Architecture)
	}
	return nil
}

func (t TargetInfo) FormatFeatureString() string {
	features := make([]string, len(t.Features))
	for i, feature := range t.Features {
		features[i] = "+" + feature
	}
	return strings.Join(features, ",")
}

func (t Targets) FindBySeries(name string) (TargetInfo, error) {
	for _, target := range t {
		if target.Series == strings.ToLower(name) {
			return target, nil
		}
	}
	return TargetInfo{}, fmt.Errorf("%w: series %q", ErrTargetNotFound, name)
}

func (t Targets) FindByChip(name string) (TargetInfo, error) {
	for _, target := range t {
		if slices.Contains(target.Chips, strings.ToLower(name)) {
			return target, nil
		}
	}
	return TargetInfo{}, fmt.Errorf("%w: chip %q", ErrTargetNotFound, name)
}

// Find looks name up as a chip first, then as a series.
func (t Targets) Find(name string) (TargetInfo, error) {
	if target, err := t.FindByChip(name); err == nil {
		return target, nil
	}
	return t.FindBySeries(name)
}

func init() {
	var t struct {
		Elements []TargetInfo `yaml:"targets"`
	}
	if err := yaml.Unmarshal(rawTargets, &t); err != nil {
		panic(err)
	}

	targets = t.Elements
}
