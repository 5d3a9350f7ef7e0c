// Package scenario describes a set of tasks in YAML and runs them on the
// simulated core through the port layer.
package scenario

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"omibyte.io/rtport/config"
)

type Behavior string

const (
	// BehaviorSpin runs until the tick preempts it.
	BehaviorSpin Behavior = "spin"
	// BehaviorYield gives the core away every slice.
	BehaviorYield Behavior = "yield"
	// BehaviorDelay sleeps for Delay ticks every slice.
	BehaviorDelay Behavior = "delay"
	// BehaviorExit returns from its entry function after After slices.
	BehaviorExit Behavior = "exit"
	// BehaviorRemove deletes itself after After slices.
	BehaviorRemove Behavior = "remove"
)

var behaviors = []Behavior{BehaviorSpin, BehaviorYield, BehaviorDelay, BehaviorExit, BehaviorRemove}

type Task struct {
	Name       string   `yaml:"name"`
	Behavior   Behavior `yaml:"behavior"`
	Param      uint32   `yaml:"param"`
	StackWords uint32   `yaml:"stackWords"`
	Delay      uint64   `yaml:"delay"`
	After      int      `yaml:"after"`
}

type Scenario struct {
	Name   string    `yaml:"name"`
	Slices int       `yaml:"slices"`
	Idle   bool      `yaml:"idle"`
	Tasks  []Task    `yaml:"tasks"`
	Config yaml.Node `yaml:"config"`

	config config.Config
}

const defaultStackWords = 256

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a scenario and the port configuration it carries.
func Parse(b []byte) (*Scenario, error) {
	s := &Scenario{}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}

	var node *yaml.Node
	if s.Config.Kind != 0 {
		node = &s.Config
	}
	cfg, err := config.Decode(node)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	s.config = cfg

	for i := range s.Tasks {
		if s.Tasks[i].Behavior == "" {
			s.Tasks[i].Behavior = BehaviorSpin
		}
		if s.Tasks[i].StackWords == 0 {
			s.Tasks[i].StackWords = defaultStackWords
		}
	}
	if err = s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// PortConfig returns the resolved port configuration.
func (s *Scenario) PortConfig() config.Config {
	return s.config
}

func (s *Scenario) Validate() error {
	var errs []error
	if len(s.Tasks) == 0 {
		errs = append(errs, ErrNoTasks)
	}
	if s.Slices <= 0 {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrNoSlices, s.Slices))
	}
	seen := map[string]bool{}
	for _, t := range s.Tasks {
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateTask, t.Name))
		}
		seen[t.Name] = true
		if !slices.Contains(behaviors, t.Behavior) {
			errs = append(errs, fmt.Errorf("%w: %q for task %s", ErrUnknownBehavior, t.Behavior, t.Name))
		}
	}
	if s.Idle && seen[idleName] {
		errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateTask, idleName))
	}
	return errors.Join(errs...)
}
