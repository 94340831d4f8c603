package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/roach88/beadwal/internal/transition"
)

// Scenario defines a recovery scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Namespace is the log namespace; empty means the adapter default.
	Namespace string `yaml:"namespace,omitempty"`

	// Tool is the beads CLI name; empty means "br".
	Tool string `yaml:"tool,omitempty"`

	// SkipSync disables the final sync command.
	SkipSync bool `yaml:"skip_sync,omitempty"`

	// Fail lists substrings; a command whose rendering contains one fails.
	Fail []string `yaml:"fail,omitempty"`

	// Transitions are recorded through the adapter in order.
	Transitions []TransitionStep `yaml:"transitions"`

	// Raw entries are appended to the log verbatim after the transitions.
	Raw []RawEntry `yaml:"raw,omitempty"`

	// Expect is checked against the recovery result.
	Expect Expectation `yaml:"expect"`
}

// TransitionStep is one transition to record.
type TransitionStep struct {
	Op      string         `yaml:"op"`
	Entity  string         `yaml:"entity"`
	Payload map[string]any `yaml:"payload,omitempty"`

	// Reject marks a transition the adapter must refuse.
	Reject bool `yaml:"reject,omitempty"`
}

// RawEntry is a log entry written without validation.
type RawEntry struct {
	Op   string `yaml:"op,omitempty"` // "write" (default) or "delete"
	Path string `yaml:"path"`
	Data string `yaml:"data"`
}

// Expectation lists the outcome a scenario asserts. Nil pointers and nil
// slices are not checked.
type Expectation struct {
	Success   *bool          `yaml:"success,omitempty"`
	Replayed  *int           `yaml:"replayed,omitempty"`
	Skipped   *int           `yaml:"skipped,omitempty"`
	Affected  []string       `yaml:"affected,omitempty"`
	Failed    []string       `yaml:"failed,omitempty"`
	Commands  []string       `yaml:"commands,omitempty"`
	Discarded map[string]int `yaml:"discarded,omitempty"`
}

var scenarioNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so that typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// Validate checks the required fields and step shapes.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if !scenarioNamePattern.MatchString(s.Name) {
		return fmt.Errorf("name %q must match %s", s.Name, scenarioNamePattern)
	}
	if len(s.Transitions) == 0 && len(s.Raw) == 0 {
		return errors.New("at least one transition or raw entry is required")
	}
	for i, step := range s.Transitions {
		if step.Reject {
			continue
		}
		if _, err := transition.ParseOperation(step.Op); err != nil {
			return fmt.Errorf("transitions[%d]: %w", i, err)
		}
		if step.Entity == "" {
			return fmt.Errorf("transitions[%d]: entity is required", i)
		}
	}
	for i, raw := range s.Raw {
		if raw.Path == "" {
			return fmt.Errorf("raw[%d]: path is required", i)
		}
		if raw.Op != "" && raw.Op != "write" && raw.Op != "delete" {
			return fmt.Errorf("raw[%d]: op must be write or delete, got %q", i, raw.Op)
		}
	}
	return nil
}
