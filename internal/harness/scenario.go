package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielhendel/oli-sub001/internal/model"
)

// Scenario is one pipeline conformance scenario.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Start is the first clock reading. Defaults to DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	Sources    []model.Source `yaml:"sources"`
	Steps      []Step         `yaml:"steps"`
	Assertions []Assertion    `yaml:"assertions,omitempty"`
}

// DefaultStart is the clock reading of a scenario without a start.
var DefaultStart = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// Step operations.
const (
	OpIngest  = "ingest"
	OpBuild   = "build"
	OpReplay  = "replay"
	OpExplain = "explain"
	OpTamper  = "tamper"
)

// Step is one operation against the pipeline.
type Step struct {
	Op   string `yaml:"op"`
	User string `yaml:"user,omitempty"`

	// Key is the idempotency key of an ingest.
	Key string `yaml:"key,omitempty"`
	// Event is the ingest request body.
	Event map[string]any `yaml:"event,omitempty"`

	Day string `yaml:"day,omitempty"`
	// Run selects a run for replay, explain and tamper. Empty means the
	// latest run of the day.
	Run string `yaml:"run,omitempty"`
	// Doc is the snapshot a tamper step overwrites.
	Doc string `yaml:"doc,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is checked against a step's outcome. Unset fields are not checked.
type Expect struct {
	// Error is the expected error code. Empty means the step must succeed.
	Error    string `yaml:"error,omitempty"`
	Day      string `yaml:"day,omitempty"`
	Replayed *bool  `yaml:"replayed,omitempty"`
	Run      string `yaml:"run,omitempty"`
	Inputs   *int   `yaml:"inputs,omitempty"`
	Latest   *bool  `yaml:"latest,omitempty"`

	// Artifacts maps doc ids to a subset of their replayed content.
	Artifacts map[string]any `yaml:"artifacts,omitempty"`
}

// Assertion types.
const (
	AssertRunCount      = "run_count"
	AssertLatestRun     = "latest_run"
	AssertRawEventCount = "raw_event_count"
	AssertFactCount     = "fact_count"
	AssertFailureCount  = "failure_count"
)

// Assertion checks final store state.
type Assertion struct {
	Type  string `yaml:"type"`
	User  string `yaml:"user"`
	Day   string `yaml:"day,omitempty"`
	Run   string `yaml:"run,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// LoadScenario reads a scenario file. Unknown fields are rejected so a
// misspelled key fails loudly instead of being ignored.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", sc.Name, err)
	}
	if sc.Start.IsZero() {
		sc.Start = DefaultStart
	}
	return &sc, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, st := range s.Steps {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st Step) error {
	switch st.Op {
	case OpIngest:
		if st.User == "" || st.Key == "" || st.Event == nil {
			return fmt.Errorf("ingest requires user, key and event")
		}
	case OpBuild, OpReplay, OpExplain:
		if st.User == "" || st.Day == "" {
			return fmt.Errorf("%s requires user and day", st.Op)
		}
	case OpTamper:
		if st.Run == "" || st.Doc == "" {
			return fmt.Errorf("tamper requires run and doc")
		}
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	if a.User == "" {
		return fmt.Errorf("user is required")
	}
	switch a.Type {
	case AssertRunCount, AssertFactCount:
		if a.Day == "" {
			return fmt.Errorf("%s requires day", a.Type)
		}
	case AssertLatestRun:
		if a.Day == "" || a.Run == "" {
			return fmt.Errorf("latest_run requires day and run")
		}
	case AssertRawEventCount, AssertFailureCount:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
