package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cadence/internal/ir"
)

// Scenario defines a scheduling scenario: a manifest, a clock start and the
// steps that drive the daemon.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the RFC 3339 clock reading before the first step.
	Start string `yaml:"start"`

	// Manifest is the CUE source written as the scenario's only manifest file.
	Manifest string `yaml:"manifest"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one action applied to the scenario's daemon, store or clock.
type Step struct {
	Action string `yaml:"action"`

	Asset     string   `yaml:"asset,omitempty"`
	Partition string   `yaml:"partition,omitempty"`
	Keys      []string `yaml:"keys,omitempty"`

	// Duration is a Go duration string, used by advance.
	Duration string `yaml:"duration,omitempty"`

	// Status is the terminal run status used by complete.
	Status string `yaml:"status,omitempty"`

	// Observation makes record write an observation.
	Observation bool `yaml:"observation,omitempty"`

	// Requests lists the asset partitions a tick is expected to request,
	// formatted as asset or asset[partition].
	Requests []string `yaml:"requests,omitempty"`

	// Quiet expects a tick to request nothing.
	Quiet bool `yaml:"quiet,omitempty"`
}

// Step actions.
const (
	StepTick     = "tick"
	StepAdvance  = "advance"
	StepRecord   = "record"
	StepComplete = "complete"
	StepBackfill = "backfill"
)

// Assertion validates the trace or the final store state.
type Assertion struct {
	// Type is one of requested, not_requested, request_count, run_count
	// or backfill_status.
	Type string `yaml:"type"`

	Asset     string `yaml:"asset,omitempty"`
	Partition string `yaml:"partition,omitempty"`

	// Tick restricts requested to one 1-based tick.
	Tick int `yaml:"tick,omitempty"`

	Count  int    `yaml:"count,omitempty"`
	Status string `yaml:"status,omitempty"`

	// ID is the backfill id used by backfill_status.
	ID string `yaml:"id,omitempty"`
}

// Assertion type constants.
const (
	AssertRequested      = "requested"
	AssertNotRequested   = "not_requested"
	AssertRequestCount   = "request_count"
	AssertRunCount       = "run_count"
	AssertBackfillStatus = "backfill_status"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// StartTime returns the parsed clock start.
func (s *Scenario) StartTime() (time.Time, error) {
	return time.Parse(time.RFC3339, s.Start)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Manifest == "" {
		return fmt.Errorf("manifest is required")
	}
	if _, err := s.StartTime(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	switch s.Action {
	case StepTick:
		if s.Quiet && len(s.Requests) > 0 {
			return fmt.Errorf("steps[%d]: quiet and requests are mutually exclusive", index)
		}
		for _, r := range s.Requests {
			if _, err := parseAssetPartition(r); err != nil {
				return fmt.Errorf("steps[%d]: %w", index, err)
			}
		}
	case StepAdvance:
		d, err := time.ParseDuration(s.Duration)
		if err != nil {
			return fmt.Errorf("steps[%d]: duration: %w", index, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d]: duration must be positive", index)
		}
	case StepRecord, StepComplete, StepBackfill:
		if s.Asset == "" {
			return fmt.Errorf("steps[%d]: asset is required for %s", index, s.Action)
		}
		if s.Action == StepComplete && s.Status != "" {
			status, err := ir.ParseRunStatus(s.Status)
			if err != nil {
				return fmt.Errorf("steps[%d]: %w", index, err)
			}
			if !status.IsTerminal() {
				return fmt.Errorf("steps[%d]: status %s is not terminal", index, status)
			}
		}
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertRequested, AssertNotRequested:
		if a.Asset == "" {
			return fmt.Errorf("assertions[%d]: asset is required for %s", index, a.Type)
		}
	case AssertRequestCount, AssertRunCount:
		if a.Asset == "" {
			return fmt.Errorf("assertions[%d]: asset is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		if a.Type == AssertRunCount && a.Status != "" {
			if _, err := ir.ParseRunStatus(a.Status); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertBackfillStatus:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for backfill_status", index)
		}
		if _, err := ir.ParseBackfillStatus(a.Status); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// parseAssetPartition parses "asset" or "asset[partition]".
func parseAssetPartition(s string) (ir.AssetPartition, error) {
	asset, partition := s, ""
	if i := strings.IndexByte(s, '['); i >= 0 {
		if s[len(s)-1] != ']' {
			return ir.AssetPartition{}, fmt.Errorf("malformed asset partition %q", s)
		}
		asset, partition = s[:i], s[i+1:len(s)-1]
	}
	key, err := ir.ParseAssetKey(asset)
	if err != nil {
		return ir.AssetPartition{}, err
	}
	return ir.AP(key, ir.PartitionKey(partition)), nil
}
