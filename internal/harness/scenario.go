package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/meetwatch/internal/model"
)

// DefaultUser is the user id of scenarios that do not name one.
const DefaultUser = "user-1"

// Scenario is one user's calendar over simulated time.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// User is the user id. Defaults to DefaultUser.
	User string `yaml:"user,omitempty"`

	// Start is the simulated instant of offset zero, RFC 3339.
	Start string `yaml:"start"`

	// Settings are stored before the first step. Unset fields keep defaults.
	Settings *SettingsSpec `yaml:"settings,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// SettingsSpec overrides user settings.
type SettingsSpec struct {
	ReminderLeadMinutes int   `yaml:"reminder_lead_minutes,omitempty"`
	NotifyOnNew         *bool `yaml:"notify_on_new,omitempty"`
	NotifyOnStart       *bool `yaml:"notify_on_start,omitempty"`
	NotifyOnCancel      *bool `yaml:"notify_on_cancel,omitempty"`
}

// Step is one poll cycle.
type Step struct {
	// At is the offset from Start at which the cycle runs.
	At string `yaml:"at"`

	// Events replaces the calendar contents. When omitted the previous
	// contents are kept; an empty list clears the calendar.
	Events *[]EventSpec `yaml:"events,omitempty"`

	// FetchError makes this step's fetch fail with the given message.
	FetchError string `yaml:"fetch_error,omitempty"`

	// Reset clears the user's state before the cycle.
	Reset bool `yaml:"reset,omitempty"`

	// Set changes settings before the cycle (key to value).
	Set map[string]string `yaml:"set,omitempty"`

	// Expect lists the notification kinds the cycle must produce, in order.
	// When omitted the step is not checked; an empty list expects nothing.
	Expect *[]string `yaml:"expect,omitempty"`
}

// EventSpec is a calendar event in a step.
type EventSpec struct {
	ID      string `yaml:"id"`
	Summary string `yaml:"summary,omitempty"`

	// Start and End are offsets from the scenario start.
	Start string `yaml:"start,omitempty"`
	End   string `yaml:"end,omitempty"`

	// StartRaw and EndRaw are passed to the normalizer unchanged.
	StartRaw string `yaml:"start_raw,omitempty"`
	EndRaw   string `yaml:"end_raw,omitempty"`

	// Link is the join link. Defaults to a Meet link; "" means offline.
	Link *string `yaml:"link,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a notification of Kind (and Event) occurred
	// - "trace_order": Kinds occur in this relative order
	// - "trace_count": Kind (and Event) occurred exactly Count times
	// - "final_state": state fields equal Expect
	Type string `yaml:"type"`

	Kind  string   `yaml:"kind,omitempty"`
	Event string   `yaml:"event,omitempty"`
	Count int      `yaml:"count,omitempty"`
	Kinds []string `yaml:"kinds,omitempty"`

	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

var knownKinds = []string{
	string(model.KindNewMeeting),
	string(model.KindUpcomingReminder),
	string(model.KindMeetingStarted),
	string(model.KindMeetingCancelled),
	KindFetchError,
}

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

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if scenario.User == "" {
		scenario.User = DefaultUser
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml scenario in dir, ordered by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	scenarios := make([]*Scenario, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		s, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", name, s.Name, prev)
		}
		seen[s.Name] = name
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// StartTime returns the parsed scenario start.
func (s *Scenario) StartTime() time.Time {
	t, _ := time.Parse(time.RFC3339, s.Start)
	return t.UTC()
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
		return fmt.Errorf("start must be RFC 3339: %w", err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Settings != nil && s.Settings.ReminderLeadMinutes != 0 &&
		!model.ValidReminderLead(s.Settings.ReminderLeadMinutes) {
		return fmt.Errorf("settings.reminder_lead_minutes must be one of %v", model.ReminderLeadChoices)
	}

	var prev time.Duration
	for i, step := range s.Steps {
		at, err := time.ParseDuration(step.At)
		if err != nil {
			return fmt.Errorf("steps[%d]: at: %w", i, err)
		}
		if i > 0 && at < prev {
			return fmt.Errorf("steps[%d]: at %s is before the previous step", i, step.At)
		}
		prev = at

		if step.Events != nil {
			for j, ev := range *step.Events {
				if err := validateEvent(ev); err != nil {
					return fmt.Errorf("steps[%d].events[%d]: %w", i, j, err)
				}
			}
		}
		if step.Expect != nil {
			for _, k := range *step.Expect {
				if !slices.Contains(knownKinds, k) {
					return fmt.Errorf("steps[%d].expect: unknown kind %q", i, k)
				}
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateEvent(ev EventSpec) error {
	if ev.ID == "" {
		return fmt.Errorf("id is required")
	}
	for _, f := range []struct{ name, offset, raw string }{
		{"start", ev.Start, ev.StartRaw},
		{"end", ev.End, ev.EndRaw},
	} {
		if f.raw != "" {
			continue
		}
		if f.offset == "" {
			return fmt.Errorf("%s or %s_raw is required", f.name, f.name)
		}
		if _, err := time.ParseDuration(f.offset); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains, AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for %s", index, a.Type)
		}
		if !slices.Contains(knownKinds, a.Kind) {
			return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
		for key := range a.Expect {
			if _, ok := (FinalState{}).value(key); !ok {
				return fmt.Errorf("assertions[%d]: unknown state field %q", index, key)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
