package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/intake/internal/migrate"
)

// Scenario is a sequence of planner runs against one fresh database.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Migrations is the library of migrations steps refer to by name.
	Migrations []MigrationDef `yaml:"migrations"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final ledger, schema and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// MigrationDef defines a migration inline.
type MigrationDef struct {
	ID      int64  `yaml:"id"`
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

// Migration returns the planner migration, hashing the content.
func (d MigrationDef) Migration() migrate.Migration {
	return migrate.New(d.ID, d.Name, d.Content)
}

// Step either plans a set of migrations or executes raw SQL.
type Step struct {
	// Plan lists migration names to plan with, in the order given.
	Plan []string `yaml:"plan,omitempty"`

	// Act applies the plan when it is viable.
	Act bool `yaml:"act,omitempty"`

	// Exec runs raw SQL against the database, e.g. to corrupt the ledger.
	Exec string `yaml:"exec,omitempty"`

	// Expect is the expected plan outcome (strategy or failure kind) for
	// plan steps, or ok/error for exec steps.
	Expect string `yaml:"expect,omitempty"`

	// ExpectAct is the expected act outcome, ok or error. Defaults to ok.
	ExpectAct string `yaml:"expect_act,omitempty"`
}

// Assertion validates the state left by a scenario.
type Assertion struct {
	// Type is one of ledger, table_exists, table_absent, trace_count.
	Type string `yaml:"type"`

	// Names is the expected ledger content in application order (ledger).
	Names []string `yaml:"names,omitempty"`

	// Table is the table to look up (table_exists, table_absent).
	Table string `yaml:"table,omitempty"`

	// Outcome and Count check how often an outcome was traced (trace_count).
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertLedger      = "ledger"
	AssertTableExists = "table_exists"
	AssertTableAbsent = "table_absent"
	AssertTraceCount  = "trace_count"
)

// planOutcomes are the values an expect clause on a plan step may take.
var planOutcomes = []string{
	migrate.Initial.String(),
	migrate.Subsequent.String(),
	migrate.Inert.String(),
	migrate.DuplicateIdentifier.String(),
	migrate.MalformedMigration.String(),
	migrate.UnexpectedMigration.String(),
	migrate.TableIntegrityViolation.String(),
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
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

	defined := make(map[string]bool, len(s.Migrations))
	for i, m := range s.Migrations {
		if m.Name == "" {
			return fmt.Errorf("migrations[%d]: name is required", i)
		}
		if defined[m.Name] {
			return fmt.Errorf("migrations[%d]: name %q defined twice", i, m.Name)
		}
		defined[m.Name] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, defined); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step, defined map[string]bool) error {
	switch {
	case step.Plan != nil && step.Exec != "":
		return fmt.Errorf("steps[%d]: plan and exec are mutually exclusive", index)
	case step.Exec != "":
		if step.Act || step.ExpectAct != "" {
			return fmt.Errorf("steps[%d]: act requires a plan", index)
		}
		if step.Expect != "" && step.Expect != OutcomeOK && step.Expect != OutcomeError {
			return fmt.Errorf("steps[%d]: exec expect must be %s or %s", index, OutcomeOK, OutcomeError)
		}
	case step.Plan != nil:
		for _, name := range step.Plan {
			if !defined[name] {
				return fmt.Errorf("steps[%d]: unknown migration %q", index, name)
			}
		}
		if step.Expect != "" && !slices.Contains(planOutcomes, step.Expect) {
			return fmt.Errorf("steps[%d]: unknown plan outcome %q", index, step.Expect)
		}
		if step.ExpectAct != "" && step.ExpectAct != OutcomeOK && step.ExpectAct != OutcomeError {
			return fmt.Errorf("steps[%d]: expect_act must be %s or %s", index, OutcomeOK, OutcomeError)
		}
	default:
		return fmt.Errorf("steps[%d]: plan or exec is required", index)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertLedger:
	case AssertTableExists, AssertTableAbsent:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for %s", index, a.Type)
		}
	case AssertTraceCount:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
