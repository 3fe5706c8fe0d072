package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of element operations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Index selects the index implementation: "sql" (default) or "memory".
	Index string `yaml:"index,omitempty"`

	// Flow holds the steps, executed in order.
	Flow []Step `yaml:"flow"`

	// Assertions are evaluated against the graph after the flow.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one element operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// As names the element created by add_vertex or add_edge.
	As string `yaml:"as,omitempty"`

	// Element names the element the operation targets.
	Element string `yaml:"element,omitempty"`

	// Key and Value are the property arguments.
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Out, In and Label are the add_edge arguments.
	Out   string `yaml:"out,omitempty"`
	In    string `yaml:"in,omitempty"`
	Label string `yaml:"label,omitempty"`

	// Steps are run inside one transaction by an update step.
	Steps []Step `yaml:"steps,omitempty"`

	// Rollback makes an update step abort after its steps succeed.
	Rollback bool `yaml:"rollback,omitempty"`

	// Expect validates the outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the outcome a step must have. Only the fields that are
// set are checked.
type Expect struct {
	// Error is the expected error code (e.g. "INVALID_ARGUMENT"), or
	// "rolled_back" for an update step with rollback set.
	Error string `yaml:"error,omitempty"`

	// Found is the expected presence flag of get and remove.
	Found *bool `yaml:"found,omitempty"`

	// Value is the expected value of get and remove.
	Value any `yaml:"value,omitempty"`

	// Keys is the expected result of keys.
	Keys []string `yaml:"keys,omitempty"`

	// IDs is the expected result of lookup.
	IDs []int64 `yaml:"ids,omitempty"`

	// Identity is the expected result of id, e.g. "#1".
	Identity string `yaml:"identity,omitempty"`
}

// Assertion validates the final graph.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Element names the element checked by property and identity.
	Element string `yaml:"element,omitempty"`

	// Key and Value select the property or index association.
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Absent asserts that the property is not set.
	Absent bool `yaml:"absent,omitempty"`

	// IDs is the expected lookup result.
	IDs []int64 `yaml:"ids,omitempty"`

	// Identity is the expected identity string.
	Identity string `yaml:"identity,omitempty"`

	// Op and Count are used by trace_count.
	Op    string `yaml:"op,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// Step operations.
const (
	OpAddVertex = "add_vertex"
	OpAddEdge   = "add_edge"
	OpSet       = "set"
	OpRemove    = "remove"
	OpGet       = "get"
	OpKeys      = "keys"
	OpID        = "id"
	OpSave      = "save"
	OpDelete    = "delete"
	OpLookup    = "lookup"
	OpUpdate    = "update"
)

// Assertion types.
const (
	AssertLookup     = "lookup"
	AssertProperty   = "property"
	AssertIdentity   = "identity"
	AssertTraceCount = "trace_count"
	AssertIndexSize  = "index_size"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
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

// validateScenario checks required fields and element references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Flow) == 0 {
		return errors.New("flow must contain at least one step")
	}
	switch s.Index {
	case "", "sql", "memory":
	default:
		return fmt.Errorf("index must be sql or memory, got %q", s.Index)
	}

	defined := make(map[string]bool)
	if err := validateSteps(s.Flow, defined, "flow"); err != nil {
		return err
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, defined); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateSteps(steps []Step, defined map[string]bool, path string) error {
	for i, step := range steps {
		where := fmt.Sprintf("%s[%d] (%s)", path, i, step.Op)
		ref := func(name, field string) error {
			if name == "" {
				return fmt.Errorf("%s: %s is required", where, field)
			}
			if !defined[name] {
				return fmt.Errorf("%s: %s %q is not defined by an earlier step", where, field, name)
			}
			return nil
		}

		switch step.Op {
		case OpAddVertex:
			if step.As == "" {
				return fmt.Errorf("%s: as is required", where)
			}
			defined[step.As] = true
		case OpAddEdge:
			if step.As == "" {
				return fmt.Errorf("%s: as is required", where)
			}
			if err := ref(step.Out, "out"); err != nil {
				return err
			}
			if err := ref(step.In, "in"); err != nil {
				return err
			}
			defined[step.As] = true
		case OpSet:
			if err := ref(step.Element, "element"); err != nil {
				return err
			}
			if step.Value == nil {
				return fmt.Errorf("%s: value is required", where)
			}
		case OpRemove, OpGet, OpKeys, OpID, OpSave, OpDelete:
			if err := ref(step.Element, "element"); err != nil {
				return err
			}
		case OpLookup:
			if step.Key == "" || step.Value == nil {
				return fmt.Errorf("%s: key and value are required", where)
			}
		case OpUpdate:
			if len(step.Steps) == 0 {
				return fmt.Errorf("%s: steps must not be empty", where)
			}
			if err := validateSteps(step.Steps, defined, where+".steps"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s: unknown op", where)
		}
	}
	return nil
}

func validateAssertion(a Assertion, defined map[string]bool) error {
	switch a.Type {
	case AssertLookup:
		if a.Key == "" || a.Value == nil {
			return errors.New("lookup: key and value are required")
		}
	case AssertProperty:
		if !defined[a.Element] {
			return fmt.Errorf("property: element %q is not defined", a.Element)
		}
		if a.Key == "" {
			return errors.New("property: key is required")
		}
		if a.Absent == (a.Value != nil) {
			return errors.New("property: exactly one of value and absent is required")
		}
	case AssertIdentity:
		if !defined[a.Element] {
			return fmt.Errorf("identity: element %q is not defined", a.Element)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return errors.New("trace_count: op is required")
		}
	case AssertIndexSize:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
