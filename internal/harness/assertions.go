package harness

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/txgraph/internal/value"
)

// checkExpect compares a step's outcome with its expect clause and returns
// one message per mismatch. A step without an expect clause must succeed.
func checkExpect(step Step, ev TraceEvent, err error) []string {
	exp := step.Expect
	if exp == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}

	var msgs []string
	wantOutcome := "ok"
	if exp.Error != "" {
		wantOutcome = exp.Error
	}
	if ev.Outcome != wantOutcome {
		msgs = append(msgs, fmt.Sprintf("outcome: expected %s, got %s (%v)", wantOutcome, ev.Outcome, err))
		return msgs
	}

	if exp.Found != nil {
		found, _ := ev.Result["found"].(bool)
		if found != *exp.Found {
			msgs = append(msgs, fmt.Sprintf("found: expected %t, got %t", *exp.Found, found))
		}
	}
	if exp.Value != nil {
		if msg := compareValue(exp.Value, ev.Result["value"]); msg != "" {
			msgs = append(msgs, "value: "+msg)
		}
	}
	if exp.Keys != nil {
		var got []string
		list, _ := ev.Result["keys"].([]any)
		for _, k := range list {
			got = append(got, k.(string))
		}
		if !slices.Equal(exp.Keys, got) {
			msgs = append(msgs, fmt.Sprintf("keys: expected %v, got %v", exp.Keys, got))
		}
	}
	if exp.IDs != nil {
		var got []int64
		list, _ := ev.Result["ids"].([]any)
		for _, id := range list {
			got = append(got, id.(int64))
		}
		if !slices.Equal(exp.IDs, got) {
			msgs = append(msgs, fmt.Sprintf("ids: expected %v, got %v", exp.IDs, got))
		}
	}
	if exp.Identity != "" {
		if got, _ := ev.Result["identity"].(string); got != exp.Identity {
			msgs = append(msgs, fmt.Sprintf("identity: expected %s, got %s", exp.Identity, got))
		}
	}
	return msgs
}

// evaluateAssertions checks the final graph and returns one message per
// failed assertion.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion, result *Result) []string {
	var msgs []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a, result); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}
	return msgs
}

func (h *Harness) evaluate(ctx context.Context, a Assertion, result *Result) error {
	switch a.Type {
	case AssertLookup:
		v, err := value.FromAny(a.Value)
		if err != nil {
			return err
		}
		elems, err := h.graph.Lookup(ctx, a.Key, v)
		if err != nil {
			return err
		}
		var got []int64
		for _, id := range elementIDs(elems) {
			got = append(got, id.(int64))
		}
		want := a.IDs
		if want == nil {
			want = []int64{}
		}
		if got == nil {
			got = []int64{}
		}
		if !slices.Equal(want, got) {
			return fmt.Errorf("%s=%v: expected ids %v, got %v", a.Key, a.Value, want, got)
		}

	case AssertProperty:
		e, ok := h.elements[a.Element]
		if !ok {
			return fmt.Errorf("element %q was never created", a.Element)
		}
		v, ok := e.Property(a.Key)
		if a.Absent {
			if ok {
				return fmt.Errorf("%s.%s: expected absent, got %v", a.Element, a.Key, value.ToAny(v))
			}
			return nil
		}
		if !ok {
			return fmt.Errorf("%s.%s: expected %v, property is absent", a.Element, a.Key, a.Value)
		}
		if msg := compareValue(a.Value, value.ToAny(v)); msg != "" {
			return fmt.Errorf("%s.%s: %s", a.Element, a.Key, msg)
		}

	case AssertIdentity:
		e, ok := h.elements[a.Element]
		if !ok {
			return fmt.Errorf("element %q was never created", a.Element)
		}
		if got := identityString(e); got != a.Identity {
			return fmt.Errorf("%s: expected identity %s, got %s", a.Element, a.Identity, got)
		}

	case AssertTraceCount:
		if got := result.countOp(a.Op); got != a.Count {
			return fmt.Errorf("op %s: expected %d occurrences, got %d", a.Op, a.Count, got)
		}

	case AssertIndexSize:
		if got := len(result.Index); got != a.Count {
			return fmt.Errorf("expected %d index entries, got %d", a.Count, got)
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// compareValue converts both sides to Values and compares them, so that a
// YAML int matches a stored int64.
func compareValue(want, got any) string {
	if got == nil {
		return fmt.Sprintf("expected %v, got nothing", want)
	}
	wv, err := value.FromAny(want)
	if err != nil {
		return fmt.Sprintf("expected value is invalid: %v", err)
	}
	gv, err := value.FromAny(got)
	if err != nil {
		return fmt.Sprintf("actual value is invalid: %v", err)
	}
	if !value.Equal(wv, gv) {
		return fmt.Sprintf("expected %v, got %v", want, got)
	}
	return ""
}
