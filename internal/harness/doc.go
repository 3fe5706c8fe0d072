// Package harness runs scripted element scenarios against a fresh graph.
//
// A scenario is a YAML file listing element operations (add_vertex, set,
// remove, delete, lookup, update and so on) with optional expectations on
// each step, followed by assertions on the final graph. Every scenario runs
// in its own in-memory SQLite database with fixed transaction ids, so the
// trace it produces is deterministic and can be compared against a golden
// file:
//
//	s, err := harness.LoadScenario("testdata/scenarios/basic.yaml")
//	result, err := harness.Run(s)
//	harness.AssertGolden(t, s.Name, result)
//
// Steps never abort the run. A step whose outcome differs from its expect
// clause is recorded as an error on the Result and execution continues.
package harness
