package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Op      string         `json:"op"`
	Depth   int            `json:"depth,omitempty"` // 1 inside an update
	Element string         `json:"element,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"` // "ok", "rolled_back" or an error code
	Result  map[string]any `json:"result,omitempty"`
}

// ElementState is one persisted element after the flow.
type ElementState struct {
	ID         int64          `json:"id"`
	Kind       string         `json:"kind"`
	Label      string         `json:"label,omitempty"`
	Out        int64          `json:"out,omitempty"`
	In         int64          `json:"in,omitempty"`
	Properties map[string]any `json:"properties"`
}

// IndexState is one index association after the flow.
type IndexState struct {
	Key       string `json:"key"`
	Value     any    `json:"value"`
	ElementID int64  `json:"element_id"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Elements and Index describe the graph after the flow.
	Elements []ElementState `json:"elements"`
	Index    []IndexState   `json:"index"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Elements: []ElementState{},
		Index:    []IndexState{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addEvent appends ev to the trace and returns it with its sequence number.
func (r *Result) addEvent(ev TraceEvent) TraceEvent {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
	return ev
}

// countOp returns how many trace events ran op.
func (r *Result) countOp(op string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Op == op {
			n++
		}
	}
	return n
}
