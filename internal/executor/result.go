package executor

import (
	"time"

	"github.com/loglos/raiden/internal/scenario"
)

// Status is the terminal outcome of one task.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
	// StatusSkipped marks serial siblings never started because an earlier
	// sibling failed.
	StatusSkipped Status = "skipped"
)

// Result is the outcome of one task, with children for composite tasks.
type Result struct {
	Path     string
	Kind     scenario.Kind
	Status   Status
	Detail   string
	Duration time.Duration
	Children []*Result
}

// Passed reports whether this task and its whole subtree succeeded.
func (r *Result) Passed() bool { return r.Status == StatusPassed }

// Flatten returns the result tree in execution (pre-)order.
func (r *Result) Flatten() []*Result {
	out := []*Result{r}
	for _, c := range r.Children {
		out = append(out, c.Flatten()...)
	}
	return out
}

// Failures returns every non-passed, non-skipped result in the subtree.
func (r *Result) Failures() []*Result {
	var out []*Result
	for _, res := range r.Flatten() {
		if res.Status == StatusFailed || res.Status == StatusTimedOut {
			out = append(out, res)
		}
	}
	return out
}
