// Package report renders the outcome of a scenario run for humans.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/loglos/raiden/internal/executor"
)

const maxDetailWidth = 96

// Report aggregates one run's outcome.
type Report struct {
	RunID     string
	Scenario  string
	StartedAt time.Time
	Duration  time.Duration
	Root      *executor.Result
}

// Passed reports the overall verdict: the run passed iff the root task passed.
func (r *Report) Passed() bool {
	return r.Root != nil && r.Root.Passed()
}

// Verdict returns "passed" or the root's terminal status.
func (r *Report) Verdict() string {
	if r.Root == nil {
		return string(executor.StatusFailed)
	}
	return string(r.Root.Status)
}

// Render writes the per-task table and verdict to w.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "scenario %q, run %s\n\n", r.Scenario, r.RunID)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"TASK", "STATUS", "DURATION", "DETAIL"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	appendRows(table, r.Root, 0)
	table.Render()

	fmt.Fprintf(w, "\nverdict: %s (%s)\n", r.Verdict(), r.Duration.Round(time.Millisecond))
	for _, f := range r.Root.Failures() {
		fmt.Fprintf(w, "  %s: %s: %s\n", f.Status, f.Path, f.Detail)
	}
}

func appendRows(table *tablewriter.Table, res *executor.Result, depth int) {
	name := lastSegment(res.Path)
	table.Append([]string{
		strings.Repeat("  ", depth) + name,
		string(res.Status),
		res.Duration.Round(time.Millisecond).String(),
		truncate(res.Detail, maxDetailWidth),
	})
	for _, c := range res.Children {
		appendRows(table, c, depth+1)
	}
}

// lastSegment trims a task path down to its final element, e.g.
// "scenario.serial.tasks[1].open_channel" renders as "tasks[1].open_channel".
func lastSegment(path string) string {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return path
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// truncate shortens s to at most n runes. Details can carry arbitrary node
// error bodies, so cutting must not split a multi-byte rune.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
