// Package assertion evaluates predicates against live network state with
// bounded polling. State mutated by channel operations is only eventually
// visible, so every check is retried on a fixed interval until it holds or a
// deadline expires. Each assertion moves from pending through polling to
// satisfied or timed_out; the terminal verdicts never flip.
package assertion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loglos/raiden/internal/metrics"
	"github.com/loglos/raiden/internal/node"
	"github.com/loglos/raiden/internal/pfs"
)

// Observer is the surface the engine polls. *node.Controller satisfies it.
type Observer interface {
	QueryChannel(ctx context.Context, peer string) (node.ChannelState, error)
	PFSRoutes(ctx context.Context, target string, amount uint64, maxPaths int) ([]pfs.Route, error)
	PFSHistory(ctx context.Context, target string) ([]pfs.HistoryEntry, error)
}

// Record captures what an assertion saw, for failure diagnostics.
type Record struct {
	Expected string
	Observed string
	Polls    int
	Elapsed  time.Duration
}

// TimeoutError means the predicate never became true within the deadline.
// It carries the last observation so the report can show expected vs actual.
type TimeoutError struct {
	Record Record
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("assertion timed out after %s (%d polls): expected %s, last observed %s",
		e.Record.Elapsed.Round(time.Millisecond), e.Record.Polls, e.Record.Expected, e.Record.Observed)
}

// OrderMismatchError means the PFS history had enough entries but their
// routes did not match the expected sequence. Route content is not expected
// to change once present, so this is terminal and not retried.
type OrderMismatchError struct {
	Record Record
}

func (e *OrderMismatchError) Error() string {
	return fmt.Sprintf("pfs history route mismatch: expected %s, observed %s", e.Record.Expected, e.Record.Observed)
}

// Engine runs assertions with a fixed poll interval and a per-assertion
// deadline. The deadline default is generous on purpose: channel operations
// only settle after on-chain confirmation.
type Engine struct {
	Interval time.Duration
	Deadline time.Duration
}

// NewEngine returns an Engine with production defaults.
func NewEngine() *Engine {
	return &Engine{Interval: 2 * time.Second, Deadline: 2 * time.Minute}
}

// Channel polls obs's view of its channel toward peer until total deposit,
// balance and state all match expected exactly.
func (e *Engine) Channel(ctx context.Context, obs Observer, peer string, expected node.ChannelState) (Record, error) {
	rec := Record{
		Expected: fmt.Sprintf("total_deposit=%d balance=%d state=%s",
			expected.TotalDeposit, expected.Balance, expected.State),
		Observed: "nothing",
	}
	err := e.run(ctx, &rec, func(ctx context.Context) error {
		st, err := obs.QueryChannel(ctx, peer)
		if err != nil {
			return err
		}
		rec.Observed = fmt.Sprintf("total_deposit=%d balance=%d state=%s", st.TotalDeposit, st.Balance, st.State)
		if st.TotalDeposit != expected.TotalDeposit || st.Balance != expected.Balance || st.State != expected.State {
			return fmt.Errorf("channel state not yet %s", rec.Expected)
		}
		return nil
	})
	return rec, err
}

// Routes polls the path-finding service until it returns exactly
// expectedPaths routes for the request. Fewer or more keeps polling: an empty
// answer right after a topology change just means state has not propagated.
func (e *Engine) Routes(ctx context.Context, obs Observer, target string, amount uint64, maxPaths, expectedPaths int) (Record, error) {
	rec := Record{
		Expected: fmt.Sprintf("%d routes", expectedPaths),
		Observed: "nothing",
	}
	err := e.run(ctx, &rec, func(ctx context.Context) error {
		routes, err := obs.PFSRoutes(ctx, target, amount, maxPaths)
		if err != nil {
			return err
		}
		rec.Observed = fmt.Sprintf("%d routes", len(routes))
		if len(routes) != expectedPaths {
			return fmt.Errorf("got %d routes, want %d", len(routes), expectedPaths)
		}
		return nil
	})
	return rec, err
}

// History polls the service's request log until at least requestCount entries
// exist, then compares the most recent requestCount routes positionally
// against expected. A content mismatch is an OrderMismatchError and is not
// retried; only the appearance of entries is waited for.
func (e *Engine) History(ctx context.Context, obs Observer, target string, requestCount int, expected [][]string) (Record, error) {
	rec := Record{
		Expected: formatRoutes(expected),
		Observed: "no entries",
	}
	err := e.run(ctx, &rec, func(ctx context.Context) error {
		entries, err := obs.PFSHistory(ctx, target)
		if err != nil {
			return err
		}
		rec.Observed = fmt.Sprintf("%d entries", len(entries))
		if len(entries) < requestCount {
			return fmt.Errorf("got %d history entries, want at least %d", len(entries), requestCount)
		}
		recent := entries[len(entries)-requestCount:]
		observed := make([][]string, len(recent))
		for i, entry := range recent {
			observed[i] = entry.Route
		}
		rec.Observed = formatRoutes(observed)
		if !routesEqual(observed, expected) {
			return backoff.Permanent(&OrderMismatchError{Record: rec})
		}
		return nil
	})
	return rec, err
}

// run drives one assertion to a terminal state.
func (e *Engine) run(ctx context.Context, rec *Record, attempt func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.Deadline)
	defer cancel()

	start := time.Now()
	err := backoff.Retry(func() error {
		rec.Polls++
		metrics.AssertionPolls.Inc()
		return attempt(ctx)
	}, backoff.WithContext(backoff.NewConstantBackOff(e.Interval), ctx))
	rec.Elapsed = time.Since(start)
	metrics.AssertionWait.Observe(rec.Elapsed.Seconds())

	if err == nil {
		return nil
	}
	var mismatch *OrderMismatchError
	if errors.As(err, &mismatch) {
		mismatch.Record = *rec
		return mismatch
	}
	if ctx.Err() != nil {
		return &TimeoutError{Record: *rec}
	}
	return err
}

// routesEqual is positional, ordered equality on both levels.
func routesEqual(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

func formatRoutes(routes [][]string) string {
	parts := make([]string, len(routes))
	for i, r := range routes {
		parts[i] = "[" + strings.Join(r, "->") + "]"
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
