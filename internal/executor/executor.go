// Package executor interprets the scenario task tree: serial and parallel
// composition, waits, channel operations and assertion dispatch.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/loglos/raiden/internal/assertion"
	"github.com/loglos/raiden/internal/metrics"
	"github.com/loglos/raiden/internal/node"
	"github.com/loglos/raiden/internal/scenario"
)

// Node is the per-participant surface the executor drives.
// *node.Controller satisfies it.
type Node interface {
	assertion.Observer
	Address(ctx context.Context) (string, error)
	OpenChannel(ctx context.Context, peer string, totalDeposit uint64) error
	Deposit(ctx context.Context, peer string, totalDeposit uint64) error
	Withdraw(ctx context.Context, peer string, totalWithdraw uint64) error
	CloseChannel(ctx context.Context, peer string) error
	Transfer(ctx context.Context, peer string, amount uint64) (string, error)
}

// Pool resolves task node indices to controllers. Index stability for the
// lifetime of a run is the pool's contract.
type Pool interface {
	Node(i int) (Node, error)
	Len() int
}

// BlockObserver gates wait_blocks tasks.
type BlockObserver interface {
	WaitBlocks(ctx context.Context, n int) error
}

// Executor walks a task tree and produces a Result tree.
type Executor struct {
	pool     Pool
	chain    BlockObserver
	asserts  *assertion.Engine
	maxPaths int
	log      *slog.Logger
}

// New creates an Executor. maxPaths caps path-finding queries and comes from
// the document's node default options.
func New(pool Pool, chain BlockObserver, asserts *assertion.Engine, maxPaths int, log *slog.Logger) *Executor {
	if maxPaths <= 0 {
		maxPaths = 5
	}
	return &Executor{pool: pool, chain: chain, asserts: asserts, maxPaths: maxPaths, log: log}
}

// Run executes the root task and returns its result tree. The context's
// deadline is the global run timeout: on expiry all in-flight operations are
// cancelled and their tasks report timed_out.
func (x *Executor) Run(ctx context.Context, root *scenario.Task) *Result {
	return x.execute(ctx, root, "scenario."+string(root.Kind))
}

func (x *Executor) execute(ctx context.Context, t *scenario.Task, path string) *Result {
	start := time.Now()
	var res *Result
	switch t.Kind {
	case scenario.KindSerial:
		res = x.serial(ctx, t.Serial, path)
	case scenario.KindParallel:
		res = x.parallel(ctx, t.Parallel, path)
	default:
		res = x.leaf(ctx, t, path)
	}
	res.Duration = time.Since(start)
	metrics.TasksExecuted.WithLabelValues(string(res.Kind), string(res.Status)).Inc()
	if res.Status == StatusPassed {
		x.log.Info("task passed", "task", res.Path, "duration", res.Duration.Round(time.Millisecond))
	} else {
		x.log.Warn("task "+string(res.Status), "task", res.Path, "detail", res.Detail)
	}
	return res
}

// serial runs children strictly in order and fails fast: a child failure
// aborts the remaining siblings (reported as skipped) and, with repeat set,
// all later passes.
func (x *Executor) serial(ctx context.Context, t *scenario.SerialTask, path string) *Result {
	res := &Result{Path: path, Kind: scenario.KindSerial, Status: StatusPassed}
	passes := t.Passes()

	for pass := 0; pass < passes; pass++ {
		prefix := path
		if passes > 1 {
			prefix = fmt.Sprintf("%s.pass[%d]", path, pass)
		}
		aborted := false
		for i, child := range t.Tasks {
			childPath := fmt.Sprintf("%s.tasks[%d].%s", prefix, i, child.Kind)
			if aborted {
				skip := &Result{Path: childPath, Kind: child.Kind, Status: StatusSkipped, Detail: "earlier sibling failed"}
				res.Children = append(res.Children, skip)
				continue
			}
			cr := x.execute(ctx, child, childPath)
			res.Children = append(res.Children, cr)
			if !cr.Passed() {
				res.Status = worse(res.Status, cr.Status)
				res.Detail = fmt.Sprintf("aborted at %s", cr.Path)
				aborted = true
			}
		}
		if aborted {
			return res
		}
	}
	return res
}

// parallel starts one goroutine per child and joins on all of them. Started
// siblings are never cancelled by a sibling failure; every failure is
// collected so the report shows all of them, not just the first.
func (x *Executor) parallel(ctx context.Context, t *scenario.ParallelTask, path string) *Result {
	res := &Result{Path: path, Kind: scenario.KindParallel, Status: StatusPassed}
	res.Children = make([]*Result, len(t.Tasks))

	var wg sync.WaitGroup
	for i, child := range t.Tasks {
		wg.Add(1)
		go func(i int, child *scenario.Task) {
			defer wg.Done()
			childPath := fmt.Sprintf("%s.tasks[%d].%s", path, i, child.Kind)
			res.Children[i] = x.execute(ctx, child, childPath)
		}(i, child)
	}
	wg.Wait()

	var failures *multierror.Error
	for _, cr := range res.Children {
		if !cr.Passed() {
			res.Status = worse(res.Status, cr.Status)
			failures = multierror.Append(failures, fmt.Errorf("%s: %s", cr.Path, cr.Detail))
		}
	}
	if failures != nil {
		res.Detail = fmt.Sprintf("%d of %d children failed: %s", failures.Len(), len(t.Tasks), failures.Error())
	}
	return res
}

func (x *Executor) leaf(ctx context.Context, t *scenario.Task, path string) *Result {
	res := &Result{Path: path, Kind: t.Kind, Status: StatusPassed}
	detail, err := x.dispatch(ctx, t)
	res.Detail = detail
	if err != nil {
		res.Status = failureStatus(ctx, err)
		res.Detail = err.Error()
	}
	return res
}

func (x *Executor) dispatch(ctx context.Context, t *scenario.Task) (string, error) {
	switch t.Kind {
	case scenario.KindOpenChannel:
		from, peer, err := x.pair(ctx, t.OpenChannel.From, t.OpenChannel.To)
		if err != nil {
			return "", err
		}
		return "", from.OpenChannel(ctx, peer, t.OpenChannel.TotalDeposit)

	case scenario.KindDeposit:
		from, peer, err := x.pair(ctx, t.Deposit.From, t.Deposit.To)
		if err != nil {
			return "", err
		}
		return "", from.Deposit(ctx, peer, t.Deposit.TotalDeposit)

	case scenario.KindWithdraw:
		from, peer, err := x.pair(ctx, t.Withdraw.From, t.Withdraw.To)
		if err != nil {
			return "", err
		}
		return "", from.Withdraw(ctx, peer, t.Withdraw.TotalWithdraw)

	case scenario.KindCloseChannel:
		from, peer, err := x.pair(ctx, t.CloseChannel.From, t.CloseChannel.To)
		if err != nil {
			return "", err
		}
		return "", from.CloseChannel(ctx, peer)

	case scenario.KindTransfer:
		from, peer, err := x.pair(ctx, t.Transfer.From, t.Transfer.To)
		if err != nil {
			return "", err
		}
		id, err := from.Transfer(ctx, peer, t.Transfer.Amount)
		if err != nil {
			return "", err
		}
		return "identifier=" + id, nil

	case scenario.KindWait:
		select {
		case <-time.After(time.Duration(t.Wait.Seconds) * time.Second):
			return "", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}

	case scenario.KindWaitBlocks:
		return "", x.chain.WaitBlocks(ctx, t.WaitBlocks.Blocks)

	case scenario.KindAssert:
		from, peer, err := x.pair(ctx, t.Assert.From, t.Assert.To)
		if err != nil {
			return "", err
		}
		expected := node.ChannelState{
			TotalDeposit: t.Assert.TotalDeposit,
			Balance:      t.Assert.Balance,
			State:        t.Assert.State,
		}
		rec, err := x.asserts.Channel(ctx, from, peer, expected)
		return recordDetail(rec), err

	case scenario.KindAssertPFSRoutes:
		from, target, err := x.pair(ctx, t.AssertPFSRoutes.From, t.AssertPFSRoutes.To)
		if err != nil {
			return "", err
		}
		rec, err := x.asserts.Routes(ctx, from, target, t.AssertPFSRoutes.Amount, x.maxPaths, t.AssertPFSRoutes.ExpectedPaths)
		return recordDetail(rec), err

	case scenario.KindAssertPFSHistory:
		source, target, err := x.pair(ctx, t.AssertPFSHistory.Source, t.AssertPFSHistory.Target)
		if err != nil {
			return "", err
		}
		expected, err := x.resolveRoutes(ctx, t.AssertPFSHistory.ExpectedRoutes)
		if err != nil {
			return "", err
		}
		rec, err := x.asserts.History(ctx, source, target, t.AssertPFSHistory.RequestCount, expected)
		return recordDetail(rec), err

	default:
		return "", fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

// pair resolves a (from, to) index pair into the issuing controller and the
// peer's address.
func (x *Executor) pair(ctx context.Context, from, to int) (Node, string, error) {
	src, err := x.pool.Node(from)
	if err != nil {
		return nil, "", err
	}
	dst, err := x.pool.Node(to)
	if err != nil {
		return nil, "", err
	}
	peer, err := dst.Address(ctx)
	if err != nil {
		return nil, "", err
	}
	return src, peer, nil
}

// resolveRoutes maps index routes from the document to address routes.
func (x *Executor) resolveRoutes(ctx context.Context, routes [][]int) ([][]string, error) {
	out := make([][]string, len(routes))
	for i, route := range routes {
		out[i] = make([]string, len(route))
		for j, idx := range route {
			n, err := x.pool.Node(idx)
			if err != nil {
				return nil, err
			}
			addr, err := n.Address(ctx)
			if err != nil {
				return nil, err
			}
			out[i][j] = addr
		}
	}
	return out, nil
}

func recordDetail(rec assertion.Record) string {
	return fmt.Sprintf("satisfied after %d polls (%s)", rec.Polls, rec.Elapsed.Round(time.Millisecond))
}

// failureStatus distinguishes assertion/global timeouts from hard failures.
func failureStatus(ctx context.Context, err error) Status {
	var timeout *assertion.TimeoutError
	if errors.As(err, &timeout) {
		return StatusTimedOut
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return StatusTimedOut
	}
	return StatusFailed
}

func worse(a, b Status) Status {
	if a == StatusFailed || b == StatusFailed {
		return StatusFailed
	}
	if a == StatusTimedOut || b == StatusTimedOut {
		return StatusTimedOut
	}
	return b
}
