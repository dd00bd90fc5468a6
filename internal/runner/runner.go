// Package runner is the top-level driver: it provisions the node pool,
// resolves the token, executes the task tree and aggregates the report.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loglos/raiden/internal/assertion"
	"github.com/loglos/raiden/internal/chain"
	"github.com/loglos/raiden/internal/executor"
	"github.com/loglos/raiden/internal/metrics"
	"github.com/loglos/raiden/internal/node"
	"github.com/loglos/raiden/internal/pfs"
	"github.com/loglos/raiden/internal/report"
	"github.com/loglos/raiden/internal/scenario"
)

// udcDefaultDeposit is the service-token amount deposited per node when the
// document enables UDC auto-deposit.
const udcDefaultDeposit = 10_000

// Options override document settings from the CLI.
type Options struct {
	ChainRPC          string
	Timeout           time.Duration // 0 = use document setting
	PollInterval      time.Duration // assertion poll interval
	AssertionDeadline time.Duration
}

// RunStatus is a snapshot of the runner for the status endpoint.
type RunStatus struct {
	Running  bool   `json:"running"`
	RunID    string `json:"run_id,omitempty"`
	Scenario string `json:"scenario,omitempty"`
	Verdict  string `json:"verdict,omitempty"`
}

// Runner executes scenario documents one at a time.
type Runner struct {
	log  *slog.Logger
	opts Options

	mu      sync.RWMutex
	running bool
	current RunStatus
	last    *report.Report
}

// New creates a Runner.
func New(log *slog.Logger, opts Options) *Runner {
	return &Runner{log: log, opts: opts}
}

// Status returns a snapshot of the current or most recent run.
func (r *Runner) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// LastReport returns the report of the most recently finished run, nil before
// the first run completes.
func (r *Runner) LastReport() *report.Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Run executes one validated document. The returned report is always
// populated when err is nil; the verdict is in the report, not the error.
// Errors are reserved for setup problems that prevented the task tree from
// running at all.
func (r *Runner) Run(ctx context.Context, doc *scenario.Document) (*report.Report, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, fmt.Errorf("a run is already in progress")
	}
	runID := uuid.New().String()
	r.running = true
	r.current = RunStatus{Running: true, RunID: runID, Scenario: doc.Name}
	r.mu.Unlock()

	rep, err := r.run(ctx, runID, doc)

	r.mu.Lock()
	r.running = false
	r.current.Running = false
	if rep != nil {
		r.current.Verdict = rep.Verdict()
		r.last = rep
	} else {
		r.current.Verdict = "error"
	}
	r.mu.Unlock()
	return rep, err
}

func (r *Runner) run(ctx context.Context, runID string, doc *scenario.Document) (*report.Report, error) {
	log := r.log.With("run", runID, "scenario", doc.Name)
	log.Info("starting run",
		"nodes", doc.Nodes.PoolSize(),
		"mode", doc.Nodes.Mode,
		"chain", doc.Settings.Chain,
		"gas_price", doc.Settings.GasPrice.String())

	var pfsClient *pfs.Client
	if url := doc.Settings.Services.PFS.URL; url != "" {
		pfsClient = pfs.New(url)
	}

	pool, err := node.Provision(ctx, doc.Nodes, pfsClient, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := pool.Teardown(teardownCtx); err != nil {
			log.Warn("pool teardown incomplete", "err", err)
		}
	}()

	if err := r.setupToken(ctx, doc, pool, log); err != nil {
		return nil, err
	}

	observer, err := r.observer(doc)
	if err != nil {
		return nil, err
	}

	engine := assertion.NewEngine()
	if r.opts.PollInterval > 0 {
		engine.Interval = r.opts.PollInterval
	}
	if r.opts.AssertionDeadline > 0 {
		engine.Deadline = r.opts.AssertionDeadline
	}

	runCtx := ctx
	if timeout := r.timeout(doc); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	exec := executor.New(poolAdapter{pool}, observer, engine, doc.Nodes.DefaultOptions.PathfindingMaxPaths, log)
	started := time.Now()
	root := exec.Run(runCtx, doc.Scenario)

	rep := &report.Report{
		RunID:     runID,
		Scenario:  doc.Name,
		StartedAt: started,
		Duration:  time.Since(started),
		Root:      root,
	}
	metrics.Runs.WithLabelValues(rep.Verdict()).Inc()
	log.Info("run finished", "verdict", rep.Verdict(), "duration", rep.Duration.Round(time.Millisecond))
	return rep, nil
}

// setupToken resolves the token under test and performs UDC deposits when the
// document asks for them.
func (r *Runner) setupToken(ctx context.Context, doc *scenario.Document, pool *node.Pool, log *slog.Logger) error {
	token := doc.Token.Address
	if token == "" {
		first, err := pool.Node(0)
		if err != nil {
			return err
		}
		tokens, err := first.Tokens(ctx)
		if err != nil {
			return fmt.Errorf("token discovery: %w", err)
		}
		if len(tokens) == 0 {
			return fmt.Errorf("token discovery: node 0 has no registered tokens")
		}
		token = tokens[0]
		log.Info("token auto-selected", "token", token)
	} else {
		log.Info("token reused", "token", token)
	}

	if doc.Settings.Services.UDC.Enable && doc.Settings.Services.UDC.Token.Deposit {
		for i := 0; i < pool.Len(); i++ {
			c, err := pool.Node(i)
			if err != nil {
				return err
			}
			if err := c.DepositUDC(ctx, udcDefaultDeposit); err != nil {
				return fmt.Errorf("udc deposit on node %d: %w", i, err)
			}
		}
		log.Info("udc deposits done", "nodes", pool.Len(), "amount", udcDefaultDeposit)
	}
	return nil
}

// observer builds the block-height observer, required only when the tree
// contains wait_blocks tasks.
func (r *Runner) observer(doc *scenario.Document) (executor.BlockObserver, error) {
	rpc := r.opts.ChainRPC
	if rpc == "" {
		rpc = doc.Settings.ChainRPC
	}
	if rpc == "" {
		if doc.Scenario.Contains(scenario.KindWaitBlocks) {
			return nil, fmt.Errorf("scenario uses wait_blocks but no chain RPC endpoint is configured")
		}
		return noChain{}, nil
	}
	return chain.New(rpc), nil
}

func (r *Runner) timeout(doc *scenario.Document) time.Duration {
	if r.opts.Timeout > 0 {
		return r.opts.Timeout
	}
	return time.Duration(doc.Settings.TimeoutSec) * time.Second
}

// poolAdapter narrows *node.Pool to the executor's interface.
type poolAdapter struct {
	pool *node.Pool
}

func (p poolAdapter) Node(i int) (executor.Node, error) {
	c, err := p.pool.Node(i)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p poolAdapter) Len() int { return p.pool.Len() }

// noChain rejects wait_blocks when no endpoint was configured. Reaching it
// means validation above missed a path; fail loudly instead of hanging.
type noChain struct{}

func (noChain) WaitBlocks(ctx context.Context, n int) error {
	return fmt.Errorf("wait_blocks: no chain RPC endpoint configured")
}
