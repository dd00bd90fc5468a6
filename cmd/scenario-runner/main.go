// Command scenario-runner executes declarative payment-channel scenarios
// against a pool of nodes and reports per-task outcomes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/loglos/raiden/internal/api"
	"github.com/loglos/raiden/internal/metrics"
	"github.com/loglos/raiden/internal/report"
	"github.com/loglos/raiden/internal/runner"
	"github.com/loglos/raiden/internal/scenario"
)

var (
	flagLogLevel     string
	flagChainRPC     string
	flagListen       string
	flagPushAddr     string
	flagTimeout      time.Duration
	flagPollInterval time.Duration
	flagDeadline     time.Duration
	flagWatch        bool

	rootCmd = &cobra.Command{
		Use:           "scenario-runner",
		Short:         "Scenario-driven integration test runner for payment-channel nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario file",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}

	validateCmd = &cobra.Command{
		Use:   "validate <scenario.yaml>",
		Short: "Parse and validate a scenario file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := scenario.NewLoader(args[0]); err != nil {
				return err
			}
			fmt.Printf("%s: ok\n", args[0])
			return nil
		},
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List supported task kinds",
		Run: func(cmd *cobra.Command, args []string) {
			for _, kind := range scenario.Kinds() {
				fmt.Println(kind)
			}
		},
	}
)

func init() {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&flagChainRPC, "chain-rpc", "", "chain JSON-RPC endpoint for wait_blocks (overrides the document)")
	fs.StringVar(&flagListen, "listen", "", "address for the status/metrics HTTP endpoint (empty = disabled)")
	fs.StringVar(&flagPushAddr, "metrics-push-addr", "", "prometheus push gateway address (empty = no push)")
	fs.DurationVar(&flagTimeout, "timeout", 0, "global run timeout (overrides the document, 0 = document setting)")
	fs.DurationVar(&flagPollInterval, "poll-interval", 0, "assertion poll interval (0 = default)")
	fs.DurationVar(&flagDeadline, "assertion-deadline", 0, "per-assertion deadline (0 = default)")
	fs.BoolVar(&flagWatch, "watch", false, "re-run the scenario whenever the file changes")
	runCmd.Flags().AddFlagSet(fs)

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(runCmd, validateCmd, listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runScenario(cmd *cobra.Command, args []string) error {
	logger := newLogger(flagLogLevel)
	slog.SetDefault(logger)

	loader, err := scenario.NewLoader(args[0])
	if err != nil {
		return err
	}

	r := runner.New(logger, runner.Options{
		ChainRPC:          flagChainRPC,
		Timeout:           flagTimeout,
		PollInterval:      flagPollInterval,
		AssertionDeadline: flagDeadline,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flagListen != "" {
		srv := &http.Server{
			Addr:         flagListen,
			Handler:      api.New(r),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			logger.Info("status endpoint listening", "addr", flagListen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status endpoint error", "err", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	rep, err := runOnce(ctx, r, loader.Document())
	if err != nil {
		return err
	}

	if !flagWatch {
		if !rep.Passed() {
			return fmt.Errorf("scenario %s", rep.Verdict())
		}
		return nil
	}

	// Watch mode: keep re-running on file changes until interrupted.
	reruns := make(chan *scenario.Document, 1)
	loader.OnChange(func(doc *scenario.Document) {
		select {
		case reruns <- doc:
		default: // a re-run is already queued
		}
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		return fmt.Errorf("watch mode unavailable: %w", err)
	}
	defer stopWatch()

	logger.Info("watching for changes", "file", loader.Path())
	for {
		select {
		case doc := <-reruns:
			if _, err := runOnce(ctx, r, doc); err != nil {
				logger.Error("run failed", "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func runOnce(ctx context.Context, r *runner.Runner, doc *scenario.Document) (*report.Report, error) {
	rep, err := r.Run(ctx, doc)
	if err != nil {
		return nil, err
	}
	rep.Render(os.Stdout)
	if flagPushAddr != "" {
		if err := metrics.Push(flagPushAddr, "scenario-runner"); err != nil {
			slog.Warn("metrics push failed", "err", err)
		}
	}
	return rep, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
