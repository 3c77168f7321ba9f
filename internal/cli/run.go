package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/drawkeeper/internal/auction"
	"github.com/roach88/drawkeeper/internal/config"
	"github.com/roach88/drawkeeper/internal/keeper"
	"github.com/roach88/drawkeeper/internal/metrics"
	"github.com/roach88/drawkeeper/internal/rng"
	"github.com/roach88/drawkeeper/internal/store"
	"github.com/roach88/drawkeeper/internal/workpool"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	EnvFile  string
	Database string
	Passes   int

	// Now overrides the wall clock used to place the first draw close when
	// the config leaves it unset (for testing).
	Now func() time.Time
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run the auction with its keeper",
		Long: `Run the draw auction against an in-memory work pool and let the keeper
trigger and complete draws on its cron schedule.

State is persisted to the SQLite database named by store.path (or --db)
and restored on the next start. When metrics.addr is set, Prometheus
metrics are served on /metrics.

With --passes the keeper runs that many times back to back and the
command exits instead of waiting for a signal.

Example:
  drawkeeper run ./drawkeeper.cue
  drawkeeper run ./drawkeeper.cue --db /tmp/draws.db --verbose
  drawkeeper run ./drawkeeper.cue --passes 2`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the config")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides store.path)")
	cmd.Flags().IntVar(&opts.Passes, "passes", 0, "run the keeper this many times and exit")

	return cmd
}

// daemon is everything run wires together.
type daemon struct {
	machine   *auction.Machine
	pool      *workpool.Pool
	keeper    *keeper.Keeper
	collector *metrics.Collector
	store     *store.Store
}

func (d *daemon) close() {
	if d.store == nil {
		return
	}
	if err := d.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

func runDaemon(opts *RunOptions, path string, cmd *cobra.Command) error {
	if err := config.LoadDotEnv(opts.EnvFile); err != nil {
		return WrapExitError(ExitCommandError, "failed to load env file", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.JSON, opts.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid log settings", err)
	}
	slog.SetDefault(logger)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	d, err := buildDaemon(ctx, cfg, logger, now())
	if err != nil {
		return err
	}
	defer d.close()

	if opts.Passes > 0 {
		return runPasses(ctx, d, opts, cmd)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(ctx, cfg.Metrics.Addr, d.collector, logger)
		defer stop()
	}

	if cfg.Keeper.Enabled {
		sched, err := keeper.NewScheduler(ctx, d.keeper, cfg.Keeper.Schedule)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid keeper schedule", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	logger.Info("drawkeeper started", "store", cfg.Store.Path, "keeper", cfg.Keeper.Enabled, "metrics", cfg.Metrics.Addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Auction running. Press Ctrl-C to stop.")

	<-ctx.Done()
	logger.Info("drawkeeper stopped gracefully")
	return nil
}

// buildDaemon wires the work pool, randomness, store, metrics, machine and
// keeper described by cfg. An unset pool.first_close places the close of
// the due draw at now.
func buildDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger, now time.Time) (*daemon, error) {
	auctionCfg, err := cfg.AuctionConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid auction config", err)
	}
	params, firstClose, err := cfg.PoolSettings()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid pool config", err)
	}

	d := &daemon{collector: metrics.New()}
	resume := resumePoint{dueDraw: 1}
	if cfg.Store.Path != "" {
		logger.Info("opening database", "path", cfg.Store.Path)
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		d.store = st
		if resume, err = readResumePoint(ctx, st); err != nil {
			d.close()
			return nil, WrapExitError(ExitCommandError, "failed to read database", err)
		}
	}
	if firstClose.IsZero() {
		firstClose = now.Add(-time.Duration(resume.dueDraw-1) * params.DrawPeriod)
	}

	clock := auction.SystemClock{TickInterval: params.TickInterval}
	d.pool = workpool.New(clock, firstClose, params.DrawPeriod, workpool.WithDrawTimeout(params.DrawTimeout))
	if err := d.pool.Resume(resume.dueDraw); err != nil {
		d.close()
		return nil, WrapExitError(ExitCommandError, "failed to resume work pool", err)
	}
	d.pool.Fund(params.Reserve)
	d.pool.AddInflow(params.Inflow)
	randomness := rng.New(clock, rng.WithAutoFulfill(), rng.WithResumeAfter(resume.lastHandle))

	machineOpts := []auction.Option{
		auction.WithClock(clock),
		auction.WithObserver(d.collector),
		auction.WithLogger(logger),
	}
	if d.store != nil {
		machineOpts = append(machineOpts, auction.WithStore(d.store))
	}

	d.machine, err = auction.New(ctx, auctionCfg, d.pool, randomness, machineOpts...)
	if err != nil {
		d.close()
		return nil, WrapExitError(ExitFailure, "failed to start auction", err)
	}

	if cfg.Keeper.Enabled {
		recipient, err := cfg.KeeperRecipient()
		if err != nil {
			d.close()
			return nil, WrapExitError(ExitCommandError, "invalid keeper config", err)
		}
		minReward, err := cfg.KeeperMinReward()
		if err != nil {
			d.close()
			return nil, WrapExitError(ExitCommandError, "invalid keeper config", err)
		}
		d.keeper = keeper.New(d.machine, randomness, recipient,
			keeper.WithMinReward(minReward),
			keeper.WithRecorder(d.collector),
			keeper.WithLogger(logger),
		)
	}
	return d, nil
}

// resumePoint is where a restarted process picks up: the draw that is due
// and the last randomness request the ledger refers to.
type resumePoint struct {
	dueDraw    uint64
	lastHandle uint64
}

// readResumePoint derives the resume point from persisted state. The draw
// after the latest settlement is due, unless the ledger already holds
// attempts for a later draw.
func readResumePoint(ctx context.Context, st *store.Store) (resumePoint, error) {
	rp := resumePoint{dueDraw: 1}

	latest, err := st.Settlements(ctx, 1)
	if err != nil {
		return rp, err
	}
	if len(latest) > 0 {
		rp.dueDraw = latest[0].DrawID + 1
	}

	attempts, err := st.ReadAttempts(ctx)
	if err != nil {
		return rp, err
	}
	for _, a := range attempts {
		rp.dueDraw = max(rp.dueDraw, a.DrawID)
		rp.lastHandle = max(rp.lastHandle, a.RequestHandle)
	}
	return rp, nil
}

// PassResult is one keeper pass reported by run --passes.
type PassResult struct {
	Pass   int    `json:"pass"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

func runPasses(ctx context.Context, d *daemon, opts *RunOptions, cmd *cobra.Command) error {
	if d.keeper == nil {
		return NewExitError(ExitCommandError, "--passes requires keeper.enabled")
	}
	out := newFormatter(opts.RootOptions, cmd)

	passes := make([]PassResult, 0, opts.Passes)
	var failed error
	for i := 1; i <= opts.Passes; i++ {
		action, err := d.keeper.RunOnce(ctx)
		p := PassResult{Pass: i, Action: string(action)}
		if err != nil {
			p.Error = err.Error()
			failed = err
		}
		passes = append(passes, p)
		out.VerboseLog("pass %d: %s", i, action)
	}

	state, err := d.machine.Status(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read auction state", err)
	}

	if opts.Format == "json" {
		data := map[string]any{
			"keeper": d.keeper.ID(),
			"passes": passes,
			"state":  string(state),
		}
		if failed != nil {
			if err := out.Error(errorCode(failed, ErrCodeGeneric), failed.Error(), data); err != nil {
				return err
			}
			return NewExitError(ExitFailure, failed.Error())
		}
		return out.Success(data)
	}

	w := cmd.OutOrStdout()
	for _, p := range passes {
		if p.Error != "" {
			fmt.Fprintf(w, "✗ pass %d: %s (%s)\n", p.Pass, p.Action, p.Error)
			continue
		}
		fmt.Fprintf(w, "✓ pass %d: %s\n", p.Pass, p.Action)
	}
	fmt.Fprintf(w, "State: %s\n", state)
	if failed != nil {
		return WrapExitError(ExitFailure, "keeper pass failed", failed)
	}
	return nil
}

// serveMetrics serves the collector on addr until ctx is done. The returned
// function shuts the server down.
func serveMetrics(ctx context.Context, addr string, c *metrics.Collector, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", "error", err)
		}
	}
}
