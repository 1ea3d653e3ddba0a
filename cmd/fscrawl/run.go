package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/redblackgraph/fscrawl/internal/config"
	"github.com/redblackgraph/fscrawl/internal/control"
	"github.com/redblackgraph/fscrawl/internal/database"
	"github.com/redblackgraph/fscrawl/internal/engine"
	"github.com/redblackgraph/fscrawl/internal/fsapi"
	"github.com/redblackgraph/fscrawl/internal/log"
	"github.com/redblackgraph/fscrawl/internal/model"
	"github.com/redblackgraph/fscrawl/internal/ratelimit"
	"github.com/redblackgraph/fscrawl/internal/session"
	"github.com/redblackgraph/fscrawl/internal/telemetry"
)

// sessionEnvVar names the environment fallback for --session.
const sessionEnvVar = "FS_SESSION_ID"

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [pid ...]",
		Short: "Start a new crawl from the given seed persons",
		Long: `Run starts a breadth-first crawl from the given seed person IDs.

With no seeds, the person attached to the session is used. The crawl
proceeds hop by hop up to --hops, then fetches every relationship
record flagged ambiguous and resolves its parent edge types.

A crawl can be controlled while it runs:
  SIGINT/SIGTERM  checkpoint and stop (resumable with "fscrawl resume")
  SIGUSR1         toggle pause
  --pause-file    poll a file for "pause", "resume", or "stop"

Examples:
  # Crawl four hops around the session owner
  fscrawl run --session $FS_SESSION_ID

  # Crawl specific seeds with a gentler pace
  fscrawl run --session $FS_SESSION_ID --rps 2 KWQS-BB7 KWQS-BB9

  # Stream machine-readable progress events
  fscrawl run --session $FS_SESSION_ID --metrics -`,
		Args: cobra.ArbitraryArgs,
		RunE: runRunCmd,
	}
	addCrawlFlags(cmd)
	return cmd
}

// addCrawlFlags registers the flags shared by run and resume.
func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("out-dir", "o", "",
		"Directory for the database and sidecar files (default: XDG data dir)")
	cmd.Flags().StringP("basename", "b", "fscrawl",
		"Database basename: <out-dir>/<basename>.db")
	cmd.Flags().StringP("session", "s", "",
		"FamilySearch session ID (fssessionid); falls back to $"+sessionEnvVar)
	cmd.Flags().String("base-url", config.DefaultBaseURL,
		"FamilySearch platform base URL")
	cmd.Flags().IntP("hops", "n", config.DefaultHopCount,
		"Number of BFS hops to crawl from the seeds")
	cmd.Flags().Int("batch-size", config.DefaultPersonsPerRequest,
		"Person IDs per persons request (service caps this at 200)")
	cmd.Flags().Int("drain-limit", 0,
		"Maximum frontier entries promoted per hop (0 = whole frontier)")
	cmd.Flags().Float64("rps", config.DefaultRequestsPerSecond,
		"Aggregate outbound requests per second")
	cmd.Flags().String("throttle-profile", "",
		"YAML pacing profile overriding the built-in throttle defaults")
	cmd.Flags().Duration("delay", config.DefaultInterBatchDelay,
		"Extra politeness delay between batch dispatches")
	cmd.Flags().Duration("timeout", config.DefaultRequestTimeout,
		"Per-request HTTP timeout")
	cmd.Flags().Int("checkpoint-every", config.DefaultCheckpointEvery,
		"Payloads between mid-iteration checkpoints")
	cmd.Flags().String("pause-file", "",
		"Control file polled for pause/resume/stop commands")
	cmd.Flags().String("metrics", "",
		"Telemetry destination: a file path, or - for stdout")
}

// runRunCmd executes the run command.
func runRunCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return runCrawl(cmd.Context(), cfg, flagOverrides(cmd))
}

// overrides records which recorded job settings the user replaced on
// the command line. A resume restores the recorded value only when the
// corresponding flag was left untouched.
type overrides struct {
	throttle bool
	hops     bool
}

func flagOverrides(cmd *cobra.Command) overrides {
	return overrides{
		throttle: cmd.Flags().Changed("rps") || cmd.Flags().Changed("throttle-profile"),
		hops:     cmd.Flags().Changed("hops"),
	}
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	var err error

	if outDir, err := cmd.Flags().GetString("out-dir"); err != nil {
		return nil, err
	} else if outDir != "" {
		cfg.OutDir = outDir
	}

	cfg.Basename, err = cmd.Flags().GetString("basename")
	if err != nil {
		return nil, err
	}

	cfg.SessionID, err = cmd.Flags().GetString("session")
	if err != nil {
		return nil, err
	}
	if cfg.SessionID == "" {
		cfg.SessionID = os.Getenv(sessionEnvVar)
	}

	cfg.BaseURL, err = cmd.Flags().GetString("base-url")
	if err != nil {
		return nil, err
	}

	cfg.HopCount, err = cmd.Flags().GetInt("hops")
	if err != nil {
		return nil, err
	}

	cfg.PersonsPerRequest, err = cmd.Flags().GetInt("batch-size")
	if err != nil {
		return nil, err
	}

	cfg.DrainLimit, err = cmd.Flags().GetInt("drain-limit")
	if err != nil {
		return nil, err
	}

	if profile, err := cmd.Flags().GetString("throttle-profile"); err != nil {
		return nil, err
	} else if profile != "" {
		cfg.Throttle, err = config.LoadThrottleProfile(profile)
		if err != nil {
			return nil, err
		}
	}
	// An explicit --rps overrides the profile.
	if cmd.Flags().Changed("rps") {
		cfg.Throttle.RequestsPerSecond, err = cmd.Flags().GetFloat64("rps")
		if err != nil {
			return nil, err
		}
	}

	cfg.InterBatchDelay, err = cmd.Flags().GetDuration("delay")
	if err != nil {
		return nil, err
	}

	cfg.RequestTimeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}

	cfg.CheckpointEvery, err = cmd.Flags().GetInt("checkpoint-every")
	if err != nil {
		return nil, err
	}

	cfg.PauseFile, err = cmd.Flags().GetString("pause-file")
	if err != nil {
		return nil, err
	}

	cfg.MetricsFile, err = cmd.Flags().GetString("metrics")
	if err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)
	cfg.Seeds = args
	return cfg, nil
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// setupLogger creates a structured logger based on verbosity setting.
// The secure handler masks session cookies and anything else shaped
// like a credential.
func setupLogger(verbose bool) *slog.Logger {
	return log.NewSecureLogger(os.Stderr, verbose)
}

// runCrawl wires the whole stack together and drives the engine. Both
// the run and resume commands end up here; cfg.Resume decides whether
// a missing database is an error.
func runCrawl(ctx context.Context, cfg *config.Config, ov overrides) error {
	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := database.DefaultOptions()
	opts.CreateIfNotExists = !cfg.Resume
	db, err := database.Open(cfg.OutDir, cfg.Basename, opts)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database opened", "path", db.Path())

	if err := db.CheckIntegrity(ctx); err != nil {
		return err
	}

	if cfg.Resume {
		if err := applyRecordedConfig(ctx, db, cfg, ov, logger); err != nil {
			return err
		}
	}

	fsSession := session.New(cfg.BaseURL, cfg.SessionID,
		session.WithTimeout(cfg.RequestTimeout))

	seeds, err := resolveSeeds(ctx, cfg, fsSession, logger)
	if err != nil {
		return err
	}

	if !cfg.Resume {
		if err := db.RecordJobConfig(ctx, cfg.Seeds, cfg.HopCount, cfg.Throttle); err != nil {
			return err
		}
		if err := writeSettingsSnapshot(cfg); err != nil {
			logger.Warn("failed to write settings snapshot", "error", err)
		}
	}

	emitter, err := telemetry.NewEmitter(cfg.MetricsFile, logger)
	if err != nil {
		return err
	}
	defer emitter.Close()

	ctrl := control.New(logger, cancel,
		control.WithGrace(cfg.ShutdownGrace),
		control.WithTransitionHook(recordPauseState(db, emitter, logger)))
	go ctrl.WatchSignals(ctx)
	if cfg.PauseFile != "" {
		go ctrl.WatchFile(ctx, cfg.PauseFile, config.DefaultPauseFilePollInterval)
	}

	limiter := ratelimit.New(cfg.Throttle, ratelimit.WithGate(ctrl.Gate))
	client := fsapi.NewClient(fsSession, limiter, logger)

	err = engine.New(cfg, db, client, emitter, logger).Run(ctx, seeds)
	logger.Info("session request count", "requests", fsSession.Counter())
	// A stop or pause-driven cancellation is a clean exit: the state is
	// checkpointed and the crawl continues with "fscrawl resume".
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	summary, err := db.GraphStats(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	fmt.Println(summary)
	return nil
}

// recordPauseState persists live pause transitions so a concurrent
// "fscrawl checkpoint --status" reflects a pause while it is in
// effect, and mirrors them onto the telemetry stream. The engine only
// writes run status at terminal boundaries; pausing happens between
// them.
func recordPauseState(db *database.CrawlDB, emit *telemetry.Emitter, logger *slog.Logger) func(paused bool) {
	return func(paused bool) {
		status, event := database.StatusRunning, telemetry.EventResumed
		if paused {
			status, event = database.StatusPaused, telemetry.EventPaused
		}
		if err := db.SetRunStatus(context.Background(), status); err != nil {
			logger.Error("failed to record pause state",
				"status", status, "error", err)
			return
		}
		emit.Emit(event, nil)
	}
}

// resolveSeeds returns the seed pids for a fresh run. With no explicit
// seeds the session owner's own person is the seed, which matches what
// a genealogist exploring their own tree wants. Resumed runs keep the
// store's frontier and ignore seeds entirely.
func resolveSeeds(ctx context.Context, cfg *config.Config, s *session.Session, logger *slog.Logger) ([]model.PID, error) {
	if cfg.Resume {
		return nil, nil
	}
	if len(cfg.Seeds) == 0 {
		self, err := s.CurrentUserID(ctx)
		if err != nil {
			return nil, fmt.Errorf("no seeds given and current user lookup failed: %w", err)
		}
		logger.Info("using session owner as seed", "pid", self)
		cfg.Seeds = []string{self}
	}
	seeds := make([]model.PID, 0, len(cfg.Seeds))
	for _, seed := range cfg.Seeds {
		seeds = append(seeds, model.PID(seed))
	}
	return seeds, nil
}

// applyRecordedConfig overlays the job settings recorded at run start
// onto cfg, so a bare "fscrawl resume" continues with the original hop
// limit and pacing.
func applyRecordedConfig(ctx context.Context, db *database.CrawlDB, cfg *config.Config, ov overrides, logger *slog.Logger) error {
	seeds, maxHops, throttle, err := db.LoadJobConfig(ctx)
	if err != nil {
		return err
	}
	if maxHops >= 0 && !ov.hops {
		cfg.HopCount = maxHops
	}
	if !ov.throttle {
		cfg.Throttle = throttle
	}
	logger.Info("resuming recorded job",
		"seeds", len(seeds),
		"hops", cfg.HopCount,
		"rps", cfg.Throttle.RequestsPerSecond)
	return nil
}

// writeSettingsSnapshot drops a JSON copy of the effective settings
// next to the database, for humans reconstructing how a crawl was run.
// The session ID is deliberately excluded.
func writeSettingsSnapshot(cfg *config.Config) error {
	snapshot := map[string]any{
		"basename":            cfg.Basename,
		"base_url":            cfg.BaseURL,
		"seeds":               cfg.Seeds,
		"hops":                cfg.HopCount,
		"persons_per_request": cfg.PersonsPerRequest,
		"drain_limit":         cfg.DrainLimit,
		"throttle":            cfg.Throttle,
		"inter_batch_delay":   cfg.InterBatchDelay.String(),
		"request_timeout":     cfg.RequestTimeout.String(),
		"checkpoint_every":    cfg.CheckpointEvery,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.OutDir, cfg.Basename+".settings")
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
