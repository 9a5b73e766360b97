package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/openclash-overwrite/internal/gitsync"
	"github.com/r9s-ai/openclash-overwrite/internal/metrics"
	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
	"github.com/r9s-ai/openclash-overwrite/internal/server"
	"github.com/r9s-ai/openclash-overwrite/pkg/config"
)

type serveOptions struct {
	paths         pathFlags
	listen        string
	schedule      string
	syncBeforeRun bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve generated scripts over HTTP and regenerate on demand or on a schedule",
		Long: `Generate once, then serve:

  GET  /healthz              liveness
  GET  /overwrite/...        generated overwrite scripts and indexes
  GET  /processed_configs/.. reduced YAML (with --processed-output)
  GET  /api/summary          stats of the last run
  POST /api/regenerate       run generation now
  GET  /metrics              Prometheus metrics

POST /api/regenerate requires serve.token (or OCW_SERVE_TOKEN) as a bearer
token or x-api-key header when one is configured. The default listen address
is loopback only. SIGHUP also triggers a regeneration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeWithOptions(cmd, root, opts)
		},
	}
	fs := cmd.Flags()
	opts.paths.bind(fs)
	fs.StringVar(&opts.listen, "listen", "", "http listen address (default serve.listen)")
	fs.StringVar(&opts.schedule, "schedule", "", "cron expression for periodic regeneration, e.g. \"0 */6 * * *\"")
	fs.BoolVar(&opts.syncBeforeRun, "sync-before-run", false, "pull the sync repository before every run and use it as input")
	return cmd
}

func runServeWithOptions(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	a, err := newApp(root, cmd.ErrOrStderr(), func(cfg *config.Config) {
		opts.paths.apply(cfg)
		if v := strings.TrimSpace(opts.listen); v != "" {
			cfg.Serve.Listen = v
		}
		if v := strings.TrimSpace(opts.schedule); v != "" {
			cfg.Serve.Schedule = v
		}
		if opts.syncBeforeRun {
			cfg.Serve.SyncBeforeRun = true
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ropts, err := a.runOptions()
	if err != nil {
		return err
	}
	if a.cfg.Serve.SyncBeforeRun && strings.TrimSpace(opts.paths.input) == "" {
		ropts.InputRoot = a.syncedInput()
	}
	collector := metrics.NewCollector(nil)
	ropts.Observer = collector

	runner := pipeline.NewRunner(ropts)
	if a.cfg.Serve.SyncBeforeRun {
		syncOpts := a.syncOptions()
		runner.Before = func(ctx context.Context) error {
			if _, err := gitsync.Sync(ctx, syncOpts); err != nil {
				return fmt.Errorf("sync before run: %w", err)
			}
			return nil
		}
	}

	srv, err := server.New(server.Options{
		Runner:        runner,
		Metrics:       collector,
		OutputRoot:    a.cfg.Output,
		ProcessedRoot: a.cfg.ProcessedOutput,
		Listen:        a.cfg.Serve.Listen,
		Schedule:      a.cfg.Serve.Schedule,
		Token:         a.cfg.Serve.Token,
		Logger:        a.log,
	})
	if err != nil {
		return config.Invalid("serve", err)
	}

	ctx := cmd.Context()
	if st, err := runner.Run(ctx); err != nil {
		a.log.Error("initial generation failed", "err", err)
	} else {
		a.log.Info("initial generation finished", "run_id", st.RunID, "total", st.Total, "errors", st.Errors, "skipped", st.Skipped)
	}

	regenerateOnSIGHUP(ctx, a.log, func() {
		if _, err := runner.Run(ctx); err != nil {
			a.log.Error("generation failed (signal)", "err", err)
		}
	})
	return srv.Run(ctx)
}
