package cli

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
	"github.com/r9s-ai/openclash-overwrite/internal/watch"
	"github.com/r9s-ai/openclash-overwrite/pkg/config"
)

type watchOptions struct {
	paths      pathFlags
	debounceMs int
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Generate, then regenerate whenever sources or templates change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchWithOptions(cmd, root, opts)
		},
	}
	fs := cmd.Flags()
	opts.paths.bind(fs)
	fs.IntVar(&opts.debounceMs, "debounce-ms", 0, "quiet period before regenerating (default watch.debounce_ms)")
	return cmd
}

func runWatchWithOptions(cmd *cobra.Command, root *rootOptions, opts *watchOptions) error {
	a, err := newApp(root, cmd.ErrOrStderr(), func(cfg *config.Config) {
		opts.paths.apply(cfg)
		if opts.debounceMs > 0 {
			cfg.Watch.DebounceMs = opts.debounceMs
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
	ctx := cmd.Context()
	runner := pipeline.NewRunner(ropts)
	out := cmd.OutOrStdout()

	var mu sync.Mutex
	regenerate := func(reload bool) {
		mu.Lock()
		defer mu.Unlock()
		if reload {
			// Templates and the variant descriptor are re-read on every change.
			next, err := a.runOptions()
			if err != nil {
				a.log.Error("reload inputs failed, keeping previous", "err", err)
			} else {
				runner.SetOptions(next)
			}
		}
		st, err := runner.Run(ctx)
		if err != nil {
			a.log.Error("generation failed", "err", err)
			return
		}
		printSummary(out, st, isTerminal(out))
	}

	regenerate(false)
	if ctx.Err() != nil {
		return nil
	}

	closer, err := watch.Start(watch.Options{
		Paths:    watchPaths(a.cfg),
		Debounce: debounce(a.cfg),
		Ignore:   []string{a.cfg.Output, a.cfg.ProcessedOutput},
		OnChange: func() { regenerate(true) },
		Logger:   a.log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	regenerateOnSIGHUP(ctx, a.log, func() { regenerate(true) })
	<-ctx.Done()
	a.log.Info("watch stopped")
	return nil
}

// watchPaths lists the input root plus the template directory and descriptor
// when they are configured.
func watchPaths(cfg *config.Config) []string {
	paths := []string{cfg.Input}
	for _, p := range []string{cfg.Templates, cfg.ConfigTypes} {
		if strings.TrimSpace(p) != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
