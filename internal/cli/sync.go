package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/openclash-overwrite/internal/gitsync"
	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
	"github.com/r9s-ai/openclash-overwrite/pkg/config"
)

type syncOptions struct {
	repository string
	branch     string
	depth      int
	localPath  string
	subdir     string
	generate   bool
	paths      pathFlags
}

func newSyncCmd(root *rootOptions) *cobra.Command {
	opts := &syncOptions{depth: -1}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Clone or pull the upstream YAML repository",
		Long: `Clone sync.repository into sync.local_path, or pull when a clone exists.
The token for private repositories is read from sync.token or OCW_SYNC_TOKEN.
With --generate the synced tree (local path + subdir) is used as input root.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncWithOptions(cmd, root, opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.repository, "repository", "", "git repository URL (default sync.repository)")
	fs.StringVar(&opts.branch, "branch", "", "branch to track (default sync.branch)")
	fs.IntVar(&opts.depth, "depth", -1, "clone depth, 0 for full history (default sync.depth)")
	fs.StringVar(&opts.localPath, "local-path", "", "clone directory (default sync.local_path)")
	fs.StringVar(&opts.subdir, "subdir", "", "directory inside the clone holding categories (default sync.subdir)")
	fs.BoolVar(&opts.generate, "generate", false, "run generation after syncing")
	opts.paths.bind(fs)
	return cmd
}

func runSyncWithOptions(cmd *cobra.Command, root *rootOptions, opts *syncOptions) error {
	a, err := newApp(root, cmd.ErrOrStderr(), func(cfg *config.Config) {
		set := func(dst *string, v string) {
			if v = strings.TrimSpace(v); v != "" {
				*dst = v
			}
		}
		set(&cfg.Sync.Repository, opts.repository)
		set(&cfg.Sync.Branch, opts.branch)
		set(&cfg.Sync.LocalPath, opts.localPath)
		set(&cfg.Sync.Subdir, opts.subdir)
		if opts.depth >= 0 {
			cfg.Sync.Depth = opts.depth
		}
		opts.paths.apply(cfg)
	})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if strings.TrimSpace(a.cfg.Sync.Repository) == "" {
		return config.Invalid("sync", fmt.Errorf("sync.repository is empty (set it in the config or pass --repository)"))
	}

	res, err := gitsync.Sync(cmd.Context(), a.syncOptions())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case res.Cloned:
		_, _ = fmt.Fprintf(out, "cloned %s at %s into %s\n", a.cfg.Sync.Repository, shortSHA(res.ToSHA), res.Dir)
	case res.Changed():
		_, _ = fmt.Fprintf(out, "updated %s..%s in %s\n", shortSHA(res.FromSHA), shortSHA(res.ToSHA), res.Dir)
	default:
		_, _ = fmt.Fprintf(out, "already up to date at %s in %s\n", shortSHA(res.ToSHA), res.Dir)
	}

	if !opts.generate {
		return nil
	}
	ropts, err := a.runOptions()
	if err != nil {
		return err
	}
	if strings.TrimSpace(opts.paths.input) == "" {
		ropts.InputRoot = res.Dir
	}
	st, err := pipeline.Run(cmd.Context(), ropts)
	if err != nil {
		return err
	}
	printSummary(out, st, isTerminal(out))
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
