package cli

import (
	"github.com/spf13/cobra"

	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
	"github.com/r9s-ai/openclash-overwrite/internal/tui"
	"github.com/r9s-ai/openclash-overwrite/pkg/config"
)

type browseOptions struct {
	paths    pathFlags
	generate bool
}

func newBrowseCmd(root *rootOptions) *cobra.Command {
	opts := &browseOptions{}
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse generated overwrite scripts in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBrowseWithOptions(cmd, root, opts)
		},
	}
	fs := cmd.Flags()
	opts.paths.bind(fs)
	fs.BoolVar(&opts.generate, "generate", false, "run generation before opening the browser")
	return cmd
}

func runBrowseWithOptions(cmd *cobra.Command, root *rootOptions, opts *browseOptions) error {
	a, err := newApp(root, cmd.ErrOrStderr(), func(cfg *config.Config) { opts.paths.apply(cfg) })
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var st *pipeline.Stats
	if opts.generate {
		ropts, err := a.runOptions()
		if err != nil {
			return err
		}
		st, err = pipeline.Run(cmd.Context(), ropts)
		if err != nil {
			return err
		}
	}
	return tui.Run(tui.Options{
		Root:  a.cfg.Output,
		Stats: st,
		In:    cmd.InOrStdin(),
		Out:   cmd.OutOrStdout(),
	})
}
