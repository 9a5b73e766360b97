package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
	"github.com/r9s-ai/openclash-overwrite/pkg/config"
)

type generateOptions struct {
	paths       pathFlags
	dryRun      bool
	failOnError bool
	jsonOut     bool
}

func newGenerateCmd(root *rootOptions) *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate overwrite scripts and category indexes",
		Long: `Reduce every *.yaml under the input root and render one overwrite script
per variant into {output}/{category}/, plus a README.md index per category.

Per-file and per-variant failures are reported in the summary. The exit code is
0 unless --fail-on-error is set and at least one error was counted (exit 2), or
the configuration is invalid (exit 1).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateWithOptions(cmd, root, opts)
		},
	}
	fs := cmd.Flags()
	opts.paths.bind(fs)
	fs.BoolVar(&opts.dryRun, "dry-run", false, "report what would be written without writing")
	fs.BoolVar(&opts.failOnError, "fail-on-error", false, "exit with status 2 when any error was counted")
	fs.BoolVar(&opts.jsonOut, "json", false, "print run stats as JSON instead of the summary")
	return cmd
}

func runGenerateWithOptions(cmd *cobra.Command, root *rootOptions, opts *generateOptions) error {
	a, err := newApp(root, cmd.ErrOrStderr(), func(cfg *config.Config) { opts.paths.apply(cfg) })
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ropts, err := a.runOptions()
	if err != nil {
		return err
	}
	ropts.DryRun = opts.dryRun

	st, err := pipeline.Run(cmd.Context(), ropts)
	if err != nil {
		return err
	}
	if err := report(cmd.OutOrStdout(), st, opts.jsonOut); err != nil {
		return err
	}
	if opts.failOnError && st.Errors > 0 {
		return &ExitError{Code: 2, Err: fmt.Errorf("%d error(s) during generation", st.Errors)}
	}
	return nil
}

func report(w io.Writer, st *pipeline.Stats, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printSummary(w, st, isTerminal(w))
	return nil
}
