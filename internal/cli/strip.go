package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
)

type stripOptions struct {
	input       string
	output      string
	recursive   bool
	failOnError bool
}

func newStripCmd(root *rootOptions) *cobra.Command {
	opts := &stripOptions{}
	cmd := &cobra.Command{
		Use:   "strip",
		Short: "Reduce YAML configs to the overwrite-relevant sections",
		Long: `Write a reduced copy of every *.yaml under --input into --output, keeping
proxy-providers, rule-providers, proxy-groups and rules plus the anchors they
reference. Files without any of these sections are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStripWithOptions(cmd, root, opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.input, "input", "i", "", "directory with source *.yaml files")
	fs.StringVarP(&opts.output, "output", "o", "", "directory for reduced files")
	fs.BoolVarP(&opts.recursive, "recursive", "r", false, "descend into subdirectories")
	fs.BoolVar(&opts.failOnError, "fail-on-error", false, "exit with status 2 when any file failed")
	return cmd
}

func runStripWithOptions(cmd *cobra.Command, root *rootOptions, opts *stripOptions) error {
	if strings.TrimSpace(opts.input) == "" || strings.TrimSpace(opts.output) == "" {
		return errors.New("--input and --output are required")
	}
	a, err := newApp(root, cmd.ErrOrStderr(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	reports, err := pipeline.Strip(cmd.Context(), pipeline.StripOptions{
		InputDir:  opts.input,
		OutputDir: opts.output,
		Recursive: opts.recursive,
		Logger:    a.log,
	})
	if err != nil {
		return err
	}

	s := newSummaryStyles(isTerminal(cmd.OutOrStdout()))
	out := cmd.OutOrStdout()
	var done, skipped, failed int
	for _, r := range reports {
		switch {
		case r.Err != nil:
			failed++
			_, _ = fmt.Fprintf(out, "%s %s: %v\n", s.bad.Render("✗"), r.Source, r.Err)
		case r.Skipped:
			skipped++
			_, _ = fmt.Fprintf(out, "%s %s: skipped\n", s.warn.Render("-"), r.Source)
		default:
			done++
			_, _ = fmt.Fprintf(out, "%s %s: proxy-providers=%d rule-providers=%d proxy-groups=%d rules=%d\n",
				s.ok.Render("✓"), r.Source, r.Meta.ProxyProviders, r.Meta.RuleProviders, r.Meta.ProxyGroups, r.Meta.Rules)
		}
	}
	_, _ = fmt.Fprintf(out, "%s processed=%d skipped=%d failed=%d\n", s.title.Render("Strip complete"), done, skipped, failed)

	if opts.failOnError && failed > 0 {
		return &ExitError{Code: 2, Err: fmt.Errorf("%d file(s) failed", failed)}
	}
	return nil
}
