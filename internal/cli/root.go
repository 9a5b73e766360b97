// Package cli implements the openclash-overwrite command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// ExitError carries a process exit code other than 1.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

type rootOptions struct {
	cfgPath string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "openclash-overwrite",
		Short: "Generate OpenClash overwrite scripts from Mihomo/Clash YAML configs",
		Long: `openclash-overwrite reduces Mihomo/Clash YAML configs to the sections an
OpenClash overwrite needs and renders one overwrite script per variant
(smart, bypass, IPv6, LightGBM) for every source file, plus a README index
per category.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	fs := cmd.PersistentFlags()
	fs.StringVar(&opts.cfgPath, "config", "", "tool config yaml path (default "+defaultConfigHint+" when present)")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		newGenerateCmd(opts),
		newStripCmd(opts),
		newWatchCmd(opts),
		newServeCmd(opts),
		newSyncCmd(opts),
		newBrowseCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			_, _ = fmt.Fprintln(stderr, "error:", exitErr.Err)
		}
		return exitErr.Code
	}
	_, _ = fmt.Fprintln(stderr, "error:", err)
	return 1
}

// Main is the entry point used by cmd/openclash-overwrite.
func Main() int {
	ctx, stop := signalContext(context.Background())
	defer stop()
	return Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
