package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/r9s-ai/openclash-overwrite/pkg/overwrite"
	"github.com/r9s-ai/openclash-overwrite/pkg/yamlstrip"
)

// StripReport is the outcome for one file of a strip run.
type StripReport struct {
	Source  string         `json:"source"`
	Target  string         `json:"target,omitempty"`
	Meta    yamlstrip.Meta `json:"meta"`
	Skipped bool           `json:"skipped"`
	Err     error          `json:"-"`
}

// StripOptions configures Strip.
type StripOptions struct {
	InputDir  string
	OutputDir string
	Recursive bool
	// Writer defaults to overwrite.FSWriter.
	Writer overwrite.Writer
	Logger *slog.Logger
}

// Strip reduces every *.yaml under InputDir into OutputDir, keeping relative
// paths. Documents without any kept section are skipped.
func Strip(ctx context.Context, opts StripOptions) ([]StripReport, error) {
	st, err := os.Stat(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("input %q: %w", opts.InputDir, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("input %q is not a directory", opts.InputDir)
	}
	w := opts.Writer
	if w == nil {
		w = overwrite.FSWriter{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	files, err := SourceFiles(opts.InputDir, opts.Recursive)
	if err != nil {
		return nil, err
	}
	out := make([]StripReport, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rel, err := filepath.Rel(opts.InputDir, file)
		if err != nil {
			rel = filepath.Base(file)
		}
		rep := StripReport{Source: filepath.ToSlash(rel)}
		doc, err := yamlstrip.ReduceFile(file)
		switch {
		case errors.Is(err, yamlstrip.ErrNotApplicable):
			log.Info("no overwrite sections, skipping", "source", rep.Source)
			rep.Skipped = true
		case err != nil:
			log.Error("reduce failed", "source", rep.Source, "err", err)
			rep.Err = err
		default:
			rep.Meta = doc.Meta
			rep.Target = filepath.Join(opts.OutputDir, rel)
			if err := mirror(w, doc, rep.Target); err != nil {
				log.Error("write failed", "target", rep.Target, "err", err)
				rep.Err = err
			} else {
				log.Info("stripped", "source", rep.Source,
					"proxy_providers", doc.Meta.ProxyProviders, "rule_providers", doc.Meta.RuleProviders)
			}
		}
		out = append(out, rep)
	}
	return out, nil
}
