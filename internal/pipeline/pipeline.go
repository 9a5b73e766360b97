// Package pipeline runs one batch: walk the input categories, reduce each
// source document, optionally mirror the reduced YAML, expand it into
// overwrite artifacts and write the per-category index.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/r9s-ai/openclash-overwrite/pkg/overwrite"
	"github.com/r9s-ai/openclash-overwrite/pkg/render"
	"github.com/r9s-ai/openclash-overwrite/pkg/runid"
	"github.com/r9s-ai/openclash-overwrite/pkg/variant"
	"github.com/r9s-ai/openclash-overwrite/pkg/yamlstrip"
)

// Observer receives the stats of every finished run.
type Observer interface {
	RunFinished(s *Stats, err error)
}

type Options struct {
	InputRoot  string
	OutputRoot string
	// ProcessedRoot receives the reduced YAML when set.
	ProcessedRoot string

	Variants   []variant.Variant
	Renderer   render.Renderer
	RepoURL    string
	SourceType string
	Index      overwrite.IndexOptions

	DryRun   bool
	Now      func() time.Time
	Logger   *slog.Logger
	Observer Observer
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Run processes every category under InputRoot. Only startup problems and
// context cancellation are returned as errors; per-document and per-variant
// failures are counted in Stats.
func Run(ctx context.Context, opts Options) (*Stats, error) {
	ctx, id := runid.Ensure(ctx)
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(runid.Key, id)

	st := &Stats{RunID: id, StartedAt: opts.now(), DryRun: opts.DryRun}
	err := run(ctx, &opts, st, log)
	st.FinishedAt = opts.now()
	st.sortCategories()
	if opts.Observer != nil {
		opts.Observer.RunFinished(st, err)
	}
	if err != nil {
		return st, err
	}
	log.Info("run finished",
		"artifacts", st.Total, "errors", st.Errors, "skipped", st.Skipped,
		"categories", len(st.Categories), "dry_run", st.DryRun)
	return st, nil
}

func run(ctx context.Context, opts *Options, st *Stats, log *slog.Logger) error {
	if opts.Renderer == nil {
		return errors.New("pipeline: renderer is nil")
	}
	if len(opts.Variants) == 0 {
		return errors.New("pipeline: no config variants")
	}
	cats, err := Categories(opts.InputRoot)
	if err != nil {
		return err
	}

	var w overwrite.Writer = overwrite.FSWriter{}
	var dry *overwrite.DryRunWriter
	if opts.DryRun {
		dry = &overwrite.DryRunWriter{}
		w = dry
	}
	exp := &overwrite.Expander{
		Variants:   opts.Variants,
		Renderer:   opts.Renderer,
		Writer:     w,
		OutputRoot: opts.OutputRoot,
		RepoURL:    opts.RepoURL,
		SourceType: opts.SourceType,
		Now:        opts.Now,
		Logger:     log,
	}

	for _, cat := range cats {
		if err := processCategory(ctx, opts, exp, w, cat, st, log); err != nil {
			return err
		}
	}
	if dry != nil {
		st.Written = dry.Paths()
		for _, p := range st.Written {
			log.Info("dry-run: would write", "path", p)
		}
	}
	return nil
}

func processCategory(ctx context.Context, opts *Options, exp *overwrite.Expander, w overwrite.Writer, cat string, st *Stats, log *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	catDir := filepath.Join(opts.InputRoot, cat)
	cat = overwrite.Label(cat)
	cs := st.category(cat)
	clog := log.With("category", cat)

	files, err := SourceFiles(catDir, true)
	if err != nil {
		clog.Error("list sources failed", "err", err)
		st.addFailure(cs, Failure{Category: cat, Err: err.Error()})
		return nil
	}
	clog.Info("processing category", "sources", len(files))

	stems := map[string]string{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := overwrite.NewSource(cat, catDir, file)
		cs.Sources++
		st.Sources++

		if prev, dup := stems[src.Stem]; dup {
			err := fmt.Errorf("stem %q already produced by %s", src.Stem, prev)
			clog.Error("artifact name collision", "source", src.RelPath, "err", err)
			st.addFailure(cs, Failure{Category: cat, Source: src.RelPath, Err: err.Error()})
			continue
		}
		stems[src.Stem] = src.RelPath

		rep := processDocument(opts, exp, w, src, cs, st, clog)
		st.Documents = append(st.Documents, rep)
	}

	path, err := exp.WriteIndex(cs.Name, cs.Files, opts.Index)
	if err != nil {
		clog.Error("write index failed", "path", path, "err", err)
		st.addFailure(cs, Failure{Category: cat, Source: overwrite.IndexFileName, Err: err.Error()})
		return nil
	}
	cs.Index = path
	return nil
}

func processDocument(opts *Options, exp *overwrite.Expander, w overwrite.Writer, src overwrite.Source, cs *CategoryStats, st *Stats, log *slog.Logger) DocumentReport {
	rep := DocumentReport{Category: src.Category, Source: src.RelPath}
	log = log.With("source", src.RelPath)

	doc, err := yamlstrip.ReduceFile(src.Path)
	switch {
	case errors.Is(err, yamlstrip.ErrNotApplicable):
		log.Info("no overwrite sections, skipping")
		rep.Skipped, rep.Reason = true, "not applicable"
		cs.Skipped++
		st.Skipped++
		return rep
	case err != nil:
		log.Error("reduce failed", "err", err)
		rep.Err = err.Error()
		st.addFailure(cs, Failure{Category: src.Category, Source: src.RelPath, Err: err.Error()})
		return rep
	}
	rep.Meta = doc.Meta
	if len(doc.DuplicateAnchors) > 0 {
		log.Warn("duplicate anchors, last definition wins", "anchors", strings.Join(doc.DuplicateAnchors, ","))
	}

	if opts.ProcessedRoot != "" {
		if err := mirror(w, doc, filepath.Join(opts.ProcessedRoot, filepath.FromSlash(src.Category), filepath.FromSlash(src.RelPath))); err != nil {
			log.Error("write processed yaml failed", "err", err)
			st.addFailure(cs, Failure{Category: src.Category, Source: src.RelPath, Err: err.Error()})
		}
	}

	res := exp.Expand(doc, src)
	if res.Skipped {
		rep.Skipped, rep.Reason = true, "no proxy-providers"
		cs.Skipped++
		st.Skipped++
		return rep
	}
	for _, a := range res.Artifacts {
		cs.Files = append(cs.Files, a.FileName)
		cs.Artifacts++
		st.Total++
	}
	for _, f := range res.Failures {
		st.addFailure(cs, Failure{Category: f.Category, Source: f.Source, Variant: f.Variant, Err: f.Err.Error()})
	}
	rep.Artifacts = len(res.Artifacts)
	rep.Failed = len(res.Failures)
	return rep
}

func mirror(w overwrite.Writer, doc *yamlstrip.Document, path string) error {
	b, err := doc.Encode()
	if err != nil {
		return err
	}
	return w.WriteFile(path, b)
}

// Categories lists the immediate subdirectories of root, sorted, skipping
// hidden ones.
func Categories(root string) ([]string, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("input root %q: %w", root, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("input root %q is not a directory", root)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// SourceFiles lists *.yaml files under dir in lexical order. Hidden files and
// directories are ignored.
func SourceFiles(dir string, recursive bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !recursive || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".yaml") {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
