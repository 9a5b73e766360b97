// Package overwrite expands a reduced configuration document into one
// OpenClash overwrite artifact per config variant, and renders the
// per-category index.
package overwrite

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/r9s-ai/openclash-overwrite/pkg/render"
	"github.com/r9s-ai/openclash-overwrite/pkg/variant"
	"github.com/r9s-ai/openclash-overwrite/pkg/yamlstrip"
)

// TimestampLayout is the generation time format embedded in artifacts.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	SourceExternal = "external"
	SourceLocal    = "local"
)

// Context is the data handed to the overwrite template.
type Context struct {
	ConfigName     string
	Category       string
	SourceType     string
	ProviderCount  int
	ProxyProviders []ProviderSummary
	YAMLURL        string
	Timestamp      string

	Variant    variant.Variant
	SmartMode  bool
	BypassMode bool
	EnableIPv6 bool
	EnableLGBM bool
}

// Artifact is one generated overwrite file.
type Artifact struct {
	Category string
	Source   string
	Variant  string
	Suffix   string
	FileName string
	Path     string
	Bytes    int
}

// Result is the outcome of expanding one document.
type Result struct {
	Source    Source
	Providers int
	Skipped   bool
	Artifacts []Artifact
	Failures  []*PairError
}

// Expander renders every variant of a document into OutputRoot.
type Expander struct {
	Variants   []variant.Variant
	Renderer   render.Renderer
	Writer     Writer
	OutputRoot string
	RepoURL    string
	SourceType string
	// Template defaults to render.OverwriteTemplate.
	Template string
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (e *Expander) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Expander) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Expander) writer() Writer {
	if e.Writer != nil {
		return e.Writer
	}
	return FSWriter{}
}

// ArtifactPath is where the artifact for (category, suffix, stem) lives.
func (e *Expander) ArtifactPath(category, suffix, stem string) string {
	return filepath.Join(e.OutputRoot, filepath.FromSlash(category), FileName(suffix, stem))
}

// Expand renders and writes one artifact per variant. A document without
// proxy providers is skipped. Failures are collected per variant and never
// stop the remaining variants.
func (e *Expander) Expand(doc *yamlstrip.Document, src Source) Result {
	res := Result{Source: src}
	log := e.logger().With("category", src.Category, "source", src.RelPath)

	providers := SummarizeProviders(doc)
	res.Providers = len(providers)
	if len(providers) == 0 {
		log.Info("no proxy-providers, skipping")
		res.Skipped = true
		return res
	}

	tmpl := e.Template
	if tmpl == "" {
		tmpl = render.OverwriteTemplate
	}
	ts := e.now().Format(TimestampLayout)
	yamlURL := DownloadURL(e.RepoURL, e.SourceType, src.Category, src.RelPath)
	w := e.writer()

	for _, v := range e.Variants {
		name := FileName(v.Suffix, src.Stem)
		path := e.ArtifactPath(src.Category, v.Suffix, src.Stem)
		ctx := Context{
			ConfigName:     src.Stem,
			Category:       src.Category,
			SourceType:     e.SourceType,
			ProviderCount:  len(providers),
			ProxyProviders: providers,
			YAMLURL:        yamlURL,
			Timestamp:      ts,
			Variant:        v,
			SmartMode:      v.SmartMode,
			BypassMode:     v.BypassMode,
			EnableIPv6:     v.EnableIPv6,
			EnableLGBM:     v.EnableLGBM,
		}
		fail := func(err error) {
			pe := &PairError{Category: src.Category, Source: src.RelPath, Variant: v.Label(), Path: path, Err: err}
			log.Error("generate overwrite failed", "variant", v.Label(), "err", err)
			res.Failures = append(res.Failures, pe)
		}
		out, err := e.Renderer.Render(tmpl, ctx)
		if err != nil {
			fail(&RenderError{Template: tmpl, Err: err})
			continue
		}
		if err := w.WriteFile(path, out); err != nil {
			fail(err)
			continue
		}
		log.Debug("generated", "variant", v.Label(), "file", name)
		res.Artifacts = append(res.Artifacts, Artifact{
			Category: src.Category,
			Source:   src.RelPath,
			Variant:  v.Label(),
			Suffix:   v.Suffix,
			FileName: name,
			Path:     path,
			Bytes:    len(out),
		})
	}
	return res
}
