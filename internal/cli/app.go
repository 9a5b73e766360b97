package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/r9s-ai/openclash-overwrite/internal/gitsync"
	"github.com/r9s-ai/openclash-overwrite/internal/logx"
	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
	"github.com/r9s-ai/openclash-overwrite/pkg/config"
	"github.com/r9s-ai/openclash-overwrite/pkg/overwrite"
	"github.com/r9s-ai/openclash-overwrite/pkg/render"
	"github.com/r9s-ai/openclash-overwrite/pkg/variant"
)

const defaultConfigHint = config.DefaultPath

// pathFlags are the generation inputs shared by generate, watch, serve and
// browse. Empty values keep the tool config.
type pathFlags struct {
	input           string
	output          string
	templates       string
	configTypes     string
	repoURL         string
	source          string
	processedOutput string
}

func (p *pathFlags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&p.input, "input", "i", "", "input root with one directory per category (default ./processed_configs/external)")
	fs.StringVarP(&p.output, "output", "o", "", "output root for overwrite scripts (default ./overwrite)")
	fs.StringVarP(&p.templates, "templates", "t", "", "template directory (default builtin templates)")
	fs.StringVarP(&p.configTypes, "config-types", "c", "", "config types descriptor, .json or .yaml (default builtin matrix)")
	fs.StringVar(&p.repoURL, "repo-url", "", "repository base URL used in download links")
	fs.StringVar(&p.source, "source", "", "source type: external or local")
	fs.StringVar(&p.processedOutput, "processed-output", "", "also write the reduced YAML of every source under this root")
}

func (p *pathFlags) apply(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Input, p.input)
	set(&cfg.Output, p.output)
	set(&cfg.Templates, p.templates)
	set(&cfg.ConfigTypes, p.configTypes)
	set(&cfg.RepoURL, p.repoURL)
	set(&cfg.SourceType, p.source)
	set(&cfg.ProcessedOutput, p.processedOutput)
}

// app is the per-command environment: resolved config and logger.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	closer io.Closer
}

func (a *app) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// loadConfig reads --config when given, otherwise overwrite.yaml when it
// exists, otherwise the defaults.
func loadConfig(root *rootOptions) (*config.Config, error) {
	if p := strings.TrimSpace(root.cfgPath); p != "" {
		cfg, err := config.Load(p)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadIfExists(config.DefaultPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newApp loads the config, lets override adjust it from flags, validates the
// result and builds the logger.
func newApp(root *rootOptions, stderr io.Writer, override func(*config.Config)) (*app, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, config.Invalid("flags", err)
	}
	lopts := logx.FromConfig(cfg.Logging, root.verbose)
	lopts.Writer = stderr
	log, closer, err := logx.New(lopts)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &app{cfg: cfg, log: log, closer: closer}, nil
}

// runOptions resolves variants, templates and the repository URL. Every
// failure here is a configuration error.
func (a *app) runOptions() (pipeline.Options, error) {
	cfg := a.cfg
	variants := variant.Default()
	if p := strings.TrimSpace(cfg.ConfigTypes); p != "" {
		vs, err := variant.Load(p)
		if err != nil {
			return pipeline.Options{}, config.Invalid(p, err)
		}
		variants = vs
	}

	tmpl, err := render.Load(cfg.Templates)
	if err != nil {
		return pipeline.Options{}, config.Invalid(cfg.Templates, err)
	}
	if err := tmpl.Require(render.OverwriteTemplate, render.IndexTemplate); err != nil {
		return pipeline.Options{}, config.Invalid(tmpl.Source(), err)
	}

	repoURL, err := overwrite.NormalizeRepoURL(cfg.RepoURL)
	if err != nil {
		return pipeline.Options{}, config.Invalid("repo_url", err)
	}

	a.log.Debug("generation inputs",
		"input", cfg.Input,
		"output", cfg.Output,
		"templates", tmpl.Source(),
		"variants", len(variants),
		"repo_url", repoURL,
		"source_type", cfg.SourceType,
	)
	return pipeline.Options{
		InputRoot:     cfg.Input,
		OutputRoot:    cfg.Output,
		ProcessedRoot: cfg.ProcessedOutput,
		Variants:      variants,
		Renderer:      tmpl,
		RepoURL:       repoURL,
		SourceType:    cfg.SourceType,
		Index: overwrite.IndexOptions{
			Upstream: cfg.Index.Upstream,
			Purposes: cfg.Index.Purposes,
		},
		Logger: a.log,
	}, nil
}

func (a *app) syncOptions() gitsync.Options {
	s := a.cfg.Sync
	return gitsync.Options{
		Repository: s.Repository,
		Branch:     s.Branch,
		Depth:      s.Depth,
		LocalPath:  s.LocalPath,
		Subdir:     s.Subdir,
		Token:      s.Token,
		Logger:     a.log,
	}
}

// syncedInput is the input root inside the local clone.
func (a *app) syncedInput() string {
	return filepath.Join(a.cfg.Sync.LocalPath, filepath.FromSlash(a.cfg.Sync.Subdir))
}

// regenerateOnSIGHUP calls fn for every SIGHUP until ctx is done.
func regenerateOnSIGHUP(ctx context.Context, log *slog.Logger, fn func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				log.Info("regenerate (signal)")
				fn()
			}
		}
	}()
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func debounce(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
}
