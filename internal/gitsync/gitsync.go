// Package gitsync keeps a local clone of the upstream YAML repository that
// feeds the external source tree.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

const defaultTimeout = 2 * time.Minute

type Options struct {
	Repository string
	Branch     string
	// Depth > 0 makes a shallow single-branch clone.
	Depth     int
	LocalPath string
	// Subdir is the directory inside the clone holding the categories.
	Subdir string
	// Token enables HTTPS basic auth with the token as password.
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Result describes one sync.
type Result struct {
	Cloned  bool
	FromSHA string
	ToSHA   string
	// Dir is LocalPath joined with Subdir: the input root for generation.
	Dir string
}

// Changed reports whether HEAD moved (always true for a fresh clone).
func (r *Result) Changed() bool {
	return r.Cloned || r.FromSHA != r.ToSHA
}

func (o Options) validate() error {
	if strings.TrimSpace(o.Repository) == "" {
		return errors.New("sync: repository is empty")
	}
	if strings.TrimSpace(o.Branch) == "" {
		return errors.New("sync: branch is empty")
	}
	if strings.TrimSpace(o.LocalPath) == "" {
		return errors.New("sync: local path is empty")
	}
	if o.Depth < 0 {
		return errors.New("sync: depth must be >= 0")
	}
	return nil
}

func (o Options) auth() transport.AuthMethod {
	if strings.TrimSpace(o.Token) == "" {
		return nil
	}
	return &http.BasicAuth{Username: "git", Password: o.Token}
}

// Sync clones Repository into LocalPath, or pulls when a clone already exists.
func Sync(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := &Result{Dir: filepath.Join(opts.LocalPath, filepath.FromSlash(opts.Subdir))}

	if _, err := os.Stat(filepath.Join(opts.LocalPath, ".git")); err == nil {
		if err := pull(ctx, opts, res); err != nil {
			return nil, err
		}
		log.Info("sync pulled", "repository", opts.Repository, "from", short(res.FromSHA), "to", short(res.ToSHA))
		return res, nil
	}

	if err := os.MkdirAll(opts.LocalPath, 0o750); err != nil {
		return nil, fmt.Errorf("sync: create %s: %w", opts.LocalPath, err)
	}
	repo, err := gogit.PlainCloneContext(ctx, opts.LocalPath, false, &gogit.CloneOptions{
		URL:           opts.Repository,
		ReferenceName: plumbing.NewBranchReferenceName(opts.Branch),
		SingleBranch:  opts.Depth > 0,
		Depth:         opts.Depth,
		Auth:          opts.auth(),
	})
	if err != nil {
		return nil, fmt.Errorf("sync: clone %s: %w", opts.Repository, err)
	}
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("sync: read HEAD: %w", err)
	}
	res.Cloned = true
	res.ToSHA = ref.Hash().String()
	log.Info("sync cloned", "repository", opts.Repository, "branch", opts.Branch, "head", short(res.ToSHA))
	return res, nil
}

func pull(ctx context.Context, opts Options, res *Result) error {
	repo, err := gogit.PlainOpen(opts.LocalPath)
	if err != nil {
		return fmt.Errorf("sync: open %s: %w", opts.LocalPath, err)
	}
	ref, err := repo.Head()
	if err != nil {
		return fmt.Errorf("sync: read HEAD: %w", err)
	}
	res.FromSHA = ref.Hash().String()

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("sync: worktree: %w", err)
	}
	err = wt.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(opts.Branch),
		SingleBranch:  opts.Depth > 0,
		Depth:         opts.Depth,
		Auth:          opts.auth(),
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("sync: pull: %w", err)
	}

	ref, err = repo.Head()
	if err != nil {
		return fmt.Errorf("sync: read HEAD: %w", err)
	}
	res.ToSHA = ref.Hash().String()
	return nil
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
