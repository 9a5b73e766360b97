package pipeline

import (
	"context"
	"sync"
)

// Runner serialises whole runs for long-lived modes (watch, serve) and keeps
// the stats of the last one.
type Runner struct {
	mu sync.Mutex

	optsMu sync.RWMutex
	opts   Options
	// Before runs ahead of every batch, e.g. a repository sync.
	Before func(ctx context.Context) error

	lastMu sync.RWMutex
	last   *Stats
	err    error
}

func NewRunner(opts Options) *Runner {
	return &Runner{opts: opts}
}

// Run executes one batch. Concurrent callers wait for each other.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Before != nil {
		if err := r.Before(ctx); err != nil {
			r.remember(nil, err)
			return nil, err
		}
	}
	st, err := Run(ctx, r.Options())
	r.remember(st, err)
	return st, err
}

func (r *Runner) remember(st *Stats, err error) {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	if st != nil {
		r.last = st
	}
	r.err = err
}

// Last returns the stats of the most recent completed run and the error of
// the most recent attempt.
func (r *Runner) Last() (*Stats, error) {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	return r.last, r.err
}

// Options returns a copy of the run options.
func (r *Runner) Options() Options {
	r.optsMu.RLock()
	defer r.optsMu.RUnlock()
	return r.opts
}

// SetOptions replaces the options used by later runs. A run in progress keeps
// the options it started with.
func (r *Runner) SetOptions(opts Options) {
	r.optsMu.Lock()
	defer r.optsMu.Unlock()
	r.opts = opts
}
