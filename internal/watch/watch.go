// Package watch triggers regeneration when sources, templates or the variant
// descriptor change on disk.
package watch

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options configures Start.
type Options struct {
	// Paths are directories (watched recursively) or single files.
	Paths    []string
	Debounce time.Duration
	// Ignore lists path prefixes whose events are dropped, e.g. the output root
	// when it lives inside a watched directory.
	Ignore []string
	// OnChange runs after the debounce window. Calls never overlap.
	OnChange func()
	Logger   *slog.Logger
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var watchedExts = map[string]struct{}{
	".yaml": {},
	".yml":  {},
	".json": {},
	".tmpl": {},
}

// Start installs the watcher. Closing the returned closer stops it and waits
// for a running OnChange to return.
func Start(opts Options) (io.Closer, error) {
	if opts.OnChange == nil {
		return nil, errors.New("watch: OnChange is nil")
	}
	if opts.Debounce <= 0 {
		return nil, errors.New("watch: debounce must be > 0")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	var watched []string
	for _, p := range opts.Paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := addWatch(watcher, p); err != nil {
			_ = watcher.Close()
			return nil, err
		}
		watched = append(watched, p)
	}
	if len(watched) == 0 {
		_ = watcher.Close()
		return nil, errors.New("watch: no paths to watch")
	}

	ignore := make([]string, 0, len(opts.Ignore))
	for _, p := range opts.Ignore {
		if abs, err := filepath.Abs(p); err == nil && strings.TrimSpace(p) != "" {
			ignore = append(ignore, abs)
		}
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	triggerCh := make(chan struct{}, 1)

	go func() {
		defer close(doneCh)
		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		resetTimer := func() {
			if timer == nil {
				timer = time.NewTimer(opts.Debounce)
				timerC = timer.C
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(opts.Debounce)
			timerC = timer.C
		}

		for {
			select {
			case <-stopCh:
				if timer != nil {
					timer.Stop()
				}
				return
			case <-timerC:
				timerC = nil
				opts.OnChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("watcher error", "err", err)
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&fsnotify.Create != 0 {
					if fi, statErr := os.Stat(evt.Name); statErr == nil && fi.IsDir() {
						if addErr := addWatch(watcher, evt.Name); addErr != nil {
							log.Warn("add watch failed", "path", evt.Name, "err", addErr)
						}
					}
				}
				if shouldTrigger(evt, ignore) {
					log.Debug("change detected", "path", evt.Name, "op", evt.Op.String())
					select {
					case triggerCh <- struct{}{}:
					default:
					}
				}
			case <-triggerCh:
				resetTimer()
			}
		}
	}()

	log.Info("watching for changes", "paths", strings.Join(watched, ","), "debounce", opts.Debounce.String())
	return closerFunc(func() error {
		close(stopCh)
		_ = watcher.Close()
		<-doneCh
		return nil
	}), nil
}

func shouldTrigger(evt fsnotify.Event, ignore []string) bool {
	if strings.TrimSpace(evt.Name) == "" {
		return false
	}
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(evt.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if abs, err := filepath.Abs(evt.Name); err == nil {
		for _, p := range ignore {
			if abs == p || strings.HasPrefix(abs, p+string(filepath.Separator)) {
				return false
			}
		}
	}
	ext := strings.ToLower(filepath.Ext(base))
	if ext == "" {
		// Directory create/remove/rename.
		return true
	}
	_, ok := watchedExts[ext]
	return ok
}

// addWatch adds root and, for directories, every non-hidden subdirectory.
func addWatch(watcher *fsnotify.Watcher, root string) error {
	fi, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
