package logx

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const archiveSuffixLayout = "20060102-150405.000000000"

// RotateOptions configures a RotateWriter. MaxAgeDays=0 disables age pruning.
type RotateOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Now        func() time.Time
}

func (o RotateOptions) check() error {
	switch {
	case strings.TrimSpace(o.Path) == "":
		return errors.New("log path is empty")
	case o.MaxSizeMB <= 0:
		return errors.New("max_size_mb must be > 0")
	case o.MaxBackups <= 0:
		return errors.New("max_backups must be > 0")
	case o.MaxAgeDays < 0:
		return errors.New("max_age_days must be >= 0")
	}
	return nil
}

// RotateWriter appends to a log file and moves it aside to
// {path}.{timestamp}[.gz] when it would grow past MaxSizeMB or the local day
// changes. Old archives are pruned by count and age.
type RotateWriter struct {
	mu   sync.Mutex
	opts RotateOptions
	dir  string

	file   *os.File
	size   int64
	day    string
	closed bool
}

type archive struct {
	path string
	at   time.Time
}

// NewRotateWriter opens (or creates) opts.Path for appending.
func NewRotateWriter(opts RotateOptions) (*RotateWriter, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}
	opts.Path = strings.TrimSpace(opts.Path)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	w := &RotateWriter{opts: opts, dir: filepath.Dir(opts.Path)}
	if w.dir != "." {
		if err := os.MkdirAll(w.dir, 0o750); err != nil {
			return nil, err
		}
	}
	if err := w.open(w.opts.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotateWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, os.ErrClosed
	}
	now := w.opts.Now()
	full := w.size > 0 && w.size+int64(len(p)) > int64(w.opts.MaxSizeMB)*1024*1024
	if full || localDay(now) != w.day {
		if err := w.rotate(now); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotateWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.file == nil {
		w.closed = true
		return nil
	}
	w.closed = true
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotateWriter) open(now time.Time) error {
	f, err := os.OpenFile(w.opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.file, w.size, w.day = f, st.Size(), localDay(now)
	return nil
}

func (w *RotateWriter) rotate(now time.Time) error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	dst := fmt.Sprintf("%s.%s", w.opts.Path, now.In(time.Local).Format(archiveSuffixLayout))
	switch err := os.Rename(w.opts.Path, dst); {
	case err == nil:
		if w.opts.Compress {
			if err := gzipFile(dst); err != nil {
				_ = w.open(now)
				return err
			}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		if openErr := w.open(now); openErr != nil {
			return openErr
		}
		return err
	}

	if err := w.open(now); err != nil {
		return err
	}
	w.prune(now)
	return nil
}

// prune removes archives beyond MaxBackups (newest kept) and, when MaxAgeDays
// is set, archives older than that.
func (w *RotateWriter) prune(now time.Time) {
	archives, err := listArchives(w.dir, filepath.Base(w.opts.Path))
	if err != nil {
		return
	}
	var cutoff time.Time
	if w.opts.MaxAgeDays > 0 {
		cutoff = now.AddDate(0, 0, -w.opts.MaxAgeDays)
	}
	for i, a := range archives {
		if i >= w.opts.MaxBackups || (!cutoff.IsZero() && a.at.Before(cutoff)) {
			_ = os.Remove(a.path)
		}
	}
}

// listArchives returns rotated files of base in dir, newest first.
func listArchives(dir, base string) ([]archive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := base + "."
	var out []archive
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".gz")
		at, err := time.ParseInLocation(archiveSuffixLayout, stamp, time.Local)
		if err != nil {
			continue
		}
		out = append(out, archive{path: filepath.Join(dir, name), at: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at.After(out[j].at) })
	return out, nil
}

// gzipFile replaces path with path.gz.
func gzipFile(path string) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	tmp := path + ".gz.tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	zw := gzip.NewWriter(dst)
	if _, err = io.Copy(zw, src); err != nil {
		_ = zw.Close()
		_ = dst.Close()
		return err
	}
	if err = zw.Close(); err != nil {
		_ = dst.Close()
		return err
	}
	if err = dst.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, path+".gz"); err != nil {
		return err
	}
	return os.Remove(path)
}

func localDay(t time.Time) string {
	return t.In(time.Local).Format("20060102")
}
