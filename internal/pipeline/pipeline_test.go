package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/r9s-ai/openclash-overwrite/pkg/overwrite"
	"github.com/r9s-ai/openclash-overwrite/pkg/render"
	"github.com/r9s-ai/openclash-overwrite/pkg/runid"
	"github.com/r9s-ai/openclash-overwrite/pkg/variant"
)

const mainYAML = `
port: 7890
dns:
  enable: true
x-hc:
  &hc {url: "https://cp.cloudflare.com", interval: 300}
proxy-providers:
  sub:
    type: http
    url: https://sub.example/x
    health-check: *hc
proxy-groups:
  - name: PROXY
    type: select
    use: [sub]
rules:
  - MATCH,PROXY
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func fixtureTree(t *testing.T) string {
	t.Helper()
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "General_Config", "main.yaml"), mainYAML)
	writeFile(t, filepath.Join(in, "General_Config", "rules-only.yaml"), "rules:\n  - MATCH,DIRECT\n")
	writeFile(t, filepath.Join(in, "General_Config", "plain.yaml"), "port: 1\n")
	writeFile(t, filepath.Join(in, "General_Config", "broken.yaml"), "proxy-providers: [unterminated\n")
	writeFile(t, filepath.Join(in, "General_Config", "notes.txt"), "ignored")
	writeFile(t, filepath.Join(in, "Smart_Mode", "nested", "smart.yaml"), mainYAML)
	if err := os.MkdirAll(filepath.Join(in, "Empty"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(in, ".git"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return in
}

func testOptions(in, out string) Options {
	return Options{
		InputRoot:  in,
		OutputRoot: out,
		Variants:   variant.Default(),
		Renderer:   render.Builtin(),
		RepoURL:    "https://host/repo/main",
		SourceType: overwrite.SourceExternal,
		Now:        func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) },
	}
}

func TestRun_Tree(t *testing.T) {
	in := fixtureTree(t)
	out := t.TempDir()
	processed := t.TempDir()
	opts := testOptions(in, out)
	opts.ProcessedRoot = processed

	st, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	n := len(variant.Default())
	if st.Total != 2*n {
		t.Fatalf("total=%d want %d", st.Total, 2*n)
	}
	if st.Errors != 1 {
		t.Fatalf("errors=%d failures=%+v", st.Errors, st.Failures)
	}
	if st.Skipped != 2 {
		t.Fatalf("skipped=%d", st.Skipped)
	}
	if len(st.Categories) != 3 {
		t.Fatalf("categories=%d", len(st.Categories))
	}
	if st.Categories[0].Name != "Empty" || st.Categories[1].Name != "General_Config" {
		t.Fatalf("categories not sorted: %s, %s", st.Categories[0].Name, st.Categories[1].Name)
	}

	for _, cat := range []string{"Empty", "General_Config", "Smart_Mode"} {
		if _, err := os.Stat(filepath.Join(out, cat, overwrite.IndexFileName)); err != nil {
			t.Fatalf("index for %s missing: %v", cat, err)
		}
	}
	b, err := os.ReadFile(filepath.Join(out, "Smart_Mode", "Overwrite-smart-smart.conf"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	want := "https://host/repo/main/processed_configs/external/Smart_Mode/nested/smart.yaml"
	if !strings.Contains(string(b), want) {
		t.Fatalf("artifact missing url %q:\n%s", want, b)
	}

	p, err := os.ReadFile(filepath.Join(processed, "General_Config", "main.yaml"))
	if err != nil {
		t.Fatalf("processed yaml missing: %v", err)
	}
	if !strings.Contains(string(p), "&hc") || strings.Contains(string(p), "port:") {
		t.Fatalf("unexpected processed yaml:\n%s", p)
	}
	if _, err := os.Stat(filepath.Join(processed, "Smart_Mode", "nested", "smart.yaml")); err != nil {
		t.Fatalf("nested processed yaml missing: %v", err)
	}
}

func TestRun_Reports(t *testing.T) {
	st, err := Run(context.Background(), testOptions(fixtureTree(t), t.TempDir()))
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if st.RunID == "" {
		t.Fatalf("run id missing")
	}
	var main *DocumentReport
	for i := range st.Documents {
		if st.Documents[i].Source == "main.yaml" {
			main = &st.Documents[i]
		}
	}
	if main == nil {
		t.Fatalf("main.yaml report missing: %+v", st.Documents)
	}
	if main.Meta.ProxyProviders != 1 || main.Meta.ProxyGroups != 1 || main.Meta.Rules != 1 {
		t.Fatalf("meta=%+v", main.Meta)
	}
	if st.Failures[0].Source != "broken.yaml" {
		t.Fatalf("failure=%+v", st.Failures[0])
	}
}

func TestRun_DryRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	opts := testOptions(fixtureTree(t), out)
	opts.DryRun = true
	st, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if st.Total == 0 || len(st.Written) != st.Total+3 {
		t.Fatalf("total=%d written=%d", st.Total, len(st.Written))
	}
	if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("dry run touched the output root: %v", err)
	}
}

func TestRun_Idempotent(t *testing.T) {
	in := fixtureTree(t)
	out := t.TempDir()
	opts := testOptions(in, out)
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run err=%v", err)
	}
	first := snapshot(t, out)
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run err=%v", err)
	}
	second := snapshot(t, out)
	if len(first) != len(second) {
		t.Fatalf("file count changed %d -> %d", len(first), len(second))
	}
	for p, b := range first {
		if second[p] != b {
			t.Fatalf("%s changed between runs", p)
		}
	}
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		b, err := os.ReadFile(p)
		out[p] = string(b)
		return err
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	return out
}

func TestRun_StemCollision(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "C", "a", "main.yaml"), mainYAML)
	writeFile(t, filepath.Join(in, "C", "b", "main.yaml"), mainYAML)
	st, err := Run(context.Background(), testOptions(in, t.TempDir()))
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if st.Errors != 1 || st.Total != len(variant.Default()) {
		t.Fatalf("errors=%d total=%d", st.Errors, st.Total)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := Run(ctx, testOptions(fixtureTree(t), t.TempDir()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if st == nil || st.Total != 0 {
		t.Fatalf("no document should be processed after cancel: %+v", st)
	}
}

func TestRun_StartupErrors(t *testing.T) {
	opts := testOptions(filepath.Join(t.TempDir(), "missing"), t.TempDir())
	if _, err := Run(context.Background(), opts); err == nil {
		t.Fatalf("expected error for missing input root")
	}
	opts = testOptions(t.TempDir(), t.TempDir())
	opts.Variants = nil
	if _, err := Run(context.Background(), opts); err == nil {
		t.Fatalf("expected error for empty variants")
	}
}

type recordingObserver struct {
	stats []*Stats
	errs  []error
}

func (o *recordingObserver) RunFinished(s *Stats, err error) {
	o.stats = append(o.stats, s)
	o.errs = append(o.errs, err)
}

func TestRun_ObserverAndRunID(t *testing.T) {
	obs := &recordingObserver{}
	opts := testOptions(fixtureTree(t), t.TempDir())
	opts.Observer = obs
	ctx := runid.With(context.Background(), "fixed-id")
	if _, err := Run(ctx, opts); err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if len(obs.stats) != 1 || obs.errs[0] != nil {
		t.Fatalf("observer calls=%d errs=%v", len(obs.stats), obs.errs)
	}
	if obs.stats[0].RunID != "fixed-id" {
		t.Fatalf("run id=%q", obs.stats[0].RunID)
	}
}

func TestRunner_Serialises(t *testing.T) {
	r := NewRunner(testOptions(fixtureTree(t), t.TempDir()))
	var calls int
	var mu sync.Mutex
	r.Before = func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Run(context.Background()); err != nil {
				t.Errorf("Run err=%v", err)
			}
		}()
	}
	wg.Wait()
	if calls != 3 {
		t.Fatalf("before calls=%d", calls)
	}
	st, err := r.Last()
	if err != nil || st == nil || st.Total == 0 {
		t.Fatalf("last=%+v err=%v", st, err)
	}

	r.Before = func(ctx context.Context) error { return errors.New("sync failed") }
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected before error")
	}
	st, err = r.Last()
	if err == nil || st == nil {
		t.Fatalf("last should keep previous stats and report error, st=%v err=%v", st, err)
	}
}

func TestRunner_SetOptions(t *testing.T) {
	in := fixtureTree(t)
	r := NewRunner(testOptions(in, t.TempDir()))
	out2 := t.TempDir()
	r.SetOptions(testOptions(in, out2))
	if got := r.Options().OutputRoot; got != out2 {
		t.Fatalf("output root=%q", got)
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(out2, "General_Config", "README.md")); err != nil {
		t.Fatalf("run did not use replaced options: %v", err)
	}
}

func TestStrip(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "a.yaml"), mainYAML)
	writeFile(t, filepath.Join(in, "b.yaml"), "port: 1\n")
	writeFile(t, filepath.Join(in, "sub", "c.yaml"), mainYAML)
	out := t.TempDir()

	reps, err := Strip(context.Background(), StripOptions{InputDir: in, OutputDir: out})
	if err != nil {
		t.Fatalf("Strip err=%v", err)
	}
	if len(reps) != 2 {
		t.Fatalf("non-recursive reports=%d", len(reps))
	}
	if reps[0].Meta.ProxyProviders != 1 || !reps[1].Skipped {
		t.Fatalf("reports=%+v", reps)
	}

	reps, err = Strip(context.Background(), StripOptions{InputDir: in, OutputDir: out, Recursive: true})
	if err != nil {
		t.Fatalf("Strip err=%v", err)
	}
	if len(reps) != 3 {
		t.Fatalf("recursive reports=%d", len(reps))
	}
	if _, err := os.Stat(filepath.Join(out, "sub", "c.yaml")); err != nil {
		t.Fatalf("nested output missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "b.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("skipped document should not be written")
	}
}
