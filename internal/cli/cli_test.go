package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sharedver "github.com/r9s-ai/openclash-overwrite/internal/version"
	"github.com/r9s-ai/openclash-overwrite/pkg/config"
)

const mainYAML = `
proxy-providers:
  sub:
    type: http
    url: https://sub.example/x
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

func inputTree(t *testing.T, broken bool) string {
	t.Helper()
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "General_Config", "main.yaml"), mainYAML)
	writeFile(t, filepath.Join(in, "General_Config", "plain.yaml"), "port: 7890\n")
	if broken {
		writeFile(t, filepath.Join(in, "General_Config", "broken.yaml"), "proxy-providers: [oops\n")
	}
	return in
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRootCmdHasSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	for _, name := range []string{"generate", "strip", "watch", "serve", "sync", "browse", "version"} {
		if _, _, err := root.Find([]string{name}); err != nil {
			t.Fatalf("find %s subcommand: %v", name, err)
		}
	}
}

func TestVersionCmdOutput(t *testing.T) {
	t.Parallel()

	cmd := newVersionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute version cmd: %v", err)
	}
	got := strings.TrimSpace(buf.String())
	want := strings.TrimSpace(fmt.Sprint(sharedver.Get()))
	if got != want {
		t.Fatalf("version output=%q want=%q", got, want)
	}
}

func TestGenerate(t *testing.T) {
	in := inputTree(t, false)
	out := t.TempDir()
	code, stdout, stderr := run(t, "generate", "-i", in, "-o", out, "--repo-url", "https://host/repo/main/")
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
	for _, name := range []string{"README.md", "Overwrite-main.conf", "Overwrite-bypass-main.conf"} {
		if _, err := os.Stat(filepath.Join(out, "General_Config", name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	b, err := os.ReadFile(filepath.Join(out, "General_Config", "Overwrite-main.conf"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "https://host/repo/main/processed_configs/external/General_Config/main.yaml") {
		t.Fatalf("artifact missing download url:\n%s", b)
	}
	if !strings.Contains(stdout, "Generation complete") || !strings.Contains(stdout, "General_Config") {
		t.Fatalf("summary=%s", stdout)
	}
}

func TestGenerate_FailOnError(t *testing.T) {
	in := inputTree(t, true)

	code, stdout, _ := run(t, "generate", "-i", in, "-o", t.TempDir())
	if code != 0 {
		t.Fatalf("errors without --fail-on-error should exit 0, got %d", code)
	}
	if !strings.Contains(stdout, "broken.yaml") {
		t.Fatalf("summary should list the failure:\n%s", stdout)
	}

	code, _, stderr := run(t, "generate", "-i", in, "-o", t.TempDir(), "--fail-on-error")
	if code != 2 {
		t.Fatalf("exit=%d want 2", code)
	}
	if !strings.Contains(stderr, "1 error(s)") {
		t.Fatalf("stderr=%s", stderr)
	}
}

func TestGenerate_ConfigurationErrors(t *testing.T) {
	in := inputTree(t, false)
	cases := map[string][]string{
		"config types": {"generate", "-i", in, "-o", t.TempDir(), "-c", filepath.Join(t.TempDir(), "missing.json")},
		"templates":    {"generate", "-i", in, "-o", t.TempDir(), "-t", filepath.Join(t.TempDir(), "missing")},
		"source":       {"generate", "-i", in, "-o", t.TempDir(), "--source", "remote"},
		"repo url":     {"generate", "-i", in, "-o", t.TempDir(), "--repo-url", "not-a-url"},
	}
	for name, args := range cases {
		code, _, stderr := run(t, args...)
		if code != 1 {
			t.Fatalf("%s: exit=%d want 1", name, code)
		}
		if !strings.Contains(stderr, "configuration") {
			t.Fatalf("%s: stderr=%s", name, stderr)
		}
	}
}

func TestGenerate_TemplateDirMissingIndex(t *testing.T) {
	tmpl := t.TempDir()
	writeFile(t, filepath.Join(tmpl, "base.conf.tmpl"), "x")
	code, _, stderr := run(t, "generate", "-i", inputTree(t, false), "-o", t.TempDir(), "-t", tmpl)
	if code != 1 || !strings.Contains(stderr, "README.md.tmpl") {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
}

func TestGenerate_DryRunJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	code, stdout, stderr := run(t, "generate", "-i", inputTree(t, false), "-o", out, "--dry-run", "--json")
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
	var st struct {
		DryRun  bool     `json:"dry_run"`
		Total   int      `json:"total"`
		Skipped int      `json:"skipped"`
		Written []string `json:"written"`
	}
	if err := json.Unmarshal([]byte(stdout), &st); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout)
	}
	if !st.DryRun || st.Total == 0 || st.Skipped != 1 || len(st.Written) == 0 {
		t.Fatalf("stats=%+v", st)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("dry run created output root, err=%v", err)
	}
}

func TestGenerate_ConfigFile(t *testing.T) {
	in := inputTree(t, false)
	out := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "overwrite.yaml")
	writeFile(t, cfgPath, fmt.Sprintf("input: %q\noutput: %q\nsource_type: local\nlogging:\n  level: warn\n", in, out))

	code, _, stderr := run(t, "--config", cfgPath, "generate")
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
	b, err := os.ReadFile(filepath.Join(out, "General_Config", "README.md"))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if !strings.Contains(string(b), "cleaner_config/General_Config") {
		t.Fatalf("local source description missing:\n%s", b)
	}

	code, _, _ = run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "generate")
	if code != 1 {
		t.Fatalf("missing explicit config should exit 1, got %d", code)
	}
}

func TestStrip(t *testing.T) {
	in := inputTree(t, true)
	out := t.TempDir()
	code, stdout, stderr := run(t, "strip", "-i", filepath.Join(in, "General_Config"), "-o", out)
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(out, "main.yaml")); err != nil {
		t.Fatalf("reduced file missing: %v", err)
	}
	for _, want := range []string{"main.yaml: proxy-providers=1", "plain.yaml: skipped", "processed=1 skipped=1 failed=1"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}

	code, _, _ = run(t, "strip", "-i", filepath.Join(in, "General_Config"), "-o", t.TempDir(), "--fail-on-error")
	if code != 2 {
		t.Fatalf("exit=%d want 2", code)
	}
	if code, _, _ := run(t, "strip", "-i", in); code != 1 {
		t.Fatalf("missing --output should exit 1, got %d", code)
	}
}

func TestSync_RequiresRepository(t *testing.T) {
	t.Setenv("OCW_SYNC_REPOSITORY", "")
	code, _, stderr := run(t, "sync", "--local-path", t.TempDir())
	if code != 1 || !strings.Contains(stderr, "sync.repository") {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
}

func TestWatchPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Input = "in"
	if got := watchPaths(cfg); len(got) != 1 || got[0] != "in" {
		t.Fatalf("paths=%v", got)
	}
	cfg.Templates = "tmpl"
	cfg.ConfigTypes = "types.json"
	if got := strings.Join(watchPaths(cfg), ","); got != "in,tmpl,types.json" {
		t.Fatalf("paths=%s", got)
	}
}
