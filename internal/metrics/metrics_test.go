package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
)

func sampleStats() *pipeline.Stats {
	start := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	return &pipeline.Stats{
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Total:      9,
		Errors:     1,
		Categories: []*pipeline.CategoryStats{
			{Name: "General_Config", Artifacts: 9, Errors: 1, Skipped: 2},
			{Name: "Empty"},
		},
	}
}

func TestRunFinished(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	st := sampleStats()
	c.RunFinished(st, nil)

	if got := testutil.ToFloat64(c.runs.WithLabelValues("ok")); got != 1 {
		t.Fatalf("runs ok=%v", got)
	}
	if got := testutil.ToFloat64(c.artifacts.WithLabelValues("General_Config")); got != 9 {
		t.Fatalf("artifacts=%v", got)
	}
	if got := testutil.ToFloat64(c.errors.WithLabelValues("General_Config")); got != 1 {
		t.Fatalf("errors=%v", got)
	}
	if got := testutil.ToFloat64(c.skipped.WithLabelValues("General_Config")); got != 2 {
		t.Fatalf("skipped=%v", got)
	}
	if got := testutil.ToFloat64(c.lastSuccess); got != float64(st.FinishedAt.Unix()) {
		t.Fatalf("last success=%v", got)
	}
	if got := testutil.ToFloat64(c.artifactsMade); got != 9 {
		t.Fatalf("artifacts total=%v", got)
	}
	if n := testutil.CollectAndCount(c.runDuration); n != 1 {
		t.Fatalf("duration series=%d", n)
	}
}

func TestRunFinished_FailedAndDryRun(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.RunFinished(nil, errors.New("boom"))
	if got := testutil.ToFloat64(c.runs.WithLabelValues("failed")); got != 1 {
		t.Fatalf("runs failed=%v", got)
	}

	st := sampleStats()
	st.DryRun = true
	c.RunFinished(st, nil)
	if got := testutil.ToFloat64(c.lastSuccess); got != 0 {
		t.Fatalf("dry run should not update last success, got %v", got)
	}
	if got := testutil.CollectAndCount(c.artifacts); got != 0 {
		t.Fatalf("dry run should not publish category gauges, got %d series", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector(nil)
	c.RunFinished(sampleStats(), nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`openclash_overwrite_runs_total{result="ok"} 1`,
		`openclash_overwrite_category_artifacts{category="General_Config"} 9`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
