package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
)

type summaryStyles struct {
	title lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	bad   lipgloss.Style
	dim   lipgloss.Style
}

func newSummaryStyles(color bool) summaryStyles {
	if !color {
		plain := lipgloss.NewStyle()
		return summaryStyles{title: plain, ok: plain, warn: plain, bad: plain, dim: plain}
	}
	return summaryStyles{
		title: lipgloss.NewStyle().Bold(true),
		ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printSummary(w io.Writer, st *pipeline.Stats, color bool) {
	s := newSummaryStyles(color)

	title := "Generation complete"
	if st.DryRun {
		title = "Dry run complete"
	}
	_, _ = fmt.Fprintf(w, "%s %s\n", s.title.Render(title),
		s.dim.Render(fmt.Sprintf("(run %s, %s)", st.RunID, st.Duration().Round(time.Millisecond))))

	errStyle := s.ok
	if st.Errors > 0 {
		errStyle = s.bad
	}
	_, _ = fmt.Fprintf(w, "  sources:   %d\n", st.Sources)
	_, _ = fmt.Fprintf(w, "  artifacts: %s\n", s.ok.Render(strconv.Itoa(st.Total)))
	_, _ = fmt.Fprintf(w, "  skipped:   %s\n", s.warn.Render(strconv.Itoa(st.Skipped)))
	_, _ = fmt.Fprintf(w, "  errors:    %s\n", errStyle.Render(strconv.Itoa(st.Errors)))
	if st.DryRun {
		_, _ = fmt.Fprintf(w, "  would write %d files\n", len(st.Written))
	}

	if len(st.Categories) > 0 {
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("CATEGORY", "SOURCES", "ARTIFACTS", "SKIPPED", "ERRORS")
		for _, c := range st.Categories {
			t.Row(c.Name, strconv.Itoa(c.Sources), strconv.Itoa(c.Artifacts), strconv.Itoa(c.Skipped), strconv.Itoa(c.Errors))
		}
		_, _ = fmt.Fprintln(w, t.String())
	}

	for _, f := range st.Failures {
		where := f.Category
		if f.Source != "" {
			where += "/" + f.Source
		}
		if f.Variant != "" {
			where += " [" + f.Variant + "]"
		}
		_, _ = fmt.Fprintf(w, "  %s %s: %s\n", s.bad.Render("✗"), where, f.Err)
	}
}
