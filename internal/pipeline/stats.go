package pipeline

import (
	"sort"
	"time"

	"github.com/r9s-ai/openclash-overwrite/pkg/yamlstrip"
)

// Failure is one counted error.
type Failure struct {
	Category string `json:"category"`
	Source   string `json:"source,omitempty"`
	Variant  string `json:"variant,omitempty"`
	Err      string `json:"error"`
}

type CategoryStats struct {
	Name      string   `json:"name"`
	Sources   int      `json:"sources"`
	Artifacts int      `json:"artifacts"`
	Skipped   int      `json:"skipped"`
	Errors    int      `json:"errors"`
	Files     []string `json:"files"`
	Index     string   `json:"index,omitempty"`
}

// DocumentReport describes what happened to one source document.
type DocumentReport struct {
	Category  string         `json:"category"`
	Source    string         `json:"source"`
	Meta      yamlstrip.Meta `json:"meta"`
	Artifacts int            `json:"artifacts"`
	Failed    int            `json:"failed"`
	Skipped   bool           `json:"skipped"`
	Reason    string         `json:"reason,omitempty"`
	Err       string         `json:"error,omitempty"`
}

// Stats summarises a run.
type Stats struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`

	// Total counts generated artifacts.
	Total   int `json:"total"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
	Sources int `json:"sources"`

	Categories []*CategoryStats  `json:"categories"`
	Documents  []DocumentReport `json:"documents"`
	Failures   []Failure        `json:"failures,omitempty"`
	// Written lists the paths a dry run would have written.
	Written []string `json:"written,omitempty"`
}

// Duration is the wall time of the run.
func (s *Stats) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Category returns the stats for name, or nil.
func (s *Stats) Category(name string) *CategoryStats {
	for _, c := range s.Categories {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (s *Stats) category(name string) *CategoryStats {
	if c := s.Category(name); c != nil {
		return c
	}
	c := &CategoryStats{Name: name}
	s.Categories = append(s.Categories, c)
	return c
}

func (s *Stats) addFailure(cs *CategoryStats, f Failure) {
	s.Errors++
	cs.Errors++
	s.Failures = append(s.Failures, f)
}

func (s *Stats) sortCategories() {
	sort.Slice(s.Categories, func(i, j int) bool { return s.Categories[i].Name < s.Categories[j].Name })
}
