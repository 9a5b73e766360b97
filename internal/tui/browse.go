// Package tui is a terminal browser over a generated overwrite tree.
package tui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
	"github.com/r9s-ai/openclash-overwrite/pkg/overwrite"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// entry is one browsable file: an overwrite artifact or a category index.
type entry struct {
	category string
	name     string
	path     string
	size     int64
}

func (e entry) Title() string { return e.category + "/" + e.name }

func (e entry) Description() string {
	if e.name == overwrite.IndexFileName {
		return fmt.Sprintf("category index, %d bytes", e.size)
	}
	return fmt.Sprintf("%d bytes", e.size)
}

func (e entry) FilterValue() string { return e.category + "/" + e.name }

// loadEntries lists index files and artifacts under root, sorted by category
// then name with the index first.
func loadEntries(root string) ([]entry, error) {
	cats, err := pipeline.Categories(root)
	if err != nil {
		return nil, err
	}
	var out []entry
	for _, cat := range cats {
		des, err := os.ReadDir(filepath.Join(root, cat))
		if err != nil {
			return nil, err
		}
		var files []entry
		for _, de := range des {
			if de.IsDir() {
				continue
			}
			name := de.Name()
			if name != overwrite.IndexFileName && !(strings.HasPrefix(name, "Overwrite") && strings.HasSuffix(name, ".conf")) {
				continue
			}
			fi, err := de.Info()
			if err != nil {
				return nil, err
			}
			files = append(files, entry{category: cat, name: name, path: filepath.Join(root, cat, name), size: fi.Size()})
		}
		sort.Slice(files, func(i, j int) bool {
			if (files[i].name == overwrite.IndexFileName) != (files[j].name == overwrite.IndexFileName) {
				return files[i].name == overwrite.IndexFileName
			}
			return files[i].name < files[j].name
		})
		out = append(out, files...)
	}
	return out, nil
}

type mode int

const (
	modeList mode = iota
	modeView
)

type model struct {
	root    string
	stats   *pipeline.Stats
	list    list.Model
	view    viewport.Model
	mode    mode
	current entry
	err     error
	width   int
	height  int
}

func newModel(root string, stats *pipeline.Stats) (*model, error) {
	entries, err := loadEntries(root)
	if err != nil {
		return nil, err
	}
	l := list.New(toItems(entries), list.NewDefaultDelegate(), 0, 0)
	l.Title = "overwrite: " + root
	l.Styles.Title = titleStyle
	l.SetShowHelp(true)
	return &model{
		root:  root,
		stats: stats,
		list:  l,
		view:  viewport.New(0, 0),
	}, nil
}

func toItems(entries []entry) []list.Item {
	items := make([]list.Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, e)
	}
	return items
}

func (m *model) Init() tea.Cmd { return nil }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.mode == modeView {
			switch msg.String() {
			case "esc", "q", "backspace":
				m.mode = modeList
				return m, nil
			}
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}
		if m.list.FilterState() != list.Filtering {
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "enter":
				m.open()
				return m, nil
			case "r":
				return m, m.reload()
			}
		}
	}
	var cmd tea.Cmd
	if m.mode == modeList {
		m.list, cmd = m.list.Update(msg)
	} else {
		m.view, cmd = m.view.Update(msg)
	}
	return m, cmd
}

func (m *model) resize() {
	h := m.height - lipgloss.Height(m.statusLine())
	if h < 1 {
		h = 1
	}
	m.list.SetSize(m.width, h)
	m.view.Width = m.width
	m.view.Height = h - 1
}

func (m *model) open() {
	it, ok := m.list.SelectedItem().(entry)
	if !ok {
		return
	}
	// #nosec G304 -- path comes from listing the output tree.
	b, err := os.ReadFile(it.path)
	if err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.current = it
	m.view.SetContent(string(b))
	m.view.GotoTop()
	m.mode = modeView
}

func (m *model) reload() tea.Cmd {
	entries, err := loadEntries(m.root)
	if err != nil {
		m.err = err
		return nil
	}
	m.err = nil
	return m.list.SetItems(toItems(entries))
}

func (m *model) statusLine() string {
	var parts []string
	if m.stats != nil {
		parts = append(parts, fmt.Sprintf("run %s: %d artifacts, %d errors, %d skipped",
			m.stats.RunID, m.stats.Total, m.stats.Errors, m.stats.Skipped))
	}
	parts = append(parts, fmt.Sprintf("%d files", len(m.list.Items())))
	line := helpStyle.Render(strings.Join(parts, " | "))
	if m.err != nil {
		line += "\n" + errStyle.Render(m.err.Error())
	}
	return line
}

func (m *model) View() string {
	if m.mode == modeView {
		header := headerStyle.Render(m.current.Title())
		footer := helpStyle.Render(fmt.Sprintf("%3.f%%  esc: back  ctrl+c: quit", m.view.ScrollPercent()*100))
		return lipgloss.JoinVertical(lipgloss.Left, header, m.view.View(), footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.list.View(), m.statusLine())
}

// Options configures Run.
type Options struct {
	Root string
	// Stats, when set, is summarised in the status line.
	Stats *pipeline.Stats
	In    io.Reader
	Out   io.Writer
}

// Run opens the browser on the alternate screen and blocks until it quits.
func Run(opts Options) error {
	if strings.TrimSpace(opts.Root) == "" {
		return errors.New("tui: root is empty")
	}
	m, err := newModel(opts.Root, opts.Stats)
	if err != nil {
		return fmt.Errorf("tui: load %s: %w", opts.Root, err)
	}
	var progOpts []tea.ProgramOption
	if opts.In != nil {
		progOpts = append(progOpts, tea.WithInput(opts.In))
	}
	if opts.Out != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Out))
	}
	progOpts = append(progOpts, tea.WithAltScreen())
	if _, err := tea.NewProgram(m, progOpts...).Run(); err != nil {
		return fmt.Errorf("tui run failed: %w", err)
	}
	return nil
}
