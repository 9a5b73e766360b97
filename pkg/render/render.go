// Package render is the templating service used by the overwrite generator.
// Templates are plain text/template files named *.tmpl, loaded either from a
// directory or from the built-in set.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"text/template"
)

const (
	// OverwriteTemplate renders one overwrite artifact.
	OverwriteTemplate = "base.conf.tmpl"
	// IndexTemplate renders the per-category index.
	IndexTemplate = "README.md.tmpl"
)

//go:embed templates/*.tmpl
var builtinFS embed.FS

// Renderer turns a named template and its data into text.
type Renderer interface {
	Render(name string, data any) ([]byte, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(name string, data any) ([]byte, error)

func (f RendererFunc) Render(name string, data any) ([]byte, error) { return f(name, data) }

var funcs = template.FuncMap{
	"boolInt": func(b bool) int {
		if b {
			return 1
		}
		return 0
	},
	"check": func(b bool) string {
		if b {
			return "✅"
		}
		return "❌"
	},
	"inc":   func(i int) int { return i + 1 },
	"quote": strconv.Quote,
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// Templates is a parsed template set.
type Templates struct {
	set    *template.Template
	source string
}

// Builtin returns the templates shipped with the binary.
func Builtin() *Templates {
	t, err := LoadFS(builtinFS, "templates/*.tmpl")
	if err != nil {
		panic(err)
	}
	t.source = "builtin"
	return t
}

// Load parses every *.tmpl file in dir. An empty dir selects the builtin set.
func Load(dir string) (*Templates, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return Builtin(), nil
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("template root %q: %w", dir, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("template root %q is not a directory", dir)
	}
	t, err := LoadFS(os.DirFS(dir), "*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("template root %q: %w", dir, err)
	}
	t.source = dir
	return t, nil
}

// LoadFS parses the files matching patterns in fsys.
func LoadFS(fsys fs.FS, patterns ...string) (*Templates, error) {
	set, err := template.New("").Funcs(funcs).Option("missingkey=error").ParseFS(fsys, patterns...)
	if err != nil {
		return nil, err
	}
	return &Templates{set: set}, nil
}

// Source reports where the set was loaded from.
func (t *Templates) Source() string { return t.source }

// Has reports whether a template with the given name exists.
func (t *Templates) Has(name string) bool {
	return t != nil && t.set.Lookup(name) != nil
}

// Require returns an error naming every missing template.
func (t *Templates) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if !t.Has(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("template(s) not found in %s: %s", t.source, strings.Join(missing, ", "))
	}
	return nil
}

// Render executes the named template.
func (t *Templates) Render(name string, data any) ([]byte, error) {
	if t == nil || t.set == nil {
		return nil, errors.New("render: no templates loaded")
	}
	if t.set.Lookup(name) == nil {
		return nil, fmt.Errorf("render: template %q not found", name)
	}
	var buf bytes.Buffer
	if err := t.set.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
