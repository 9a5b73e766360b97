package yamlstrip

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	anchorLinePattern = regexp.MustCompile(`^(\s*)&(\w+)\s+(.+)$`)
	aliasTokenPattern = regexp.MustCompile(`\*(\w+)`)
)

// Anchor is one textual anchor definition line as it appears in the source.
type Anchor struct {
	Name   string
	Indent string
	Line   string
}

// AnchorTable maps anchor names to their definitions.
type AnchorTable map[string]Anchor

// Names returns the anchor names in lexical order.
func (t AnchorTable) Names() []string {
	out := make([]string, 0, len(t))
	for name := range t {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ExtractAnchors scans raw text for lines of the form "<indent>&name value".
// It works on text only, so the spelling and indentation of each definition is
// kept exactly. Duplicated names resolve to the last occurrence and are
// reported in dups. A scanner failure, such as a line over 16 MiB, is returned
// instead of a truncated table.
func ExtractAnchors(raw []byte) (table AnchorTable, dups []string, err error) {
	table = AnchorTable{}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := string(bytes.TrimRight(sc.Bytes(), "\r"))
		m := anchorLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent, name, content := m[1], m[2], m[3]
		if _, ok := table[name]; ok {
			dups = append(dups, name)
		}
		table[name] = Anchor{
			Name:   name,
			Indent: indent,
			Line:   indent + "&" + name + " " + content,
		}
	}
	if err = sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan anchors: %w", err)
	}
	return table, dups, nil
}

// ReferencedAnchors walks a node tree and returns every alias name used in it.
func ReferencedAnchors(nodes ...*yaml.Node) map[string]struct{} {
	refs := map[string]struct{}{}
	var walk func(n *yaml.Node)
	walk = func(n *yaml.Node) {
		if n == nil {
			return
		}
		if n.Kind == yaml.AliasNode && n.Value != "" {
			refs[n.Value] = struct{}{}
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return refs
}

// CloseAnchors keeps only the table entries whose names are referenced, either
// from refs or from the text of another kept definition. Referenced names
// without a definition are dropped.
func CloseAnchors(table AnchorTable, refs map[string]struct{}) AnchorTable {
	out := AnchorTable{}
	pending := make([]string, 0, len(refs))
	for name := range refs {
		pending = append(pending, name)
	}
	for len(pending) > 0 {
		name := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, done := out[name]; done {
			continue
		}
		a, ok := table[name]
		if !ok {
			continue
		}
		out[name] = a
		for _, m := range aliasTokenPattern.FindAllStringSubmatch(a.Line, -1) {
			if _, done := out[m[1]]; !done {
				pending = append(pending, m[1])
			}
		}
	}
	return out
}
