// Package yamlstrip reduces Mihomo/Clash configuration documents to the
// sections an overwrite file needs: proxy-providers, proxy-groups,
// rule-providers and rules, plus the anchor definitions those sections still
// reference.
//
// Reduction is two passes. Anchors are extracted from the raw text first,
// because a parse and re-encode cycle does not keep their original spelling or
// placement. The text is then parsed into a yaml.v3 node tree, filtered, and the
// anchor table is closed over the aliases left in the filtered body.
package yamlstrip

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	KeyProxyProviders = "proxy-providers"
	KeyProxyGroups    = "proxy-groups"
	KeyRuleProviders  = "rule-providers"
	KeyRules          = "rules"
)

// KeepKeys lists the top-level keys retained by Reduce.
var KeepKeys = []string{KeyProxyProviders, KeyProxyGroups, KeyRuleProviders, KeyRules}

func isKeepKey(k string) bool {
	for _, kk := range KeepKeys {
		if kk == k {
			return true
		}
	}
	return false
}

// Section is one retained top-level entry. Both nodes are the source nodes,
// untouched.
type Section struct {
	Key     string
	KeyNode *yaml.Node
	Value   *yaml.Node
}

// Meta is informational and never influences filtering.
type Meta struct {
	Source         string `json:"source" yaml:"source"`
	ProxyProviders int    `json:"proxy_providers" yaml:"proxy_providers"`
	RuleProviders  int    `json:"rule_providers" yaml:"rule_providers"`
	ProxyGroups    int    `json:"proxy_groups" yaml:"proxy_groups"`
	Rules          int    `json:"rules" yaml:"rules"`
}

// Document is the reduced form of one source document.
type Document struct {
	Sections []Section
	// Anchors holds only the definitions referenced from Sections.
	Anchors AnchorTable
	Meta    Meta
	// DuplicateAnchors lists anchor names defined more than once in the source.
	DuplicateAnchors []string
}

// ReduceFile reads path and reduces its content.
func ReduceFile(path string) (*Document, error) {
	// #nosec G304 -- path comes from the input tree walk.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Reduce(raw, filepath.ToSlash(path))
}

// Reduce filters raw YAML down to the kept sections.
//
// It returns a *ParseError for malformed YAML and ErrNotApplicable when the
// document is empty or none of KeepKeys is present.
func Reduce(raw []byte, source string) (*Document, error) {
	table, dups, err := ExtractAnchors(raw)
	if err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	top := documentMapping(&root)
	if top == nil {
		return nil, ErrNotApplicable
	}

	doc := &Document{DuplicateAnchors: dups}
	index := map[string]int{}
	for i := 0; i+1 < len(top.Content); i += 2 {
		k, v := top.Content[i], top.Content[i+1]
		if !isKeepKey(k.Value) {
			continue
		}
		if at, ok := index[k.Value]; ok {
			doc.Sections[at] = Section{Key: k.Value, KeyNode: k, Value: v}
			continue
		}
		index[k.Value] = len(doc.Sections)
		doc.Sections = append(doc.Sections, Section{Key: k.Value, KeyNode: k, Value: v})
	}
	if len(doc.Sections) == 0 {
		return nil, ErrNotApplicable
	}

	values := make([]*yaml.Node, 0, len(doc.Sections))
	for _, s := range doc.Sections {
		values = append(values, s.Value)
	}
	doc.Anchors = CloseAnchors(table, ReferencedAnchors(values...))
	doc.Meta = Meta{
		Source:         source,
		ProxyProviders: countEntries(doc.Section(KeyProxyProviders)),
		RuleProviders:  countEntries(doc.Section(KeyRuleProviders)),
		ProxyGroups:    countEntries(doc.Section(KeyProxyGroups)),
		Rules:          countEntries(doc.Section(KeyRules)),
	}
	return doc, nil
}

func documentMapping(root *yaml.Node) *yaml.Node {
	n := root
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return nil
		}
		n = n.Content[0]
	}
	n = resolveAlias(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	return n
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func countEntries(n *yaml.Node) int {
	n = resolveAlias(n)
	if n == nil {
		return 0
	}
	switch n.Kind {
	case yaml.MappingNode:
		return len(n.Content) / 2
	case yaml.SequenceNode:
		return len(n.Content)
	default:
		return 0
	}
}

// Section returns the value node for key, or nil when the key was not retained.
func (d *Document) Section(key string) *yaml.Node {
	if d == nil {
		return nil
	}
	for _, s := range d.Sections {
		if s.Key == key {
			return s.Value
		}
	}
	return nil
}

// Keys returns the retained keys in source order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.Sections))
	for _, s := range d.Sections {
		out = append(out, s.Key)
	}
	return out
}

// Body builds a mapping node holding the retained sections. The result is a
// copy and is self-contained: the first alias to a kept anchor carries that
// anchor and later ones point at it, while aliases to anchors defined outside
// the retained sections are replaced by a copy of their value.
func (d *Document) Body() *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if d == nil {
		return m
	}
	c := &bodyCopier{keep: d.Anchors, defined: map[string]*yaml.Node{}}
	for _, s := range d.Sections {
		k := s.KeyNode
		if k == nil {
			k = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s.Key}
		}
		m.Content = append(m.Content, c.copy(k, false), c.copy(s.Value, false))
	}
	return m
}

type bodyCopier struct {
	keep    AnchorTable
	defined map[string]*yaml.Node
}

// copy clones n. inlined is set while copying the value of an alias whose
// definition lies outside the retained sections.
func (c *bodyCopier) copy(n *yaml.Node, inlined bool) *yaml.Node {
	if n == nil {
		return nil
	}
	if n.Kind == yaml.AliasNode {
		if target, ok := c.defined[n.Value]; ok {
			return &yaml.Node{Kind: yaml.AliasNode, Value: n.Value, Alias: target, Line: n.Line, Column: n.Column}
		}
		if n.Alias == nil {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
		}
		return c.copy(n.Alias, true)
	}

	out := *n
	out.Content = nil
	if out.Anchor != "" {
		_, kept := c.keep[out.Anchor]
		_, seen := c.defined[out.Anchor]
		if (inlined && !kept) || (inlined && seen) {
			out.Anchor = ""
		} else {
			c.defined[out.Anchor] = &out
		}
	}
	if len(n.Content) > 0 {
		out.Content = make([]*yaml.Node, 0, len(n.Content))
		for _, child := range n.Content {
			out.Content = append(out.Content, c.copy(child, inlined))
		}
	}
	return &out
}

// Values decodes the retained sections into plain Go values. Aliases are
// resolved, so the result is comparable with a decode of the full source.
func (d *Document) Values() (map[string]any, error) {
	out := map[string]any{}
	if err := d.Body().Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

const anchorRule = "# ============================================================================"

// Encode renders the reduced document: a comment block listing the referenced
// anchor definitions as written in the source, sorted by name, followed by the
// retained sections. The output parses on its own.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if d != nil && len(d.Anchors) > 0 {
		lines := []string{anchorRule, "# Anchors Definition", anchorRule}
		for _, name := range d.Anchors.Names() {
			lines = append(lines, "# "+d.Anchors[name].Line)
		}
		buf.WriteString(strings.Join(lines, "\n"))
		buf.WriteString("\n\n")
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.Body()); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("encode reduced document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode reduced document: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile encodes d and writes it to path, creating parent directories.
func (d *Document) WriteFile(path string) error {
	b, err := d.Encode()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o644)
}
