package overwrite

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/r9s-ai/openclash-overwrite/pkg/yamlstrip"
)

const (
	DefaultProviderType     = "http"
	DefaultProviderInterval = 86400
)

// ProviderSummary is the template view of one proxy-providers entry.
type ProviderSummary struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Interval int    `json:"interval"`
}

// SummarizeProviders lists the mapping-valued proxy-providers entries of doc in
// source order. Entries whose value is not a mapping are ignored.
func SummarizeProviders(doc *yamlstrip.Document) []ProviderSummary {
	m := resolve(doc.Section(yamlstrip.KeyProxyProviders))
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	out := make([]ProviderSummary, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		v := resolve(m.Content[i+1])
		if v == nil || v.Kind != yaml.MappingNode {
			continue
		}
		var fields map[string]any
		if err := v.Decode(&fields); err != nil {
			continue
		}
		out = append(out, ProviderSummary{
			Name:     m.Content[i].Value,
			Type:     stringField(fields, "type", DefaultProviderType),
			URL:      stringField(fields, "url", ""),
			Interval: intField(fields, "interval", DefaultProviderInterval),
		})
	}
	return out
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func stringField(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return def
	}
	return s
}

func intField(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
