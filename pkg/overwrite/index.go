package overwrite

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/r9s-ai/openclash-overwrite/pkg/render"
	"github.com/r9s-ai/openclash-overwrite/pkg/variant"
)

// IndexFileName is the per-category index written next to the artifacts.
const IndexFileName = "README.md"

const (
	DefaultUpstream        = "HenryChiao/mihomo_yamls/THEYAMLS"
	DefaultExternalPurpose = "外部同步配置"
	DefaultLocalPurpose    = "用户自定义配置"
)

// DefaultPurposes maps category names (or substrings of them) to a purpose line.
var DefaultPurposes = map[string]string{
	"General_Config": "通用配置，适合大多数使用场景",
	"Smart_Mode":     "Smart 智能模式专用配置，自动选择最优节点",
}

// IndexOptions tunes the wording of the index.
type IndexOptions struct {
	// Upstream labels external sources; defaults to DefaultUpstream.
	Upstream string
	// Purposes overrides DefaultPurposes when non-empty.
	Purposes map[string]string
}

// IndexContext is the data handed to the index template.
type IndexContext struct {
	Category   string
	SourceType string
	SourceDesc string
	Purpose    string
	Variants   []variant.Variant
	HasBypass  bool
	Timestamp  string
	Files      []string
}

// SourceDescription describes where a category's sources come from.
func (o IndexOptions) SourceDescription(sourceType, category string) string {
	if sourceType == SourceExternal {
		up := strings.TrimRight(strings.TrimSpace(o.Upstream), "/")
		if up == "" {
			up = DefaultUpstream
		}
		return up + "/" + category
	}
	return "本地目录 cleaner_config/" + category
}

// Purpose picks the purpose line for category: exact match first, then the
// first key (in sorted order) contained in the name, then a per-source default.
func (o IndexOptions) Purpose(sourceType, category string) string {
	purposes := o.Purposes
	if len(purposes) == 0 {
		purposes = DefaultPurposes
	}
	if p, ok := purposes[category]; ok {
		return p
	}
	keys := make([]string, 0, len(purposes))
	for k := range purposes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k != "" && strings.Contains(category, k) {
			return purposes[k]
		}
	}
	if sourceType == SourceExternal {
		return DefaultExternalPurpose
	}
	return DefaultLocalPurpose
}

// IndexContext builds the index data for category. files are the artifact
// file names generated in this run; they are listed sorted.
func (e *Expander) IndexContext(category string, files []string, opts IndexOptions) IndexContext {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	hasBypass := false
	for _, v := range e.Variants {
		if v.NeedsDNS() {
			hasBypass = true
			break
		}
	}
	return IndexContext{
		Category:   category,
		SourceType: e.SourceType,
		SourceDesc: opts.SourceDescription(e.SourceType, category),
		Purpose:    opts.Purpose(e.SourceType, category),
		Variants:   e.Variants,
		HasBypass:  hasBypass,
		Timestamp:  e.now().Format(TimestampLayout),
		Files:      sorted,
	}
}

// WriteIndex renders the category index into {OutputRoot}/{category}/README.md.
// It is written even when the category produced no artifacts.
func (e *Expander) WriteIndex(category string, files []string, opts IndexOptions) (string, error) {
	path := filepath.Join(e.OutputRoot, filepath.FromSlash(category), IndexFileName)
	out, err := e.Renderer.Render(render.IndexTemplate, e.IndexContext(category, files, opts))
	if err != nil {
		return path, &RenderError{Template: render.IndexTemplate, Err: err}
	}
	if err := e.writer().WriteFile(path, out); err != nil {
		return path, fmt.Errorf("write index: %w", err)
	}
	e.logger().Debug("index written", "category", category, "files", len(files))
	return path, nil
}
