// Package variant loads the config-type matrix: the list of feature-toggle
// combinations that each source document is expanded into.
package variant

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed config_types.yaml
var defaultDescriptor []byte

// Variant is one entry of the matrix.
type Variant struct {
	Suffix      string `json:"suffix" yaml:"suffix"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	SmartMode   bool   `json:"smart_mode" yaml:"smart_mode"`
	BypassMode  bool   `json:"bypass_mode" yaml:"bypass_mode"`
	EnableIPv6  bool   `json:"enable_ipv6" yaml:"enable_ipv6"`
	EnableLGBM  bool   `json:"enable_lgbm" yaml:"enable_lgbm"`
}

// Label identifies the variant in logs.
func (v Variant) Label() string {
	if strings.TrimSpace(v.Name) != "" {
		return v.Name
	}
	if v.Suffix == "" {
		return "default"
	}
	return strings.TrimPrefix(v.Suffix, "-")
}

// NeedsDNS reports whether the consumer must supply EN_DNS for this variant.
func (v Variant) NeedsDNS() bool { return v.BypassMode }

type rawVariant struct {
	Suffix      *string `json:"suffix" yaml:"suffix"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	SmartMode   *bool   `json:"smart_mode" yaml:"smart_mode"`
	BypassMode  *bool   `json:"bypass_mode" yaml:"bypass_mode"`
	EnableIPv6  *bool   `json:"enable_ipv6" yaml:"enable_ipv6"`
	EnableLGBM  *bool   `json:"enable_lgbm" yaml:"enable_lgbm"`
}

type descriptor struct {
	ConfigTypes []rawVariant `json:"config_types" yaml:"config_types"`
}

// Default returns the built-in nine-entry matrix.
func Default() []Variant {
	vs, err := Parse(defaultDescriptor, "config_types.yaml")
	if err != nil {
		panic(fmt.Sprintf("embedded config types: %v", err))
	}
	return vs
}

// Load reads a descriptor file. Files ending in .json are decoded as JSON,
// anything else as YAML.
func Load(path string) ([]Variant, error) {
	// #nosec G304 -- descriptor path is provided by trusted flag/config.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config types %q: %w", path, err)
	}
	return Parse(b, path)
}

// Parse decodes and validates a descriptor. Every entry must carry suffix and
// the four booleans; unknown fields and duplicate suffixes are rejected.
func Parse(b []byte, source string) ([]Variant, error) {
	var d descriptor
	if strings.EqualFold(filepath.Ext(source), ".json") {
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode config types %q: %w", source, err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&d); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode config types %q: %w", source, err)
		}
	}
	if len(d.ConfigTypes) == 0 {
		return nil, fmt.Errorf("config types %q: config_types is empty", source)
	}

	out := make([]Variant, 0, len(d.ConfigTypes))
	seen := map[string]int{}
	for i, rv := range d.ConfigTypes {
		v, err := rv.validate()
		if err != nil {
			return nil, fmt.Errorf("config types %q: entry %d: %w", source, i, err)
		}
		if prev, ok := seen[v.Suffix]; ok {
			return nil, fmt.Errorf("config types %q: entry %d: suffix %q already used by entry %d", source, i, v.Suffix, prev)
		}
		seen[v.Suffix] = i
		out = append(out, v)
	}
	return out, nil
}

func (rv rawVariant) validate() (Variant, error) {
	missing := make([]string, 0, 5)
	if rv.Suffix == nil {
		missing = append(missing, "suffix")
	}
	if rv.SmartMode == nil {
		missing = append(missing, "smart_mode")
	}
	if rv.BypassMode == nil {
		missing = append(missing, "bypass_mode")
	}
	if rv.EnableIPv6 == nil {
		missing = append(missing, "enable_ipv6")
	}
	if rv.EnableLGBM == nil {
		missing = append(missing, "enable_lgbm")
	}
	if len(missing) > 0 {
		return Variant{}, fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}
	if strings.ContainsAny(*rv.Suffix, `/\`) {
		return Variant{}, fmt.Errorf("suffix %q must not contain path separators", *rv.Suffix)
	}
	return Variant{
		Suffix:      *rv.Suffix,
		Name:        strings.TrimSpace(rv.Name),
		Description: strings.TrimSpace(rv.Description),
		SmartMode:   *rv.SmartMode,
		BypassMode:  *rv.BypassMode,
		EnableIPv6:  *rv.EnableIPv6,
		EnableLGBM:  *rv.EnableLGBM,
	}, nil
}
