// Package preset holds the static catalog of named generation presets and
// the resolution of per-request overrides against them.
package preset

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/minivault/minivault/internal/domain"
)

// Preset is a named bundle of default generation parameters.
type Preset struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Defaults are the global fallback parameters used when neither the request
// nor a preset provides a value.
type Defaults struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	System      string
}

const DefaultName = "balanced"

// Builtin returns the built-in preset catalog.
func Builtin() map[string]Preset {
	return map[string]Preset{
		"creative": {
			Name:        "creative",
			Description: "For creative writing, stories, and imaginative content",
			Temperature: 0.9,
			TopP:        0.95,
			MaxTokens:   2000,
		},
		"balanced": {
			Name:        "balanced",
			Description: "General purpose, balanced between creativity and accuracy",
			Temperature: 0.7,
			TopP:        0.9,
			MaxTokens:   1000,
		},
		"precise": {
			Name:        "precise",
			Description: "For factual, analytical, and accurate responses",
			Temperature: 0.3,
			TopP:        0.8,
			MaxTokens:   1000,
		},
		"deterministic": {
			Name:        "deterministic",
			Description: "For consistent, reproducible outputs",
			Temperature: 0.1,
			TopP:        0.5,
			MaxTokens:   500,
		},
		"code": {
			Name:        "code",
			Description: "Optimized for code generation and technical content",
			Temperature: 0.2,
			TopP:        0.7,
			MaxTokens:   1500,
		},
	}
}

// LoadFile overlays presets from a YAML file onto the given table. Entries
// with an existing name replace the built-in definition.
func LoadFile(path string, table map[string]Preset) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read presets file: %w", err)
	}

	var file struct {
		Presets []Preset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse presets file: %w", err)
	}

	for _, p := range file.Presets {
		if p.Name == "" {
			return fmt.Errorf("presets file %s: preset without a name", path)
		}
		table[p.Name] = p
	}
	return nil
}

// Resolve merges explicit request fields, the named preset's values, and the
// global defaults into a concrete configuration, in that order of precedence.
// A preset name absent from the table is an error, never a silent fallback.
func Resolve(req domain.GenerateRequest, table map[string]Preset, def Defaults) (domain.ResolvedConfig, error) {
	cfg := domain.ResolvedConfig{
		Preset:      req.Preset,
		Model:       def.Model,
		Temperature: def.Temperature,
		TopP:        def.TopP,
		MaxTokens:   def.MaxTokens,
		System:      def.System,
	}

	if req.Preset != "" {
		p, ok := table[req.Preset]
		if !ok {
			return domain.ResolvedConfig{}, fmt.Errorf("%w: %q", domain.ErrUnknownPreset, req.Preset)
		}
		cfg.Temperature = p.Temperature
		cfg.TopP = p.TopP
		cfg.MaxTokens = p.MaxTokens
	}

	if req.Model != "" {
		cfg.Model = req.Model
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		cfg.TopP = *req.TopP
	}
	if req.MaxTokens != nil {
		cfg.MaxTokens = *req.MaxTokens
	}
	if req.System != "" {
		cfg.System = req.System
	}

	return cfg, nil
}

// Catalog renders the table as the /presets response payload.
func Catalog(table map[string]Preset) []domain.PresetInfo {
	infos := make([]domain.PresetInfo, 0, len(table))
	for _, p := range table {
		infos = append(infos, domain.PresetInfo{
			Name:        p.Name,
			Description: p.Description,
			Temperature: p.Temperature,
			TopP:        p.TopP,
			MaxTokens:   p.MaxTokens,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
