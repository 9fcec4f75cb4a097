package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/utils"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Model is one fine-tunable base model offered to the dashboard.
type Model struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	Params        string `yaml:"params" json:"params"`
	ContextLength int    `yaml:"context_length" json:"context_length"`
	Gated         bool   `yaml:"gated" json:"gated"`
	MinVRAMGB     int    `yaml:"min_vram_gb" json:"min_vram_gb"`
}

// GPUClass describes a backend GPU tier a job can be scheduled on.
type GPUClass struct {
	ID        string  `yaml:"id" json:"id"`
	VRAMGB    int     `yaml:"vram_gb" json:"vram_gb"`
	HourlyUSD float64 `yaml:"hourly_usd" json:"hourly_usd"`
}

// Catalog is the static model/GPU offering, loaded once at startup from
// MODEL_CATALOG_PATH when set, otherwise from the embedded default.
type Catalog struct {
	Models     []Model    `yaml:"models" json:"models"`
	GPUClasses []GPUClass `yaml:"gpu_classes" json:"gpu_classes"`
}

func Load(log *logger.Logger) (*Catalog, error) {
	raw := defaultCatalogYAML
	if path := strings.TrimSpace(utils.GetEnv("MODEL_CATALOG_PATH", "", log)); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read model catalog %s: %w", path, err)
		}
		raw = data
		log.Info("Loaded model catalog", "path", path)
	}

	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	if err := cat.validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalog) validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("model catalog has no models")
	}
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("model %d has no id", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// HasModel reports whether an id is in the catalog. The catalog is
// advisory: unknown ids are accepted at submission so users can point at
// any HF-hosted model, but the UI only lists these.
func (c *Catalog) HasModel(id string) bool {
	for _, m := range c.Models {
		if m.ID == id {
			return true
		}
	}
	return false
}
