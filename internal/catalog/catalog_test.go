package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/LCodingX/influence-dashboard/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestLoadEmbeddedDefault(t *testing.T) {
	t.Setenv("MODEL_CATALOG_PATH", "")
	cat, err := Load(testLogger(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cat.Models) == 0 {
		t.Fatalf("default catalog has no models")
	}
	if len(cat.GPUClasses) == 0 {
		t.Fatalf("default catalog has no gpu classes")
	}
	if !cat.HasModel("meta-llama/Llama-3.2-1B") {
		t.Fatalf("expected default model missing")
	}
	if cat.HasModel("does/NotExist") {
		t.Fatalf("HasModel matched unknown id")
	}
}

func TestLoadFromPathOverridesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := []byte(`
models:
  - id: org/custom-model
    name: Custom
    params: 2B
    context_length: 4096
gpu_classes:
  - id: NVIDIA L4
    vram_gb: 24
    hourly_usd: 0.43
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	t.Setenv("MODEL_CATALOG_PATH", path)

	cat, err := Load(testLogger(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cat.Models) != 1 || cat.Models[0].ID != "org/custom-model" {
		t.Fatalf("override not applied: %+v", cat.Models)
	}
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty models", "models: []\n"},
		{"missing id", "models:\n  - name: NoID\n"},
		{"duplicate id", "models:\n  - id: a\n  - id: a\n"},
		{"not yaml", "{{{{"},
	}
	for _, tc := range cases {
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
			t.Fatalf("write catalog: %v", err)
		}
		t.Setenv("MODEL_CATALOG_PATH", path)
		if _, err := Load(testLogger(t)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
