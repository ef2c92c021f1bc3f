package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFallsBackToDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retrieval.WeightRRF != 0.60 {
		t.Errorf("expected default weight_rrf 0.60, got %v", cfg.Retrieval.WeightRRF)
	}
	if cfg.Claims.PoolCapacity != 10 {
		t.Errorf("expected default pool capacity 10, got %d", cfg.Claims.PoolCapacity)
	}
}

func TestLoadOverlaysYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "db_path: /tmp/custom.db\nretrieval:\n  weight_rrf: 0.5\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("expected overridden db_path, got %q", cfg.DBPath)
	}
	if cfg.Retrieval.WeightRRF != 0.5 {
		t.Errorf("expected overridden weight_rrf 0.5, got %v", cfg.Retrieval.WeightRRF)
	}
	// untouched fields retain defaults
	if cfg.Claims.PoolCapacity != 10 {
		t.Errorf("expected default pool capacity to survive partial override, got %d", cfg.Claims.PoolCapacity)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	t.Setenv("TXGRAPH_DB_PATH", "/tmp/env-override.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/env-override.db" {
		t.Errorf("expected env override to win, got %q", cfg.DBPath)
	}
}
