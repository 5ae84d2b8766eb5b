package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFillsDefaultsAndSanitizesPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := map[string]any{
		"port":        9090,
		"storagePath": "storage/../storage/images/",
	}
	data, _ := json.Marshal(raw)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.StoragePath != filepath.Clean("storage/../storage/images/") {
		t.Errorf("StoragePath = %q, want cleaned path", cfg.StoragePath)
	}
	if cfg.MaxConcurrentSites != 10 {
		t.Errorf("MaxConcurrentSites default = %d, want 10", cfg.MaxConcurrentSites)
	}
	if cfg.MaxImageWorkers != 4 {
		t.Errorf("MaxImageWorkers default = %d, want 4", cfg.MaxImageWorkers)
	}
	if cfg.AvailabilitySleep != 900*time.Second {
		t.Errorf("AvailabilitySleep default = %v, want 900s", cfg.AvailabilitySleep)
	}
	if cfg.ScrapeSleep != 3600*time.Second {
		t.Errorf("ScrapeSleep default = %v, want 3600s", cfg.ScrapeSleep)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestLoadConfigDisableFlagsFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatalf("write fixture config: %v", err)
	}

	t.Setenv("ML_DISABLE_ITEM_TYPE", "true")
	t.Setenv("ML_DISABLE_CONFLICT", "0")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !cfg.DisableItemType {
		t.Error("expected DisableItemType = true from ML_DISABLE_ITEM_TYPE=true")
	}
	if cfg.DisableConflict {
		t.Error("expected DisableConflict = false from ML_DISABLE_CONFLICT=0")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	cfg := GetDefaultConfig()
	cfg.Port = 4242

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if reloaded.Port != 4242 {
		t.Errorf("reloaded Port = %d, want 4242", reloaded.Port)
	}
}

func TestIsTruthyEnv(t *testing.T) {
	cases := []struct {
		val  string
		want bool
	}{
		{"1", true}, {"true", true}, {"YES", true}, {"on", true},
		{"0", false}, {"false", false}, {"", false}, {"maybe", false},
	}
	for _, c := range cases {
		t.Setenv("ML_TEST_FLAG", c.val)
		if got := isTruthyEnv("ML_TEST_FLAG"); got != c.want {
			t.Errorf("isTruthyEnv(%q) = %v, want %v", c.val, got, c.want)
		}
	}
}
