package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Settings.ThreadMode != ModeNormal {
		t.Errorf("expected normal mode, got %s", cfg.Settings.ThreadMode)
	}
	if !cfg.Settings.AutoCapture {
		t.Error("auto_capture should default to true")
	}
	if cfg.Quota() != 50 {
		t.Errorf("expected quota 50, got %d", cfg.Quota())
	}
	if cfg.Settings.InjectBudgetChars != 8000 {
		t.Errorf("expected budget 8000, got %d", cfg.Settings.InjectBudgetChars)
	}
}

func TestLoadOverlaysPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"language": "fr", "settings": {"thread_mode": "light", "auto_capture": false}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Language != "fr" {
		t.Errorf("expected fr, got %s", cfg.Language)
	}
	if cfg.Quota() != 15 {
		t.Errorf("expected light quota 15, got %d", cfg.Quota())
	}
	if cfg.Settings.AutoCapture {
		t.Error("explicit auto_capture=false was lost")
	}
	// Unspecified fields keep their defaults.
	if cfg.Settings.InjectBudgetChars != 8000 {
		t.Errorf("expected default budget, got %d", cfg.Settings.InjectBudgetChars)
	}
}

func TestExplicitLimitOverridesMode(t *testing.T) {
	cfg := Default()
	cfg.Settings.ThreadMode = ModeMax
	cfg.Settings.ActiveThreadsLimit = 33
	if cfg.Quota() != 33 {
		t.Errorf("expected explicit limit 33, got %d", cfg.Quota())
	}
}

func TestQuotaTiers(t *testing.T) {
	tiers := map[ThreadMode]int{ModeLight: 15, ModeNormal: 50, ModeHeavy: 100, ModeMax: 200}
	for mode, want := range tiers {
		if got := QuotaFor(mode); got != want {
			t.Errorf("QuotaFor(%s) = %d, want %d", mode, got, want)
		}
	}
	if QuotaFor(ThreadMode("bogus")) != 50 {
		t.Error("unknown mode should fall back to normal quota")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLang, "es")
	t.Setenv(EnvInjectBudget, "4000")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Language != "es" {
		t.Errorf("PROJECT_LANG override lost: %s", cfg.Language)
	}
	if cfg.Settings.InjectBudgetChars != 4000 {
		t.Errorf("budget override lost: %d", cfg.Settings.InjectBudgetChars)
	}
}

func TestBadLanguageNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"language": "de"}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Language != "en" {
		t.Errorf("unsupported language should normalize to en, got %s", cfg.Language)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.ProjectName = "plexus-test"
	cfg.Settings.ThreadMode = ModeHeavy

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ProjectName != "plexus-test" || loaded.Settings.ThreadMode != ModeHeavy {
		t.Errorf("round-trip mismatch: %+v", loaded)
	}
}
