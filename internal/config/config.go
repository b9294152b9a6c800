// Package config loads and watches the project-local config.json that
// tunes the memory daemon: thread mode quotas, UI language, LLM hints, and
// advisory budgets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/vthunder/plexus/internal/types"
)

// Environment variables honored across the binary
const (
	EnvLang         = "PROJECT_LANG"         // overrides config language
	EnvSkipHooks    = "PLEXUS_SKIP_HOOKS"    // anti-reentry flag for hook shims
	EnvInjectBudget = "PLEXUS_INJECT_BUDGET" // char budget override
)

// ThreadMode selects the active-thread quota
type ThreadMode string

const (
	ModeLight  ThreadMode = "light"
	ModeNormal ThreadMode = "normal"
	ModeHeavy  ThreadMode = "heavy"
	ModeMax    ThreadMode = "max"
)

var modeQuotas = map[ThreadMode]int{
	ModeLight:  15,
	ModeNormal: 50,
	ModeHeavy:  100,
	ModeMax:    200,
}

// QuotaFor returns the quota for a mode, or the normal quota for unknown
// modes.
func QuotaFor(mode ThreadMode) int {
	if q, ok := modeQuotas[mode]; ok {
		return q
	}
	return modeQuotas[ModeNormal]
}

// ValidMode reports whether mode names a known quota tier
func ValidMode(mode ThreadMode) bool {
	_, ok := modeQuotas[mode]
	return ok
}

// TokenLimits are advisory token budgets (chars are authoritative)
type TokenLimits struct {
	Injection int `json:"injection,omitempty"`
	Recall    int `json:"recall,omitempty"`
}

// Settings is the behavior-tuning block of config.json
type Settings struct {
	ThreadMode         ThreadMode  `json:"thread_mode,omitempty"`
	ActiveThreadsLimit int         `json:"active_threads_limit,omitempty"` // explicit quota override
	AutoCapture        bool        `json:"auto_capture"`
	TokenLimits        TokenLimits `json:"token_limits,omitempty"`
	InjectBudgetChars  int         `json:"inject_budget_chars,omitempty"`
	SessionGapMinutes  int         `json:"session_gap_minutes,omitempty"`
	ThreadHalfLifeDays float64     `json:"thread_half_life_days,omitempty"`
	BridgeHalfLifeDays float64     `json:"bridge_half_life_days,omitempty"`
}

// LLM configures the external model surfaces
type LLM struct {
	ExtractionModel string `json:"extraction_model,omitempty"`
	EmbeddingModel  string `json:"embedding_model,omitempty"`
	EmbeddingURL    string `json:"embedding_url,omitempty"`
	ClaudeCLIPath   string `json:"claude_cli_path,omitempty"`
}

// Guardcode holds advisory reminders surfaced during injection
type Guardcode struct {
	EnforcePlanMode    bool `json:"enforce_plan_mode,omitempty"`
	WarnQuickSolutions bool `json:"warn_quick_solutions,omitempty"`
	RequireAllChoices  bool `json:"require_all_choices,omitempty"`
}

// Config mirrors config.json
type Config struct {
	ProjectName string    `json:"project_name,omitempty"`
	Language    string    `json:"language,omitempty"`
	Settings    Settings  `json:"settings"`
	LLM         LLM       `json:"llm"`
	Guardcode   Guardcode `json:"guardcode"`
}

// Default returns the config used when config.json is absent or partial
func Default() Config {
	return Config{
		Language: "en",
		Settings: Settings{
			ThreadMode:         ModeNormal,
			AutoCapture:        true,
			InjectBudgetChars:  8000,
			SessionGapMinutes:  30,
			ThreadHalfLifeDays: types.HalfLifeThreadDays,
			BridgeHalfLifeDays: types.HalfLifeBridgeDays,
		},
	}
}

// Load reads config.json at path, overlaying it on defaults and applying
// env overrides. A missing file yields the defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config: %w", err)
	}
	normalize(&cfg)
	applyEnv(&cfg)
	return cfg, nil
}

// Save writes config.json with stable indentation
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func normalize(cfg *Config) {
	if !ValidMode(cfg.Settings.ThreadMode) {
		cfg.Settings.ThreadMode = ModeNormal
	}
	switch cfg.Language {
	case "en", "fr", "es":
	default:
		cfg.Language = "en"
	}
	if cfg.Settings.InjectBudgetChars <= 0 {
		cfg.Settings.InjectBudgetChars = 8000
	}
	if cfg.Settings.SessionGapMinutes <= 0 {
		cfg.Settings.SessionGapMinutes = 30
	}
	if cfg.Settings.ThreadHalfLifeDays <= 0 {
		cfg.Settings.ThreadHalfLifeDays = types.HalfLifeThreadDays
	}
	if cfg.Settings.BridgeHalfLifeDays <= 0 {
		cfg.Settings.BridgeHalfLifeDays = types.HalfLifeBridgeDays
	}
}

func applyEnv(cfg *Config) {
	if lang := os.Getenv(EnvLang); lang == "en" || lang == "fr" || lang == "es" {
		cfg.Language = lang
	}
	if v := os.Getenv(EnvInjectBudget); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Settings.InjectBudgetChars = n
		}
	}
}

// Quota resolves the active-thread quota: explicit limit wins, else the
// mode table.
func (c *Config) Quota() int {
	if c.Settings.ActiveThreadsLimit > 0 {
		return c.Settings.ActiveThreadsLimit
	}
	return QuotaFor(c.Settings.ThreadMode)
}

// SkipHooks reports the anti-reentry flag set by daemon-spawned LLM calls
func SkipHooks() bool {
	return os.Getenv(EnvSkipHooks) != ""
}
