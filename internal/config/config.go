// Package config provides configuration management for recall.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Defaults.
const (
	DefaultWorkerPort   = 37777
	DefaultModel        = "haiku"
	DefaultAgentCommand = "claude"
	DefaultChromaURL    = "http://127.0.0.1:8900"

	DefaultDedupeWindowSeconds = 30
	DefaultRestartCap          = 3
	DefaultTokenBudget         = 2000

	DefaultRRFK            = 60
	DefaultAgreementBonus  = 0.003
	DefaultAgreementCutoff = 5
	DefaultVectorWeight    = 0.7
	DefaultKeywordWeight   = 0.3
)

// Config holds all runtime settings. Values come from
// ~/.recall/settings.json with RECALL_* keys, overridable per-key through
// the environment.
type Config struct {
	WorkerPort     int    `json:"RECALL_WORKER_PORT"`
	Model          string `json:"RECALL_MODEL"`
	AgentCommand   string `json:"RECALL_AGENT_COMMAND"`
	ChromaURL      string `json:"RECALL_CHROMA_URL"`
	MaxConns       int    `json:"RECALL_DB_MAX_CONNS"`
	LogLevel       string `json:"RECALL_LOG_LEVEL"`
	VectorDisabled bool   `json:"RECALL_VECTOR_DISABLED"`

	// Acquire stage.
	DedupeWindowSeconds int `json:"RECALL_DEDUPE_WINDOW_SECONDS"`

	// Agent loop.
	RestartCap int `json:"RECALL_RESTART_CAP"`

	// Context injection.
	TokenBudget         int `json:"RECALL_TOKEN_BUDGET"`
	ContextObservations int `json:"RECALL_CONTEXT_OBSERVATIONS"`
	ContextSummaries    int `json:"RECALL_CONTEXT_SUMMARIES"`

	// Retrieval fusion.
	RRFK            int     `json:"RECALL_RRF_K"`
	AgreementBonus  float64 `json:"RECALL_AGREEMENT_BONUS"`
	AgreementCutoff int     `json:"RECALL_AGREEMENT_CUTOFF"`
	VectorWeight    float64 `json:"RECALL_VECTOR_WEIGHT"`
	KeywordWeight   float64 `json:"RECALL_KEYWORD_WEIGHT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkerPort:          DefaultWorkerPort,
		Model:               DefaultModel,
		AgentCommand:        DefaultAgentCommand,
		ChromaURL:           DefaultChromaURL,
		MaxConns:            4,
		LogLevel:            "info",
		DedupeWindowSeconds: DefaultDedupeWindowSeconds,
		RestartCap:          DefaultRestartCap,
		TokenBudget:         DefaultTokenBudget,
		ContextObservations: 50,
		ContextSummaries:    10,
		RRFK:                DefaultRRFK,
		AgreementBonus:      DefaultAgreementBonus,
		AgreementCutoff:     DefaultAgreementCutoff,
		VectorWeight:        DefaultVectorWeight,
		KeywordWeight:       DefaultKeywordWeight,
	}
}

// DataDir is where recall keeps its state.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".recall")
}

// DBPath is the SQLite database location.
func DBPath() string {
	return filepath.Join(DataDir(), "recall.db")
}

// SettingsPath is the settings file location.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// VocabPath is the observation-type vocabulary location.
func VocabPath() string {
	return filepath.Join(DataDir(), "vocab.yml")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll initializes the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads the settings file, applies env overrides, and returns the
// resulting config. Missing or malformed files fall back to defaults; a
// broken settings file must never take the worker down.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			log.Warn().Err(jsonErr).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
			cfg = Default()
		}
	}

	applyEnvOverrides(cfg)
	normalize(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := envInt("RECALL_WORKER_PORT"); v > 0 {
		cfg.WorkerPort = v
	}
	if v := os.Getenv("RECALL_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("RECALL_AGENT_COMMAND"); v != "" {
		cfg.AgentCommand = v
	}
	if v := os.Getenv("RECALL_CHROMA_URL"); v != "" {
		cfg.ChromaURL = v
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := envInt("RECALL_DEDUPE_WINDOW_SECONDS"); v > 0 {
		cfg.DedupeWindowSeconds = v
	}
	if v := envInt("RECALL_RESTART_CAP"); v > 0 {
		cfg.RestartCap = v
	}
	if v := envInt("RECALL_TOKEN_BUDGET"); v > 0 {
		cfg.TokenBudget = v
	}
	if os.Getenv("RECALL_VECTOR_DISABLED") == "1" || strings.EqualFold(os.Getenv("RECALL_VECTOR_DISABLED"), "true") {
		cfg.VectorDisabled = true
	}
}

// normalize keeps tunables inside sane ranges regardless of what the file
// or environment said.
func normalize(cfg *Config) {
	if cfg.WorkerPort <= 0 {
		cfg.WorkerPort = DefaultWorkerPort
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
	if cfg.DedupeWindowSeconds <= 0 {
		cfg.DedupeWindowSeconds = DefaultDedupeWindowSeconds
	}
	if cfg.RestartCap <= 0 {
		cfg.RestartCap = DefaultRestartCap
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if cfg.ContextObservations <= 0 {
		cfg.ContextObservations = 50
	}
	if cfg.ContextSummaries <= 0 {
		cfg.ContextSummaries = 10
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.AgreementCutoff <= 0 {
		cfg.AgreementCutoff = DefaultAgreementCutoff
	}
	if cfg.VectorWeight <= 0 && cfg.KeywordWeight <= 0 {
		cfg.VectorWeight = DefaultVectorWeight
		cfg.KeywordWeight = DefaultKeywordWeight
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

var (
	global   *Config
	globalMu sync.Mutex
)

// Get returns the process-wide config, loading it on first use.
func Get() *Config {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		global = cfg
	}
	return global
}

// Reload replaces the process-wide config from disk.
func Reload() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	globalMu.Lock()
	global = cfg
	globalMu.Unlock()
	return cfg, nil
}

// GetWorkerPort resolves the worker port: env first, then settings.
func GetWorkerPort() int {
	if v := envInt("RECALL_WORKER_PORT"); v > 0 {
		return v
	}
	return Get().WorkerPort
}

// splitTrim splits a comma-separated value into trimmed, non-empty parts.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
