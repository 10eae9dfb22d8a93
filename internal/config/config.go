package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration, populated from the environment.
type Config struct {
	// Port is the HTTP listen port.
	Port int

	// Bind is the HTTP listen address.
	Bind string

	// DBPath is the sqlite storage file path.
	DBPath string

	// RepoPath is the root scanned for a default version-control handle.
	RepoPath string

	// MaxBytes is the per-file diff cap; larger files are neither diffed
	// nor cached.
	MaxBytes int64

	// IgnoreParts are path segments ignored by every watcher.
	IgnoreParts []string

	// OpenAIAPIKey enables the Correlator and Architecture Tracker.
	// When empty both are no-ops.
	OpenAIAPIKey string

	// OpenAIModel is the model tag for impact analysis and summaries.
	OpenAIModel string

	// OpenAIMatchingModel is the model tag for conversation matching.
	OpenAIMatchingModel string

	// WorkerPoolSize bounds the background task pool shared by the
	// Correlator and the Architecture Tracker.
	WorkerPoolSize int

	// LLMTimeoutSeconds is the per-call LLM timeout.
	LLMTimeoutSeconds int

	// WatchDebounceMS folds rapid distinct writes to the same path when
	// non-zero. Default 0: only byte-equal rewrites are coalesced.
	WatchDebounceMS int

	// SummaryEventLimit and SummaryCharLimit bound the event digest fed
	// to summary generation.
	SummaryEventLimit int
	SummaryCharLimit  int

	// CORSEnabled and CORSOrigins control the cross-origin policy of the
	// HTTP surface.
	CORSEnabled bool
	CORSOrigins []string
}

// Load reads configuration from the environment with defaults applied.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 4381)
	v.SetDefault("BIND", "127.0.0.1")
	v.SetDefault("DB_PATH", "codetrail.db")
	v.SetDefault("REPO_PATH", "")
	v.SetDefault("MAX_BYTES", 2_000_000)
	v.SetDefault("IGNORE_PARTS", ".git,node_modules,.venv,.idea,.vscode,__pycache__")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_MATCHING_MODEL", "gpt-4o")
	v.SetDefault("WORKER_POOL_SIZE", 4)
	v.SetDefault("LLM_TIMEOUT_SECONDS", 60)
	v.SetDefault("WATCH_DEBOUNCE_MS", 0)
	v.SetDefault("SUMMARY_EVENT_LIMIT", 50)
	v.SetDefault("SUMMARY_CHAR_LIMIT", 6000)
	v.SetDefault("CORS_ENABLED", false)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")

	return &Config{
		Port:                v.GetInt("PORT"),
		Bind:                v.GetString("BIND"),
		DBPath:              v.GetString("DB_PATH"),
		RepoPath:            v.GetString("REPO_PATH"),
		MaxBytes:            v.GetInt64("MAX_BYTES"),
		IgnoreParts:         splitList(v.GetString("IGNORE_PARTS")),
		OpenAIAPIKey:        v.GetString("OPENAI_API_KEY"),
		OpenAIModel:         v.GetString("OPENAI_MODEL"),
		OpenAIMatchingModel: v.GetString("OPENAI_MATCHING_MODEL"),
		WorkerPoolSize:      v.GetInt("WORKER_POOL_SIZE"),
		LLMTimeoutSeconds:   v.GetInt("LLM_TIMEOUT_SECONDS"),
		WatchDebounceMS:     v.GetInt("WATCH_DEBOUNCE_MS"),
		SummaryEventLimit:   v.GetInt("SUMMARY_EVENT_LIMIT"),
		SummaryCharLimit:    v.GetInt("SUMMARY_CHAR_LIMIT"),
		CORSEnabled:         v.GetBool("CORS_ENABLED"),
		CORSOrigins:         splitList(v.GetString("CORS_ORIGINS")),
	}
}

// LLMEnabled reports whether an LLM credential is configured.
func (c *Config) LLMEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// splitList splits a comma-separated value, trimming whitespace and
// dropping empty entries.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
