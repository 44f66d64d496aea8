package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (PEN_MEMOIR_DELAY, PEN_LLM_API_KEY, ...).
const EnvPrefix = "PEN"

// LLM providers.
const (
	ProviderGroq  = "groq"
	ProviderLocal = "local"
)

// Config holds application configuration.
type Config struct {
	// DataDir is the directory holding pen.db, config.json and blobs/.
	// Set by Load, never read from the file.
	DataDir string `mapstructure:"-"`

	// MemoirDelay is the quiet period between the last content edit of a
	// whisper and its memoir generation run.
	MemoirDelay time.Duration `mapstructure:"memoir_delay"`

	// GenerationTimeout bounds a single memoir generator call.
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`

	// TranscriptionTimeout bounds a single speech-to-text call.
	TranscriptionTimeout time.Duration `mapstructure:"transcription_timeout"`

	// MaxTranscriptChars truncates transcripts before they reach the generator.
	MaxTranscriptChars int `mapstructure:"max_transcript_chars"`

	// WorkerConcurrency limits concurrently running synthesis jobs.
	WorkerConcurrency int `mapstructure:"worker_concurrency"`

	// DefaultPublic is the initial visibility of new whispers.
	DefaultPublic bool `mapstructure:"default_public"`

	// RescheduleOnTitle makes title-only edits re-trigger memoir generation.
	RescheduleOnTitle bool `mapstructure:"reschedule_on_title"`

	// MaxUploadBytes caps audio uploads.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `mapstructure:"db_max_open_conns"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `mapstructure:"db_max_idle_conns"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `mapstructure:"disabled_tools"`

	// DisabledTypes is a list of tool type names ("whisper", "memoir", ...) to disable entirely.
	DisabledTypes []string `mapstructure:"disabled_types"`

	// MCPUser is the identity the MCP server and CLI act as when none is given.
	MCPUser string `mapstructure:"mcp_user"`

	HTTP HTTPConfig `mapstructure:"http"`
	Auth AuthConfig `mapstructure:"auth"`
	LLM  LLMConfig  `mapstructure:"llm"`
	Log  LogConfig  `mapstructure:"log"`
}

// HTTPConfig configures the JSON API server.
type HTTPConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	UploadTTL time.Duration `mapstructure:"upload_ttl"`
}

// LLMConfig configures the speech-to-text and chat completion backend.
type LLMConfig struct {
	// Provider is "groq" (any OpenAI-compatible API) or "local".
	// Empty resolves to groq when an API key is present, local otherwise.
	Provider           string  `mapstructure:"provider"`
	BaseURL            string  `mapstructure:"base_url"`
	APIKey             string  `mapstructure:"api_key"`
	Model              string  `mapstructure:"model"`
	TitleModel         string  `mapstructure:"title_model"`
	TranscriptionModel string  `mapstructure:"transcription_model"`
	Temperature        float64 `mapstructure:"temperature"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// defaults is applied to every viper instance. Every key must appear here
// for AutomaticEnv to pick it up during Unmarshal.
var defaults = map[string]any{
	"memoir_delay":            7 * time.Second,
	"generation_timeout":      60 * time.Second,
	"transcription_timeout":   120 * time.Second,
	"max_transcript_chars":    12000,
	"worker_concurrency":      4,
	"default_public":          true,
	"reschedule_on_title":     false,
	"max_upload_bytes":        int64(25 << 20),
	"db_max_open_conns":       0,
	"db_max_idle_conns":       0,
	"disabled_tools":          []string{},
	"disabled_types":          []string{},
	"mcp_user":                "",
	"http.bind":               "127.0.0.1",
	"http.port":               8787,
	"auth.jwt_secret":         "",
	"auth.issuer":             "phantompen",
	"auth.token_ttl":          24 * time.Hour,
	"auth.upload_ttl":         10 * time.Minute,
	"llm.provider":            "",
	"llm.base_url":            "https://api.groq.com/openai/v1",
	"llm.api_key":             "",
	"llm.model":               "openai/gpt-oss-120b",
	"llm.title_model":         "openai/gpt-oss-20b",
	"llm.transcription_model": "whisper-large-v3-turbo",
	"llm.temperature":         0.7,
	"log.level":               "info",
	"log.format":              "text",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults are static; a decode failure is a programming error
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	cfg.LLM.Provider = cfg.ResolvedProvider()
	return cfg
}

// Load loads configuration from defaults, baseDir/config.json, then PEN_*
// environment variables. A missing config file is not an error.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.phantompen.
func Load(baseDir string) (*Config, error) {
	v := newViper()

	configPath := filepath.Join(baseDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", configPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.DataDir = baseDir
	cfg.DisabledTools = cleanStringSlice(cfg.DisabledTools)
	cfg.DisabledTypes = cleanStringSlice(cfg.DisabledTypes)
	cfg.LLM.Provider = cfg.ResolvedProvider()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvedProvider returns the effective LLM provider.
func (c *Config) ResolvedProvider() string {
	p := strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if p != "" {
		return p
	}
	if c.LLM.APIKey != "" {
		return ProviderGroq
	}
	return ProviderLocal
}

// Validate reports configuration values the application cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.MemoirDelay <= 0:
		return fmt.Errorf("memoir_delay must be positive, got %s", c.MemoirDelay)
	case c.GenerationTimeout <= 0:
		return fmt.Errorf("generation_timeout must be positive, got %s", c.GenerationTimeout)
	case c.TranscriptionTimeout <= 0:
		return fmt.Errorf("transcription_timeout must be positive, got %s", c.TranscriptionTimeout)
	case c.WorkerConcurrency <= 0:
		return fmt.Errorf("worker_concurrency must be positive, got %d", c.WorkerConcurrency)
	case c.MaxTranscriptChars <= 0:
		return fmt.Errorf("max_transcript_chars must be positive, got %d", c.MaxTranscriptChars)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}

	switch c.ResolvedProvider() {
	case ProviderGroq:
		if c.LLM.APIKey == "" {
			return errors.New("llm.api_key is required for the groq provider")
		}
	case ProviderLocal:
	default:
		return fmt.Errorf("unknown llm.provider %q (want groq or local)", c.LLM.Provider)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Bind, c.HTTP.Port)
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// GROQ_API_KEY is what the hosted deployment always used.
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "GROQ_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// cleanStringSlice trims whitespace and removes empty and duplicate entries.
func cleanStringSlice(in []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
