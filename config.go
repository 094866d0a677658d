package titlecheck

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/titlecheck/advisor"
	"github.com/brunobiangulo/titlecheck/corpus"
	"github.com/brunobiangulo/titlecheck/extract"
	"github.com/brunobiangulo/titlecheck/llm"
	"github.com/brunobiangulo/titlecheck/risk"
	"github.com/brunobiangulo/titlecheck/validator"
)

// Config holds all configuration for the titlecheck engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.titlecheck/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.titlecheck/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat      llm.Config `json:"chat" yaml:"chat"`
	Embedding llm.Config `json:"embedding" yaml:"embedding"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	Extract extract.Config `json:"extract" yaml:"extract"`

	// Rule thresholds: match_threshold, extent_tolerance,
	// transfer_window_days, transfer_threshold. They have no defaults.
	validator.Config `yaml:",inline"`

	// RiskWeights is the scoring policy. It has no defaults.
	RiskWeights risk.Policy `json:"risk_weights" yaml:"risk_weights"`

	Corpus  CorpusConfig   `json:"corpus" yaml:"corpus"`
	Advisor advisor.Config `json:"advisor" yaml:"advisor"`
}

// CorpusConfig configures the legal corpus build and index.
type CorpusConfig struct {
	// Dir holds the statute sources (central/ and state/ or manifest.yaml).
	Dir            string `json:"dir" yaml:"dir"`
	BatchSize      int    `json:"batch_size" yaml:"batch_size"`
	MaxChunkTokens int    `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	corpus.Options `yaml:",inline"`
}

// DefaultConfig returns a Config with defaults for local inference.
// RiskWeights and the rule thresholds are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		DBName:     "titlecheck",
		StorageDir: "home",
		Chat: llm.Config{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: llm.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim: 768,
		Extract: extract.Config{
			Temperature: 0.1,
			MaxTokens:   2048,
			Concurrency: 3,
		},
		Corpus: CorpusConfig{
			Dir:            "corpus",
			BatchSize:      32,
			MaxChunkTokens: 512,
			Options:        corpus.Options{SemanticWeight: 0.7},
		},
		Advisor: advisor.Config{
			TopK:         3,
			MinScore:     0.3,
			Jurisdiction: corpus.State,
			Temperature:  0.2,
			MaxTokens:    800,
		},
	}
}

// LoadConfig reads a YAML or JSON (by extension) configuration file over
// DefaultConfig and applies environment overrides. It does not validate.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			err = json.Unmarshal(data, &cfg)
		default:
			err = yaml.Unmarshal(data, &cfg)
		}
		if err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides settings from TITLECHECK_* environment variables and
// falls back to well-known provider API key variables.
func (c *Config) ApplyEnv() {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"TITLECHECK_DB_PATH", &c.DBPath},
		{"TITLECHECK_CHAT_PROVIDER", &c.Chat.Provider},
		{"TITLECHECK_CHAT_MODEL", &c.Chat.Model},
		{"TITLECHECK_CHAT_BASE_URL", &c.Chat.BaseURL},
		{"TITLECHECK_CHAT_API_KEY", &c.Chat.APIKey},
		{"TITLECHECK_EMBED_PROVIDER", &c.Embedding.Provider},
		{"TITLECHECK_EMBED_MODEL", &c.Embedding.Model},
		{"TITLECHECK_EMBED_BASE_URL", &c.Embedding.BaseURL},
		{"TITLECHECK_EMBED_API_KEY", &c.Embedding.APIKey},
		{"TITLECHECK_CORPUS_DIR", &c.Corpus.Dir},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.name); v != "" {
			*o.dst = v
		}
	}

	for _, p := range []*llm.Config{&c.Chat, &c.Embedding} {
		if p.APIKey != "" {
			continue
		}
		switch p.Provider {
		case "openai":
			p.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			p.APIKey = os.Getenv("GROQ_API_KEY")
		case "gemini":
			p.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}

// ValidationError is one configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors lists every problem found by Validate. It matches
// ErrInvalidConfig under errors.Is.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return ErrInvalidConfig.Error() + ": " + strings.Join(msgs, "; ")
}

func (v ValidationErrors) Unwrap() error { return ErrInvalidConfig }

// Validate reports every configuration problem, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}
	addErr := func(field string, err error) {
		if err == nil {
			return
		}
		if j, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range j.Unwrap() {
				add(field, e.Error())
			}
			return
		}
		add(field, err.Error())
	}

	for name, p := range map[string]llm.Config{"chat": c.Chat, "embedding": c.Embedding} {
		if p.Provider == "" {
			add(name+".provider", "provider is required")
		}
		if p.Timeout < 0 {
			add(name+".timeout", "timeout must not be negative")
		}
		if p.RequestsPerSecond < 0 {
			add(name+".requests_per_second", "requests_per_second must not be negative")
		}
	}
	if c.EmbeddingDim <= 0 {
		add("embedding_dim", "embedding_dim must be positive")
	}
	if c.Extract.Concurrency < 0 {
		add("extract.concurrency", "concurrency must not be negative")
	}
	addErr("validator", c.Config.Validate())
	if c.RiskWeights.Weights == nil {
		add("risk_weights", "risk_weights must be supplied")
	} else {
		addErr("risk_weights", c.RiskWeights.Validate())
	}
	addErr("corpus", c.Corpus.Options.Validate())
	if c.Corpus.BatchSize < 0 {
		add("corpus.batch_size", "batch_size must not be negative")
	}
	if c.Corpus.MaxChunkTokens < 0 {
		add("corpus.max_chunk_tokens", "max_chunk_tokens must not be negative")
	}
	if c.Advisor.TopK < 0 {
		add("advisor.top_k", "top_k must not be negative")
	}
	if c.Advisor.MinScore < -1 || c.Advisor.MinScore > 1 {
		add("advisor.min_score", "min_score must be in [-1, 1]")
	}
	if j := c.Advisor.Jurisdiction; j != "" && !j.Valid() {
		add("advisor.jurisdiction", fmt.Sprintf("unknown jurisdiction %q", j))
	}

	if len(errs) == 0 {
		return nil
	}
	// Map iteration above is unordered.
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "titlecheck"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".titlecheck", name+".db")
	}
}
