// Package config loads and validates service configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the root configuration of the memory core service.
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development staging production"`

	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	LLM         LLMConfig         `yaml:"llm"`
	NLI         NLIConfig         `yaml:"nli"`
	Retriever   RetrieverConfig   `yaml:"retriever"`
	Consistency ConsistencyConfig `yaml:"consistency"`
	Reasoner    ReasonerConfig    `yaml:"reasoner"`
	Events      EventsConfig      `yaml:"events"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// StoreConfig selects and configures the graph store backend.
type StoreConfig struct {
	// Backend names a registered store constructor ("memory" or
	// "dynamodb").
	Backend   string `yaml:"backend" validate:"required"`
	TableName string `yaml:"table_name"`
	Region    string `yaml:"region"`
	// Dimension is the embedding dimension enforced per namespace.
	Dimension int `yaml:"dimension" validate:"min=1"`
}

// EmbedderConfig selects and configures the embedding backend.
type EmbedderConfig struct {
	Backend string        `yaml:"backend" validate:"required"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig configures the language-model collaborator.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url" validate:"required"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model" validate:"required"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature" validate:"min=0,max=2"`
}

// NLIConfig configures the NLI classifier collaborator.
type NLIConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required"`
	Timeout time.Duration `yaml:"timeout"`
}

// RetrieverConfig tunes hybrid retrieval.
type RetrieverConfig struct {
	CandidateMultiplier int     `yaml:"candidate_multiplier" validate:"min=1"`
	KeywordBoost        float64 `yaml:"keyword_boost" validate:"min=0"`
	TraversalPenalty    float64 `yaml:"traversal_penalty" validate:"min=0"`
}

// ConsistencyConfig tunes the pre-write consistency checker.
type ConsistencyConfig struct {
	NeighborTopK int `yaml:"neighbor_top_k" validate:"min=1"`
	// FailOpen commits writes when a collaborator is unavailable
	// instead of rejecting them.
	FailOpen bool `yaml:"fail_open"`
}

// ReasonerConfig tunes relation processing.
type ReasonerConfig struct {
	Workers               int     `yaml:"workers" validate:"min=1"`
	NeighborTopK          int     `yaml:"neighbor_top_k" validate:"min=1"`
	MinRelationConfidence float64 `yaml:"min_relation_confidence" validate:"min=0,max=1"`
	MinChainConfidence    float64 `yaml:"min_chain_confidence" validate:"min=0,max=1"`
	MinSharedTags         int     `yaml:"min_shared_tags" validate:"min=1"`
}

// EventsConfig configures the committed-write event publisher.
type EventsConfig struct {
	// Backend is "eventbridge" or "none".
	Backend  string `yaml:"backend"`
	BusName  string `yaml:"bus_name"`
	Region   string `yaml:"region"`
	SourceID string `yaml:"source_id"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Store: StoreConfig{
			Backend:   "memory",
			TableName: "memcore",
			Dimension: 768,
		},
		Embedder: EmbedderConfig{
			Backend: "fake",
			Model:   "text-embedding-3-small",
			Timeout: 15 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "gpt-4o-mini",
			Timeout:     30 * time.Second,
			Temperature: 0,
		},
		NLI: NLIConfig{
			BaseURL: "http://localhost:8600",
			Timeout: 10 * time.Second,
		},
		Retriever: RetrieverConfig{
			CandidateMultiplier: 3,
			KeywordBoost:        0.2,
			TraversalPenalty:    0.1,
		},
		Consistency: ConsistencyConfig{
			NeighborTopK: 5,
			FailOpen:     true,
		},
		Reasoner: ReasonerConfig{
			Workers:               4,
			NeighborTopK:          10,
			MinRelationConfidence: 0.5,
			MinChainConfidence:    0.6,
			MinSharedTags:         2,
		},
		Events: EventsConfig{
			Backend:  "none",
			BusName:  "memcore-events",
			SourceID: "memcore",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "memcore",
			SampleRate:  0.1,
		},
	}
}

// Load builds the configuration from three layers, lowest priority
// first: built-in defaults, the YAML file at path (skipped when path is
// empty or absent), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints via struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables onto the config. Only the
// values an operator commonly overrides are exposed.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MEMCORE_ENV"); v != "" {
		cfg.Environment = Environment(v)
	}
	if v := os.Getenv("MEMCORE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MEMCORE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("MEMCORE_TABLE_NAME"); v != "" {
		cfg.Store.TableName = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Store.Region = v
		cfg.Events.Region = v
	}
	if v := os.Getenv("MEMCORE_EMBEDDER_BACKEND"); v != "" {
		cfg.Embedder.Backend = v
	}
	if v := os.Getenv("MEMCORE_EMBEDDER_URL"); v != "" {
		cfg.Embedder.BaseURL = v
	}
	if v := os.Getenv("MEMCORE_EMBEDDER_API_KEY"); v != "" {
		cfg.Embedder.APIKey = v
	}
	if v := os.Getenv("MEMCORE_LLM_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("MEMCORE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("MEMCORE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("MEMCORE_NLI_URL"); v != "" {
		cfg.NLI.BaseURL = v
	}
	if v := os.Getenv("MEMCORE_FAIL_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Consistency.FailOpen = b
		}
	}
	if v := os.Getenv("MEMCORE_EVENT_BUS"); v != "" {
		cfg.Events.Backend = "eventbridge"
		cfg.Events.BusName = v
	}
	if v := os.Getenv("MEMCORE_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = v
	}
}
