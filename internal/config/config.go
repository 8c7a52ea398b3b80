package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

type Config struct {
	Gemini    GeminiConfig
	OpenAI    OpenAIConfig
	Embedding EmbeddingConfig
	Database  DatabaseConfig
	Cluster   ClusterConfig
	Batch     BatchConfig
	Models    ModelsConfig
}

type GeminiConfig struct {
	APIKey string
	Model  string // defaults to gemini-2.0-flash
}

type OpenAIConfig struct {
	Token string
	Model string // defaults to gpt-4o-mini
}

type EmbeddingConfig struct {
	URL string // embedding server base URL, defaults to http://localhost:8000
	Dim int    // defaults to 512
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type ClusterConfig struct {
	TimeWindow          time.Duration // defaults to 10 minutes
	SimilarityThreshold float64       // defaults to 0.6
}

type BatchConfig struct {
	Provider     string        // "gemini" or "openai", defaults to gemini
	PollInterval time.Duration // defaults to 30 seconds
	MaxGroupSize int           // groups larger than this are skipped, defaults to 100
}

type ModelsConfig struct {
	Models map[string]ModelSpec `yaml:"models"`
}

// ModelSpec describes the generation limits of an inference model.
type ModelSpec struct {
	Provider        string  `yaml:"provider"`
	Batch           bool    `yaml:"batch"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable and parses it as a duration
// (e.g. "30s", "10m"). Returns the default value if unset or invalid.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envString reads an environment variable with a default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var models ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}

	return &Config{
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  envString("GEMINI_MODEL", "gemini-2.0-flash"),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
			Model: envString("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Embedding: EmbeddingConfig{
			URL: envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim: envInt("EMBEDDING_DIM", 512),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Cluster: ClusterConfig{
			TimeWindow:          envDuration("CLUSTER_TIME_WINDOW", 10*time.Minute),
			SimilarityThreshold: envFloat("CLUSTER_SIMILARITY_THRESHOLD", 0.6),
		},
		Batch: BatchConfig{
			Provider:     envString("BATCH_PROVIDER", "gemini"),
			PollInterval: envDuration("BATCH_POLL_INTERVAL", 30*time.Second),
			MaxGroupSize: envInt("BATCH_MAX_GROUP_SIZE", 100),
		},
		Models: models,
	}
}

// GetModelSpec returns the catalog entry for a model. Unknown models get
// conservative defaults so a typo in GEMINI_MODEL still produces valid requests.
func (c *Config) GetModelSpec(modelName string) ModelSpec {
	if spec, ok := c.Models.Models[modelName]; ok {
		return spec
	}
	return ModelSpec{Batch: true, Temperature: 0.1, MaxOutputTokens: 4096}
}
