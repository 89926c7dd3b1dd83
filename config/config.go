package config

import (
	"fmt"

	"github.com/spf13/viper"
	"github.com/tieubaoca/docqa-be/types"
)

type Config struct {
	Port          string          `mapstructure:"port"`
	AIBackend     string          `mapstructure:"ai_backend"` // openai or gemini
	AIEndpoint    string          `mapstructure:"ai_endpoint"`
	Model         string          `mapstructure:"model"`
	OpenAIAPIKey  string          `mapstructure:"OPENAI_API_KEY"`
	GeminiAPIKeys []string        `mapstructure:"gemini_api_keys"`
	MongoURI      string          `mapstructure:"MONGODB_URI"`
	MongoDatabase string          `mapstructure:"mongo_database"`
	UploadDir     string          `mapstructure:"upload_dir"`
	IndexPath     string          `mapstructure:"index_path"`
	MaxFileSize   int64           `mapstructure:"max_file_size"`
	MaxMediaBytes int64           `mapstructure:"max_media_bytes"`
	Chunking      ChunkingConfig  `mapstructure:"chunking"`
	Embedding     EmbeddingConfig `mapstructure:"embedding"`
	Query         QueryConfig     `mapstructure:"query"`
}

type ChunkingConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

type EmbeddingConfig struct {
	Model          string `mapstructure:"model"`
	Dimension      int    `mapstructure:"dimension"`
	BatchSize      int    `mapstructure:"batch_size"`
	MaxRetries     int    `mapstructure:"max_retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type QueryConfig struct {
	TopKDefault     int `mapstructure:"top_k_default"`
	MaxContextChars int `mapstructure:"max_context_chars"`
}

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set up Viper to read from config file
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Set up Viper to read from environment variables
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Bind environment variables
	v.BindEnv("OPENAI_API_KEY")
	v.BindEnv("MONGODB_URI")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.AIBackend == "" {
		c.AIBackend = "openai"
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if c.IndexPath == "" {
		c.IndexPath = "data/vectors.idx"
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10 << 20
	}
	if c.MaxMediaBytes == 0 {
		c.MaxMediaBytes = 4 << 20
	}
	if c.Chunking.ChunkSize == 0 {
		c.Chunking.ChunkSize = 500
	}
	if c.Chunking.ChunkOverlap == 0 {
		c.Chunking.ChunkOverlap = 50
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = 1536
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 128
	}
	if c.Embedding.MaxRetries == 0 {
		c.Embedding.MaxRetries = 3
	}
	if c.Embedding.TimeoutSeconds == 0 {
		c.Embedding.TimeoutSeconds = 30
	}
	if c.Query.TopKDefault == 0 {
		c.Query.TopKDefault = 3
	}
	if c.Query.MaxContextChars == 0 {
		c.Query.MaxContextChars = 8000
	}
}

// Validate checks the whole configuration surface at startup. A process
// with an invalid chunking or embedding setup must not start.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", types.ErrConfiguration, c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap must not be negative, got %d", types.ErrConfiguration, c.Chunking.ChunkOverlap)
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be smaller than chunk_size %d",
			types.ErrConfiguration, c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", types.ErrConfiguration, c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("%w: embedding batch_size must be positive, got %d", types.ErrConfiguration, c.Embedding.BatchSize)
	}
	if c.Embedding.MaxRetries < 0 {
		return fmt.Errorf("%w: embedding max_retries must not be negative, got %d", types.ErrConfiguration, c.Embedding.MaxRetries)
	}
	if c.Query.TopKDefault <= 0 {
		return fmt.Errorf("%w: top_k_default must be positive, got %d", types.ErrConfiguration, c.Query.TopKDefault)
	}
	if c.Query.MaxContextChars <= 0 {
		return fmt.Errorf("%w: max_context_chars must be positive, got %d", types.ErrConfiguration, c.Query.MaxContextChars)
	}
	if c.AIBackend != "openai" && c.AIBackend != "gemini" {
		return fmt.Errorf("%w: unknown ai_backend %q", types.ErrConfiguration, c.AIBackend)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("%w: max_file_size must be positive", types.ErrConfiguration)
	}
	return nil
}
