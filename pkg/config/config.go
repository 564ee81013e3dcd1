package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Embeddings struct {
		EndpointURL   string `yaml:"endpoint_url"`
		APIKey        string `yaml:"api_key"`
		BatchSize     int    `yaml:"batch_size"`
		MaxConcurrent int    `yaml:"max_concurrent"`
		MaxBatchChars int    `yaml:"max_batch_chars"`
		MaxRetries    int    `yaml:"max_retries"`
		Dimensions    int    `yaml:"dimensions"`
	} `yaml:"embeddings"`

	Database struct {
		URL         string `yaml:"url"`
		TableName   string `yaml:"table_name"`
		VectorDim   int    `yaml:"vector_dim"`
		FilterBatch int    `yaml:"filter_batch"`
	} `yaml:"database"`

	Chunker struct {
		ChunkSize         int `yaml:"chunk_size"`
		ChunkOverlap      int `yaml:"chunk_overlap"`
		ParallelThreshold int `yaml:"parallel_threshold"`
		Workers           int `yaml:"workers"`
	} `yaml:"chunker"`

	Indexer struct {
		Collection      string `yaml:"collection"`
		APIBatchSize    int    `yaml:"api_batch_size"`
		CommitFrequency int    `yaml:"commit_frequency"`
	} `yaml:"indexer"`

	LLM struct {
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Loader struct {
		MaxDepth       int      `yaml:"max_depth"`
		RateLimit      float64  `yaml:"rate_limit"`
		IgnorePatterns []string `yaml:"ignore_patterns"`
	} `yaml:"loader"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/ragpipe/config.yaml"),
			"/etc/ragpipe/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Embeddings.BatchSize == 0 {
		config.Embeddings.BatchSize = 32
	}
	if config.Embeddings.MaxConcurrent == 0 {
		config.Embeddings.MaxConcurrent = 4
	}
	if config.Embeddings.MaxBatchChars == 0 {
		config.Embeddings.MaxBatchChars = 40_000
	}
	if config.Embeddings.MaxRetries == 0 {
		config.Embeddings.MaxRetries = 3
	}
	if config.Embeddings.Dimensions == 0 {
		config.Embeddings.Dimensions = 1024
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "vector_records"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = config.Embeddings.Dimensions
	}
	if config.Database.FilterBatch == 0 {
		config.Database.FilterBatch = 1000
	}

	if config.Chunker.ChunkSize == 0 {
		config.Chunker.ChunkSize = 1000
	}
	if config.Chunker.ChunkOverlap == 0 {
		config.Chunker.ChunkOverlap = 200
	}
	if config.Chunker.ParallelThreshold == 0 {
		config.Chunker.ParallelThreshold = 1_000_000
	}

	if config.Indexer.Collection == "" {
		config.Indexer.Collection = "default"
	}
	if config.Indexer.APIBatchSize == 0 {
		config.Indexer.APIBatchSize = config.Embeddings.BatchSize
	}
	if config.Indexer.CommitFrequency == 0 {
		config.Indexer.CommitFrequency = 5
	}

	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Loader.MaxDepth == 0 {
		config.Loader.MaxDepth = 3
	}
	if config.Loader.RateLimit == 0 {
		config.Loader.RateLimit = 2.0
	}
}

func mergeWithEnv(config *Config) {
	if endpoint := os.Getenv("EMBEDDINGS_URL"); endpoint != "" {
		config.Embeddings.EndpointURL = endpoint
	}
	if key := os.Getenv("EMBEDDINGS_API_KEY"); key != "" {
		config.Embeddings.APIKey = key
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
}
