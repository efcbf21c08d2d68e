package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig defines the HTTP server configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LLMConfig defines the language model configuration.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "ollama" or "openai"
	Host     string `yaml:"host"`     // ollama host URL
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"` // optional openai-compatible endpoint
	APIKey   string `yaml:"api_key"`  // overridden by LLM_API_KEY when set
}

// VectorSearchConfig defines the Qdrant vector search configuration.
type VectorSearchConfig struct {
	URL        string `yaml:"url"` // overridden by QDRANT_URL when set
	Collection string `yaml:"collection"`
	EmbedHost  string `yaml:"embed_host"`  // ollama host serving embeddings
	EmbedModel string `yaml:"embed_model"` // embedding model name
}

// RetrievalConfig defines the document retrieval parameters.
type RetrievalConfig struct {
	PoolSize        int `yaml:"pool_size"`        // candidates requested from vector search
	SampleK         int `yaml:"sample_k"`         // working set size after sampling
	RecentDocuments int `yaml:"recent_documents"` // recently used document IDs to avoid
}

// GenerationConfig defines the generation and retry parameters.
type GenerationConfig struct {
	MaxRetries     int                `yaml:"max_retries"`     // hard cap before aborting an item
	QuickRetries   int                `yaml:"quick_retries"`   // same-topic retries before escalating
	RhythmCap      int                `yaml:"rhythm_cap"`      // max accepted items per rhythm in a batch
	FewShotMax     int                `yaml:"few_shot_max"`    // examples injected per prompt
	RecentExamples int                `yaml:"recent_examples"` // few-shot indices to avoid reusing
	RecentChapters int                `yaml:"recent_chapters"` // chapters to avoid reusing in a batch
	RequestTimeout int                `yaml:"request_timeout"` // seconds, per LLM/search call
	Instruction    string             `yaml:"instruction"`     // base generation instruction
	SystemPrompt   string             `yaml:"system_prompt"`
	FewShotDir     string             `yaml:"few_shot_dir"`     // folder of category JSON files
	FewShotWeights map[string]float64 `yaml:"few_shot_weights"` // per-category pick weights, uniform when empty
	CurriculumFile string             `yaml:"curriculum_file"`
	CheckpointDir  string             `yaml:"checkpoint_dir"` // empty disables state checkpoints
}

// LoggingConfig defines the logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Config is the top-level configuration struct.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	VectorSearch VectorSearchConfig `yaml:"vector_search"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Generation   GenerationConfig   `yaml:"generation"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// AppConfig holds the loaded configuration.
var AppConfig *Config

// LoadConfig loads the configuration from the config.yaml file at the module
// root, then applies environment overrides and defaults.
func LoadConfig() error {
	goModPath, err := findGoMod()
	if err != nil {
		return err
	}
	rootDir := filepath.Dir(goModPath)
	configPath := filepath.Join(rootDir, "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)

	AppConfig = &cfg
	return nil
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.Host == "" {
		cfg.LLM.Host = "http://localhost:11434"
	}
	if cfg.Retrieval.PoolSize == 0 {
		cfg.Retrieval.PoolSize = 20
	}
	if cfg.Retrieval.SampleK == 0 {
		cfg.Retrieval.SampleK = 7
	}
	if cfg.Retrieval.RecentDocuments == 0 {
		cfg.Retrieval.RecentDocuments = 20
	}
	if cfg.Generation.MaxRetries == 0 {
		cfg.Generation.MaxRetries = 7
	}
	if cfg.Generation.QuickRetries == 0 {
		cfg.Generation.QuickRetries = 5
	}
	if cfg.Generation.RhythmCap == 0 {
		cfg.Generation.RhythmCap = 2
	}
	if cfg.Generation.FewShotMax == 0 {
		cfg.Generation.FewShotMax = 3
	}
	if cfg.Generation.RecentExamples == 0 {
		cfg.Generation.RecentExamples = 10
	}
	if cfg.Generation.RecentChapters == 0 {
		cfg.Generation.RecentChapters = 3
	}
	if cfg.Generation.RequestTimeout == 0 {
		cfg.Generation.RequestTimeout = 120
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		cfg.VectorSearch.URL = v
	}
}

// findGoMod finds the path to the go.mod file.
func findGoMod() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return goModPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
