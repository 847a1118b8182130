package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Index      IndexConfig
	Retrieval  RetrievalConfig
	Chunk      ChunkConfig
	Reindex    ReindexConfig
	Invoices   InvoicesConfig
	SharePoint SharePointConfig
	LLM        LLMConfig
	API        APIConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type IndexConfig struct {
	Path string // defaults to <data_dir>/docs.index
}

type RetrievalConfig struct {
	TopK int
}

type ChunkConfig struct {
	Size    int
	Overlap int
}

type ReindexConfig struct {
	Interval string // Go duration; empty disables scheduled reindexing
}

type InvoicesConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	DSN      string
	Table    string
	Limit    int
}

type SharePointConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Host         string
	SiteName     string
	DocLibPath   string
}

type LLMConfig struct {
	Provider   string
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server:    ServerConfig{Port: 8501},
		Log:       LogConfig{Level: "info"},
		Storage:   StorageConfig{DataDir: defaultDataDir()},
		Retrieval: RetrievalConfig{TopK: 3},
		Chunk:     ChunkConfig{Size: 500, Overlap: 50},
		Invoices: InvoicesConfig{
			Driver: "mysql",
			Host:   "localhost",
			Port:   3306,
			Table:  "ap_invoices",
			Limit:  5,
		},
		LLM: LLMConfig{
			Provider:   "mistral",
			BaseURL:    "https://api.mistral.ai/v1",
			ChatModel:  "mistral-large-latest",
			EmbedModel: "mistral-embed",
		},
	}
}

// IndexPath returns the location of the persisted document index.
func (c Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return filepath.Join(c.Storage.DataDir, "docs.index")
}

// ReindexInterval parses reindex.interval. Zero means disabled.
func (c Config) ReindexInterval() (time.Duration, error) {
	if c.Reindex.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Reindex.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid reindex.interval %q: %w", c.Reindex.Interval, err)
	}
	return d, nil
}

// InvoicesConfigured reports whether enough is set to reach the invoice database.
func (c Config) InvoicesConfigured() bool {
	return c.Invoices.DSN != "" || c.Invoices.Name != ""
}

// Load reads configuration in layers: defaults, the YAML config file at
// $XDG_CONFIG_HOME/finassist/config.yaml, FINASSIST_* environment variables
// (a .env file in the working directory fills variables the process does not
// set), and finally the secrets file for secrets that are still empty.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), ".env", newSecretsFile(secretsFilePath()))
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, dotenvPath string, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	dotenv, err := readDotenv(dotenvPath)
	if err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg, dotenv)
	applySecrets(&cfg, secrets)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "mistral", "openai":
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("missing required config: llm.api_key. " +
				"Set it via environment variable FINASSIST_LLM_API_KEY, a .env file, or " + secretsFilePath())
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown llm.provider %q (want mistral, openai or ollama)", cfg.LLM.Provider)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if _, err := cfg.ReindexInterval(); err != nil {
		return err
	}
	return nil
}
