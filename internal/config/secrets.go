package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.yaml")
}

// secretsFile reads secrets from a YAML file keyed by config key, e.g.
//
//	llm.api_key: "..."
//	sharepoint.client_secret: "..."
type secretsFile struct {
	path string
}

func newSecretsFile(path string) secretsFile {
	return secretsFile{path: path}
}

func (s secretsFile) Get(key string) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("secrets file not available: %w", err)
	}
	var secrets map[string]string
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	val, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return val, nil
}

// applySecrets fills secrets that neither the environment nor .env set.
func applySecrets(cfg *Config, store secretStore) {
	if store == nil {
		return
	}
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := store.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// readDotenv parses a .env file without touching the process environment.
// A missing file is not an error.
func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return vals, nil
}
