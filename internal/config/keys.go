package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration // stored as a string, validated with time.ParseDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FINASSIST_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "FINASSIST_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FINASSIST_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "index.path", typ: kString, env: "FINASSIST_INDEX_PATH",
		apply:   func(cfg *Config, v any) { cfg.Index.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Path },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "FINASSIST_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "chunk.size", typ: kInt, env: "FINASSIST_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunk.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunk.Size },
	},
	{
		key: "chunk.overlap", typ: kInt, env: "FINASSIST_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunk.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunk.Overlap },
	},
	{
		key: "reindex.interval", typ: kDuration, env: "FINASSIST_REINDEX_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Reindex.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Reindex.Interval },
	},
	{
		key: "invoices.driver", typ: kString, env: "FINASSIST_INVOICES_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Invoices.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Invoices.Driver },
	},
	{
		key: "invoices.host", typ: kString, env: "FINASSIST_DB_HOST",
		apply:   func(cfg *Config, v any) { cfg.Invoices.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Invoices.Host },
	},
	{
		key: "invoices.port", typ: kInt, env: "FINASSIST_DB_PORT",
		apply:   func(cfg *Config, v any) { cfg.Invoices.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Invoices.Port },
	},
	{
		key: "invoices.user", typ: kString, env: "FINASSIST_DB_USER",
		apply:   func(cfg *Config, v any) { cfg.Invoices.User = v.(string) },
		extract: func(cfg Config) any { return cfg.Invoices.User },
	},
	{
		key: "invoices.password", typ: kString, env: "FINASSIST_DB_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Invoices.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.Invoices.Password },
	},
	{
		key: "invoices.name", typ: kString, env: "FINASSIST_DB_NAME",
		apply:   func(cfg *Config, v any) { cfg.Invoices.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Invoices.Name },
	},
	{
		key: "invoices.dsn", typ: kString, env: "FINASSIST_DB_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Invoices.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Invoices.DSN },
	},
	{
		key: "invoices.table", typ: kString, env: "FINASSIST_INVOICES_TABLE",
		apply:   func(cfg *Config, v any) { cfg.Invoices.Table = v.(string) },
		extract: func(cfg Config) any { return cfg.Invoices.Table },
	},
	{
		key: "invoices.limit", typ: kInt, env: "FINASSIST_INVOICES_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Invoices.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Invoices.Limit },
	},
	{
		key: "sharepoint.tenant_id", typ: kString, env: "FINASSIST_TENANT_ID",
		apply:   func(cfg *Config, v any) { cfg.SharePoint.TenantID = v.(string) },
		extract: func(cfg Config) any { return cfg.SharePoint.TenantID },
	},
	{
		key: "sharepoint.client_id", typ: kString, env: "FINASSIST_CLIENT_ID",
		apply:   func(cfg *Config, v any) { cfg.SharePoint.ClientID = v.(string) },
		extract: func(cfg Config) any { return cfg.SharePoint.ClientID },
	},
	{
		key: "sharepoint.client_secret", typ: kString, env: "FINASSIST_CLIENT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.SharePoint.ClientSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.SharePoint.ClientSecret },
	},
	{
		key: "sharepoint.host", typ: kString, env: "FINASSIST_SHAREPOINT_HOST",
		apply:   func(cfg *Config, v any) { cfg.SharePoint.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.SharePoint.Host },
	},
	{
		key: "sharepoint.site_name", typ: kString, env: "FINASSIST_SHAREPOINT_SITE_NAME",
		apply:   func(cfg *Config, v any) { cfg.SharePoint.SiteName = v.(string) },
		extract: func(cfg Config) any { return cfg.SharePoint.SiteName },
	},
	{
		key: "sharepoint.doc_lib_path", typ: kString, env: "FINASSIST_SHAREPOINT_DOC_LIB_PATH",
		apply:   func(cfg *Config, v any) { cfg.SharePoint.DocLibPath = v.(string) },
		extract: func(cfg Config) any { return cfg.SharePoint.DocLibPath },
	},
	{
		key: "llm.provider", typ: kString, env: "FINASSIST_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.base_url", typ: kString, env: "FINASSIST_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "FINASSIST_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.chat_model", typ: kString, env: "FINASSIST_LLM_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ChatModel },
	},
	{
		key: "llm.embed_model", typ: kString, env: "FINASSIST_LLM_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.EmbedModel },
	},
	{
		key: "api.token", typ: kString, env: "FINASSIST_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString, kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

// applyEnvOverrides applies FINASSIST_* variables. Values from the process
// environment win over values read from a .env file.
func applyEnvOverrides(cfg *Config, dotenv map[string]string) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			raw = dotenv[s.env]
		}
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kDuration:
			if _, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, raw)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
