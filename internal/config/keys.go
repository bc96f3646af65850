package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secret-store account name, set only for secrets
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "COACH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.auth_token", typ: kString, env: "COACH_AUTH_TOKEN",
		secret: true, account: "auth_token",
		apply:   func(cfg *Config, v any) { cfg.Server.AuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AuthToken },
	},
	{
		key: "engine.base_url", typ: kString, env: "COACH_ENGINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.BaseURL },
	},
	{
		key: "engine.fast_model", typ: kString, env: "COACH_ENGINE_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.FastModel },
	},
	{
		key: "engine.embed_model", typ: kString, env: "COACH_ENGINE_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "gateway.mode", typ: kString, env: "COACH_GATEWAY_MODE",
		apply:   func(cfg *Config, v any) { cfg.Gateway.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.Mode },
	},
	{
		key: "gateway.base_url", typ: kString, env: "COACH_GATEWAY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.BaseURL },
	},
	{
		key: "gateway.api_key", typ: kString, env: "COACH_GATEWAY_API_KEY",
		secret: true, account: "gateway_api_key",
		apply:   func(cfg *Config, v any) { cfg.Gateway.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.APIKey },
	},
	{
		key: "gateway.model", typ: kString, env: "COACH_GATEWAY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.Model },
	},
	{
		key: "gateway.max_tokens", typ: kInt, env: "COACH_GATEWAY_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Gateway.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Gateway.MaxTokens },
	},
	{
		key: "gateway.temperature", typ: kFloat, env: "COACH_GATEWAY_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Gateway.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Gateway.Temperature },
	},
	{
		key: "gateway.insecure_tls", typ: kBool, env: "COACH_GATEWAY_INSECURE_TLS",
		apply:   func(cfg *Config, v any) { cfg.Gateway.InsecureTLS = v.(bool) },
		extract: func(cfg Config) any { return cfg.Gateway.InsecureTLS },
	},
	{
		key: "gateway.timeout", typ: kString, env: "COACH_GATEWAY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Gateway.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.Timeout },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "COACH_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.char_budget", typ: kInt, env: "COACH_RETRIEVAL_CHAR_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.CharBudget = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.CharBudget },
	},
	{
		key: "grouping.target_min", typ: kInt, env: "COACH_GROUPING_TARGET_MIN",
		apply:   func(cfg *Config, v any) { cfg.Grouping.TargetMin = v.(int) },
		extract: func(cfg Config) any { return cfg.Grouping.TargetMin },
	},
	{
		key: "grouping.target_max", typ: kInt, env: "COACH_GROUPING_TARGET_MAX",
		apply:   func(cfg *Config, v any) { cfg.Grouping.TargetMax = v.(int) },
		extract: func(cfg Config) any { return cfg.Grouping.TargetMax },
	},
	{
		key: "reranking.enabled", typ: kBool, env: "COACH_RERANKING_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Reranking.Enabled },
	},
	{
		key: "reranking.timeout", typ: kString, env: "COACH_RERANKING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Reranking.Timeout },
	},
	{
		key: "reranking.threshold", typ: kFloat, env: "COACH_RERANKING_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Reranking.Threshold },
	},
	{
		key: "storage.data_dir", typ: kString, env: "COACH_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "COACH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
