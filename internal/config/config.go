package config

import "strings"

// keychainService namespaces this application's entries in the platform
// secret store.
const keychainService = "coach"

type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Gateway   GatewayConfig
	Retrieval RetrievalConfig
	Grouping  GroupingConfig
	Reranking RerankingConfig
	Storage   StorageConfig
	Log       LogConfig
}

// ServerConfig covers the HTTP API surface.
type ServerConfig struct {
	Port int
	// AuthToken protects the ingest and progress routes. Empty disables them.
	AuthToken string
}

// EngineConfig points at the local Ollama instance used for embeddings and
// the fast utility model (reranking).
type EngineConfig struct {
	BaseURL    string
	FastModel  string
	EmbedModel string
}

// GatewayConfig selects the generation backend. An empty Mode is inferred
// from the base URL (loopback means local).
type GatewayConfig struct {
	Mode        string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	InsecureTLS bool
	// Timeout is a duration string such as "5m"; empty picks the
	// mode-appropriate default.
	Timeout string
}

type RetrievalConfig struct {
	TopK       int
	CharBudget int
}

// GroupingConfig tunes the target subtopic count the grouping prompt asks
// for.
type GroupingConfig struct {
	TargetMin int
	TargetMax int
}

type RerankingConfig struct {
	Enabled   bool
	Timeout   string
	Threshold float64
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Engine: EngineConfig{
			BaseURL:    "http://localhost:11434",
			FastModel:  "phi3.5",
			EmbedModel: "nomic-embed-text",
		},
		Gateway: GatewayConfig{
			Model:     "qwen2.5:7b",
			MaxTokens: 2000,
		},
		Retrieval: RetrievalConfig{
			TopK:       5,
			CharBudget: 8000,
		},
		Grouping: GroupingConfig{
			TargetMin: 3,
			TargetMax: 6,
		},
		Reranking: RerankingConfig{
			Enabled:   false,
			Timeout:   "10s",
			Threshold: 0.5,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file, environment
// variables, and the platform secret store.
//
// Non-secret values live in ~/.coach/config.json. Environment variables
// (COACH_*) override file values. Secrets (gateway API key, server auth
// token) are never read from the config file: they come from environment
// variables, or failing that the macOS Keychain (service: coach) on
// darwin and a 0600 secrets.json elsewhere.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Fill secrets from the platform store when nothing else supplied them.
	for _, s := range specs {
		if !s.secret || s.account == "" {
			continue
		}
		if cur, _ := s.extract(cfg).(string); cur != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
