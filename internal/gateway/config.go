package gateway

import (
	"strings"
	"time"
)

// Mode selects which kind of LLM backend the gateway talks to.
type Mode string

const (
	// ModeLocal targets an OpenAI-compatible server on this machine,
	// typically Ollama.
	ModeLocal Mode = "local"
	// ModeRemote targets a hosted OpenAI-compatible API.
	ModeRemote Mode = "remote"
)

const (
	// DefaultLocalBaseURL is where Ollama exposes its OpenAI-compatible API.
	DefaultLocalBaseURL = "http://localhost:11434/v1"

	// DefaultModel is used when the config names no model.
	DefaultModel = "qwen2.5:7b"

	// DefaultMaxTokens bounds completion length.
	DefaultMaxTokens = 2000

	// DefaultLocalTimeout allows for slow CPU-bound generation.
	DefaultLocalTimeout = 5 * time.Minute

	// DefaultRemoteTimeout allows for network latency and provider queueing.
	DefaultRemoteTimeout = 10 * time.Minute

	// localAPIKey satisfies OpenAI-compatible servers that reject empty
	// keys; Ollama ignores its value.
	localAPIKey = "ollama"
)

// Config describes the LLM backend a Client talks to. Zero values are filled
// per mode by Normalized, so a zero Config yields a working local setup.
type Config struct {
	Mode        Mode
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64

	// InsecureTLS skips certificate verification on HTTPS backends. Local
	// mode always skips; remote mode verifies unless this is set.
	InsecureTLS bool

	Timeout time.Duration
}

// DetectMode infers the gateway mode from a base URL. Loopback addresses and
// an empty URL mean local; everything else is remote.
func DetectMode(baseURL string) Mode {
	if baseURL == "" {
		return ModeLocal
	}
	if strings.Contains(baseURL, "localhost") || strings.Contains(baseURL, "127.0.0.1") {
		return ModeLocal
	}
	return ModeRemote
}

// Normalized returns a copy with mode-appropriate defaults applied.
func (c Config) Normalized() Config {
	if c.Mode == "" {
		c.Mode = DetectMode(c.BaseURL)
	}

	switch c.Mode {
	case ModeLocal:
		if c.BaseURL == "" {
			c.BaseURL = DefaultLocalBaseURL
		}
		if c.APIKey == "" {
			c.APIKey = localAPIKey
		}
		if c.Timeout <= 0 {
			c.Timeout = DefaultLocalTimeout
		}
		// Local endpoints run plain HTTP or self-signed certs.
		c.InsecureTLS = true
	case ModeRemote:
		if c.Timeout <= 0 {
			c.Timeout = DefaultRemoteTimeout
		}
	}

	if c.Model == "" {
		c.Model = DefaultModel
	}
	// Completion length is capped regardless of what the caller asked for.
	if c.MaxTokens <= 0 || c.MaxTokens > DefaultMaxTokens {
		c.MaxTokens = DefaultMaxTokens
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}
