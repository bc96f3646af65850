package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Sentinel errors for gateway failures. Callers branch with errors.Is.
var (
	// ErrConnection means the backend could not be reached at all.
	ErrConnection = errors.New("cannot connect to llm backend")
	// ErrTimeout means the backend did not answer within the configured timeout.
	ErrTimeout = errors.New("llm request timed out")
	// ErrAuthentication means the backend rejected the credentials, or remote
	// mode was configured without an API key.
	ErrAuthentication = errors.New("llm authentication failed")
)

// Message is one turn of an OpenAI-style chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to an OpenAI-compatible chat completion endpoint, local or
// remote depending on its config. Requests are not retried; callers that
// want retry semantics layer their own.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a gateway client with the config's defaults applied.
func NewClient(cfg Config) *Client {
	cfg = cfg.Normalized()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport},
	}
}

// Config returns the normalized configuration the client runs with.
func (c *Client) Config() Config {
	return c.cfg
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	// Deterministic generation; zero must reach the wire, so no omitempty.
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the messages to the backend and returns the assistant's
// reply. Remote mode without an API key fails with ErrAuthentication before
// any network traffic.
func (c *Client) Generate(ctx context.Context, messages []Message) (string, error) {
	if c.cfg.Mode == ModeRemote && c.cfg.APIKey == "" {
		return "", fmt.Errorf("%w: api key required for remote mode", ErrAuthentication)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.classifyTransport(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", fmt.Errorf("%w (status %d): check the configured api key", ErrAuthentication, resp.StatusCode)
	default:
		return "", fmt.Errorf("llm backend returned status %d: %s", resp.StatusCode, truncateBody(respBody, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm backend error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("llm backend returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Complete is the common system+user call shape.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	return c.Generate(ctx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
}

// classifyTransport maps a transport failure onto the gateway sentinels.
// Caller-initiated cancellation is passed through untouched.
func (c *Client) classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

func truncateBody(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
