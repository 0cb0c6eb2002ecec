// Package ollama is a client for the Ollama HTTP API, covering the three
// endpoints the reply pipeline needs: model enumeration (/api/tags),
// chat completion (/api/chat), and single-shot prompt completion
// (/api/generate).
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/novanahq/novana/internal/httpkit"
)

// Client talks to one Ollama server.
type Client struct {
	baseURL    string
	keepAlive  string
	httpClient *http.Client
}

// New creates an Ollama client. Per-call deadlines are enforced by the
// caller through contexts, so the underlying http.Client carries no
// overall timeout of its own.
func New(baseURL, keepAlive string) *Client {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		keepAlive: keepAlive,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
		),
	}
}

// Message is a chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Options are the sampling parameters sent with every generation call.
// KeepAlive rides along inside options so the server pins the model for
// the configured duration.
type Options struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumPredict    int     `json:"num_predict,omitempty"`
	KeepAlive     string  `json:"keep_alive,omitempty"`
}

// chatRequest is the /api/chat request body.
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  Options   `json:"options"`
}

// generateRequest is the /api/generate request body.
type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options"`
}

// generation is the response shape shared by /api/chat and /api/generate.
// Chat replies arrive in message.content; generate replies (and some chat
// server versions) use the top-level response field.
type generation struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Response string `json:"response"`
}

func (g generation) text() string {
	if g.Message.Content != "" {
		return strings.TrimSpace(g.Message.Content)
	}
	return strings.TrimSpace(g.Response)
}

// Chat sends a non-streaming chat completion request and returns the
// generated text, trimmed. An empty string with a nil error means the
// model produced no output.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts Options) (string, error) {
	opts.KeepAlive = c.keepAlive
	return c.generate(ctx, "/api/chat", chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  opts,
	})
}

// Complete sends a single-shot prompt to /api/generate and returns the
// generated text, trimmed. This is the degraded call shape for models
// that choke on the chat endpoint.
func (c *Client) Complete(ctx context.Context, model, prompt string, opts Options) (string, error) {
	opts.KeepAlive = c.keepAlive
	return c.generate(ctx, "/api/generate", generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: opts,
	})
}

func (c *Client) generate(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 512),
		}
	}

	var out generation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.text(), nil
}

// ListModels returns the set of model names currently loaded on the
// server, keyed for O(1) membership tests.
func (c *Client) ListModels(ctx context.Context) (map[string]bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama /api/tags: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 512),
		}
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make(map[string]bool, len(result.Models))
	for _, m := range result.Models {
		if m.Name != "" {
			names[m.Name] = true
		}
	}
	return names, nil
}

// Warmup primes a model so the first real request doesn't pay the load
// cost. Best-effort: the caller should log a failure and move on.
func (c *Client) Warmup(ctx context.Context, model string) error {
	tagCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := c.ListModels(tagCtx); err != nil {
		return fmt.Errorf("warmup tags probe: %w", err)
	}

	genCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := c.Complete(genCtx, model, "hi", Options{NumPredict: 8})
	if err != nil {
		return fmt.Errorf("warmup generate: %w", err)
	}
	return nil
}
