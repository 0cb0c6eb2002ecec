// Package config handles Novana configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/novana/config.yaml, /etc/novana/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "novana", "config.yaml"))
	}

	paths = append(paths, "/etc/novana/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Novana configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chat      ChatConfig      `yaml:"chat"`
	Database  DatabaseConfig  `yaml:"database"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OllamaConfig defines the generation service connection and model roster.
type OllamaConfig struct {
	URL string `yaml:"url"`
	// ChatModel is tried first; FallbackModels are tried in order after it.
	ChatModel      string   `yaml:"chat_model"`
	FallbackModels []string `yaml:"fallback_models"`
	DeadlineSec    int      `yaml:"deadline_sec"` // per-call wall clock budget in seconds
	MaxTokens      int      `yaml:"max_tokens"`   // num_predict for the first attempt
	KeepAlive      string   `yaml:"keep_alive"`   // Ollama keep_alive duration string
}

// Deadline returns the per-call generation budget as a duration.
func (c OllamaConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSec) * time.Second
}

// RetrievalConfig defines the vector store used for memory snippets.
// Mode "chroma" talks to a Chroma server over HTTP; mode "embedded" keeps
// an in-process chromem-go store under Path, embedding via EmbedModel.
type RetrievalConfig struct {
	Mode       string `yaml:"mode"`
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	Path       string `yaml:"path"`
	TopK       int    `yaml:"top_k"`
	EmbedModel string `yaml:"embed_model"`
}

// ChatConfig bounds the assembled context and the sanitized reply.
type ChatConfig struct {
	MaxContextChars int `yaml:"max_context_chars"`
	HistoryTurns    int `yaml:"history_turns"`
	MaxReplyWords   int `yaml:"max_reply_words"`
}

// DatabaseConfig defines the sqlite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration. The tunables mirror the
// values the service has always shipped with.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 5000},
		Ollama: OllamaConfig{
			URL:            "http://127.0.0.1:11434",
			ChatModel:      "llama3:8b",
			FallbackModels: []string{"llama3.2:3b", "llama3.2:1b"},
			DeadlineSec:    30,
			MaxTokens:      120,
			KeepAlive:      "15m",
		},
		Retrieval: RetrievalConfig{
			Mode:       "chroma",
			URL:        "http://127.0.0.1:8000",
			Collection: "novana_memories",
			TopK:       3,
			EmbedModel: "nomic-embed-text",
		},
		Chat: ChatConfig{
			MaxContextChars: 900,
			HistoryTurns:    12,
			MaxReplyWords:   120,
		},
		Database: DatabaseConfig{Path: "novana.db"},
	}
}
