// Novana is a memorial companion service. It answers questions about a
// remembered loved one by combining stored memories, conversation
// history, and a local Ollama backend, degrading gracefully when the
// backend misbehaves.
//
// Usage:
//
//	novana serve             Start the API server
//	novana init [dir]        Initialize a working directory with defaults
//	novana index             Rebuild the vector index from stored memories
//	novana version           Print version and build information
//	novana -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/novanahq/novana/internal/api"
	"github.com/novanahq/novana/internal/auth"
	"github.com/novanahq/novana/internal/buildinfo"
	"github.com/novanahq/novana/internal/chat"
	"github.com/novanahq/novana/internal/config"
	"github.com/novanahq/novana/internal/embeddings"
	"github.com/novanahq/novana/internal/generate"
	"github.com/novanahq/novana/internal/ingest"
	"github.com/novanahq/novana/internal/ollama"
	"github.com/novanahq/novana/internal/retrieval"
	"github.com/novanahq/novana/internal/store"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the novana command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run() concurrently from tests, and
// the argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "index":
		return runIndex(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Novana - Memorial Companion Service")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: novana [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  index        Rebuild the vector index from stored memories")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/novana/config.yaml, /etc/novana/config.yaml")
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runInit writes a commented default config into dir, refusing to
// overwrite one that already exists.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(stdout, "wrote %s\n", path)
	fmt.Fprintln(stdout, "edit it, then start the server with: novana serve")
	return nil
}

const defaultConfigYAML = `# Novana configuration.
# Values support ${ENV_VAR} expansion.

listen:
  address: ""
  port: 5000

ollama:
  url: "http://127.0.0.1:11434"
  chat_model: "llama3:8b"
  fallback_models:
    - "llama3.2:3b"
    - "llama3.2:1b"
  deadline_sec: 30
  max_tokens: 120
  keep_alive: "15m"

retrieval:
  # "chroma" talks to a Chroma server; "embedded" keeps an in-process
  # vector store under path, embedding via embed_model.
  mode: chroma
  url: "http://127.0.0.1:8000"
  collection: "novana_memories"
  path: ""
  top_k: 3
  embed_model: "nomic-embed-text"

chat:
  max_context_chars: 900
  history_turns: 12
  max_reply_words: 120

database:
  path: "novana.db"

log_level: info
`

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		// No config file is fine; defaults cover local development.
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// buildRetriever constructs the configured vector store client.
func buildRetriever(cfg *config.Config, logger *slog.Logger) (retrieval.Retriever, error) {
	switch cfg.Retrieval.Mode {
	case "chroma":
		return retrieval.NewChroma(cfg.Retrieval.URL, cfg.Retrieval.Collection, cfg.Retrieval.TopK), nil
	case "embedded":
		embedder := embeddings.New(embeddings.Config{
			BaseURL: cfg.Ollama.URL,
			Model:   cfg.Retrieval.EmbedModel,
		})
		return retrieval.NewEmbedded(cfg.Retrieval.Path, cfg.Retrieval.Collection, cfg.Retrieval.TopK, embedder)
	case "", "none":
		logger.Warn("retrieval disabled, replies will have no memory snippets")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown retrieval mode: %q", cfg.Retrieval.Mode)
	}
}

func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Novana",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Ollama.ChatModel,
		"ollama_url", cfg.Ollama.URL,
	)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	defer st.Close()
	logger.Info("database opened", "path", cfg.Database.Path)

	retriever, err := buildRetriever(cfg, logger)
	if err != nil {
		return err
	}

	ollamaClient := ollama.New(cfg.Ollama.URL, cfg.Ollama.KeepAlive)
	models := append([]string{cfg.Ollama.ChatModel}, cfg.Ollama.FallbackModels...)
	orchestrator := generate.New(ollamaClient, models, cfg.Ollama.Deadline(), cfg.Ollama.MaxTokens, logger)

	chatSvc := chat.New(st, retriever, orchestrator, chat.Settings{
		MaxContextChars: cfg.Chat.MaxContextChars,
		HistoryTurns:    cfg.Chat.HistoryTurns,
		MaxReplyWords:   cfg.Chat.MaxReplyWords,
	}, logger)

	authSvc := auth.New(st, logger)
	indexer := ingest.New(st, retriever, logger)

	// Warm the primary model in the background so the first chat
	// request doesn't pay the model load cost.
	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := ollamaClient.Warmup(warmCtx, cfg.Ollama.ChatModel); err != nil {
			logger.Warn("model warmup failed", "model", cfg.Ollama.ChatModel, "error", err)
		} else {
			logger.Info("model warmed", "model", cfg.Ollama.ChatModel)
		}
	}()

	// Prune expired sessions periodically.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := st.DeleteExpiredSessions(ctx, time.Now()); err != nil {
					logger.Warn("session pruning failed", "error", err)
				}
			}
		}
	}()

	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(listen, authSvc, chatSvc, st, indexer, logger)

	// Run the server until it fails or we get a shutdown signal.
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runIndex rebuilds the vector index from every stored memory.
func runIndex(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	defer st.Close()

	retriever, err := buildRetriever(cfg, logger)
	if err != nil {
		return err
	}
	if retriever == nil {
		return fmt.Errorf("retrieval is disabled; nothing to index")
	}

	indexer := ingest.New(st, retriever, logger)
	n, err := indexer.Reindex(ctx)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}

	fmt.Fprintf(stdout, "indexed %d memories\n", n)
	return nil
}
