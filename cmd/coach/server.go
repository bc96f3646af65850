package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/coach/internal/agent"
	"github.com/kalambet/coach/internal/api"
	"github.com/kalambet/coach/internal/config"
	"github.com/kalambet/coach/internal/document"
	"github.com/kalambet/coach/internal/engine"
	"github.com/kalambet/coach/internal/gateway"
	"github.com/kalambet/coach/internal/grouping"
	"github.com/kalambet/coach/internal/ingest"
	"github.com/kalambet/coach/internal/orchestrator"
	"github.com/kalambet/coach/internal/progress"
	"github.com/kalambet/coach/internal/reranking"
	"github.com/kalambet/coach/internal/retrieval"
	"github.com/kalambet/coach/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coach server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running coach server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coach system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "coach.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch {
	case strings.EqualFold(level, "debug"):
		logLevel = slog.LevelDebug
	case strings.EqualFold(level, "warn"):
		logLevel = slog.LevelWarn
	case strings.EqualFold(level, "error"):
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func gatewayConfig(cfg config.Config) gateway.Config {
	var timeout time.Duration
	if cfg.Gateway.Timeout != "" {
		parsed, err := time.ParseDuration(cfg.Gateway.Timeout)
		if err != nil {
			slog.Warn("invalid gateway timeout, using mode default", "value", cfg.Gateway.Timeout, "error", err)
		} else {
			timeout = parsed
		}
	}
	return gateway.Config{
		Mode:        gateway.Mode(cfg.Gateway.Mode),
		BaseURL:     cfg.Gateway.BaseURL,
		APIKey:      cfg.Gateway.APIKey,
		Model:       cfg.Gateway.Model,
		MaxTokens:   cfg.Gateway.MaxTokens,
		Temperature: cfg.Gateway.Temperature,
		InsecureTLS: cfg.Gateway.InsecureTLS,
		Timeout:     timeout,
	}.Normalized()
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "coach version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Refuse to double-start: probe the health endpoint before claiming
	// the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The on-box engine serves embeddings always, generation only in local
	// gateway mode, and the fast model only when reranking is on. Pull just
	// what this configuration will use.
	gwCfg := gatewayConfig(cfg)
	eng := engine.NewOllamaEngine(cfg.Engine.BaseURL)
	chatModel := ""
	if gwCfg.Mode == gateway.ModeLocal {
		chatModel = gwCfg.Model
	}
	if err := engine.EnsureReady(ctx, eng, chatModel, cfg.Engine.EmbedModel, os.Stderr); err != nil {
		return err
	}
	if cfg.Reranking.Enabled && cfg.Engine.FastModel != chatModel {
		if err := engine.EnsureReady(ctx, eng, cfg.Engine.FastModel, "", os.Stderr); err != nil {
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	indexes := retrieval.NewSQLiteIndexes(indexDir(cfg))
	defer indexes.Close()

	embedder := retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel)
	retriever := retrieval.NewRetriever(embedder, indexes, cfg.Retrieval.CharBudget)

	rerankTimeout, err := time.ParseDuration(cfg.Reranking.Timeout)
	if err != nil {
		slog.Warn("invalid reranking timeout, using default 10s", "value", cfg.Reranking.Timeout, "error", err)
		rerankTimeout = 10 * time.Second
	}
	reranker := reranking.NewReranker(eng, cfg.Engine.FastModel, cfg.Reranking.Enabled,
		rerankTimeout, cfg.Reranking.Threshold, cfg.Retrieval.TopK)

	llm := gateway.NewClient(gwCfg)
	grouper := grouping.NewGrouper(llm, cfg.Grouping.TargetMin, cfg.Grouping.TargetMax)

	// Training sweeps a wider fragment window than the per-query topK, so
	// it keeps its own default.
	orch := orchestrator.New(func() (*orchestrator.Agents, error) {
		training := agent.NewTraining(retriever, reranker, grouper, llm, 0)
		mentor := agent.NewMentor(retriever, reranker, llm, cfg.Retrieval.TopK)
		assessment := agent.NewAssessment(retriever, llm, cfg.Retrieval.TopK)
		return &orchestrator.Agents{
			Training:            training.Handle,
			Mentor:              mentor.Handle,
			AssessmentQuestions: assessment.Questions,
			AssessmentEvaluate:  assessment.Evaluate,
		}, nil
	})

	handler := api.NewRouter(api.Deps{
		Orchestrator: orch,
		Index:        indexes,
		Store:        store,
		Progress:     progress.NewManager(store),
		Artifacts:    document.NewWriter(cfg.Storage.DataDir),
		Token:        cfg.Server.AuthToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Background worker drains the ingest queue.
	worker := ingest.NewWorker(store, ingest.NewIndexer(embedder, indexes), 500*time.Millisecond)
	go worker.Run(ctx)

	// MCP over stdio in parallel with HTTP.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Orchestrator: orch, Index: indexes})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "coach listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("coach is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop coach (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to coach (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	eng := engine.NewOllamaEngine(cfg.Engine.BaseURL)
	if eng.IsRunning(checkCtx) {
		printStatus("Engine", "running at %s", cfg.Engine.BaseURL)
	} else {
		printStatus("Engine", "not running")
	}

	gwCfg := gatewayConfig(cfg)
	printStatus("Gateway", "%s mode, model %s", gwCfg.Mode, gwCfg.Model)
	printStatus("Embed model", "%s", cfg.Engine.EmbedModel)
	if cfg.Reranking.Enabled {
		printStatus("Reranking", "enabled (%s)", cfg.Engine.FastModel)
	} else {
		printStatus("Reranking", "disabled")
	}

	indexes := retrieval.NewSQLiteIndexes(indexDir(cfg))
	defer indexes.Close()
	domains, err := indexes.Domains()
	switch {
	case err != nil:
		printError("listing domains: %v", err)
	case len(domains) == 0:
		printStatus("Domains", "none indexed")
	default:
		parts := make([]string, 0, len(domains))
		for _, d := range domains {
			if n, err := indexes.Count(d); err == nil {
				parts = append(parts, fmt.Sprintf("%s (%d)", d, n))
			} else {
				parts = append(parts, d)
			}
		}
		printStatus("Domains", "%s", strings.Join(parts, ", "))
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
