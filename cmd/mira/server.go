package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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

	"github.com/kalambet/mira/internal/actions"
	"github.com/kalambet/mira/internal/api"
	"github.com/kalambet/mira/internal/config"
	"github.com/kalambet/mira/internal/engine"
	"github.com/kalambet/mira/internal/facts"
	"github.com/kalambet/mira/internal/identity"
	"github.com/kalambet/mira/internal/lights"
	"github.com/kalambet/mira/internal/llm"
	"github.com/kalambet/mira/internal/memory"
	"github.com/kalambet/mira/internal/schedule"
	"github.com/kalambet/mira/internal/search"
	"github.com/kalambet/mira/internal/storage"
	"github.com/kalambet/mira/internal/tools"
	"github.com/kalambet/mira/internal/turn"
	"github.com/kalambet/mira/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mira server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpMode, _ := cmd.Flags().GetBool("mcp")
		if mcpMode {
			userID, _ := cmd.Flags().GetString("user")
			if userID == "" {
				return errors.New("--mcp requires --user")
			}
			return runMCP(userID)
		}
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running mira server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mira system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "serve the memory MCP server over stdio instead of HTTP")
	serveCmd.Flags().String("user", "", "user the MCP server acts for (with --mcp)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mira.pid")
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
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// services is everything serve wires together.
type services struct {
	store    *storage.Store
	mem      *memory.Orchestrator
	embedder *memory.Embedder // nil when the engine is unavailable
	ident    *identity.Manager
	sched    *schedule.Service
	audit    *tools.AuditLog
	pipeline *turn.Pipeline
}

func (s *services) close() {
	if s.sched != nil {
		s.sched.Stop()
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			slog.Warn("closing audit log", "error", err)
		}
	}
	if err := s.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

func openMemory(ctx context.Context, cfg config.Config) (*services, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	s := &services{store: store, ident: identity.NewManager(store)}

	eng := engine.NewOllama(cfg.Ollama.BaseURL)
	var textEmbedder memory.TextEmbedder
	if err := engine.EnsureReady(ctx, eng, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		slog.Warn("embedding engine unavailable, retrieval falls back to keyword search", "error", err)
	} else {
		s.embedder = memory.NewEmbedder(eng, cfg.Ollama.EmbedModel)
		textEmbedder = s.embedder
	}
	s.mem = memory.NewOrchestrator(memory.NewStore(store.DB()), store, store, textEmbedder)

	if cfg.Master.ConfigFile != "" {
		if _, err := s.ident.LoadMasterFile(cfg.Master.ConfigFile); err != nil {
			store.Close()
			return nil, err
		}
		slog.Info("master config loaded", "file", cfg.Master.ConfigFile)
	}
	return s, nil
}

func buildServices(ctx context.Context, cfg config.Config) (*services, error) {
	s, err := openMemory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	provider, err := llm.New(ctx, cfg)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("creating llm provider: %w", err)
	}

	notes := workspace.NewStore(s.store.DB())
	if s.embedder != nil {
		notes = notes.WithIndex(workspace.NewIndex(s.embedder.Embed))
	}

	s.sched = schedule.NewService(s.store)
	s.sched.OnFire = func(ctx context.Context, r storage.Reminder) {
		meta := memory.Meta{Tags: []string{"reminder"}, Topic: "reminder"}
		if err := s.mem.AppendTurn(ctx, r.UserID, "system", "Reminder: "+r.Title, meta); err != nil {
			slog.Warn("logging fired reminder failed", "reminder_id", r.ID, "error", err)
		}
	}

	s.audit, err = tools.OpenAuditLog(filepath.Join(cfg.Storage.DataDir, "audit"))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	toolDeps := tools.Deps{
		Search:     search.NewClient(cfg.Search.BaseURL),
		Workspace:  notes,
		Feedback:   s.mem,
		Classifier: provider,
		Master:     s.ident,
	}
	var devices actions.DeviceController
	if cfg.Lights.BridgeURL != "" {
		ctrl := lights.NewController(lights.NewClient(cfg.Lights.BridgeURL, cfg.Lights.Token))
		toolDeps.Lights = ctrl
		devices = ctrl
	}
	registry := tools.NewRegistry()
	if err := tools.RegisterDefaults(registry, toolDeps); err != nil {
		s.close()
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	turnCfg, err := turn.ConfigFrom(cfg.Turn)
	if err != nil {
		s.close()
		return nil, err
	}

	dispatcher := tools.NewDispatcher(registry, s.mem, s.audit, s.mem.NewWriteSet(cfg.Turn.FactWriteTimeout))
	dispatcher.Timeout = cfg.Turn.ToolTimeout
	proc := actions.NewProcessor(s.sched, devices, s.mem)
	proc.Timeout = turnCfg.ActionTimeout

	s.pipeline = turn.New(turn.Deps{
		Identity: s.ident,
		Memory:   s.mem,
		Provider: provider,
		Tools:    dispatcher,
		Actions:  proc,
		Facts:    facts.NewExtractor(),
	}, turnCfg)
	return s, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "mira version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + cfg.Addr() + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("mira is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("mira is already running on %s", cfg.Addr())
		return fmt.Errorf("server already running on %s", cfg.Addr())
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	if err := svc.sched.Start(ctx); err != nil {
		return err
	}
	if svc.embedder != nil {
		worker := memory.NewWorker(svc.store, svc.mem.Points(), svc.embedder, 500*time.Millisecond)
		go worker.Run(ctx)
	}

	handler := api.NewChatHandler(api.ChatDeps{
		Turns:    svc.pipeline,
		History:  svc.mem,
		Identity: svc.ident,
		Migrator: memory.NewMigrator(svc.mem.Points()),
		Tokens:   svc.store,
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mira listening", "addr", cfg.Addr())
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
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// Let in-flight memory writes land before storage closes.
	if err := svc.pipeline.FlushAll(shutdownCtx); err != nil {
		slog.Warn("pending memory writes abandoned", "error", err)
	}
	return nil
}

func runMCP(userID string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout is the MCP transport.
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := openMemory(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	if _, err := svc.ident.GetUser(ctx, userID); err != nil {
		return err
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{Memory: svc.mem, UserID: userID})
	slog.Info("MCP server started (stdio transport)", "user_id", userID)
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
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
		printError("mira is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop mira (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to mira (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get("http://" + cfg.Addr() + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on %s", cfg.Addr())
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if engine.NewOllama(cfg.Ollama.BaseURL).IsRunning(context.Background()) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running (keyword retrieval only)")
	}

	printStatus("Provider", "%s (%s)", cfg.LLM.Provider, cfg.LLM.Model)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	if cfg.Lights.BridgeURL != "" {
		printStatus("Lights", "%s", cfg.Lights.BridgeURL)
	} else {
		printStatus("Lights", "not configured")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
