// Package main provides the CLI entry point for Jot, an AI-assisted
// interactive notebook backend.
//
// Jot keeps a notebook of code and markdown cells, executes code cells on a
// remote kernel over a websocket bridge, and drives an assistant that can
// inspect and edit the notebook through structured actions embedded in its
// replies.
//
// # Basic Usage
//
// Start an interactive session:
//
//	jot chat --config jot.yaml
//
// # Environment Variables
//
//   - JOT_CONFIG: Path to configuration file (default: jot.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
//   - GOOGLE_API_KEY: Gemini API key
//   - JOT_KERNEL_URL: Websocket endpoint of the execution kernel
//   - JOT_WORKSPACE: Directory file actions are sandboxed to
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jotbook/jot/internal/assistant"
	"github.com/jotbook/jot/internal/assistant/providers"
	"github.com/jotbook/jot/internal/config"
	"github.com/jotbook/jot/internal/files"
	"github.com/jotbook/jot/internal/kernel"
	"github.com/jotbook/jot/internal/notebook"
	"github.com/jotbook/jot/internal/observability"
	"github.com/jotbook/jot/internal/storage"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "jot",
		Short:        "Jot - AI-assisted interactive notebook",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to configuration file")
	rootCmd.AddCommand(buildChatCmd())
	return rootCmd
}

func defaultConfigPath() string {
	if v := os.Getenv("JOT_CONFIG"); v != "" {
		return v
	}
	return "jot.yaml"
}

func buildChatCmd() *cobra.Command {
	var providerName string
	var notebookPath string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive notebook session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if providerName != "" {
				cfg.LLM.DefaultProvider = providerName
			}
			return runChat(cmd.Context(), cfg, notebookPath)
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "model provider (anthropic, openai, google)")
	cmd.Flags().StringVar(&notebookPath, "notebook", "", "notebook id to resume")
	return cmd
}

func runChat(parent context.Context, cfg *config.Config, notebookID string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	startMetricsServer(ctx, cfg, registry, logger)

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	store, err := loadNotebook(ctx, stores, notebookID)
	if err != nil {
		return err
	}

	bridge := kernel.NewWSBridge(kernel.WSConfig{
		URL:          cfg.Kernel.URL,
		KernelID:     cfg.Kernel.KernelID,
		PingInterval: cfg.Kernel.PingInterval,
	}, logger)
	if err := bridge.Dial(ctx); err != nil {
		logger.Warn(ctx, "kernel bridge unavailable, executions will be rejected", "url", cfg.Kernel.URL, "error", err)
	} else {
		defer bridge.Close()
	}

	machine := notebook.NewMachine(store, bridge, logger, metrics)

	fileSvc, err := files.NewService(files.Config{
		Workspace:    cfg.Files.Workspace,
		MaxReadBytes: cfg.Files.MaxReadBytes,
	}, logger)
	if err != nil {
		return err
	}
	startWorkspaceWatch(ctx, fileSvc, logger)

	session := assistant.NewSession(assistant.SessionConfig{
		Registry:   buildProviders(cfg, logger),
		Dispatcher: assistant.NewDispatcher(store, machine, fileSvc, logger, metrics),
		Store:      store,
		History:    stores.Conversations,
		Logger:     logger,
		Metrics:    metrics,
		Provider:   cfg.LLM.DefaultProvider,
		MaxTokens:  cfg.LLM.MaxTokens,
	})
	if stores.Conversations != nil {
		conv := session.Conversation()
		conv.NotebookID = store.ID()
		if err := stores.Conversations.Create(ctx, conv); err != nil {
			logger.Warn(ctx, "could not persist conversation", "error", err)
		}
	}

	return repl(ctx, session, machine, stores, store, logger)
}

// repl reads user turns from stdin until EOF or signal. Replies stream to
// stdout as chunks arrive. The notebook is saved after every turn.
func repl(ctx context.Context, session *assistant.Session, machine *notebook.Machine, stores storage.StoreSet, store *notebook.Store, logger *observability.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Println("jot ready. Type a message, or /quit to exit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/interrupt":
			if err := machine.Interrupt(ctx); err != nil {
				fmt.Printf("interrupt: %v\n", err)
			}
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		result, err := session.Turn(turnCtx, line, func(chunk string) {
			fmt.Print(chunk)
		})
		cancel()
		if err != nil {
			fmt.Printf("\nturn failed: %v\n", err)
			continue
		}
		fmt.Println()
		for _, r := range result.Results {
			status := "ok"
			if !r.Success {
				status = "failed"
			}
			fmt.Printf("  [%s] %s: %s\n", status, r.Tool, r.Message)
		}

		if err := stores.Notebooks.Save(ctx, store.Snapshot("")); err != nil {
			logger.Error(ctx, "failed to save notebook", "error", err)
		}
	}
	return scanner.Err()
}

func openStores(cfg *config.Config) (storage.StoreSet, error) {
	if cfg.Storage.Path == "" {
		return storage.NewMemoryStoreSet(), nil
	}
	return storage.NewSQLiteStoreSet(cfg.Storage.Path)
}

func loadNotebook(ctx context.Context, stores storage.StoreSet, id string) (*notebook.Store, error) {
	if id == "" {
		return notebook.NewStore(uuid.NewString()), nil
	}
	nb, err := stores.Notebooks.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load notebook %s: %w", id, err)
	}
	store := notebook.NewStore(nb.ID)
	store.Restore(nb)
	return store, nil
}

func buildProviders(cfg *config.Config, logger *observability.Logger) *providers.Registry {
	registry := providers.NewRegistry(cfg.LLM.DefaultProvider)
	ctx := context.Background()

	if cfg.LLM.Anthropic.APIKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.LLM.Anthropic.APIKey,
			DefaultModel: cfg.LLM.Anthropic.Model,
		})
		if err != nil {
			logger.Warn(ctx, "anthropic provider disabled", "error", err)
		} else {
			registry.Register(p)
		}
	}
	if cfg.LLM.OpenAI.APIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.LLM.OpenAI.APIKey,
			DefaultModel: cfg.LLM.OpenAI.Model,
		})
		if err != nil {
			logger.Warn(ctx, "openai provider disabled", "error", err)
		} else {
			registry.Register(p)
		}
	}
	if cfg.LLM.Google.APIKey != "" {
		p, err := providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       cfg.LLM.Google.APIKey,
			DefaultModel: cfg.LLM.Google.Model,
		})
		if err != nil {
			logger.Warn(ctx, "google provider disabled", "error", err)
		} else {
			registry.Register(p)
		}
	}
	return registry
}

// startWorkspaceWatch logs out-of-band changes to the workspace so edits
// made outside the session (another editor, a kernel writing files) are
// visible in the transcript.
func startWorkspaceWatch(ctx context.Context, svc *files.Service, logger *observability.Logger) {
	events, err := svc.Watch(ctx)
	if err != nil {
		logger.Warn(ctx, "workspace watch unavailable", "error", err)
		return
	}
	go func() {
		for ev := range events {
			logger.Info(ctx, "workspace changed", "path", ev.Path, "op", ev.Op)
		}
	}()
}

func startMetricsServer(ctx context.Context, cfg *config.Config, registry *prometheus.Registry, logger *observability.Logger) {
	if cfg.Server.MetricsPort <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn(ctx, "metrics server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
