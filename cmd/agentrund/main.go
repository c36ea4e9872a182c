// Command agentrund is the agentrun server daemon. It wires a model
// backend, the built-in toolset, SQLite persistence, and the loop
// orchestrator's HTTP surface, then serves it until signalled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loomhq/agentrun/agent"
	"github.com/loomhq/agentrun/config"
	"github.com/loomhq/agentrun/httpapi"
	"github.com/loomhq/agentrun/internal/version"
	"github.com/loomhq/agentrun/provider"
	"github.com/loomhq/agentrun/provider/anthropic"
	"github.com/loomhq/agentrun/provider/mock"
	"github.com/loomhq/agentrun/provider/ollamaprovider"
	"github.com/loomhq/agentrun/provider/openai"
	"github.com/loomhq/agentrun/sse"
	"github.com/loomhq/agentrun/store"
	"github.com/loomhq/agentrun/toolset"
)

var configPath = flag.String("config", "agentrun.yaml", "path to config file")

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting agentrund", slog.String("version", version.Version), slog.String("commit", version.Commit))

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("no config file found, using defaults", slog.String("path", *configPath))
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("load config %s: %v", *configPath, err)
		}
	}

	backend, err := buildProvider(cfg.Backend)
	if err != nil {
		log.Fatalf("build provider: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir %s: %v", cfg.DataDir, err)
	}
	if err := os.MkdirAll(cfg.Workspace.Path, 0o755); err != nil {
		log.Fatalf("create workspace %s: %v", cfg.Workspace.Path, err)
	}

	db, err := store.Open(cfg.DataDir + "/agentrun.db")
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	tools := buildToolset(cfg, logger)

	handlers := &httpapi.Handlers{
		Store:    db,
		Provider: backend,
		Tools:    tools,
		Loop:     agent.Config{MaxIterations: cfg.Loop.MaxIterations, Model: cfg.Backend.Model, SystemPrompt: cfg.Loop.SystemPrompt},
		SSE:      sse.New(logger),
		Logger:   logger,
		Version:  version.Version,
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	httpSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 15 * time.Second}

	go func() {
		logger.Info("server listening", slog.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen and serve", slog.Any("err", err))
		}
	}()

	fmt.Printf("agentrund running on http://localhost%s\n", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", slog.Any("err", err))
	}
}

// buildProvider selects a Provider implementation from cfg.Kind, falling
// back to each backend's own env-var convention for its API key.
func buildProvider(cfg config.BackendConfig) (provider.Provider, error) {
	switch cfg.Kind {
	case "", "ollama":
		opts := ollamaprovider.Config{}
		if cfg.BaseURL != "" {
			opts.BaseURL = cfg.BaseURL
		}
		return ollamaprovider.New(opts), nil
	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return openai.New(key), nil
	case "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return anthropic.New(key), nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}

// buildToolset registers the built-in tools, wiring a Docker sandbox for
// the shell tool and a headless browser when configured and available.
func buildToolset(cfg *config.Config, logger *slog.Logger) *toolset.Registry {
	reg := toolset.NewRegistry()
	reg.Register(&toolset.ReadTool{Workspace: cfg.Workspace.Path})
	reg.Register(&toolset.WriteTool{Workspace: cfg.Workspace.Path})

	shell := &toolset.ShellTool{Workspace: cfg.Workspace.Path}
	if cfg.Workspace.DockerImage != "" {
		sandbox := toolset.NewDockerSandbox(cfg.Workspace.DockerImage, cfg.Workspace.Path)
		if sandbox.Available() {
			shell.Sandbox = sandbox
		} else {
			logger.Warn("docker sandbox unavailable, shell tool will run on host")
		}
	}
	reg.Register(shell)

	if cfg.Workspace.BrowserTools {
		mgr := toolset.NewBrowserManager(true)
		if mgr.Available() {
			reg.Register(&toolset.BrowserNavigateTool{Manager: mgr})
			reg.Register(&toolset.BrowserScreenshotTool{Manager: mgr})
			reg.Register(&toolset.BrowserClickTool{Manager: mgr})
			reg.Register(&toolset.BrowserExtractTool{Manager: mgr})
			reg.Register(&toolset.BrowserFillTool{Manager: mgr})
		} else {
			logger.Warn("no browser binary found, browser tools disabled")
		}
	}

	return reg
}
