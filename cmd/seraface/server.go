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

	"github.com/seraface/seraface/internal/api"
	"github.com/seraface/seraface/internal/config"
	"github.com/seraface/seraface/internal/genai"
	"github.com/seraface/seraface/internal/phases"
	"github.com/seraface/seraface/internal/pipeline"
	"github.com/seraface/seraface/internal/products"
	"github.com/seraface/seraface/internal/shopping"
	"github.com/seraface/seraface/internal/storage"
	"github.com/seraface/seraface/internal/sweeper"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the seraface server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running seraface server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show seraface system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "seraface.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "seraface version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse a second instance on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("seraface is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("seraface is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Model client.
	genaiClient := genai.NewClientWithBaseURL(cfg.Gemini.APIKey, cfg.Gemini.BaseURL)
	genaiClient.SetTimeout(time.Duration(cfg.Gemini.TimeoutSeconds) * time.Second)
	generator := genai.NewGenerator(genaiClient, cfg.Gemini.TextModel, cfg.Gemini.VisionModel)

	// Shopping client and product resolver.
	searcher := shopping.NewClient(shopping.Config{
		APIKey:   cfg.Shopping.APIKey,
		BaseURL:  cfg.Shopping.BaseURL,
		Language: cfg.Shopping.Language,
		Country:  cfg.Shopping.Country,
		Timeout:  time.Duration(cfg.Shopping.TimeoutSeconds) * time.Second,
	})
	productSvc := products.NewService(store, searcher, cfg.Resolver.Concurrency)

	// Workflow.
	phaseStore := phases.NewStore(store)
	orch := pipeline.New(phaseStore, generator, productSvc)

	// Background reclamation of expired sessions and recommendations.
	sweepWorker := sweeper.New(phaseStore, productSvc, time.Hour)
	go sweepWorker.Run(ctx)

	deps := api.Deps{
		Phases:   phaseStore,
		Pipeline: orch,
		Products: productSvc,
		Token:    cfg.Server.Token,
	}
	handler := api.NewHandler(deps)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on stdio, alongside HTTP.
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "seraface listening on %s\n", addr)
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
		printError("seraface is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop seraface (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to seraface (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Text model", "%s", cfg.Gemini.TextModel)
	printStatus("Vision model", "%s", cfg.Gemini.VisionModel)

	if running {
		apiClient, err := newAPIClient()
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if statsResp, err := apiClient.get(ctx, "/v1/products/cache-stats"); err == nil {
				var stats struct {
					CachedProducts  int `json:"cached_products"`
					Recommendations int `json:"recommendations"`
				}
				if decodeJSON(statsResp, &stats) == nil {
					printStatus("Cached products", "%d", stats.CachedProducts)
					printStatus("Recommendations", "%d", stats.Recommendations)
				}
			}
			if sessResp, err := apiClient.get(ctx, "/v1/sessions"); err == nil {
				var sessions struct {
					Sessions []string `json:"sessions"`
				}
				if decodeJSON(sessResp, &sessions) == nil {
					printStatus("Sessions", "%d", len(sessions.Sessions))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
