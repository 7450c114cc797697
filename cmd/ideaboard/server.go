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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/ideaboard/internal/api"
	"github.com/kalambet/ideaboard/internal/config"
	"github.com/kalambet/ideaboard/internal/connections"
	"github.com/kalambet/ideaboard/internal/generate"
	"github.com/kalambet/ideaboard/internal/prompt"
	"github.com/kalambet/ideaboard/internal/provider"
	"github.com/kalambet/ideaboard/internal/provider/gemini"
	"github.com/kalambet/ideaboard/internal/provider/openai"
	"github.com/kalambet/ideaboard/internal/provider/together"
	"github.com/kalambet/ideaboard/internal/render"
	"github.com/kalambet/ideaboard/internal/storage"
	"github.com/kalambet/ideaboard/internal/studio"
)

// Together's free tier model answers the connection check without cost.
const togetherCheckModel = "black-forest-labs/FLUX.1-schnell-Free"

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ideaboard server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ideaboard server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ideaboard status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

// providers holds the three model clients. Each reads its key from the key
// store on every call so key changes apply without a restart.
type providers struct {
	openai   *openai.Client
	gemini   *gemini.Client
	together *together.Client
}

func newProviders(cfg config.Config, keys *config.KeyStore) providers {
	key := func(p string) func() string {
		return func() string { return keys.Get(p) }
	}
	return providers{
		openai:   openai.New(key("openai"), cfg.OpenAI.BaseURL),
		gemini:   gemini.New(key("gemini"), cfg.Gemini.BaseURL, cfg.Gemini.ImageModel),
		together: together.New(key("together"), cfg.Together.BaseURL, cfg.Together.ImageModel),
	}
}

// connectionChecks builds the smallest useful call per provider.
func connectionChecks(cfg config.Config, p providers) map[string]connections.Check {
	return map[string]connections.Check{
		"openai": func(ctx context.Context) (string, error) {
			return p.openai.Ping(ctx, cfg.OpenAI.FastModel, prompt.MustRender("ping_openai", nil))
		},
		"gemini": func(ctx context.Context) (string, error) {
			return p.gemini.Ping(ctx, cfg.Gemini.TextModel, prompt.MustRender("ping_gemini", nil))
		},
		"together": func(ctx context.Context) (string, error) {
			res, err := p.together.GenerateImage(ctx, provider.ImageRequest{
				Prompt: prompt.MustRender("ping_together", nil),
				Model:  togetherCheckModel,
				Width:  512,
				Height: 512,
				Steps:  3,
			})
			return res.URL, err
		},
	}
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "ideaboard version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if cfg.Debug() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.APIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available", "path", filepath.Join(cfg.Storage.DataDir, "api_token"))

	pid := pidFileFor(cfg.Storage.DataDir)
	if _, err := pingHealth(cfg.Server.Port); err == nil {
		if running, pidErr := pid.read(); pidErr == nil {
			printWarning("ideaboard is already running (PID %d)", running)
			return fmt.Errorf("server already running (PID %d)", running)
		}
		printWarning("port %d is already serving ideaboard", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := pid.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pid.remove()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	keys, err := config.OpenKeyStore(config.KeysFilePath())
	if err != nil {
		return fmt.Errorf("opening key store: %w", err)
	}
	defer func() {
		if err := keys.Flush(); err != nil {
			slog.Error("saving keys failed", "error", err)
		}
	}()
	for p, k := range keys.Masked() {
		if k == "" {
			slog.Warn("no API key configured", "provider", p)
		}
	}

	p := newProviders(cfg, keys)
	gen := generate.New(p.openai, p.gemini, generate.Models{
		Text:              cfg.OpenAI.Model,
		Fast:              cfg.OpenAI.FastModel,
		GeminiText:        cfg.Gemini.TextModel,
		DesignTemperature: cfg.Generation.DesignTemperature,
	})
	captionPrompt := prompt.MustRender("caption", nil)
	st := studio.New(store, studio.Options{
		Generator: gen,
		Caption: func(ctx context.Context, src string) (string, error) {
			return p.openai.Caption(ctx, cfg.OpenAI.FastModel, captionPrompt, src)
		},
		Blender:    p.gemini,
		TextModel:  cfg.OpenAI.Model,
		AutoRender: cfg.Render.Auto,
	})
	go st.Run(ctx)
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("saving sessions failed", "error", err)
		}
	}()

	// Start render worker.
	worker := render.NewWorker(store, p.together, st, cfg.Render.Width, cfg.Render.Height, cfg.PollInterval())
	go worker.Run(ctx)

	appHandler := api.NewAppHandler(api.AppDeps{
		Studio:        st,
		Keys:          keys,
		Connections:   connections.New(connectionChecks(cfg, p)),
		Token:         apiToken,
		HTTPClient:    &http.Client{Timeout: 15 * time.Second},
		RatePerMinute: cfg.Generation.RatePerMinute,
		Burst:         cfg.Generation.Burst,
	})

	topRouter := chi.NewRouter()
	topRouter.Mount("/", appHandler)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: topRouter,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Studio: st})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "ideaboard listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout. Open generation streams end when their
	// request contexts are cancelled.
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

	pid := pidFileFor(cfg.Storage.DataDir)
	n, err := pid.terminate()
	switch {
	case errors.Is(err, os.ErrNotExist):
		printError("ideaboard is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	case err != nil:
		printError("could not stop ideaboard: %v", err)
		pid.remove()
		return err
	}

	printStep("Waiting for ideaboard (PID %d) to exit...", n)
	if !pid.gone(10 * time.Second) {
		printWarning("ideaboard (PID %d) is still shutting down", n)
		return nil
	}
	printSuccess("ideaboard stopped")
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	running := false
	switch code, err := pingHealth(cfg.Server.Port); {
	case err != nil:
		printStatus("Server", "stopped")
	case code != http.StatusOK:
		printStatus("Server", "error (HTTP %d)", code)
	default:
		running = true
		printStatus("Server", "running on port %d", cfg.Server.Port)
	}

	printStatus("Text model", "%s", cfg.OpenAI.Model)
	printStatus("Fast model", "%s", cfg.OpenAI.FastModel)
	printStatus("Gemini model", "%s", cfg.Gemini.TextModel)
	printStatus("Image model", "%s", cfg.Together.ImageModel)

	if ks, err := config.OpenKeyStore(config.KeysFilePath()); err == nil {
		masked := ks.Masked()
		for _, p := range config.Providers {
			v := masked[p]
			if v == "" {
				v = "not set"
			}
			printStatus(p+" key", "%s", v)
		}
	}

	if running {
		if token, err := config.APIToken(cfg.Storage.DataDir); err == nil {
			ac := &apiClient{
				baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
				token:      token,
				httpClient: &http.Client{Timeout: 2 * time.Second},
			}
			resp, err := ac.get(context.Background(), "/sessions?limit=100")
			if err == nil {
				var sessions []sessionSummary
				if decodeJSON(resp, &sessions) == nil {
					printStatus("Sessions", "%s", countLabel(len(sessions), 100))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
