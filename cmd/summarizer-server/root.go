package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MegaGrindStone/go-mcp-streamable"
	"github.com/MegaGrindStone/go-mcp-streamable/internal/config"
	"github.com/MegaGrindStone/go-mcp-streamable/internal/metrics"
	"github.com/MegaGrindStone/go-mcp-streamable/servers/summarizer"
)

func newRootCmd() *cobra.Command {
	var (
		configPath   string
		port         int
		jsonResponse bool
	)

	cmd := &cobra.Command{
		Use:   "summarizer-server",
		Short: "Serve the summarizer MCP server over streamable HTTP",
		Long: `summarizer-server exposes a summarize tool backed by OpenRouter, together with a few
demonstration tools, a greeting prompt and one resource per produced summary.

Configuration is read from the TOML file given with --config, then from the PORT,
OPENROUTER_API_KEY and LOG_LEVEL environment variables, then from the flags.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadServer(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("json-response") {
				cfg.JSONResponse = jsonResponse
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := cfg.Log.NewLogger(os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML configuration file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default 3000)")
	cmd.Flags().BoolVar(&jsonResponse, "json-response", false, "answer POST requests with JSON instead of SSE")

	return cmd
}

// app holds the components of a running server.
type app struct {
	handler    http.Handler
	summarizer *summarizer.Server
	mcpServer  mcp.Server
	transport  *mcp.StreamableHTTPServer
}

func newApp(cfg config.Server, sum summarizer.Summarizer, reg *prometheus.Registry, logger *slog.Logger) (app, error) {
	tools, err := summarizer.NewToolFilter(cfg.Tools...)
	if err != nil {
		return app{}, err
	}
	m := metrics.New(reg)

	store := mcp.NewMemoryEventStore(mcp.WithMemoryEventStoreCapacity(cfg.EventStoreCapacity))
	transportOptions := []mcp.StreamableHTTPServerOption{
		mcp.WithStreamableServerLogger(logger),
		mcp.WithStreamableServerEventStore(m.EventStore(store)),
		mcp.WithStreamableServerOnSessionOpened(m.SessionOpened),
		mcp.WithStreamableServerOnSessionClosed(m.SessionClosed),
		mcp.WithStreamableServerOnRejected(m.Rejected),
	}
	if cfg.JSONResponse {
		transportOptions = append(transportOptions, mcp.WithStreamableServerJSONResponse())
	}
	if cfg.TerminationDisabled {
		transportOptions = append(transportOptions, mcp.WithStreamableServerTerminationDisabled())
	}
	transport := mcp.NewStreamableHTTPServer(transportOptions...)

	sumServer := summarizer.NewServer(sum, summarizer.WithLogger(logger), summarizer.WithToolFilter(tools))
	mcpServer := mcp.NewServer(sumServer.Info(), transport,
		mcp.WithToolServer(sumServer),
		mcp.WithPromptServer(sumServer),
		mcp.WithResourceServer(sumServer),
		mcp.WithResourceListUpdater(sumServer),
		mcp.WithLogHandler(sumServer),
		mcp.WithServerLogger(logger),
		mcp.WithServerOnClientConnected(func(id string, info mcp.Info) {
			logger.Info("client connected", slog.String("sessionID", id), slog.String("client", info.Name))
		}),
		mcp.WithServerOnClientDisconnected(func(id string) {
			logger.Info("client disconnected", slog.String("sessionID", id))
		}),
	)

	return app{
		handler:    newRouter(cfg, transport, reg, m),
		summarizer: sumServer,
		mcpServer:  mcpServer,
		transport:  transport,
	}, nil
}

func run(ctx context.Context, cfg config.Server, logger *slog.Logger) error {
	if cfg.OpenRouter.APIKey == "" {
		logger.Warn("OPENROUTER_API_KEY is not set, the summarize tool will fail")
	}
	sum := summarizer.NewOpenRouter(cfg.OpenRouter.APIKey, cfg.OpenRouter.BaseURL, cfg.OpenRouter.Model)

	reg := prometheus.NewRegistry()
	a, err := newApp(cfg, sum, reg, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.mcpServer.Serve()
		return nil
	})

	g.Go(func() error {
		logger.Info("MCP Streamable HTTP Server listening",
			slog.String("addr", httpServer.Addr),
			slog.String("route", cfg.Route),
			slog.Bool("jsonResponse", cfg.JSONResponse))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()

		// Open SSE streams hold their requests until the transport closes them, so the
		// HTTP server drains while the MCP server shuts down.
		var sg errgroup.Group
		sg.Go(func() error {
			a.summarizer.Close()
			if err := a.mcpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shutdown mcp server: %w", err)
			}
			return nil
		})
		sg.Go(func() error {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shutdown http server: %w", err)
			}
			return nil
		})
		if err := sg.Wait(); err != nil {
			return err
		}

		logger.Info("Server shutdown complete")
		return nil
	})

	return g.Wait()
}
