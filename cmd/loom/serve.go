package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loomwm/loom"
	"github.com/loomwm/loom/internal/presentation/tui"
	httpAdapter "github.com/loomwm/loom/pkg/adapters/http"
	"github.com/loomwm/loom/pkg/adapters/mcp"
	"github.com/loomwm/loom/pkg/adapters/ws"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the canvas daemon",
	Long: `Starts the canvas event loop and serves the request protocol over HTTP
(JSON requests, server-sent events) and WebSocket at /ws. With --mcp the AI
command tools are also served over stdio; with --mcp-addr over SSE.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("mcp") {
			cfg.Server.MCP, _ = cmd.Flags().GetBool("mcp")
		}
		if cmd.Flags().Changed("mcp-addr") {
			cfg.Server.MCPAddr, _ = cmd.Flags().GetString("mcp-addr")
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return serve(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address of the protocol server")
	serveCmd.Flags().Bool("mcp", false, "Serve the AI command tools over stdio")
	serveCmd.Flags().String("mcp-addr", "", "Serve the AI command tools over SSE on this address")
}

func serve(parent context.Context, cfg *loom.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	version := strings.TrimSpace(loom.Version)
	tui.PrintBanner(os.Stderr, version)

	storage, err := loom.OpenStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer storage.Close()

	eng, err := loom.New(cfg, append(storage.Options(), loom.WithLogger(logger))...)
	if err != nil {
		return err
	}

	api := httpAdapter.New(eng.Dispatcher(),
		httpAdapter.WithInspector(eng),
		httpAdapter.WithMetrics(eng.MetricsHandler()),
		httpAdapter.WithVersion(version),
		httpAdapter.WithLogger(logger),
		httpAdapter.WithIdleTimeout(cfg.Server.IdleTimeout.Duration),
	)
	router := chi.NewRouter()
	router.Handle("/ws", ws.NewHandler(eng.Dispatcher(), ws.WithLogger(logger)))
	router.Mount("/", api.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return api.ExpireIdle(gctx) })
	g.Go(func() error {
		return listen(gctx, &http.Server{Addr: cfg.Server.Addr, Handler: router}, logger)
	})

	if cfg.Server.MCP || cfg.Server.MCPAddr != "" {
		tools := mcp.NewServer(eng.Dispatcher(), version, mcp.WithInspector(eng), mcp.WithLogger(logger))
		if cfg.Server.MCP {
			g.Go(func() error {
				logger.Info("serving mcp over stdio")
				defer stop()
				return tools.ServeStdio()
			})
		}
		if addr := cfg.Server.MCPAddr; addr != "" {
			base := "http://" + addr
			g.Go(func() error {
				return listen(gctx, &http.Server{Addr: addr, Handler: tools.SSEHandler(base)}, logger)
			})
		}
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// listen serves srv until ctx is done, then shuts it down gracefully.
func listen(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown did not complete", "addr", srv.Addr, "timeout", shutdownTimeout, "error", err)
		_ = srv.Close()
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
