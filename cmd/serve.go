// -- cmd/serve.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hxkal/stagehand/internal/browser"
	"github.com/hxkal/stagehand/internal/config"
	"github.com/hxkal/stagehand/internal/cookies"
	"github.com/hxkal/stagehand/internal/hub"
	"github.com/hxkal/stagehand/internal/observability"
	"github.com/hxkal/stagehand/internal/server"
	"github.com/hxkal/stagehand/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator API and websocket server.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()
	cfg := appConfig

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vendor, err := browser.NewCloudClient(cfg.Vendor, logger)
	if err != nil {
		return fmt.Errorf("failed to build vendor client: %w", err)
	}

	store, closeStore, err := buildCookieStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build cookie store: %w", err)
	}
	defer closeStore()

	eventHub := hub.NewHub(cfg.Server.ManualCommandRate, logger)
	sessions := session.NewManager(vendor, store, eventHub, cfg, logger)
	srv := server.New(cfg, sessions, eventHub, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		eventHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutCtx)
		return httpServer.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// buildCookieStore selects the persistence backend. The returned close
// function releases any pooled connections.
func buildCookieStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cookies.Store, func(), error) {
	switch cfg.Cookies.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Cookies.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres pool: %w", err)
		}
		store := cookies.NewPostgresStore(pool, cfg.Target.CookieDomain, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case "file":
		store, err := cookies.NewFileStore(cfg.Cookies.Dir, cfg.Target.CookieDomain, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cookie backend %q", cfg.Cookies.Backend)
	}
}
