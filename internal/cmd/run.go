package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshdurbin/fitnerd/internal/auth"
	"github.com/joshdurbin/fitnerd/internal/config"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/httpapi"
	"github.com/joshdurbin/fitnerd/internal/logging"
	"github.com/joshdurbin/fitnerd/internal/server"
	"github.com/joshdurbin/fitnerd/internal/strava"
	fitsync "github.com/joshdurbin/fitnerd/internal/sync"
	"github.com/joshdurbin/fitnerd/internal/telemetry"
	"github.com/joshdurbin/fitnerd/internal/webhook"
	"github.com/joshdurbin/fitnerd/internal/workers"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, background workers and MCP endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return Serve(&RuntimeConfig{
			DBPath:               dbPath,
			Addr:                 addr,
			Workers:              workerCount,
			TokenRefreshInterval: tokenRefreshInterval,
			LeaseTTL:             leaseTTL,
		})
	},
}

// RuntimeConfig holds all runtime configuration from CLI flags
type RuntimeConfig struct {
	DBPath               string
	Addr                 string
	Workers              int
	TokenRefreshInterval time.Duration
	LeaseTTL             time.Duration
}

// Serve runs until SIGINT or SIGTERM, then drains the HTTP server and waits
// for in-flight jobs.
func Serve(cfg *RuntimeConfig) error {
	log := logging.Logger

	log.Info().
		Str("db_path", cfg.DBPath).
		Str("addr", cfg.Addr).
		Int("workers", cfg.Workers).
		Dur("token_refresh_interval", cfg.TokenRefreshInterval).
		Dur("lease_ttl", cfg.LeaseTTL).
		Msg("starting fitnerd")

	ctx, cancel := signalContext()
	defer cancel()

	stravaCfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := stravaCfg.RequireClient(); err != nil {
		return fmt.Errorf("strava client configuration: %w", err)
	}
	if stravaCfg.VerifyToken == "" {
		log.Warn().Msg("STRAVA_SUB_VERIFY_TOKEN is not set, webhook challenges will be rejected")
	}

	sqlDB, err := openDatabase(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	queries := db.New(sqlDB)

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewManager(registry)

	oauthCfg := auth.StravaOAuthConfig(stravaCfg)
	tokens := auth.NewTokenManager(queries, oauthCfg)
	tokens.OnRefresh(metrics.TokenRefresh)

	client := strava.NewClient(stravaCfg.APIURL, strava.DefaultRetryConfig())
	syncer := fitsync.NewSynchronizer(sqlDB, client, tokens)
	events := webhook.NewHandler(sqlDB, client, tokens).WithCreateDelay(stravaCfg.WebhookCreateWait)

	poolCfg := workers.DefaultPoolConfig()
	poolCfg.Workers = cfg.Workers
	poolCfg.LeaseTTL = cfg.LeaseTTL

	queue := workers.NewQueue(sqlDB)
	pool := workers.NewPool(queue, syncer, events, poolCfg).WithObserver(metrics)
	refresher := workers.NewTokenRefresher(queries, tokens, cfg.TokenRefreshInterval)

	logQueueStats(ctx, queue)

	mcpServer := server.New(queries).MCPServer()
	api := httpapi.New(httpapi.Options{
		DB:          sqlDB,
		Queue:       queue,
		OAuth:       oauthCfg,
		Grants:      tokens,
		VerifyToken: stravaCfg.VerifyToken,
		Observer:    metrics,
		Gatherer:    registry,
		MCP: mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
			return mcpServer
		}, nil),
	})

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runHTTPServer(gCtx, api, cfg.Addr)
	})
	g.Go(func() error {
		return pool.Run(gCtx)
	})
	g.Go(func() error {
		refresher.Run(gCtx)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		return err
	}
	log.Info().Msg("all workers shut down gracefully")
	return nil
}

// signalContext is cancelled on the first SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logging.Logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// openDatabase opens the SQLite file and brings its schema up to date.
func openDatabase(ctx context.Context, path string) (*sql.DB, error) {
	logging.Logger.Info().Str("path", path).Msg("opening database")
	sqlDB, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return sqlDB, nil
}

func logQueueStats(ctx context.Context, queue *workers.Queue) {
	counts, err := queue.Counts(ctx)
	if err != nil {
		logging.Logger.Warn().Err(err).Msg("failed to read job queue counts")
		return
	}
	ev := logging.Logger.Info()
	for state, n := range counts {
		ev = ev.Int64(state, n)
	}
	ev.Msg("job queue")
}

// runHTTPServer serves handler on addr until ctx is done.
func runHTTPServer(ctx context.Context, handler http.Handler, addr string) error {
	log := logging.Logger

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", addr).
			Str("mcp_endpoint", "/mcp").
			Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	}
}
