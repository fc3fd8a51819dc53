// cmd/circulation/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"libracheck/internal/accounts"
	"libracheck/internal/catalog"
	"libracheck/internal/circulation"
	"libracheck/internal/store/postgres"
	"libracheck/internal/telemetry"
)

var flagSkipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the overdue sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&flagSkipMigrate, "skip-migrate", false, "Do not apply the schema on startup")
}

func serve(ctx context.Context) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error(err, "failed to flush traces")
		}
	}()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if pg, ok := a.repo.(*postgres.Store); ok && !flagSkipMigrate {
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
	}

	sweeper, err := startSweeper(ctx, a.circulation)
	if err != nil {
		return err
	}
	defer func() { <-sweeper.Stop().Done() }()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting circulation service", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger.WithName("http")))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if a.db != nil {
			if err := a.db.PingContext(r.Context()); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Handle("/evidence/*", http.StripPrefix("/evidence", a.blobs))

	catalog.NewHandler(a.catalog).Routes(r)
	accounts.NewHandler(a.accounts).Routes(r)
	circulation.NewHandler(a.circulation).Routes(r)
	return r
}

func requestLogger(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.V(1).Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// startSweeper schedules the overdue sweep. An empty schedule leaves the
// returned scheduler idle.
func startSweeper(ctx context.Context, svc circulation.Service) (*cron.Cron, error) {
	log := logger.WithName("sweep")
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if cfg.Loans.OverdueSchedule != "" {
		_, err := c.AddFunc(cfg.Loans.OverdueSchedule, func() {
			sent, err := svc.SweepOverdue(ctx, time.Now())
			if err != nil {
				log.Error(err, "overdue sweep failed")
				return
			}
			log.Info("overdue sweep finished", "notices", sent)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule overdue sweep: %w", err)
		}
	}
	c.Start()
	return c, nil
}
