/*
serve.go - HTTP server command

STARTUP SEQUENCE:
  1. Load configuration (JWT secret required)
  2. Open SQLite store, migrating to the latest schema
  3. Connect the AMQP publisher when MERIT_AMQP_URL is set
  4. Build engine, handler and router
  5. Start the reconcile scheduler when an interval is configured
  6. Serve until SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close the AMQP channel and the database
*/
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/merit-ledger/api"
	"github.com/warp/merit-ledger/events/amqp"
	"github.com/warp/merit-ledger/ledger"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(true)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}

	db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := []ledger.Option{ledger.WithLogger(logger)}
	if cfg.AMQP.URL != "" {
		publisher, err := amqp.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, ledger.WithPublisher(publisher))
		logger.Info("publishing ledger events", "exchange", cfg.AMQP.Exchange)
	}

	engine := ledger.NewEngine(db, opts...)
	tokens := api.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL.Duration)
	handler := api.NewHandler(engine, tokens, db)
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         logger,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	scheduler := api.NewReconcileScheduler(engine, cfg.Reconcile.Interval.Duration, cfg.Reconcile.Concurrency, logger)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration,
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.HTTP.Addr, "db", cfg.DB.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
