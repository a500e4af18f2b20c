package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/payment-reconciler/internal/config"
	"github.com/yourorg/payment-reconciler/internal/tracing"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(cmd.Context(), cfg, log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds))
		},
	}
}

// writeMargin leaves room to encode the response after the last provider call.
const writeMargin = 5 * time.Second

// writeTimeout never lets the server close a connection while the create path
// may still be waiting on the cart service or provider retries.
func writeTimeout(cfg *config.Config) time.Duration {
	return max(cfg.HTTP.WriteTimeout, cfg.RequestBudget()+writeMargin)
}

func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Setup(serviceName, os.Stdout)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdownTracing(sctx); err != nil {
				logger.Printf("Server: tracing shutdown: %v", err)
			}
		}()
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	wt := writeTimeout(cfg)
	if wt != cfg.HTTP.WriteTimeout {
		logger.Printf("Server: write timeout raised from %s to %s to cover provider retries", cfg.HTTP.WriteTimeout, wt)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      wt,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Server: http listening on %s", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Printf("Server: shutdown signal: %s", sig)
	case runErr = <-errCh:
		logger.Printf("Server: fatal error: %v", runErr)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Server: http shutdown: %v", err)
	}
	logger.Printf("Server: shutdown complete")
	return runErr
}
