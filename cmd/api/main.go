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

	"threadswap/auth"
	"threadswap/db"
	"threadswap/dispute"
	"threadswap/exchange"
	"threadswap/httpapi"
	"threadswap/item"
	"threadswap/ledger"
	"threadswap/logging"
)

const shutdownTimeout = 15 * time.Second

// expirySweepInterval controls how often lapsed pending requests get swept.
// Lazy expiry on the read path covers the gap between sweeps.
const expirySweepInterval = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logging.Setup()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer pool.Close()

	points := ledger.NewService(pool, ledger.DefaultRewardConfig())
	items := item.NewService(pool, points)
	exchanges := exchange.NewService(pool, points)
	disputes := dispute.NewService(pool)
	authSvc := auth.NewService(auth.NewRepository(pool), jwtSecret)

	handlers := httpapi.NewHandlers(authSvc, items, exchanges, disputes, points)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpapi.NewRouter(handlers, authSvc),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go sweepExpired(ctx, exchanges)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func sweepExpired(ctx context.Context, exchanges *exchange.Service) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := exchanges.ExpirePending(ctx)
			if err != nil {
				slog.Warn("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired pending exchanges", "count", n)
			}
		}
	}
}
