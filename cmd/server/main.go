/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cost warehouse server: configuration,
  structured logging, the SQLite-backed store, the masking component,
  and the HTTP API, with graceful shutdown on SIGINT/SIGTERM.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Build the zap logger (production encoding outside development)
  3. Open the SQLite store (schema auto-migrates)
  4. Construct the masker from the configured secret
  5. Serve the API

FLAGS:
  -port  Override the configured HTTP port
  -db    Override the configured database path
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/cost-warehouse/api"
	"github.com/warp/cost-warehouse/config"
	"github.com/warp/cost-warehouse/mask"
	"github.com/warp/cost-warehouse/store/sqlite"
)

func main() {
	var (
		portFlag = flag.String("port", "", "HTTP port (overrides PORT)")
		dbFlag   = flag.String("db", "", "database path (overrides DATABASE_PATH)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	if *dbFlag != "" {
		cfg.DBPath = *dbFlag
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer store.Close()

	masker, err := mask.New(cfg.MaskSecret)
	if err != nil {
		logger.Fatal("failed to build masker", zap.Error(err))
	}

	handler := api.NewHandler(store, masker, logger)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(handler),
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("db", cfg.DBPath),
			zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func buildLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
