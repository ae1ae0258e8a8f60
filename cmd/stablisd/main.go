package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/stablis/stablis-contracts/config"
	"github.com/stablis/stablis-contracts/core"
	"github.com/stablis/stablis-contracts/observability"
	"github.com/stablis/stablis-contracts/observability/logging"
	"github.com/stablis/stablis-contracts/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to the node configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("stablisd", "info", "json").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("stablisd", cfg.LogLevel, cfg.LogFormat)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ledger, err := core.NewLedger(cfg, db, nil)
	if err != nil {
		logger.Error("wire ledger", "error", err)
		os.Exit(1)
	}
	ledger.Operations.SetMetrics(observability.Ledger())

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           newAPI(ledger, logger).router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.ListenAddress)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			os.Exit(1)
		}
	}
}
