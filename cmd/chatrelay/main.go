package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"chatrelay/internal/app"
	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/shutdown"
)

// build metadata, set via ldflags during release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// .env must land in the process environment before config and logger
	// resolution read CHATRELAY_* from it.
	_ = godotenv.Load(".env")

	flags := config.ParseCommandFlags()
	cfg, err := config.LoadEffective(flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWithLevel(cfg.Logging.Level)
	defer logger.Sync()

	a, err := app.New(cfg, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Server.DBPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	if err := a.Close(shCtx); err != nil {
		logger.Error("shutdown_close_failed", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		logger.Error("server_exited", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server_stopped")
}
