// Command testserver runs the stub scoring system so trees with external
// system nodes can be evaluated locally.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshills/promoflow/internal/testutil/testserver"
	"github.com/dshills/promoflow/pkg/logging"
)

func main() {
	logger, err := logging.New(logging.Config{Level: os.Getenv("PROMOFLOW_LOG_LEVEL")})
	if err != nil {
		logger = logging.Nop()
	}

	cfg, err := testserver.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	stub, err := testserver.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           stub,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.Addr).Int("score_threshold", cfg.ScoreThreshold).Msg("scoring stub listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}
