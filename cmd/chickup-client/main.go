package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/app"
	"github.com/law4percent/Chick-Up/internal/common/logger"
	"github.com/law4percent/Chick-Up/internal/config"
)

func main() {
	// 1. config
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. logger
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "chickup-client")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. client
	client, err := app.NewClient(cfg, log)
	if err != nil {
		log.Fatal("Failed to create client", zap.Error(err))
	}
	defer client.Stop()

	// 4. context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. start
	errChan := make(chan error, 1)
	go func() {
		if err := client.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// 6. wait for a signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		log.Error("Client error", zap.Error(err))
		cancel()
		client.Stop()
		os.Exit(1)
	}

	log.Info("Chick-Up client stopped")
}
