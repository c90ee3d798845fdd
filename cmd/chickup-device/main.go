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
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "chickup-device")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	device, err := app.NewDevice(cfg, log)
	if err != nil {
		log.Fatal("Failed to create device", zap.Error(err))
	}
	defer device.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		if err := device.Start(ctx); err != nil {
			errChan <- err
			return
		}
		close(started)
	}()

	if input := cfg.Device.SensorInput; input != "" {
		go func() {
			r := os.Stdin
			if input != "-" {
				f, err := os.Open(input)
				if err != nil {
					log.Error("Failed to open sensor input", zap.String("input", input), zap.Error(err))
					return
				}
				defer f.Close()
				r = f
			}
			// readings are reported against the owner resolved by Start
			select {
			case <-started:
			case <-ctx.Done():
				return
			}
			if err := device.ReadSensors(ctx, r); err != nil {
				log.Error("Sensor input failed", zap.Error(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		log.Error("Device error", zap.Error(err))
		cancel()
		device.Stop()
		os.Exit(1)
	case err := <-device.Err():
		log.Error("Signaling responder failed", zap.Error(err))
		cancel()
		device.Stop()
		os.Exit(1)
	}

	log.Info("Chick-Up device stopped")
}
