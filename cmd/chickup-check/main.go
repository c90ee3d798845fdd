package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/common/database"
	commonredis "github.com/law4percent/Chick-Up/internal/common/redis"
	"github.com/law4percent/Chick-Up/internal/config"
	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/evaluator"
	"github.com/law4percent/Chick-Up/internal/repository"
	"github.com/law4percent/Chick-Up/internal/service"
	"github.com/law4percent/Chick-Up/internal/signaling"
	"github.com/law4percent/Chick-Up/internal/store"
)

const recentLogs = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	userID := cfg.Client.UserID
	if userID == "" {
		log.Fatalf("CHICKUP_USER_ID is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	if err := commonredis.Ping(ctx, redisClient); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	nop := zap.NewNop()
	st := store.NewRedisStore(redisClient, cfg.Store.KeyPrefix, nop)
	links := service.NewDeviceLinkService(st, service.LinkPolicy(cfg.Link.Policy), nop)
	telemetry := service.NewTelemetryService(st, nop)
	settingsSvc := service.NewSettingsService(st, nop)
	actions := service.NewActionService(st, nop)
	defer actions.Close()
	schedules := service.NewScheduleService(st, actions, nop)

	fmt.Printf("=== Chick-Up pair check for user %s ===\n\n", userID)

	// Linked device
	deviceID, err := links.GetLinkedDevice(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fmt.Println("Linked device: none")
		deviceID = cfg.Client.DeviceID
	case err != nil:
		log.Fatalf("Failed to read linked device: %v", err)
	default:
		fmt.Printf("Linked device: %s\n", deviceID)
		if owner, err := links.GetOwner(ctx, deviceID); err == nil && owner != userID {
			fmt.Printf("  WARNING: device owner entry names %s\n", owner)
		}
	}
	if deviceID == "" {
		fmt.Println("\nNo device to inspect (set CHICKUP_DEVICE_ID)")
		return
	}
	registered, err := links.VerifyDevice(ctx, deviceID)
	if err != nil {
		log.Fatalf("Failed to verify device: %v", err)
	}
	fmt.Printf("  registered: %v\n", registered)

	// Settings
	settings, err := settingsSvc.Get(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fmt.Println("\nSettings: not initialized (defaults apply)")
		settings = domain.DefaultSettings()
	case err != nil:
		log.Fatalf("Failed to read settings: %v", err)
	default:
		fmt.Println("\nSettings:")
	}
	fmt.Printf("  feed:  threshold=%.0f%% dispenseVolume=%.0f%%\n", settings.Feed.ThresholdPercent, settings.Feed.DispenseVolumePercent)
	fmt.Printf("  water: threshold=%.0f%% autoRefill=%v autoRefillThreshold=%.0f%%\n",
		settings.Water.ThresholdPercent, settings.Water.AutoRefillEnabled, settings.Water.AutoRefillThreshold)

	// Telemetry
	snap, err := telemetry.Get(ctx, userID, deviceID)
	if err != nil {
		log.Fatalf("Failed to read telemetry: %v", err)
	}
	fmt.Println("\nTelemetry:")
	if !snap.Available {
		fmt.Println("  not available")
	} else {
		fmt.Printf("  water=%.2f%% feed=%.2f%% updatedAt=%s\n",
			snap.WaterLevel, snap.FeedLevel, time.UnixMilli(snap.UpdatedAt).Format(time.RFC3339))
		result := evaluator.Evaluate(snap, settings)
		if result.Alert() {
			fmt.Printf("  ALERT: %s\n", result.Message)
		} else {
			fmt.Println("  levels OK")
		}
	}

	// Recent actions
	logs, err := actions.ListLogs(ctx, userID, recentLogs)
	if err != nil {
		log.Fatalf("Failed to read action logs: %v", err)
	}
	fmt.Printf("\nRecent actions (%d):\n", len(logs))
	for _, l := range logs {
		fmt.Printf("  %s  %-8s %-6s %.0f%%  device=%s\n",
			l.At().In(cfg.Action.Location).Format(time.RFC3339), l.Action, l.Type, l.VolumePercent, l.DeviceID)
	}

	if cfg.Archive.Enabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		archived, err := repository.NewActionLogRepository(db, nop).ListByUser(ctx, userID, recentLogs)
		if err != nil {
			log.Fatalf("Failed to read archive: %v", err)
		}
		fmt.Printf("  archived (latest %d): %d rows\n", recentLogs, len(archived))
	}

	// Schedules
	list, err := schedules.List(ctx, userID)
	if err != nil {
		log.Fatalf("Failed to read schedules: %v", err)
	}
	fmt.Printf("\nSchedules (%d):\n", len(list))
	for _, s := range list {
		fmt.Printf("  %s\n", s.String())
	}

	// Signaling leftovers
	keys := store.SignalingPaths(userID, deviceID)
	fmt.Println("\nSignaling:")
	var rec signaling.StateRecord
	if err := st.Get(ctx, keys.State, &rec); err == nil {
		fmt.Printf("  state: %s (session %s)\n", rec.ConnectionState, rec.SessionID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Fatalf("Failed to read signaling state: %v", err)
	} else {
		fmt.Println("  state: none")
	}
	residual := 0
	for _, key := range keys.Negotiation() {
		ok, err := st.Exists(ctx, key)
		if err != nil {
			log.Fatalf("Failed to check %s: %v", key, err)
		}
		if ok {
			residual++
			fmt.Printf("  residual key: %s\n", key)
		}
	}
	if residual == 0 {
		fmt.Println("  no residual negotiation keys")
	}
}
