package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	commonmqtt "github.com/law4percent/Chick-Up/internal/common/mqtt"
	commonredis "github.com/law4percent/Chick-Up/internal/common/redis"
	"github.com/law4percent/Chick-Up/internal/config"
	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/notifier"
	"github.com/law4percent/Chick-Up/internal/service"
	"github.com/law4percent/Chick-Up/internal/signaling"
	"github.com/law4percent/Chick-Up/internal/store"
	"github.com/law4percent/Chick-Up/internal/webrtcpeer"
)

// DeviceModel recorded in the device registry
const DeviceModel = "chickup-feeder"

// Device the feeder-side process: registers itself, answers live-view offers
// and receives dispatched commands
type Device struct {
	config   *config.Config
	logger   *zap.Logger
	redis    *redis.Client
	mqtt     *commonmqtt.Client
	commands *notifier.CommandNotifier

	store     store.Store
	links     *service.DeviceLinkService
	telemetry *service.TelemetryService
	responder *signaling.Responder

	deviceID string
	userID   string
	errCh    chan error
	done     chan struct{}
}

// NewDevice connects to Redis and, when enabled, MQTT
func NewDevice(cfg *config.Config, logger *zap.Logger) (*Device, error) {
	if cfg.Client.DeviceID == "" {
		return nil, errors.New("CHICKUP_DEVICE_ID is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	if err := commonredis.Ping(ctx, redisClient); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	d := &Device{
		config:   cfg,
		logger:   logger.With(zap.String("device_id", cfg.Client.DeviceID)),
		redis:    redisClient,
		deviceID: cfg.Client.DeviceID,
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
	}
	d.store = store.NewRedisStore(redisClient, cfg.Store.KeyPrefix, logger)
	d.links = service.NewDeviceLinkService(d.store, service.LinkPolicy(cfg.Link.Policy), logger)
	d.telemetry = service.NewTelemetryService(d.store, logger)

	if cfg.Commands.Enabled {
		mqttCfg := cfg.MQTT
		mqttCfg.ClientID = cfg.MQTT.ClientID + "-device-" + cfg.Client.DeviceID
		mqttClient, err := commonmqtt.NewClient(&mqttCfg, logger)
		if err != nil {
			_ = redisClient.Close()
			return nil, err
		}
		d.mqtt = mqttClient
		d.commands = notifier.NewCommandNotifier(mqttClient, cfg.Commands.TopicPrefix, cfg.MQTT.QoS, logger)
	}

	return d, nil
}

// Start registers the device, resolves its owner and starts the responder.
// A failing responder is reported on Err.
func (d *Device) Start(ctx context.Context) error {
	if _, err := d.links.RegisterDevice(ctx, d.deviceID, DeviceModel); err != nil {
		return err
	}

	userID := d.config.Client.UserID
	if userID == "" {
		owner, err := d.links.GetOwner(ctx, d.deviceID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("device %s is not linked to a user yet: %w", d.deviceID, err)
			}
			return err
		}
		userID = owner
	}
	d.userID = userID
	d.logger.Info("Starting Chick-Up device", zap.String("user_id", userID))

	if d.commands != nil {
		if err := d.commands.SubscribeCommands(d.deviceID, d.onCommand); err != nil {
			return fmt.Errorf("failed to subscribe to commands: %w", err)
		}
	}

	cfg := webrtcpeer.DefaultConfig(d.config.Signaling.ICEServers)
	d.responder = signaling.NewResponder(d.store,
		webrtcpeer.DeviceFactory(webrtcpeer.NewAPI(), cfg, webrtcpeer.NewVideoTrack, d.logger),
		signaling.ResponderConfig{
			UserID:        userID,
			DeviceID:      d.deviceID,
			MaxCandidates: d.config.Signaling.MaxDeviceCandidates,
			OnState: func(sessionID string, state signaling.ConnectionState) {
				d.logger.Info("Live view peer state",
					zap.String("session_id", sessionID),
					zap.String("state", string(state)),
				)
			},
		}, nil, d.logger)

	go func() {
		defer close(d.done)
		if err := d.responder.Start(ctx); err != nil {
			d.errCh <- err
		}
	}()
	return nil
}

// ReadSensors reports one "<waterCM> <feedCM>" reading per line of r as
// telemetry until r is exhausted or ctx is done. Malformed lines are skipped.
// Call after Start.
func (d *Device) ReadSensors(ctx context.Context, r io.Reader) error {
	if d.userID == "" {
		return errors.New("device not started")
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		waterCM, feedCM, err := parseReading(line)
		if err != nil {
			d.logger.Warn("Skipping sensor reading", zap.String("line", line), zap.Error(err))
			continue
		}
		if _, err := d.telemetry.ReportDistances(ctx, d.userID, d.deviceID, waterCM, feedCM); err != nil {
			if errors.Is(err, domain.ErrValidation) {
				d.logger.Warn("Skipping sensor reading", zap.String("line", line), zap.Error(err))
				continue
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read sensors: %w", err)
	}
	return nil
}

func parseReading(line string) (float64, float64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("want 2 fields, got %d", len(fields))
	}
	waterCM, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, err
	}
	feedCM, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return waterCM, feedCM, nil
}

// Err receives a responder failure
func (d *Device) Err() <-chan error { return d.errCh }

func (d *Device) onCommand(cmd notifier.Command) {
	d.logger.Info("Command received",
		zap.String("log_id", cmd.LogID),
		zap.String("user_id", cmd.UserID),
		zap.String("type", string(cmd.Type)),
		zap.String("action", string(cmd.Action)),
		zap.Float64("volume_percent", cmd.VolumePercent),
	)
}

func (d *Device) Stop() {
	d.logger.Info("Stopping Chick-Up device")
	if d.responder != nil {
		d.responder.Stop()
		select {
		case <-d.done:
		case <-time.After(5 * time.Second):
			d.logger.Warn("Responder did not stop in time")
		}
	}
	if d.commands != nil {
		if err := d.commands.UnsubscribeCommands(d.deviceID); err != nil {
			d.logger.Warn("Failed to unsubscribe from commands", zap.Error(err))
		}
	}
	if d.mqtt != nil {
		d.mqtt.Disconnect()
	}
	if err := commonredis.Close(d.redis); err != nil {
		d.logger.Error("Failed to close redis", zap.Error(err))
	}
}
