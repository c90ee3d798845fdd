package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/common/database"
	commonmqtt "github.com/law4percent/Chick-Up/internal/common/mqtt"
	commonredis "github.com/law4percent/Chick-Up/internal/common/redis"
	"github.com/law4percent/Chick-Up/internal/config"
	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/metrics"
	"github.com/law4percent/Chick-Up/internal/notifier"
	"github.com/law4percent/Chick-Up/internal/repository"
	"github.com/law4percent/Chick-Up/internal/service"
	"github.com/law4percent/Chick-Up/internal/signaling"
	"github.com/law4percent/Chick-Up/internal/store"
	"github.com/law4percent/Chick-Up/internal/webrtcpeer"
)

// scheduleTick how often feeding schedules are checked
const scheduleTick = 15 * time.Second

// Client the mobile-side process: link, telemetry, settings, monitor,
// schedules and an optional live view for one (user, device) pair
type Client struct {
	config  *config.Config
	logger  *zap.Logger
	redis   *redis.Client
	db      *sql.DB
	mqtt    *commonmqtt.Client
	metrics *metrics.Metrics
	server  *metrics.Server

	store       store.Store
	links       *service.DeviceLinkService
	telemetry   *service.TelemetryService
	settings    *service.SettingsService
	actions     *service.ActionService
	schedules   *service.ScheduleService
	monitor     *service.MonitorService
	coordinator *signaling.Coordinator

	mu     sync.Mutex
	cancel context.CancelFunc
	subs   []*store.Subscription
	wg     sync.WaitGroup
}

// NewClient connects to Redis and, when enabled, Postgres and MQTT
func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	if cfg.Client.UserID == "" || cfg.Client.DeviceID == "" {
		return nil, errors.New("CHICKUP_USER_ID and CHICKUP_DEVICE_ID are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 1. Redis (realtime store)
	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	if err := commonredis.Ping(ctx, redisClient); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	c := &Client{
		config:  cfg,
		logger:  logger,
		redis:   redisClient,
		metrics: metrics.NewMetrics(),
	}
	c.store = store.NewRedisStore(redisClient, cfg.Store.KeyPrefix, logger)

	opts := []service.ActionOption{
		service.WithCooldown(cfg.Action.Cooldown),
		service.WithLocation(cfg.Action.Location),
		service.WithMetrics(c.metrics),
		service.WithCooldownListener(func(userID, deviceID string, t domain.ActuatorType) {
			logger.Debug("Action available again",
				zap.String("user_id", userID),
				zap.String("device_id", deviceID),
				zap.String("type", string(t)),
			)
		}),
	}

	// 2. Postgres archive
	if cfg.Archive.Enabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			c.closeConnections()
			return nil, err
		}
		c.db = db
		repo := repository.NewActionLogRepository(db, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			c.closeConnections()
			return nil, err
		}
		opts = append(opts, service.WithArchive(repo))
	}

	// 3. MQTT command fan-out
	if cfg.Commands.Enabled {
		mqttCfg := cfg.MQTT
		mqttCfg.ClientID = cfg.MQTT.ClientID + "-client-" + cfg.Client.UserID
		mqttClient, err := commonmqtt.NewClient(&mqttCfg, logger)
		if err != nil {
			c.closeConnections()
			return nil, err
		}
		c.mqtt = mqttClient
		opts = append(opts, service.WithCommandPublisher(
			notifier.NewCommandNotifier(mqttClient, cfg.Commands.TopicPrefix, cfg.MQTT.QoS, logger),
		))
	}

	// 4. services
	c.links = service.NewDeviceLinkService(c.store, service.LinkPolicy(cfg.Link.Policy), logger)
	c.telemetry = service.NewTelemetryService(c.store, logger)
	c.settings = service.NewSettingsService(c.store, logger)
	c.actions = service.NewActionService(c.store, logger, opts...)
	c.schedules = service.NewScheduleService(c.store, c.actions, logger)
	c.monitor = service.NewMonitorService(c.telemetry, c.settings, c.actions, cfg.Client.AutoRefill, c.metrics, logger)

	if cfg.Client.LiveView {
		peers := webrtcpeer.ViewerFactory(webrtcpeer.NewAPI(), webrtcpeer.DefaultConfig(cfg.Signaling.ICEServers), func(track *webrtc.TrackRemote) {
			go discardTrack(track)
		}, logger)
		c.coordinator = signaling.NewCoordinator(c.store, peers, cfg.Signaling.AnswerTimeout, c.metrics, logger)
	}

	if cfg.Metrics.Addr != "" {
		c.server = metrics.NewServer(cfg.Metrics.Addr, c.metrics, logger)
	}

	return c, nil
}

// Actions dispatcher, for callers embedding the client
func (c *Client) Actions() *service.ActionService { return c.actions }

// Start pairs the device, seeds defaults and starts the background loops.
// It returns once everything is running.
func (c *Client) Start(ctx context.Context) error {
	userID, deviceID := c.config.Client.UserID, c.config.Client.DeviceID
	c.logger.Info("Starting Chick-Up client",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
		zap.Bool("auto_refill", c.config.Client.AutoRefill),
		zap.Bool("live_view", c.config.Client.LiveView),
	)

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	// 1. link
	if linked := c.links.LinkedDeviceOrNone(ctx, userID); linked != deviceID {
		if err := c.links.PairDevice(ctx, userID, deviceID); err != nil {
			return fmt.Errorf("failed to pair device: %w", err)
		}
	}

	// 2. defaults
	if _, err := c.telemetry.InitializeIfAbsent(ctx, userID, deviceID); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if _, err := c.settings.InitializeIfAbsent(ctx, userID); err != nil {
		return fmt.Errorf("failed to initialize settings: %w", err)
	}

	// 3. monitor
	sub, err := c.monitor.Watch(ctx, userID, deviceID, func(ev service.Evaluation) {
		if ev.Changed {
			c.logger.Info("Levels evaluated",
				zap.Float64("water_level", ev.Snapshot.WaterLevel),
				zap.Float64("feed_level", ev.Snapshot.FeedLevel),
				zap.String("alert", string(ev.Result.Kind)),
			)
		}
	}, func(err error) {
		c.metrics.StoreError("monitor")
		c.logger.Warn("Monitor read failed", zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	c.track(sub)

	// 4. schedules
	c.wg.Add(1)
	go c.runSchedules(ctx, userID, deviceID)

	// 5. metrics
	if c.server != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.server.Start(); err != nil {
				c.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// 6. live view
	if c.coordinator != nil {
		if _, err := c.coordinator.StartSession(ctx, userID, deviceID, signaling.Callbacks{
			OnState: func(state signaling.ConnectionState) {
				c.logger.Info("Live view state", zap.String("state", string(state)))
			},
			OnError: func(err error) {
				c.logger.Warn("Live view error", zap.Error(err))
			},
		}); err != nil {
			// the rest of the client keeps running without video
			c.logger.Error("Failed to start live view", zap.Error(err))
		}
	}

	return nil
}

func (c *Client) runSchedules(ctx context.Context, userID, deviceID string) {
	defer c.wg.Done()
	ticker := time.NewTicker(scheduleTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fired, err := c.schedules.RunDue(ctx, userID, deviceID, now, c.config.Action.Location)
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("Scheduled feeding failed", zap.Error(err))
				continue
			}
			if fired > 0 {
				c.logger.Info("Scheduled feedings dispatched", zap.Int("count", fired))
			}
		}
	}
}

func (c *Client) track(sub *store.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, sub)
}

// Stop tears everything down; safe after a failed Start
func (c *Client) Stop() {
	c.logger.Info("Stopping Chick-Up client")

	c.mu.Lock()
	cancel := c.cancel
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	if c.coordinator != nil {
		c.coordinator.StopAll()
	}
	for _, sub := range subs {
		sub.Close()
	}
	if cancel != nil {
		cancel()
	}
	if c.server != nil {
		ctx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.server.Stop(ctx); err != nil {
			c.logger.Error("Failed to stop metrics server", zap.Error(err))
		}
		cancelStop()
	}
	c.wg.Wait()
	c.actions.Close()
	c.closeConnections()
}

func (c *Client) closeConnections() {
	if c.mqtt != nil {
		c.mqtt.Disconnect()
	}
	if c.db != nil {
		if err := database.Close(c.db); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
		}
	}
	if err := commonredis.Close(c.redis); err != nil {
		c.logger.Error("Failed to close redis", zap.Error(err))
	}
}

// discardTrack consumes remote RTP so the receiver does not stall; decoding
// and display are left to the embedding UI
func discardTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
