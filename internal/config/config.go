package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/law4percent/Chick-Up/internal/common/config"
)

// Link policies
const (
	LinkPolicyLastWriterWins = "last-writer-wins"
	LinkPolicySingleOwner    = "single-owner"
)

// Config Chick-Up process configuration (client, device and check binaries share it)
type Config struct {
	Redis    config.RedisConfig
	Database config.DatabaseConfig
	MQTT     config.MQTTConfig

	Store struct {
		KeyPrefix string // prefix for every store key and change channel, e.g. "chickup:"
	}

	Link struct {
		Policy string // last-writer-wins | single-owner
	}

	Action struct {
		Cooldown time.Duration // per (user, device, type) window, default 3s
		Location *time.Location
	}

	Signaling struct {
		AnswerTimeout       time.Duration // 0 disables
		ICEServers          []string
		MaxDeviceCandidates int
	}

	Archive struct {
		Enabled bool // mirror action logs into Postgres
	}

	Commands struct {
		Enabled     bool // fan dispatched commands out over MQTT
		TopicPrefix string
	}

	Metrics struct {
		Addr string // empty disables the /metrics listener
	}

	Device struct {
		SensorInput string // "-" reads readings from stdin, a path opens a file or serial bridge, empty disables
	}

	Client struct {
		UserID     string
		DeviceID   string
		AutoRefill bool
		LiveView   bool
	}

	Log struct {
		Level  string
		Format string
	}
}

// DefaultICEServers public STUN servers used by the mobile app and the device
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Load loads configuration from the environment, after an optional .env file
func Load() (*Config, error) {
	envFile := getEnv("CHICKUP_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := &Config{}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "chickup"
	cfg.Database.SSLMode = "disable"
	cfg.Database.LoadFromEnv("DB")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "chickup"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Store.KeyPrefix = getEnv("STORE_KEY_PREFIX", "chickup:")

	cfg.Link.Policy = getEnv("LINK_POLICY", LinkPolicyLastWriterWins)
	if cfg.Link.Policy != LinkPolicyLastWriterWins && cfg.Link.Policy != LinkPolicySingleOwner {
		return nil, fmt.Errorf("invalid LINK_POLICY %q", cfg.Link.Policy)
	}

	var err error
	if cfg.Action.Cooldown, err = getDuration("ACTION_COOLDOWN", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.Action.Cooldown <= 0 {
		return nil, fmt.Errorf("ACTION_COOLDOWN must be positive, got %s", cfg.Action.Cooldown)
	}
	tz := getEnv("ACTION_TIMEZONE", "Local")
	if cfg.Action.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid ACTION_TIMEZONE %q: %w", tz, err)
	}

	if cfg.Signaling.AnswerTimeout, err = getDuration("SIGNALING_ANSWER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	cfg.Signaling.ICEServers = DefaultICEServers
	if raw := getEnv("SIGNALING_ICE_SERVERS", ""); raw != "" {
		cfg.Signaling.ICEServers = splitList(raw)
	}
	cfg.Signaling.MaxDeviceCandidates = getInt("SIGNALING_MAX_DEVICE_CANDIDATES", 10)

	cfg.Archive.Enabled = getBool("ARCHIVE_ENABLED", false)

	cfg.Commands.Enabled = getBool("COMMANDS_ENABLED", false)
	cfg.Commands.TopicPrefix = strings.TrimSuffix(getEnv("COMMANDS_TOPIC_PREFIX", "chickup/devices"), "/")

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", "")

	cfg.Client.UserID = getEnv("CHICKUP_USER_ID", "")
	cfg.Client.DeviceID = getEnv("CHICKUP_DEVICE_ID", "")
	cfg.Client.AutoRefill = getBool("CHICKUP_AUTO_REFILL", false)
	cfg.Client.LiveView = getBool("CHICKUP_LIVE_VIEW", false)

	cfg.Device.SensorInput = getEnv("DEVICE_SENSOR_INPUT", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
