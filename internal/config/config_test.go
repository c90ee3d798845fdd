package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "chickup", cfg.Database.Database)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, "chickup:", cfg.Store.KeyPrefix)
	assert.Equal(t, LinkPolicyLastWriterWins, cfg.Link.Policy)
	assert.Equal(t, 3*time.Second, cfg.Action.Cooldown)
	assert.NotNil(t, cfg.Action.Location)
	assert.Equal(t, 30*time.Second, cfg.Signaling.AnswerTimeout)
	assert.Equal(t, DefaultICEServers, cfg.Signaling.ICEServers)
	assert.Equal(t, 10, cfg.Signaling.MaxDeviceCandidates)
	assert.False(t, cfg.Archive.Enabled)
	assert.False(t, cfg.Commands.Enabled)
	assert.Equal(t, "chickup/devices", cfg.Commands.TopicPrefix)
	assert.Equal(t, "", cfg.Metrics.Addr)
	assert.Equal(t, "", cfg.Device.SensorInput)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("STORE_KEY_PREFIX", "test:")
	t.Setenv("LINK_POLICY", LinkPolicySingleOwner)
	t.Setenv("ACTION_COOLDOWN", "5s")
	t.Setenv("ACTION_TIMEZONE", "UTC")
	t.Setenv("SIGNALING_ANSWER_TIMEOUT", "0s")
	t.Setenv("SIGNALING_ICE_SERVERS", "stun:a.example:3478, stun:b.example:3478")
	t.Setenv("COMMANDS_ENABLED", "true")
	t.Setenv("COMMANDS_TOPIC_PREFIX", "farm/")
	t.Setenv("CHICKUP_USER_ID", "u1")
	t.Setenv("CHICKUP_DEVICE_ID", "D1")
	t.Setenv("CHICKUP_AUTO_REFILL", "1")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEVICE_SENSOR_INPUT", "-")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "-", cfg.Device.SensorInput)

	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "test:", cfg.Store.KeyPrefix)
	assert.Equal(t, LinkPolicySingleOwner, cfg.Link.Policy)
	assert.Equal(t, 5*time.Second, cfg.Action.Cooldown)
	assert.Equal(t, time.UTC, cfg.Action.Location)
	assert.Equal(t, time.Duration(0), cfg.Signaling.AnswerTimeout)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, cfg.Signaling.ICEServers)
	assert.True(t, cfg.Commands.Enabled)
	assert.Equal(t, "farm", cfg.Commands.TopicPrefix)
	assert.Equal(t, "u1", cfg.Client.UserID)
	assert.Equal(t, "D1", cfg.Client.DeviceID)
	assert.True(t, cfg.Client.AutoRefill)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"policy":   {"LINK_POLICY", "first-come"},
		"cooldown": {"ACTION_COOLDOWN", "soon"},
		"negative": {"ACTION_COOLDOWN", "-1s"},
		"timezone": {"ACTION_TIMEZONE", "Mars/Olympus"},
		"timeout":  {"SIGNALING_ANSWER_TIMEOUT", "forever"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			os.Clearenv()
			t.Setenv(kv[0], kv[1])

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), "chickup.env")
	require.NoError(t, os.WriteFile(path, []byte("CHICKUP_USER_ID=from-file\nLOG_FORMAT=console\n"), 0o600))
	t.Setenv("CHICKUP_ENV_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Client.UserID)
	assert.Equal(t, "console", cfg.Log.Format)

	// godotenv does not override variables that are already set
	os.Clearenv()
	t.Setenv("CHICKUP_ENV_FILE", path)
	t.Setenv("CHICKUP_USER_ID", "from-env")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Client.UserID)
}
