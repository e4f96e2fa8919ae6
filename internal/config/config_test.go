package config_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"codeberg.org/mutker/simtempd/internal/config"
	"codeberg.org/mutker/simtempd/internal/errors"
	"codeberg.org/mutker/simtempd/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "simtempd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
sampling_ms = 250
threshold_mc = 30000
mode = "ramp"
buffer_size = 128
socket = "/tmp/simtemp-test.sock"
http_addr = "127.0.0.1:9999"
log_level = "debug"
telemetry = true
telemetry_db = "/path/to/telemetry.db"
telemetry_interval = 5
mqtt_broker = "tcp://localhost:1883"
mqtt_topic = "lab/simtemp"
device_id = "bench1"
`)

	// Point loading at the test config file
	t.Setenv("SIMTEMPD_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.SamplingMS, "Expected SamplingMS 250")
	assert.Equal(t, 30000, cfg.ThresholdMC, "Expected ThresholdMC 30000")
	assert.Equal(t, "ramp", cfg.Mode, "Expected Mode ramp")
	assert.Equal(t, 128, cfg.BufferSize, "Expected BufferSize 128")
	assert.Equal(t, "/tmp/simtemp-test.sock", cfg.Socket)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel debug")
	assert.True(t, cfg.Telemetry, "Expected Telemetry true")
	assert.Equal(t, "/path/to/telemetry.db", cfg.TelemetryDB)
	assert.Equal(t, 5, cfg.TelemetryInterval)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "lab/simtemp", cfg.MQTTTopic)
	assert.Equal(t, "bench1", cfg.DeviceID)
}

func TestLoadDefaults(t *testing.T) {
	// Ensure no config file is used
	t.Setenv("SIMTEMPD_CONFIG", "")

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultSamplingMS, cfg.SamplingMS, "Expected default SamplingMS 100")
	assert.Equal(t, config.DefaultThresholdMC, cfg.ThresholdMC, "Expected default ThresholdMC 45000")
	assert.Equal(t, config.DefaultMode, cfg.Mode, "Expected default Mode normal")
	assert.Equal(t, config.DefaultBufferSize, cfg.BufferSize, "Expected default BufferSize 64")
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel, "Expected default LogLevel info")
	assert.False(t, cfg.Telemetry, "Expected default Telemetry false")
	assert.Empty(t, cfg.MQTTBroker, "Expected MQTT disabled by default")
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("SIMTEMPD_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read configuration")
}

func TestInvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "invalid"
`)
	t.Setenv("SIMTEMPD_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidLogLevel, errors.CodeOf(err))
}

func TestInvalidSamplingPeriod(t *testing.T) {
	for _, ms := range []int{0, 5, 61000, -100} {
		configPath := writeConfig(t, "sampling_ms = "+strconv.Itoa(ms)+"\n")
		t.Setenv("SIMTEMPD_CONFIG", configPath)

		_, err := config.Load()
		require.Error(t, err, "sampling_ms %d must be rejected", ms)
		assert.Equal(t, errors.ErrInvalidPeriod, errors.CodeOf(err))
	}
}

func TestInvalidMode(t *testing.T) {
	configPath := writeConfig(t, `
mode = "turbo"
`)
	t.Setenv("SIMTEMPD_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidMode, errors.CodeOf(err))
}

func TestInvalidBufferSize(t *testing.T) {
	configPath := writeConfig(t, `
buffer_size = 48
`)
	t.Setenv("SIMTEMPD_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidConfig, errors.CodeOf(err))
}

func TestLogLevelFlag(t *testing.T) {
	// Save original args and restore after test
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	t.Setenv("SIMTEMPD_CONFIG", "")
	os.Args = []string{"cmd", "--log-level", "debug"}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SIMTEMPD_CONFIG", "")
	t.Setenv("SIMTEMPD_THRESHOLD_MC", "30000")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.ThresholdMC, "Expected ThresholdMC from environment")
}

func TestEngineConfig(t *testing.T) {
	configPath := writeConfig(t, `
sampling_ms = 200
threshold_mc = 30000
mode = "ramp"
`)
	t.Setenv("SIMTEMPD_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, ec.Period)
	assert.Equal(t, int32(30000), ec.ThresholdMC)
	assert.Equal(t, sensor.ModeRamp, ec.Mode)
}
