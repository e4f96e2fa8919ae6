package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/simtempd/internal/errors"
	"codeberg.org/mutker/simtempd/internal/sensor"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultSamplingMS        = 100
	DefaultThresholdMC       = 45000
	DefaultMode              = "normal"
	DefaultBufferSize        = 64
	DefaultSocket            = "/run/simtempd.sock"
	DefaultHTTPAddr          = "127.0.0.1:8090"
	DefaultLogLevel          = "info"
	DefaultTelemetryDB       = "/var/lib/simtempd/telemetry.db"
	DefaultTelemetryInterval = 10
	DefaultMQTTTopic         = "simtemp/alert"
	DefaultDeviceID          = "simtemp0"
)

type Config struct {
	SamplingMS        int    `mapstructure:"sampling_ms"`
	ThresholdMC       int    `mapstructure:"threshold_mc"`
	Mode              string `mapstructure:"mode"`
	BufferSize        int    `mapstructure:"buffer_size"`
	Socket            string `mapstructure:"socket"`
	HTTPAddr          string `mapstructure:"http_addr"`
	LogLevel          string `mapstructure:"log_level"`
	Telemetry         bool   `mapstructure:"telemetry"`
	TelemetryDB       string `mapstructure:"telemetry_db"`
	TelemetryInterval int    `mapstructure:"telemetry_interval"`
	MQTTBroker        string `mapstructure:"mqtt_broker"`
	MQTTTopic         string `mapstructure:"mqtt_topic"`
	DeviceID          string `mapstructure:"device_id"`
}

// Load reads configuration from flags, environment, and the TOML config
// file, in that order of precedence. The file is /etc/simtempd.toml unless
// SIMTEMPD_CONFIG or --config points elsewhere.
func Load() (*Config, error) {
	errFactory := errors.New()

	fs := pflag.NewFlagSet("simtempd", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.String("config", "", "Path to the configuration file")
	fs.Int("sampling-ms", DefaultSamplingMS, "Sampling period in milliseconds")
	fs.Int("threshold-mc", DefaultThresholdMC, "Alert threshold in milli-degrees Celsius")
	fs.String("mode", DefaultMode, "Simulation mode: normal, noisy or ramp")
	fs.Int("buffer-size", DefaultBufferSize, "Sample buffer capacity, a power of two")
	fs.String("socket", DefaultSocket, "Device node unix socket path")
	fs.String("http-addr", DefaultHTTPAddr, "Attribute API listen address")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning or error")
	fs.Bool("telemetry", false, "Enable telemetry snapshot recording")
	fs.String("telemetry-db", DefaultTelemetryDB, "Telemetry database path")
	fs.Int("telemetry-interval", DefaultTelemetryInterval, "Seconds between telemetry snapshots")
	fs.String("mqtt-broker", "", "MQTT broker URL for alert publishing, empty disables")
	fs.String("mqtt-topic", DefaultMQTTTopic, "MQTT topic for alert publishing")
	fs.String("device-id", DefaultDeviceID, "Device identifier used in logs and alerts")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	for key, flagName := range map[string]string{
		"sampling_ms":        "sampling-ms",
		"threshold_mc":       "threshold-mc",
		"mode":               "mode",
		"buffer_size":        "buffer-size",
		"socket":             "socket",
		"http_addr":          "http-addr",
		"log_level":          "log-level",
		"telemetry":          "telemetry",
		"telemetry_db":       "telemetry-db",
		"telemetry_interval": "telemetry-interval",
		"mqtt_broker":        "mqtt-broker",
		"mqtt_topic":         "mqtt-topic",
		"device_id":          "device-id",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix("SIMTEMPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := configFilePath(fs); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("simtempd")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func configFilePath(fs *pflag.FlagSet) string {
	if path := os.Getenv("SIMTEMPD_CONFIG"); path != "" {
		return path
	}
	if path, err := fs.GetString("config"); err == nil && path != "" {
		return path
	}

	return ""
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	period := c.Period()
	if period < sensor.MinPeriod || period > sensor.MaxPeriod {
		return errFactory.WithData(errors.ErrInvalidPeriod, c.SamplingMS)
	}
	if _, err := sensor.ParseMode(c.Mode); err != nil {
		return errFactory.WithData(errors.ErrInvalidMode, c.Mode)
	}
	if c.BufferSize < 2 || c.BufferSize&(c.BufferSize-1) != 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "Buffer size must be a power of two").WithData(c.BufferSize)
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.TelemetryInterval <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "Telemetry interval must be positive").WithData(c.TelemetryInterval)
	}

	return nil
}

// Period returns the sampling period as a duration.
func (c *Config) Period() time.Duration {
	return time.Duration(c.SamplingMS) * time.Millisecond
}

// EngineConfig maps the loaded settings onto an engine configuration.
func (c *Config) EngineConfig() (sensor.Config, error) {
	mode, err := sensor.ParseMode(c.Mode)
	if err != nil {
		return sensor.Config{}, err
	}

	return sensor.Config{
		Period:      c.Period(),
		ThresholdMC: int32(c.ThresholdMC),
		Mode:        mode,
	}, nil
}
