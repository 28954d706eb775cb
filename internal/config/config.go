// Package config holds rtuhub's in-memory configuration: typed
// defaults, an optional on-disk YAML file, and an environment-variable
// overlay on top of a viper singleton, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix applied to every environment variable that
// can override a Config field, e.g. RTUHUB_DEVICE_NAME.
const EnvPrefix = "rtuhub"

// Config is the full set of knobs the hub and its subsystems need at
// construction time.
type Config struct {
	DeviceName string `yaml:"device_name"`

	DBPath string `yaml:"db_path"`

	// ConfigFile, if set, is read by LoadFile and watched for changes
	// (see WatchFile), which triggers a live reload instead of
	// requiring a process restart. Duration fields in the YAML file
	// are written as duration strings such as "5ms" or "1s"
	// (time.ParseDuration syntax); yaml.v3 rejects plain integers for
	// a time.Duration field.
	ConfigFile string `yaml:"-"`

	ProfinetEnabled bool          `yaml:"profinet_enabled"`
	ProfinetTick    time.Duration `yaml:"profinet_tick"`

	SensorTick time.Duration `yaml:"sensor_tick"`

	WatchdogInterval        time.Duration `yaml:"watchdog_interval"`
	CommandTimeout          time.Duration `yaml:"command_timeout"`
	DegradedAlarmDelay      time.Duration `yaml:"degraded_alarm_delay"`

	LogQueueSize        int           `yaml:"log_queue_size"`
	LogBatchSize        int           `yaml:"log_batch_size"`
	LogFlushInterval    time.Duration `yaml:"log_flush_interval"`
	LogMaxQueueAge      time.Duration `yaml:"log_max_queue_age"`
	RemoteBatchSize     int           `yaml:"remote_batch_size"`
	RemoteRetryInterval time.Duration `yaml:"remote_retry_interval"`
	RemoteURL           string        `yaml:"remote_url"`
	RemoteAPIKey        string        `yaml:"remote_api_key"`
	RemoteEnabled       bool          `yaml:"remote_enabled"`
	FlushOnReconnect    bool          `yaml:"flush_on_reconnect"`

	EventRetention     time.Duration `yaml:"event_retention"`
	SensorLogRetention time.Duration `yaml:"sensor_log_retention"`

	Verbose int `yaml:"verbose"`
}

// Default returns the baseline configuration; setDefaults hands these
// values to viper, one SetDefault call per field.
func Default() Config {
	return Config{
		DeviceName: "rtuhub-01",
		DBPath:     "/var/lib/rtuhub/rtuhub.db",

		ProfinetEnabled: true,
		ProfinetTick:    1 * time.Millisecond,

		SensorTick: 10 * time.Millisecond,

		WatchdogInterval:   1 * time.Second,
		CommandTimeout:     5 * time.Second,
		DegradedAlarmDelay: 3 * time.Second,

		LogQueueSize:        1000,
		LogBatchSize:        100,
		LogFlushInterval:    60 * time.Second,
		LogMaxQueueAge:      1 * time.Hour,
		RemoteBatchSize:     50,
		RemoteRetryInterval: 60 * time.Second,
		RemoteEnabled:       false,
		FlushOnReconnect:    true,

		EventRetention:     30 * 24 * time.Hour,
		SensorLogRetention: 7 * 24 * time.Hour,
	}
}

// LoadFile reads a YAML config file into a copy of Default(), so any
// field the file omits keeps its built-in default.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds a viper instance seeded with Default()'s values (or, if
// RTUHUB_CONFIG_FILE names a YAML file, that file's values) and
// overlaid with RTUHUB_-prefixed environment variables, following the
// same SetDefault/SetEnvPrefix/AutomaticEnv sequence as
// core.InitializeConfig.
func Load() (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config_file"); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}

	setDefaults(v, cfg)

	cfg.DeviceName = v.GetString("device_name")
	cfg.DBPath = v.GetString("db_path")
	cfg.ConfigFile = v.GetString("config_file")
	cfg.ProfinetEnabled = v.GetBool("profinet_enabled")
	cfg.ProfinetTick = v.GetDuration("profinet_tick")
	cfg.SensorTick = v.GetDuration("sensor_tick")
	cfg.WatchdogInterval = v.GetDuration("watchdog_interval")
	cfg.CommandTimeout = v.GetDuration("command_timeout")
	cfg.DegradedAlarmDelay = v.GetDuration("degraded_alarm_delay")
	cfg.LogQueueSize = v.GetInt("log_queue_size")
	cfg.LogBatchSize = v.GetInt("log_batch_size")
	cfg.LogFlushInterval = v.GetDuration("log_flush_interval")
	cfg.LogMaxQueueAge = v.GetDuration("log_max_queue_age")
	cfg.RemoteBatchSize = v.GetInt("remote_batch_size")
	cfg.RemoteRetryInterval = v.GetDuration("remote_retry_interval")
	cfg.RemoteURL = v.GetString("remote_url")
	cfg.RemoteAPIKey = v.GetString("remote_api_key")
	cfg.RemoteEnabled = v.GetBool("remote_enabled")
	cfg.FlushOnReconnect = v.GetBool("flush_on_reconnect")
	cfg.EventRetention = v.GetDuration("event_retention")
	cfg.SensorLogRetention = v.GetDuration("sensor_log_retention")
	cfg.Verbose = v.GetInt("verbose")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("device_name", cfg.DeviceName)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("profinet_enabled", cfg.ProfinetEnabled)
	v.SetDefault("profinet_tick", cfg.ProfinetTick)
	v.SetDefault("sensor_tick", cfg.SensorTick)
	v.SetDefault("watchdog_interval", cfg.WatchdogInterval)
	v.SetDefault("command_timeout", cfg.CommandTimeout)
	v.SetDefault("degraded_alarm_delay", cfg.DegradedAlarmDelay)
	v.SetDefault("log_queue_size", cfg.LogQueueSize)
	v.SetDefault("log_batch_size", cfg.LogBatchSize)
	v.SetDefault("log_flush_interval", cfg.LogFlushInterval)
	v.SetDefault("log_max_queue_age", cfg.LogMaxQueueAge)
	v.SetDefault("remote_batch_size", cfg.RemoteBatchSize)
	v.SetDefault("remote_retry_interval", cfg.RemoteRetryInterval)
	v.SetDefault("remote_url", cfg.RemoteURL)
	v.SetDefault("remote_api_key", cfg.RemoteAPIKey)
	v.SetDefault("remote_enabled", cfg.RemoteEnabled)
	v.SetDefault("flush_on_reconnect", cfg.FlushOnReconnect)
	v.SetDefault("event_retention", cfg.EventRetention)
	v.SetDefault("sensor_log_retention", cfg.SensorLogRetention)
	v.SetDefault("verbose", cfg.Verbose)
}

// Validate rejects configurations that would leave a subsystem unable
// to start.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path must not be empty")
	}
	if c.LogQueueSize <= 0 {
		return fmt.Errorf("config: log_queue_size must be positive")
	}
	if c.RemoteBatchSize <= 0 || c.RemoteBatchSize > c.LogQueueSize {
		return fmt.Errorf("config: remote_batch_size must be positive and <= log_queue_size")
	}
	if c.RemoteEnabled && c.RemoteURL == "" {
		return fmt.Errorf("config: remote_url must be set when remote_enabled")
	}
	return nil
}
