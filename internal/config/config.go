// Package config loads and validates gateway configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	Cinema    CinemaConfig    `mapstructure:"cinema"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// ServerConfig controls the main HTTP listener.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig locates the content-addressed storage endpoint.
type BackendConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// SchedulerConfig bounds channel fetches.
type SchedulerConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// TimeoutMs bounds each channel fetch, counted from dispatch.
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// ChannelConfig tunes WebSocket sessions.
type ChannelConfig struct {
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

// CinemaConfig toggles the HTML video player for pass-through video.
type CinemaConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	PlayerCSSURL string `mapstructure:"player_css_url"`
	PlayerJSURL  string `mapstructure:"player_js_url"`
}

// MetricsConfig controls the operations listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ProgressConfig configures the job lifecycle event hub.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig tunes hub batching.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// DatabaseConfig configures the retrieval audit store. An empty DSN disables it.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// legacyEnv maps keys to the unprefixed variable names older deployments use.
var legacyEnv = map[string]string{
	"server.port":      "PORT",
	"backend.endpoint": "ANTPP_ENDPOINT",
	"cinema.enabled":   "CINEMA_MODE",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ANTGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		prefixed := "ANTGW_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_header_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("backend.endpoint", "http://localhost:18888")
	v.SetDefault("scheduler.max_concurrent", 5)
	v.SetDefault("scheduler.timeout_ms", 60000)
	v.SetDefault("channel.write_timeout", 30*time.Second)
	v.SetDefault("channel.max_message_bytes", 4096)
	v.SetDefault("cinema.enabled", false)
	v.SetDefault("cinema.player_css_url", "https://vjs.zencdn.net/8.10.0/video-js.css")
	v.SetDefault("cinema.player_js_url", "https://vjs.zencdn.net/8.10.0/video.min.js")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.development", false)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "retrievals")
	v.SetDefault("database.max_conns", 4)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Scheduler.MaxConcurrent < 1 {
		return errors.New("scheduler.max_concurrent must be >= 1")
	}
	if c.Scheduler.TimeoutMs < 0 {
		return errors.New("scheduler.timeout_ms must be >= 0")
	}
	u, err := url.Parse(c.Backend.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.endpoint %q must be an absolute http(s) URL", c.Backend.Endpoint)
	}
	if c.Channel.MaxMessageBytes <= 0 {
		return errors.New("channel.max_message_bytes must be > 0")
	}
	if c.Progress.BufferSize < 0 || c.Progress.Batch.MaxEvents < 0 {
		return errors.New("progress buffer and batch sizes must be >= 0")
	}
	return nil
}

// FetchTimeout converts scheduler.timeout_ms into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scheduler.TimeoutMs) * time.Millisecond
}

// Addr returns the main listener address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
