// Package config provides configuration management for dubrelay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values (spec.md §6 defaults, domain.DefaultWorkerConfig).
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultSegmentDuration  = 30 * time.Second
	defaultVADWindowSize    = 100 * time.Millisecond
	defaultSilenceThreshold = -50.0
	defaultSilenceDuration  = 1 * time.Second
	defaultMinSegment       = 1 * time.Second
	defaultMaxSegment       = 15 * time.Second
	defaultMaxInflight      = 3
	defaultFragmentTimeout  = 60 * time.Second
	defaultAVOffset         = 6 * time.Second
	defaultDriftThreshold   = 120 * time.Millisecond
	defaultSlewRate         = 10 * time.Millisecond
	defaultMemoryLimitBytes = 10 * 1024 * 1024 // 10MB, matches sts.maxFragmentBytes
	defaultSourceLang       = "en"
	defaultTargetLang       = "zh"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Hooks   HooksConfig   `mapstructure:"hooks"`
}

// ServerConfig holds the hook-listener HTTP server configuration
// (SPEC_FULL §7: the thin ready/not-ready hook listener).
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// HooksConfig holds the hook schema contract settings (SPEC_FULL §7,
// grounded on original_source/apps/media-service/src/media_service/api/hooks.py).
type HooksConfig struct {
	Path string `mapstructure:"path"` // must be non-empty; the hook routes stay at /ready and /not-ready whatever its value
}

// WorkerConfig is the per-process template a worker is constructed from
// (stream-specific fields such as stream_id/rtmp_input_url are supplied per
// hook invocation and override these defaults; mirrors domain.WorkerConfig).
type WorkerConfig struct {
	RTMPHost    string `mapstructure:"rtmp_host"` // router host, e.g. "mediamtx" (MEDIAMTX_HOST)
	RTMPPort    int    `mapstructure:"rtmp_port"`
	RTMPApp     string `mapstructure:"rtmp_app"` // e.g. "live"
	STSURL      string `mapstructure:"sts_url"`
	SourceLang  string `mapstructure:"source_lang"`
	TargetLang  string `mapstructure:"target_lang"`
	Credentials string `mapstructure:"credentials"`

	SegmentDuration  time.Duration `mapstructure:"segment_duration"`
	VAD              VADConfig     `mapstructure:"vad"`
	MaxInflight      int           `mapstructure:"max_inflight"`
	FragmentTimeout  time.Duration `mapstructure:"fragment_timeout"`
	AVOffset         time.Duration `mapstructure:"av_offset"`
	DriftThreshold   time.Duration `mapstructure:"drift_threshold"`
	SlewRate         time.Duration `mapstructure:"slew_rate"`
	MemoryLimitBytes ByteSize      `mapstructure:"memory_limit_bytes"`
}

// VADConfig holds the voice-activity-detection thresholds for the audio
// segment accumulator (mirrors domain.VADConfig).
type VADConfig struct {
	WindowSize         time.Duration `mapstructure:"window_size"`
	SilenceThresholdDB float64       `mapstructure:"silence_threshold_db"`
	SilenceDuration    time.Duration `mapstructure:"silence_duration"`
	MinSegment         time.Duration `mapstructure:"min_segment"`
	MaxSegment         time.Duration `mapstructure:"max_segment"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with DUBRELAY_ and use underscores for
// nesting. Example: DUBRELAY_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dubrelay")
		v.AddConfigPath("$HOME/.dubrelay")
	}

	// Environment variable settings
	v.SetEnvPrefix("DUBRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a Config from an already-configured
// viper instance. Used by Load, and by the CLI to build a Config from the
// package-level viper instance cobra flags are bound to.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Hooks defaults
	v.SetDefault("hooks.path", "/hooks/stream")

	// Worker defaults (spec.md §6)
	v.SetDefault("worker.rtmp_host", "mediamtx")
	v.SetDefault("worker.rtmp_port", 1935)
	v.SetDefault("worker.rtmp_app", "live")
	v.SetDefault("worker.sts_url", "ws://localhost:3000")
	v.SetDefault("worker.source_lang", defaultSourceLang)
	v.SetDefault("worker.target_lang", defaultTargetLang)
	v.SetDefault("worker.segment_duration", defaultSegmentDuration)
	v.SetDefault("worker.max_inflight", defaultMaxInflight)
	v.SetDefault("worker.fragment_timeout", defaultFragmentTimeout)
	v.SetDefault("worker.av_offset", defaultAVOffset)
	v.SetDefault("worker.drift_threshold", defaultDriftThreshold)
	v.SetDefault("worker.slew_rate", defaultSlewRate)
	v.SetDefault("worker.memory_limit_bytes", defaultMemoryLimitBytes)

	v.SetDefault("worker.vad.window_size", defaultVADWindowSize)
	v.SetDefault("worker.vad.silence_threshold_db", defaultSilenceThreshold)
	v.SetDefault("worker.vad.silence_duration", defaultSilenceDuration)
	v.SetDefault("worker.vad.min_segment", defaultMinSegment)
	v.SetDefault("worker.vad.max_segment", defaultMaxSegment)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Hooks.Path == "" {
		return fmt.Errorf("hooks.path is required")
	}

	return c.Worker.Validate()
}

// Validate enforces the numeric ranges spec.md §6/§7 places on worker
// settings.
func (w *WorkerConfig) Validate() error {
	if w.MaxInflight < 1 || w.MaxInflight > 10 {
		return fmt.Errorf("worker.max_inflight must be between 1 and 10")
	}
	if w.FragmentTimeout < time.Second || w.FragmentTimeout > 120*time.Second {
		return fmt.Errorf("worker.fragment_timeout must be between 1s and 120s")
	}
	if w.SegmentDuration <= 0 {
		return fmt.Errorf("worker.segment_duration must be positive")
	}
	if w.DriftThreshold <= 0 {
		return fmt.Errorf("worker.drift_threshold must be positive")
	}
	if w.SlewRate <= 0 {
		return fmt.Errorf("worker.slew_rate must be positive")
	}
	if w.MemoryLimitBytes <= 0 {
		return fmt.Errorf("worker.memory_limit_bytes must be positive")
	}
	return w.VAD.Validate()
}

// Validate enforces the voice-activity-detection invariant that a segment
// can never be shorter than MinSegment nor longer than MaxSegment.
func (v *VADConfig) Validate() error {
	if v.MinSegment <= 0 {
		return fmt.Errorf("worker.vad.min_segment must be positive")
	}
	if v.MaxSegment <= v.MinSegment {
		return fmt.Errorf("worker.vad.max_segment must be greater than worker.vad.min_segment")
	}
	if v.SilenceDuration <= 0 {
		return fmt.Errorf("worker.vad.silence_duration must be positive")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
