// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Vendor     VendorConfig     `mapstructure:"vendor" yaml:"vendor"`
	Target     TargetConfig     `mapstructure:"target" yaml:"target"`
	Cookies    CookiesConfig    `mapstructure:"cookies" yaml:"cookies"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	Humanoid   HumanoidConfig   `mapstructure:"humanoid" yaml:"humanoid"`
	Reply      ReplyConfig      `mapstructure:"reply" yaml:"reply"`
}

// LoggerConfig controls the zap logger setup.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig configures the operator-facing HTTP server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// ManualCommandRate caps inbound manual-control commands per second.
	ManualCommandRate float64 `mapstructure:"manual_command_rate" yaml:"manual_command_rate"`
	// StreamFrameInterval is how often screenshot frames are captured
	// while live streaming is enabled.
	StreamFrameInterval time.Duration `mapstructure:"stream_frame_interval" yaml:"stream_frame_interval"`
}

// VendorConfig configures the remote browser cloud service.
type VendorConfig struct {
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	ProjectID  string        `mapstructure:"project_id" yaml:"project_id"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// SessionTimeout is forwarded to the vendor and also armed locally as a
	// hard teardown timer.
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
}

// TargetConfig describes the social platform being driven.
type TargetConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// CookieDomain is the domain suffix cookies must match to be persisted.
	CookieDomain string `mapstructure:"cookie_domain" yaml:"cookie_domain"`
	// LoginURLPattern marks a URL as part of the login flow when contained in it.
	LoginURLPattern string `mapstructure:"login_url_pattern" yaml:"login_url_pattern"`
	HomePath        string `mapstructure:"home_path" yaml:"home_path"`
}

// CookiesConfig selects and configures the cookie store backend.
type CookiesConfig struct {
	// Backend is "file" or "postgres".
	Backend string `mapstructure:"backend" yaml:"backend"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// AutomationConfig tunes the engine loop.
type AutomationConfig struct {
	TargetReplies int `mapstructure:"target_replies" yaml:"target_replies"`
	TargetLikes   int `mapstructure:"target_likes" yaml:"target_likes"`
	TargetFollows int `mapstructure:"target_follows" yaml:"target_follows"`

	MaxRunDuration      time.Duration `mapstructure:"max_run_duration" yaml:"max_run_duration"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" yaml:"health_check_interval"`
	LoginMaxWait        time.Duration `mapstructure:"login_max_wait" yaml:"login_max_wait"`
	LoginPollInterval   time.Duration `mapstructure:"login_poll_interval" yaml:"login_poll_interval"`
	PausePollInterval   time.Duration `mapstructure:"pause_poll_interval" yaml:"pause_poll_interval"`

	// Vitals floors. Energy and focus decay toward these, never below.
	EnergyFloor float64 `mapstructure:"energy_floor" yaml:"energy_floor"`
	FocusFloor  float64 `mapstructure:"focus_floor" yaml:"focus_floor"`

	SubmitPollAttempts int           `mapstructure:"submit_poll_attempts" yaml:"submit_poll_attempts"`
	SubmitPollInterval time.Duration `mapstructure:"submit_poll_interval" yaml:"submit_poll_interval"`
}

// HumanoidConfig tunes the human behavior simulator.
type HumanoidConfig struct {
	// Typing cadence: base per-character delay bounds in milliseconds.
	TypeDelayMinMs int `mapstructure:"type_delay_min_ms" yaml:"type_delay_min_ms"`
	TypeDelayMaxMs int `mapstructure:"type_delay_max_ms" yaml:"type_delay_max_ms"`

	TypoProbability   float64 `mapstructure:"typo_probability" yaml:"typo_probability"`
	ThinkProbability  float64 `mapstructure:"think_probability" yaml:"think_probability"`
	RetypeProbability float64 `mapstructure:"retype_probability" yaml:"retype_probability"`

	// Inter-action pacing.
	BasePauseMs   int     `mapstructure:"base_pause_ms" yaml:"base_pause_ms"`
	MinPauseMs    int     `mapstructure:"min_pause_ms" yaml:"min_pause_ms"`
	PauseJitterMs int     `mapstructure:"pause_jitter_ms" yaml:"pause_jitter_ms"`
	NightFactor   float64 `mapstructure:"night_factor" yaml:"night_factor"`
	NightStart    int     `mapstructure:"night_start_hour" yaml:"night_start_hour"`
	NightEnd      int     `mapstructure:"night_end_hour" yaml:"night_end_hour"`
	FatiguePerHr  float64 `mapstructure:"fatigue_per_hour" yaml:"fatigue_per_hour"`

	// Pointer movement.
	ClickHoldMinMs int     `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int     `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`
	WobbleAmp      float64 `mapstructure:"wobble_amplitude" yaml:"wobble_amplitude"`
	DriftAmp       float64 `mapstructure:"drift_amplitude" yaml:"drift_amplitude"`
}

// ReplyConfig configures the external reply-text generator.
type ReplyConfig struct {
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	Model      string        `mapstructure:"model" yaml:"model"`
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Tone       string        `mapstructure:"tone" yaml:"tone"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "stagehand")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.manual_command_rate", 8.0)
	v.SetDefault("server.stream_frame_interval", "750ms")

	// -- Vendor --
	v.SetDefault("vendor.base_url", "https://api.browserbase.com")
	v.SetDefault("vendor.api_timeout", "30s")
	v.SetDefault("vendor.session_timeout", "4h")

	// -- Target --
	v.SetDefault("target.base_url", "https://x.com")
	v.SetDefault("target.cookie_domain", "x.com")
	v.SetDefault("target.login_url_pattern", "/i/flow/login")
	v.SetDefault("target.home_path", "/home")

	// -- Cookies --
	v.SetDefault("cookies.backend", "file")
	v.SetDefault("cookies.dir", "~/.stagehand/cookies")

	// -- Automation --
	v.SetDefault("automation.target_replies", 5)
	v.SetDefault("automation.target_likes", 10)
	v.SetDefault("automation.target_follows", 3)
	v.SetDefault("automation.max_run_duration", "3h")
	v.SetDefault("automation.health_check_interval", "5m")
	v.SetDefault("automation.login_max_wait", "5m")
	v.SetDefault("automation.login_poll_interval", "5s")
	v.SetDefault("automation.pause_poll_interval", "2s")
	v.SetDefault("automation.energy_floor", 20.0)
	v.SetDefault("automation.focus_floor", 15.0)
	v.SetDefault("automation.submit_poll_attempts", 10)
	v.SetDefault("automation.submit_poll_interval", "1s")

	// -- Humanoid --
	v.SetDefault("humanoid.type_delay_min_ms", 120)
	v.SetDefault("humanoid.type_delay_max_ms", 300)
	v.SetDefault("humanoid.typo_probability", 0.04)
	v.SetDefault("humanoid.think_probability", 0.03)
	v.SetDefault("humanoid.retype_probability", 0.02)
	v.SetDefault("humanoid.base_pause_ms", 4000)
	v.SetDefault("humanoid.min_pause_ms", 2500)
	v.SetDefault("humanoid.pause_jitter_ms", 3000)
	v.SetDefault("humanoid.night_factor", 1.6)
	v.SetDefault("humanoid.night_start_hour", 23)
	v.SetDefault("humanoid.night_end_hour", 6)
	v.SetDefault("humanoid.fatigue_per_hour", 0.35)
	v.SetDefault("humanoid.click_hold_min_ms", 50)
	v.SetDefault("humanoid.click_hold_max_ms", 120)
	v.SetDefault("humanoid.wobble_amplitude", 3.0)
	v.SetDefault("humanoid.drift_amplitude", 2.5)

	// -- Reply generator --
	v.SetDefault("reply.model", "gemini-2.5-flash")
	v.SetDefault("reply.api_timeout", "20s")
	v.SetDefault("reply.tone", "casual")
}

// Load reads configuration from the given file (optional), the environment,
// and defaults, and returns a validated Config.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("stagehand")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("STAGEHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults plus env vars apply.
	}

	return NewConfigFromViper(v)
}

// NewConfigFromViper unmarshals and validates a configuration from a viper
// instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("vendor.api_key", "STAGEHAND_VENDOR_API_KEY")
	v.BindEnv("reply.api_key", "STAGEHAND_REPLY_API_KEY")
	v.BindEnv("cookies.dsn", "STAGEHAND_COOKIES_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if dir, err := homedir.Expand(cfg.Cookies.Dir); err == nil {
		cfg.Cookies.Dir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig returns a configuration populated purely from defaults.
// Intended for tests.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	if dir, err := homedir.Expand(cfg.Cookies.Dir); err == nil {
		cfg.Cookies.Dir = dir
	}
	return &cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Target.BaseURL == "" {
		return fmt.Errorf("target.base_url is required")
	}
	if c.Target.CookieDomain == "" {
		return fmt.Errorf("target.cookie_domain is required")
	}
	if c.Automation.MaxRunDuration <= 0 {
		return fmt.Errorf("automation.max_run_duration must be positive")
	}
	if c.Automation.EnergyFloor < 0 || c.Automation.EnergyFloor > 100 {
		return fmt.Errorf("automation.energy_floor must be within [0,100]")
	}
	if c.Automation.FocusFloor < 0 || c.Automation.FocusFloor > 100 {
		return fmt.Errorf("automation.focus_floor must be within [0,100]")
	}
	if c.Humanoid.TypeDelayMaxMs < c.Humanoid.TypeDelayMinMs {
		return fmt.Errorf("humanoid.type_delay_max_ms must be >= type_delay_min_ms")
	}
	if c.Humanoid.MinPauseMs <= 0 {
		return fmt.Errorf("humanoid.min_pause_ms must be positive")
	}
	switch c.Cookies.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("cookies.backend must be \"file\" or \"postgres\", got %q", c.Cookies.Backend)
	}
	if c.Cookies.Backend == "postgres" && c.Cookies.DSN == "" {
		return fmt.Errorf("cookies.dsn is required for the postgres backend")
	}
	return nil
}
