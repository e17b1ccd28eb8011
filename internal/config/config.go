// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Driver() DriverConfig
	Session() SessionConfig

	// Driver setters
	SetDriverPath(string)
	SetDriverEnv(map[string]string)

	// Session setters
	SetSessionCallTimeout(time.Duration)
}

// Config holds the entire application configuration. Fields are exported so
// viper can unmarshal into them; consumers go through Interface.
type Config struct {
	LoggerC  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	DriverC  DriverConfig  `mapstructure:"driver" yaml:"driver"`
	SessionC SessionConfig `mapstructure:"session" yaml:"session"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerC }
func (c *Config) Driver() DriverConfig   { return c.DriverC }
func (c *Config) Session() SessionConfig { return c.SessionC }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetDriverPath(p string)             { c.DriverC.Path = p }
func (c *Config) SetDriverEnv(env map[string]string) { c.DriverC.Env = env }
func (c *Config) SetSessionCallTimeout(d time.Duration) {
	c.SessionC.CallTimeout = d
}

// LoggerConfig holds settings for the zap logger.
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

// DriverConfig describes how to locate and supervise the driver subprocess.
type DriverConfig struct {
	// Path to the driver executable. Empty means discovery: the
	// DROVER_DRIVER_PATH environment variable, then the platform default.
	Path string `mapstructure:"path" yaml:"path"`
	// Args passed to the driver executable before the protocol starts.
	Args []string `mapstructure:"args" yaml:"args"`
	// Env is merged over the inherited environment at spawn time.
	Env map[string]string `mapstructure:"env" yaml:"env"`
	// LaunchTimeout bounds the wait for the driver's initialization
	// handshake after spawn.
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	// ShutdownGrace is how long Close waits for a voluntary exit after
	// closing the driver's stdin before killing the process.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
	// MaxFrameSize rejects frames whose length prefix exceeds this many
	// bytes, which almost always means a corrupted stream.
	MaxFrameSize int `mapstructure:"max_frame_size" yaml:"max_frame_size"`
}

// SessionConfig holds per-session protocol settings.
type SessionConfig struct {
	// CallTimeout is the default deadline applied to each protocol call
	// when the caller's context carries none. Zero disables the default.
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with
// default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "drover")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Driver --
	v.SetDefault("driver.path", "")
	v.SetDefault("driver.args", []string{"run-driver"})
	v.SetDefault("driver.launch_timeout", "30s")
	v.SetDefault("driver.shutdown_grace", "5s")
	v.SetDefault("driver.max_frame_size", 256*1024*1024)

	// -- Session --
	v.SetDefault("session.call_timeout", "30s")
}

// NewConfigFromViper creates a new configuration instance from a viper
// object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The driver path is commonly supplied via the environment rather than
	// a config file.
	v.BindEnv("driver.path", "DROVER_DRIVER_PATH")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.DriverC.LaunchTimeout <= 0 {
		return fmt.Errorf("driver.launch_timeout must be a positive duration")
	}
	if c.DriverC.ShutdownGrace <= 0 {
		return fmt.Errorf("driver.shutdown_grace must be a positive duration")
	}
	if c.DriverC.MaxFrameSize <= 0 {
		return fmt.Errorf("driver.max_frame_size must be a positive integer")
	}
	if c.SessionC.CallTimeout < 0 {
		return fmt.Errorf("session.call_timeout must not be negative")
	}
	return nil
}
