// Package config provides configuration structures and defaults for CIR Monitor
package config

import (
	"fmt"
	"time"

	"cir-monitor/internal/reader"
)

// Config represents the complete application configuration
type Config struct {
	Serial    SerialConfig    `yaml:"serial" mapstructure:"serial"`       // Serial endpoint settings
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`     // Ingestion and buffering settings
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"` // Live dashboard settings
}

// SerialConfig contains serial endpoint configuration parameters
type SerialConfig struct {
	Port         string `yaml:"port" mapstructure:"port"`                   // Serial port device path (e.g. /dev/ttyUSB0, COM10)
	BaudRate     int    `yaml:"baud_rate" mapstructure:"baud_rate"`         // Baud rate, one of the supported set
	MaxReconnect int    `yaml:"max_reconnect" mapstructure:"max_reconnect"` // Reconnect attempts before giving up
}

// MonitorConfig contains ingestion pipeline configuration parameters
type MonitorConfig struct {
	BufferCapacity int           `yaml:"buffer_capacity" mapstructure:"buffer_capacity"` // Retained sample count
	RenderInterval time.Duration `yaml:"render_interval" mapstructure:"render_interval"` // Minimum time between consumer redraws
	AutoScale      bool          `yaml:"auto_scale" mapstructure:"auto_scale"`           // Auto-scale chart Y axis
}

// DashboardConfig contains live dashboard configuration parameters
type DashboardConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"` // HTTP listen address
}

// DefaultConfig returns a configuration with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:         "/dev/ttyUSB0", // Common USB serial device path
			BaudRate:     115200,         // CIR firmware default
			MaxReconnect: 3,              // Three reconnect attempts before failing
		},
		Monitor: MonitorConfig{
			BufferCapacity: 500,                   // Rolling window of 500 samples
			RenderInterval: 20 * time.Millisecond, // ~50Hz redraw ceiling
			AutoScale:      true,                  // Auto-scale enabled by default
		},
		Dashboard: DashboardConfig{
			Listen: "127.0.0.1:8632", // Local-only dashboard by default
		},
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial port not specified")
	}
	if !reader.ValidBaudRate(c.Serial.BaudRate) {
		return fmt.Errorf("unsupported baud rate: %d (supported: %v)", c.Serial.BaudRate, reader.SupportedBaudRates)
	}
	if c.Serial.MaxReconnect < 0 {
		return fmt.Errorf("max_reconnect must not be negative: %d", c.Serial.MaxReconnect)
	}
	if c.Monitor.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be positive: %d", c.Monitor.BufferCapacity)
	}
	if c.Monitor.RenderInterval <= 0 {
		return fmt.Errorf("render_interval must be positive: %v", c.Monitor.RenderInterval)
	}
	return nil
}
