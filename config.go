package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"i4.energy/across/linkmux/stream"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the HTTP API listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// ModemAddress, when set, reaches the modem over TCP (an emulator or a
	// serial-to-network bridge) instead of SerialPort.
	ModemAddress string `yaml:"modem_address"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// SimPIN is the SIM card PIN code
	SimPIN string `yaml:"sim_pin"`
	// EnableGNSS powers the GNSS engine and routes NMEA to the shared port
	EnableGNSS bool `yaml:"enable_gnss"`
	// StatsInterval is how often pipeline counters are logged; zero disables it
	StatsInterval time.Duration `yaml:"stats_interval"`

	Pipeline PipelineConfig `yaml:"pipeline"`
}

// PipelineConfig tunes the demultiplexer. Zero values select the library
// defaults.
type PipelineConfig struct {
	PoolBuffers        int           `yaml:"pool_buffers"`
	BufferSize         int           `yaml:"buffer_size"`
	TelemetryCapacity  int           `yaml:"telemetry_capacity"`
	CommandCapacity    int           `yaml:"command_capacity"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	ATTimeout          time.Duration `yaml:"at_timeout"`
	MinCommandInterval time.Duration `yaml:"min_command_interval"`
	InitTimeout        time.Duration `yaml:"init_timeout"`
	MaxRetries         int           `yaml:"max_retries"`

	Classifier ClassifierConfig `yaml:"classifier"`
}

// ClassifierConfig overrides the stream classifier thresholds. Unset fields
// keep stream.DefaultThresholds.
type ClassifierConfig struct {
	MarkerWindow     int     `yaml:"marker_window"`
	SampleWindow     int     `yaml:"sample_window"`
	MinPrintable     int     `yaml:"min_printable"`
	PlausibleRatio   float64 `yaml:"plausible_ratio"`
	RequireSeparator *bool   `yaml:"require_separator"`
	CommandSyntax    *string `yaml:"command_syntax"`
}

// Thresholds overlays the configured fields on stream.DefaultThresholds.
func (c ClassifierConfig) Thresholds() stream.Thresholds {
	t := stream.DefaultThresholds
	if c.MarkerWindow > 0 {
		t.MarkerWindow = c.MarkerWindow
	}
	if c.SampleWindow > 0 {
		t.SampleWindow = c.SampleWindow
	}
	if c.MinPrintable > 0 {
		t.MinPrintable = c.MinPrintable
	}
	if c.PlausibleRatio > 0 {
		t.PlausibleRatio = c.PlausibleRatio
	}
	if c.RequireSeparator != nil {
		t.RequireSeparator = *c.RequireSeparator
	}
	if c.CommandSyntax != nil {
		t.CommandSyntax = *c.CommandSyntax
	}
	return t
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.StatsInterval = 5 * time.Second
		return nil
	}
}

// WithFile overlays settings from a YAML file. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if addr := os.Getenv("MODEM_ADDRESS"); addr != "" {
			c.ModemAddress = addr
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if gnss := os.Getenv("ENABLE_GNSS"); gnss != "" {
			if b, err := strconv.ParseBool(gnss); err == nil {
				c.EnableGNSS = b
			}
		}

		return nil
	}
}

// WithCLI loads configuration from the command-line flags that were set
func WithCLI(ctx *cli.Context) ConfigOption {
	return func(c *Config) error {
		if ctx.IsSet("bind-address") {
			c.BindAddress = ctx.String("bind-address")
		}
		if ctx.IsSet("serial-port") {
			c.SerialPort = ctx.String("serial-port")
		}
		if ctx.IsSet("baud-rate") {
			c.BaudRate = ctx.Int("baud-rate")
		}
		if ctx.IsSet("modem-address") {
			c.ModemAddress = ctx.String("modem-address")
		}
		if ctx.IsSet("log-level") {
			c.LogLevel = ctx.String("log-level")
		}
		if ctx.IsSet("sim-pin") {
			c.SimPIN = ctx.String("sim-pin")
		}
		if ctx.IsSet("gnss") {
			c.EnableGNSS = ctx.Bool("gnss")
		}
		if ctx.IsSet("stats-interval") {
			c.StatsInterval = ctx.Duration("stats-interval")
		}
		return nil
	}
}
