package modem

import (
	"fmt"
	"log/slog"
	"time"

	"i4.energy/across/linkmux/link"
	"i4.energy/across/linkmux/stream"
)

// Config holds the pipeline settings. Build one with NewConfigBuilder; the
// zero value is only useful for checking ErrNoDialer.
type Config struct {
	dialer link.Dialer
	logger *slog.Logger

	poolSize          int
	bufferSize        int
	telemetryCapacity int
	commandCapacity   int
	urcBuffer         int
	pollInterval      time.Duration
	thresholds        stream.Thresholds

	atTimeout          time.Duration
	terminator         string
	minCommandInterval time.Duration

	simPIN      string
	maxRetries  int
	enableGNSS  bool
	initTimeout time.Duration
	simPoll     PollConfig
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	if c.poolSize < 2 {
		return fmt.Errorf("pool size %d: %w", c.poolSize, ErrInvalidConfig)
	}
	if c.bufferSize < 1 {
		return fmt.Errorf("buffer size %d: %w", c.bufferSize, ErrInvalidConfig)
	}
	if c.telemetryCapacity < 1 || c.commandCapacity < 1 {
		return fmt.Errorf("channel capacity %d/%d: %w", c.telemetryCapacity, c.commandCapacity, ErrInvalidConfig)
	}
	if c.minCommandInterval < 0 {
		return fmt.Errorf("command interval %s: %w", c.minCommandInterval, ErrInvalidConfig)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.poolSize == 0 {
		c.poolSize = 64
	}
	if c.bufferSize == 0 {
		c.bufferSize = 1024
	}
	if c.telemetryCapacity == 0 {
		c.telemetryCapacity = 16
	}
	if c.commandCapacity == 0 {
		c.commandCapacity = 32
	}
	if c.urcBuffer == 0 {
		c.urcBuffer = 100
	}
	if c.pollInterval == 0 {
		c.pollInterval = 100 * time.Millisecond
	}
	if c.thresholds == (stream.Thresholds{}) {
		c.thresholds = stream.DefaultThresholds
	}
	if c.atTimeout == 0 {
		c.atTimeout = 5 * time.Second
	}
	if c.terminator == "" {
		c.terminator = "\r\n"
	}
	if c.maxRetries == 0 {
		c.maxRetries = 3
	}
	if c.initTimeout == 0 {
		c.initTimeout = 30 * time.Second
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets how the link is opened. Required.
func (b *ConfigBuilder) WithDialer(d link.Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// WithPool sets the number of buffers and the size of each. The buffer size
// is the most bytes a single read can deliver.
func (b *ConfigBuilder) WithPool(count, size int) *ConfigBuilder {
	b.config.poolSize = count
	b.config.bufferSize = size
	return b
}

// WithChannelCapacity bounds the telemetry and command queues.
func (b *ConfigBuilder) WithChannelCapacity(telemetry, command int) *ConfigBuilder {
	b.config.telemetryCapacity = telemetry
	b.config.commandCapacity = command
	return b
}

// WithURCBuffer sizes the unsolicited result code channel.
func (b *ConfigBuilder) WithURCBuffer(n int) *ConfigBuilder {
	b.config.urcBuffer = n
	return b
}

// WithPollInterval bounds each link read.
func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.pollInterval = d
	return b
}

// WithThresholds calibrates the stream classifier.
func (b *ConfigBuilder) WithThresholds(t stream.Thresholds) *ConfigBuilder {
	b.config.thresholds = t
	return b
}

// WithATTimeout sets the deadline used by ExpectOK and the bring-up steps.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithTerminator sets the bytes appended to every command.
func (b *ConfigBuilder) WithTerminator(s string) *ConfigBuilder {
	b.config.terminator = s
	return b
}

// WithMinCommandInterval paces commands; zero disables pacing.
func (b *ConfigBuilder) WithMinCommandInterval(d time.Duration) *ConfigBuilder {
	b.config.minCommandInterval = d
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.simPIN = pin
	return b
}

// WithMaxRetries bounds attempts per bring-up step on timeouts.
func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	b.config.maxRetries = n
	return b
}

// WithGNSS makes BringUp power the GNSS engine and route NMEA to the port.
func (b *ConfigBuilder) WithGNSS(enable bool) *ConfigBuilder {
	b.config.enableGNSS = enable
	return b
}

// WithInitTimeout bounds the whole bring-up sequence.
func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.initTimeout = d
	return b
}

// WithSIMPoll controls how long BringUp waits for the SIM after a PIN.
func (b *ConfigBuilder) WithSIMPoll(p PollConfig) *ConfigBuilder {
	b.config.simPoll = p
	return b
}

func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
