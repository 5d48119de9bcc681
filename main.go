package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"i4.energy/across/linkmux/at"
	"i4.energy/across/linkmux/link"
	"i4.energy/across/linkmux/modem"
	"i4.energy/across/linkmux/telemetry"
)

func main() {
	app := &cli.App{
		Name:  "linkmux",
		Usage: "Share one modem UART between NMEA telemetry and AT commands",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the pipeline, bring the modem up and serve the HTTP API",
				Flags:  append(modemFlags(), serveFlags()...),
				Action: serve,
			},
			{
				Name:      "exec",
				Usage:     "Issue one AT command and print the response",
				ArgsUsage: "<command>",
				Flags: append(modemFlags(), &cli.DurationFlag{
					Name:  "timeout",
					Value: 5 * time.Second,
					Usage: "How long to wait for OK or an error",
				}),
				Action: execCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func modemFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
		&cli.StringFlag{Name: "serial-port", Usage: "Serial port to connect to the modem"},
		&cli.IntFlag{Name: "baud-rate", Usage: "Baud rate for serial communication"},
		&cli.StringFlag{Name: "modem-address", Usage: "Reach the modem over TCP (host:port) instead of a serial port"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level (debug, info, warn, error)"},
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "bind-address", Usage: "Bind address for the HTTP server"},
		&cli.StringFlag{Name: "sim-pin", Usage: "SIM card PIN code (if required)"},
		&cli.BoolFlag{Name: "gnss", Usage: "Enable GNSS and NMEA output on the shared port"},
		&cli.DurationFlag{Name: "stats-interval", Usage: "How often to log pipeline counters (0 disables)"},
	}
}

func loadConfig(c *cli.Context) (*Config, error) {
	return LoadConfig(WithDefaults(), WithFile(c.String("config")), WithEnv(), WithCLI(c))
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func newModem(ctx context.Context, config *Config, logger *slog.Logger) (*modem.Modem, error) {
	var dialer link.Dialer = link.SerialDialer{
		PortName: config.SerialPort,
		BaudRate: config.BaudRate,
	}
	if config.ModemAddress != "" {
		dialer = link.TCPDialer{Address: config.ModemAddress, Timeout: 10 * time.Second}
	}

	p := config.Pipeline
	modemConfig, err := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithLogger(logger).
		WithPool(p.PoolBuffers, p.BufferSize).
		WithChannelCapacity(p.TelemetryCapacity, p.CommandCapacity).
		WithPollInterval(p.PollInterval).
		WithATTimeout(p.ATTimeout).
		WithMinCommandInterval(p.MinCommandInterval).
		WithThresholds(p.Classifier.Thresholds()).
		WithInitTimeout(p.InitTimeout).
		WithMaxRetries(p.MaxRetries).
		WithSimPIN(config.SimPIN).
		WithGNSS(config.EnableGNSS).
		Build()
	if err != nil {
		return nil, fmt.Errorf("modem config: %w", err)
	}

	return modem.New(ctx, modemConfig)
}

func serve(c *cli.Context) error {
	config, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := newLogger(config.LogLevel)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := newModem(ctx, config, logger)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		return err
	}
	defer func() {
		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil && !errors.Is(err, modem.ErrAlreadyClosed) {
			logger.Error("Failed to close modem", "error", err)
		}
	}()

	if err := m.Start(ctx); err != nil {
		return err
	}

	if err := m.BringUp(ctx); err != nil {
		logger.Error("Modem bring-up failed", "error", err)
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(m.Collector())

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:   logger.With("component", "server"),
			Modem:    m,
			Registry: registry,
		},
	}

	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	go logTelemetry(ctx, telemetry.NewReader(m, logger), logger)
	if config.StatsInterval > 0 {
		go reportStats(ctx, m, config.StatsInterval, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case <-m.Done():
		logger.Error("Pipeline stopped", "error", m.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
		return err
	}
	return m.Err()
}

func logTelemetry(ctx context.Context, r *telemetry.Reader, logger *slog.Logger) {
	for {
		s, err := r.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("Telemetry reader stopped", "error", err)
			}
			return
		}
		logger.Debug("NMEA sentence", "address", s.Address(), "fields", len(s.Fields))
	}
}

func reportStats(ctx context.Context, m *modem.Modem, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("Pipeline stats", "stats", m.Stats())
		}
	}
}

func execCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one AT command is required", 2)
	}
	config, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := newLogger(config.LogLevel)

	m, err := newModem(c.Context, config, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Start(c.Context); err != nil {
		return err
	}

	out, err := m.Execute(c.Context, c.Args().First(), at.SuccessTokens, at.FailureTokens, c.Duration("timeout"))
	if err != nil && out.Kind != modem.TimedOut {
		return err
	}
	fmt.Println(out.Captured)
	if out.Kind != modem.Matched {
		return cli.Exit(out.Kind.String(), 1)
	}
	return nil
}
