// Command mash-syncd runs a MASH sync endpoint.
//
// The daemon publishes the local DeviceInfo and Measurement objects to
// subscribers, mirrors the profiles of configured remote publishers and
// records an event log that is uploaded to a collector at a fixed
// interval. With --serve-uploads it also acts as a collector and stores
// the uploads of other devices as archive files readable by mash-evlog.
//
// Usage:
//
//	mash-syncd [flags]
//
// Examples:
//
//	# Publisher with synthetic measurements
//	mash-syncd --device-id 1001 --name wallbox --simulate
//
//	# Collector on port 9000
//	mash-syncd --device-id 2002 --listen :9000 --serve-uploads
//
//	# Everything from a config file, with the console
//	mash-syncd -c /etc/mash/syncd.yaml -i
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := parseLogLevel(cfg.LogLevel)

	var console *Console
	var out io.Writer = os.Stderr
	if cfg.Interactive {
		var err error
		if console, err = NewConsole(); err != nil {
			return err
		}
		// Log lines must not break the prompt.
		out = console.Stdout()
	}

	d, err := NewDaemon(cfg, newLogger(out, level))
	if err != nil {
		return err
	}
	if console != nil {
		console.Attach(d)
	}

	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	if console != nil {
		go console.Run(ctx, cancel)
	}
	<-ctx.Done()
	d.logger.Info("shutting down")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
