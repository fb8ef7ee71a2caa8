// Command telemetryd runs the telemetry collector daemon: a fixed-capacity
// TCP peer table, fair round-robin read dispatch, and two pluggable output
// channels (message-log and periodic dump).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pmacct-telemetry/telemetryd/internal/config"
	"github.com/pmacct-telemetry/telemetryd/internal/daemon"
)

func main() {
	configPath := flag.String("config", "", "path to a telemetry_* config file (ini/yaml/toml/json, viper-detected)")
	logLevel := flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	entry := logrus.NewEntry(log).WithField("daemon", "telemetryd")

	// Config keys already carry the telemetry_ prefix (spec §6), so
	// AutomaticEnv is left unprefixed here — SetEnvPrefix would otherwise
	// double it up into TELEMETRY_TELEMETRY_IP.
	v := viper.New()
	v.AutomaticEnv()
	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			entry.WithError(err).Error("failed to read config file")
			os.Exit(1)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		entry.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := daemon.New(ctx, cfg, entry)
	if err != nil {
		entry.WithError(err).Error("failed to initialize daemon")
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				entry.Info("SIGHUP received, reloading per-peer logs")
				srv.Reload()
			default:
				entry.WithField("signal", sig).Info("shutting down")
				cancel()
				return
			}
		}
	}()

	if err := srv.Run(ctx); err != nil {
		entry.WithError(err).Error("daemon exited with error")
		os.Exit(1)
	}
}
