package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cbodonnell/tandem/pkg/config"
	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/relay"
	"github.com/cbodonnell/tandem/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if *port != 0 {
		cfg.Relay.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := cfg.NewLogger(os.Stdout)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", logger.Level())
	log.Info("Starting relay version %s", version.Get())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub, err := relay.NewHub(relay.HubOptions{
		Logger:      logger.With("component", "hub"),
		GraceWindow: cfg.Relay.GraceWindow,
		StartDelay:  cfg.Relay.StartDelay,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to create hub: %v", err))
	}

	var tlsConfig *relay.TLSConfig
	if cfg.Relay.CertFile != "" {
		tlsConfig = &relay.TLSConfig{
			CertFile: cfg.Relay.CertFile,
			KeyFile:  cfg.Relay.KeyFile,
		}
	}
	server := relay.NewServer(relay.NewServerOptions{
		Port:           cfg.Relay.Port,
		TLS:            tlsConfig,
		Hub:            hub,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
	})
	if err := server.Start(ctx); err != nil {
		panic(fmt.Sprintf("Failed to start relay: %v", err))
	}
}
