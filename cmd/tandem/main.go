package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cbodonnell/tandem/client/coop"
	"github.com/cbodonnell/tandem/client/network"
	"github.com/cbodonnell/tandem/pkg/config"
	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/cbodonnell/tandem/pkg/repositories"
	"github.com/cbodonnell/tandem/pkg/version"
)

const usage = `Usage: tandem [flags] <command> [args]

Commands:
  rooms                 list joinable rooms
  host <room> <name>    create a room and play as host
  join <code> <name>    join a room by code
  resume                reclaim the seat cached from the last session
  schema [type]         print the JSON schema of one or every message type
  version               print the version

Flags:
`

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	serverURL := flag.String("server", "", "Relay websocket URL (overrides config)")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *serverURL != "" {
		cfg.Client.ServerURL = *serverURL
	}
	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	log.SetDefaultLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, args[0], args[1:]); err != nil {
		log.Error("%s: %v", args[0], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, command string, args []string) error {
	switch command {
	case "rooms":
		return listRooms(ctx, cfg)
	case "schema":
		return printSchema(args)
	case "version":
		fmt.Println(version.Get())
		return nil
	case "host":
		if len(args) != 2 {
			return fmt.Errorf("usage: tandem host <room> <name>")
		}
		return play(ctx, cfg, logger, func(c *coop.Client) *network.Future[struct{}] {
			return joinedFuture(c.CreateRoom(args[0], args[1]))
		})
	case "join":
		if len(args) != 2 {
			return fmt.Errorf("usage: tandem join <code> <name>")
		}
		return play(ctx, cfg, logger, func(c *coop.Client) *network.Future[struct{}] {
			return joinedFuture(c.JoinRoom(args[0], args[1]))
		})
	case "resume":
		return play(ctx, cfg, logger, func(c *coop.Client) *network.Future[struct{}] {
			if !c.Resume() {
				return network.Rejected[struct{}](fmt.Errorf("no cached seat for %s", cfg.Client.ServerURL))
			}
			return network.Resolved(struct{}{})
		})
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func openTokens(ctx context.Context, cfg *config.Config) (repositories.TokenRepository, error) {
	if cfg.Client.TokenDB == "" {
		return repositories.NewMemoryRepository(), nil
	}
	return repositories.NewSQLiteRepository(ctx, cfg.Client.TokenDB)
}

func newClient(cfg *config.Config, logger *log.Logger, tokens repositories.TokenRepository, handlers coop.Handlers) (*coop.Client, error) {
	codec, err := messages.CodecByName(cfg.Client.Codec)
	if err != nil {
		return nil, err
	}
	return coop.NewClient(coop.Options{
		ServerURL:            cfg.Client.ServerURL,
		Dialer:               &network.WSDialer{Binary: codec.Binary()},
		Codec:                codec,
		Logger:               logger,
		Tokens:               tokens,
		HeartbeatInterval:    cfg.Client.HeartbeatInterval,
		ActionTimeout:        cfg.Client.ActionTimeout,
		ResyncInterval:       cfg.Client.ResyncInterval,
		ReconnectBaseDelay:   cfg.Client.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		SendInterval:         cfg.Client.SendInterval,
		EntityDeltaInterval:  cfg.Client.EntityDeltaInterval,
		FullSyncInterval:     cfg.Client.FullSyncInterval,
		SnapDistance:         cfg.Client.SnapDistance,
		BlendFactor:          cfg.Client.BlendFactor,
		Handlers:             handlers,
	}), nil
}
