// Command loginserver runs the login gateway process (spec.md §4.2):
// it accepts clients, authenticates them, lists/creates characters, and
// hands each one off to a channel selected from the shared JSON config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ironspire/realmgate/internal/config"
	"github.com/ironspire/realmgate/internal/control"
	"github.com/ironspire/realmgate/internal/db"
	"github.com/ironspire/realmgate/internal/dbengine"
	"github.com/ironspire/realmgate/internal/login"
	"github.com/ironspire/realmgate/internal/reactor"
)

func main() {
	configPath := flag.String("config", "config/login.json", "path to the login JSON config file")
	listenAddr := flag.String("listen", ":8484", "client-facing listen address")
	autoCreate := flag.Bool("auto-create-accounts", true, "create an account on first login instead of rejecting it")
	workers := flag.Int("workers", 0, "reactor worker count (0 = one per GOMAXPROCS)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *listenAddr, *autoCreate, *workers); err != nil {
		slog.Error("loginserver: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, listenAddr string, autoCreate bool, workers int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("loginserver: config loaded", "worlds", len(cfg.Worlds))

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("loginserver: database ready")

	conn := dbengine.NewConnection(database)

	ctl := control.NewServer(nil, nil)
	endpoints := channelEndpoints(cfg)
	slog.Info("loginserver: dialing configured channels", "count", len(endpoints))

	clientLn, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listening for clients on %s: %w", listenAddr, err)
	}
	defer clientLn.Close()

	app := login.NewApp(cfg, conn, ctl, autoCreate)
	pool := reactor.NewPool(reactor.Config{Workers: workers}, app)

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	g.Go(func() error {
		ctl.Run(endpoints, stop)
		return nil
	})

	g.Go(func() error {
		go pool.Run()
		slog.Info("loginserver: client listening", "addr", clientLn.Addr())
		err := pool.Serve(clientLn, "")
		if gctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("client listener: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		close(stop)
		pool.Shutdown()
		_ = clientLn.Close()
		return nil
	})

	return g.Wait()
}

// channelEndpoints flattens every configured world's channels into the
// dial addresses and identifiers control.Server.Run needs (spec.md
// §4.4: "each (world,channel) has a persistent stream from the login
// process to the channel process").
func channelEndpoints(cfg *config.Config) []control.ChannelEndpoint {
	var endpoints []control.ChannelEndpoint
	for wi, w := range cfg.Worlds {
		for ci, ch := range w.Channels {
			endpoints = append(endpoints, control.ChannelEndpoint{
				ChannelID: config.ChannelKey(wi, ci),
				Addr:      ch.Host,
			})
		}
	}
	return endpoints
}
