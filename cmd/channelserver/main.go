// Command channelserver runs one (world, channel) game process
// (spec.md §4.3): it listens for login's persistent control connection,
// gates every accepted client behind token redemption, and schedules
// sessions across reactor rooms.
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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ironspire/realmgate/internal/channel"
	"github.com/ironspire/realmgate/internal/config"
	"github.com/ironspire/realmgate/internal/control"
	"github.com/ironspire/realmgate/internal/db"
	"github.com/ironspire/realmgate/internal/model"
	"github.com/ironspire/realmgate/internal/reactor"
)

func main() {
	configPath := flag.String("config", "config/login.json", "path to the shared JSON config (database + world/channel table)")
	worldID := flag.Int("world", 0, "index into config.worlds this process serves")
	channelID := flag.Int("channel", 0, "index into config.worlds[world].channels this process serves")
	statePath := flag.String("state", "", "path to persist last-seen timestamp for the reconnect window (optional)")
	maxCapacity := flag.Int64("max-capacity", 1000, "advertised maximum online players, reported to login")
	workers := flag.Int("workers", 0, "reactor worker count (0 = one per GOMAXPROCS)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *worldID, *channelID, *statePath, *maxCapacity, *workers); err != nil {
		slog.Error("channelserver: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, worldID, channelID int, statePath string, maxCapacity int64, workers int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ch, err := cfg.ChannelAt(worldID, channelID)
	if err != nil {
		return fmt.Errorf("resolving this channel's own config entry: %w", err)
	}
	channelKey := config.ChannelKey(worldID, channelID)
	slog.Info("channelserver: starting", "channel", channelKey, "listen_ip", ch.IP, "listen_port", ch.Port, "control_addr", ch.Host)

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	pending := control.NewPendingTokens()
	ctl := control.NewClient(channelKey, statePath, func(token, characterID uint32) {
		pending.Add(token, characterID)
	}, func() {
		pending.Reset()
		slog.Warn("channelserver: login instructed a full kick on fresh reconnect")
	})

	content := &dbContentRepository{db: database}
	app := channel.NewApp(pending, ctl, content, nil, maxCapacity)
	pool := reactor.NewPool(reactor.Config{Workers: workers}, app)

	clientAddr := fmt.Sprintf(":%d", ch.Port)
	clientLn, err := net.Listen("tcp", clientAddr)
	if err != nil {
		return fmt.Errorf("listening for clients on %s: %w", clientAddr, err)
	}
	defer clientLn.Close()

	// ch.Host is this channel's control-dial address: login connects to
	// it (spec.md §4.4), so here it is what this process listens on.
	ctlLn, err := net.Listen("tcp", ch.Host)
	if err != nil {
		return fmt.Errorf("listening for login's control connection on %s: %w", ch.Host, err)
	}
	defer ctlLn.Close()

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	g.Go(func() error {
		slog.Info("channelserver: control listening", "addr", ctlLn.Addr())
		ctl.Serve(ctlLn, stop)
		return nil
	})

	g.Go(func() error {
		app.RunCapacityReporting(gctx, 10*time.Second)
		return nil
	})

	g.Go(func() error {
		go pool.Run()
		slog.Info("channelserver: client listening", "addr", clientLn.Addr())
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
		_ = ctlLn.Close()
		return nil
	})

	return g.Wait()
}

// dbContentRepository is the reference ContentRepository wiring: static
// drop tables are read straight from the shared database rather than an
// in-memory content pack, since this core ships no game content of its
// own (spec.md §1 Non-goals).
type dbContentRepository struct {
	db *db.DB
}

func (r *dbContentRepository) MonsterDrops(monsterID int) ([]model.MonsterDrop, error) {
	return r.db.MonsterDrops(context.Background(), monsterID)
}
