package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nutsnode/mintcore/crypto"
	"github.com/nutsnode/mintcore/indexer"
	"github.com/nutsnode/mintcore/logger"
	"github.com/nutsnode/mintcore/mint"
	"github.com/nutsnode/mintcore/mint/config"
	"github.com/nutsnode/mintcore/mint/manager"
	"github.com/nutsnode/mintcore/mint/pubsub"
	"github.com/nutsnode/mintcore/mint/storage"
	"github.com/nutsnode/mintcore/mint/storage/postgres"
	"github.com/nutsnode/mintcore/mint/storage/sqlite"
	"github.com/nutsnode/mintcore/signer"
)

const shutdownTimeout = 10 * time.Second

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the config file",
	EnvVars: []string{"MINT_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:   "mint",
		Usage:  "ecash mint transaction core",
		Flags:  []cli.Flag{configFlag},
		Action: serve,
		Commands: []*cli.Command{
			serveCmd,
			keysetsCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mint: %v\n", err)
		os.Exit(1)
	}
}

var serveCmd = &cli.Command{
	Name:   "serve",
	Usage:  "run the mint and admin servers",
	Flags:  []cli.Flag{configFlag},
	Action: serve,
}

var keysetsCmd = &cli.Command{
	Name:   "keysets",
	Usage:  "print the ids of the configured keysets",
	Flags:  []cli.Flag{configFlag},
	Action: printKeysets,
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String("config"), config.MintEnvPrefix)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}
	return cfg, nil
}

func printKeysets(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	mintConfig, err := cfg.MintConfig()
	if err != nil {
		return err
	}
	keys, err := crypto.NewKeyManager(mintConfig.Mnemonic, mintConfig.Keysets)
	if err != nil {
		return err
	}

	for _, keyset := range keys.Keysets() {
		jsonKeyset, err := json.Marshal(map[string]any{
			"id":     keyset.Id,
			"unit":   keyset.Unit,
			"active": keyset.Active,
			"keys":   keyset.PublicKeys(),
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", jsonKeyset)
	}
	return nil
}

func openDB(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.MintDB, error) {
	if cfg.Database.Driver == config.DriverPostgres {
		db, err := postgres.InitPostgres(ctx, cfg.Database.Postgres(), log)
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	if err := os.MkdirAll(cfg.Database.Path, 0700); err != nil {
		return nil, err
	}
	db, err := sqlite.InitSQLite(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", cfg.Database.Path).Msg("sqlite database ready")
	return db, nil
}

func serve(cliCtx *cli.Context) error {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}
	mintConfig, err := cfg.MintConfig()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("error opening database: %v", err)
	}
	defer db.Close()

	signerClient, err := signer.Dial(cfg.Signer.Addr, signer.DialOptions{
		Insecure: cfg.Signer.Insecure,
		Timeout:  cfg.Signer.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("error connecting to signer: %v", err)
	}
	defer signerClient.Close()

	bus := pubsub.NewPubSub()
	var events mint.KeysetEvents = bus
	if cfg.Redis.Enabled() {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		bridge := pubsub.NewRedisBridge(rdb, cfg.Redis.Channel, bus, log)
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer bridge.Close()
		events = bridge
	}

	m, err := mint.LoadMint(ctx, mintConfig, db, signerClient, events, log)
	if err != nil {
		return fmt.Errorf("error loading mint: %v", err)
	}

	sub := bus.Subscribe(pubsub.KeysetsTopic)
	defer sub.Close()
	go m.WatchKeysetEvents(ctx, sub)

	mintServer := mint.SetupMintServer(m, cfg.Server.Addr, log)
	mintServer.EnableWebsocket(bus)
	adminServer := manager.SetupServer(m, cfg.Server.AdminAddr, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(mintServer.Start)
	g.Go(adminServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mintServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return adminServer.Shutdown(shutdownCtx)
	})

	if cfg.Indexer.Enabled {
		svc, closeIndexer, err := spawnIndexer(cfg, log)
		if err != nil {
			return err
		}
		defer closeIndexer()
		g.Go(func() error {
			return indexer.Listen(gctx, svc)
		})
	}

	return g.Wait()
}

// spawnIndexer reads chain events from the Redis stream fed by the chain
// watcher, authenticating with the indexer token.
func spawnIndexer(cfg *config.Config, log zerolog.Logger) (*indexer.Service, func(), error) {
	if !cfg.Redis.Enabled() {
		return nil, nil, fmt.Errorf("indexer requires redis.addr")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Indexer.Token,
		DB:       cfg.Redis.DB,
	})

	svc, err := indexer.Spawn(cfg.Indexer.Config, indexer.NewRedisSource(client, cfg.Indexer.Stream), log)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("error starting indexer: %v", err)
	}
	return svc, func() {
		svc.Close()
		client.Close()
	}, nil
}
