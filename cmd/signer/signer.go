package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/nutsnode/mintcore/crypto"
	"github.com/nutsnode/mintcore/logger"
	"github.com/nutsnode/mintcore/mint/config"
	"github.com/nutsnode/mintcore/mint/pubsub"
	"github.com/nutsnode/mintcore/signer"
)

func main() {
	app := &cli.App{
		Name:  "signer",
		Usage: "blind signing service holding the mint private keys",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the config file",
				EnvVars: []string{"SIGNER_CONFIG"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "signer: %v\n", err)
		os.Exit(1)
	}
}

func serverOptions(cfg config.SignerConfig) ([]grpc.ServerOption, error) {
	if cfg.Insecure {
		return nil, nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.New("signer.cert_file and signer.key_file are required unless signer.insecure is set")
	}
	creds, err := credentials.NewServerTLSFromFile(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("error loading tls credentials: %v", err)
	}
	return []grpc.ServerOption{grpc.Creds(creds)}, nil
}

func run(cliCtx *cli.Context) error {
	cfg, err := config.Load(cliCtx.String("config"), config.SignerEnvPrefix)
	if err != nil {
		return err
	}
	if cfg.Keys.Mnemonic == "" {
		return errors.New("keys.mnemonic is required")
	}
	specs, err := cfg.KeysetSpecs()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	keys, err := crypto.NewKeyManager(cfg.Keys.Mnemonic, specs)
	if err != nil {
		return fmt.Errorf("error deriving keysets: %v", err)
	}
	for _, keyset := range keys.Keysets() {
		log.Info().
			Str("keyset_id", keyset.Id).
			Str("unit", keyset.Unit).
			Bool("active", keyset.Active).
			Msg("loaded keyset")
	}

	opts, err := serverOptions(cfg.Signer)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := signer.NewServer(keys, log)

	// deactivations made through the mint admin server reach the signer
	// over the shared redis channel
	if cfg.Redis.Enabled() {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		bus := pubsub.NewPubSub()
		sub := bus.Subscribe(pubsub.KeysetsTopic)
		defer sub.Close()

		bridge := pubsub.NewRedisBridge(rdb, cfg.Redis.Channel, bus, log)
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer bridge.Close()
		go srv.WatchKeysetEvents(ctx, sub)
	} else {
		log.Warn().Msg("redis not configured, keyset deactivations will not reach the signer")
	}

	return signer.Serve(ctx, signer.NewGRPCServer(srv, opts...), cfg.Signer.Addr, log)
}
