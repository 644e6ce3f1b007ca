package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cryptobay/cryptobay/internal/alert"
	"github.com/cryptobay/cryptobay/internal/chat"
	"github.com/cryptobay/cryptobay/internal/config"
	"github.com/cryptobay/cryptobay/internal/feed"
	"github.com/cryptobay/cryptobay/internal/ledger"
	"github.com/cryptobay/cryptobay/internal/server"
)

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}

	feedClient := feed.NewCoinGecko(feed.CoinGeckoConfig{
		BaseURL: cfg.Feed.BaseURL,
		Timeout: cfg.FeedTimeout(),
		RPM:     cfg.Feed.RPM,
		Assets:  cfg.Symbols,
	})

	engine := ledger.NewEngine(store, feedClient, cfg.SupportedSymbols())

	hub := server.NewHub()
	watcher := alert.NewWatcher(alert.Config{
		AssetID:       cfg.Alerts.Asset,
		Symbol:        cfg.Alerts.Symbol,
		Threshold:     cfg.Alerts.ThresholdPercent,
		Interval:      cfg.AlertInterval(),
		ErrorInterval: cfg.AlertErrorInterval(),
		BaselineOnly:  cfg.Alerts.BaselineOnly,
	}, feedClient, hub)

	router := chat.NewRouter(chat.Config{
		RefAssetID: cfg.Alerts.Asset,
		RefSymbol:  cfg.Alerts.Symbol,
		Threshold:  cfg.Alerts.ThresholdPercent,
		TopN:       cfg.Feed.TopN,
	}, engine, feedClient, watcher)

	srv := server.New(server.Config{Addr: cfg.ListenAddr}, router, hub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", version).Str("backend", cfg.Storage.Backend).
		Str("addr", cfg.ListenAddr).Msgf("%s starting", appName)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := watcher.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		return srv.Run(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}

func buildStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Storage.Backend {
	case "file":
		return ledger.NewFileStore(cfg.Storage.File)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		return ledger.NewRedisStore(client), nil
	case "postgres":
		db, err := sqlx.Connect("postgres", cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return ledger.NewPostgresStore(db)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
