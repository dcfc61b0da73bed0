package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/usecase/cloudsync"
	"cryptofolio/internal/infrastructure/config"
	"cryptofolio/internal/infrastructure/logger"
	"cryptofolio/internal/infrastructure/svc"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	owner := flag.String("owner", "", "owner id to sign in as (overrides app.owner_id)")
	signOut := flag.Bool("signout", false, "drop the owner's cached state and exit")
	flag.Parse()

	logger.Setup("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.SetLevel(cfg.App.LogLevel)

	ownerID := cfg.App.OwnerID
	if *owner != "" {
		ownerID = *owner
	}
	if ownerID == "" {
		log.Fatal().Msg("no owner id: set app.owner_id or pass -owner")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context initialization failed")
	}
	defer sc.Close()

	if *signOut {
		if err := sc.Session.Start(ctx, ownerID); err != nil {
			log.Warn().Err(err).Msg("start before sign out")
		}
		if err := sc.Session.SignOut(ctx); err != nil {
			log.Error().Err(err).Str("owner", ownerID).Msg("sign out failed")
			return
		}
		log.Info().Str("owner", ownerID).Msg("signed out")
		return
	}

	sc.StartBackground(ctx)

	// 配置热更新：仅日志级别即时生效，其余需重启
	if w, err := config.NewWatcher(*configPath, 2*time.Second, func(next *config.Config) {
		logger.SetLevel(next.App.LogLevel)
		log.Info().Str("log_level", next.App.LogLevel).Msg("log level applied")
	}); err != nil {
		log.Warn().Err(err).Msg("config watcher unavailable")
	} else {
		defer w.Close()
		go w.Run(ctx)
	}

	if err := sc.Session.Start(ctx, ownerID); err != nil {
		if errors.Is(err, cloudsync.ErrInitializationIncomplete) {
			log.Warn().Err(err).Msg("running from local cache until the remote is reachable")
		} else {
			log.Error().Err(err).Msg("session start failed")
		}
	}

	log.Info().
		Str("config", *configPath).
		Str("owner", ownerID).
		Str("remote", cfg.Remote.Backend).
		Str("market", sc.Market.Name()).
		Dur("poll_interval", cfg.PollInterval()).
		Msg("cryptofolio started")

	<-ctx.Done()
	log.Info().Msg("shutting down")
}
