package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"roulette/internal/cache"
	"roulette/internal/config"
	"roulette/internal/database"
	"roulette/internal/events"
	"roulette/internal/game"
	"roulette/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.SetupLogging(); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store game.RoundStore
		db    database.Service
	)
	switch cfg.RoundStore {
	case "memory":
		log.Warn().Msg("using in-memory round store, rounds are lost on restart")
		store = game.NewMemoryStore()
	default:
		db, err = database.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		store = database.NewRoundStore(db.Pool())
	}

	hub := game.NewHub()
	go hub.Run()

	notifiers := game.Notifiers{hub}

	redisService := cache.New(cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	var rounds *cache.RoundCache
	if redisService != nil {
		defer redisService.Close()
		rounds = cache.NewRoundCache(redisService.GetClient(), cfg.Redis.RoundTTL)
		notifiers = append(notifiers, rounds)
	}

	if cfg.NATS.URL != "" {
		jsCfg := events.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		jsCfg.StreamName = cfg.NATS.Stream
		jsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		publisher, err := events.NewPublisher(jsCfg)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("failed to connect to NATS")
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}

	clock := clockwork.NewRealClock()
	planner := game.NewPlanner(store, game.NewGenerator(), cfg.Policy(), notifiers)
	advancer := game.NewAdvancer(store, cfg.Policy(), notifiers)

	scheduler := game.NewScheduler(clock, cfg.Schedule.StoreTimeout)
	scheduler.Register(game.RoundTasks(planner, advancer, cfg.Cadences())...)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	deps := server.Deps{
		Store:             store,
		Planner:           planner,
		Scheduler:         scheduler,
		Hub:               hub,
		DB:                db,
		Cache:             redisService,
		Clock:             clock,
		AdminToken:        cfg.AdminToken,
		RequestsPerMinute: 100,
		StoreTimeout:      cfg.Schedule.StoreTimeout,
	}
	if rounds != nil {
		deps.Rounds = rounds
	}
	srv := server.New(deps)
	srv.RegisterFiberRoutes()

	done := make(chan struct{})
	go gracefulShutdown(ctx, srv, done)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Str("env", cfg.AppEnv).Str("store", cfg.RoundStore).Bool("nats", cfg.NATS.URL != "").Msg("roulette server starting")
	if err := srv.Listen(addr); err != nil {
		log.Error().Err(err).Msg("http server error")
	}

	<-done
	log.Info().Msg("graceful shutdown complete")
}

func gracefulShutdown(ctx context.Context, srv *server.FiberServer, done chan<- struct{}) {
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully")

	if err := srv.Shutdown(); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	close(done)
}
