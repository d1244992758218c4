package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"roulette/internal/cache"
	"roulette/internal/database"
	"roulette/internal/game"
)

// RoundReader is the read side of the round cache.
type RoundReader interface {
	Get(ctx context.Context, id string) (game.PublicRound, bool, error)
}

// Deps are the components the HTTP layer reads from. DB, Cache and Rounds
// are optional.
type Deps struct {
	Store      game.RoundStore
	Planner    *game.Planner
	Scheduler  *game.Scheduler
	Hub        *game.Hub
	DB         database.Service
	Cache      cache.Service
	Rounds     RoundReader
	Clock      clockwork.Clock
	AdminToken string
	// RequestsPerMinute caps requests per client IP; zero disables the limiter.
	RequestsPerMinute int
	StoreTimeout      time.Duration
}

type FiberServer struct {
	*fiber.App

	store        game.RoundStore
	planner      *game.Planner
	scheduler    *game.Scheduler
	hub          *game.Hub
	db           database.Service
	cache        cache.Service
	rounds       RoundReader
	clock        clockwork.Clock
	adminToken   string
	storeTimeout time.Duration
}

func New(d Deps) *FiberServer {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = game.DEFAULT_TASK_TIMEOUT
	}

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "roulette",
			AppName:       "roulette",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		store:        d.Store,
		planner:      d.Planner,
		scheduler:    d.Scheduler,
		hub:          d.Hub,
		db:           d.DB,
		cache:        d.Cache,
		rounds:       d.Rounds,
		clock:        d.Clock,
		adminToken:   d.AdminToken,
		storeTimeout: d.StoreTimeout,
	}

	// Apply global middleware
	server.App.Use(recover.New())
	if d.RequestsPerMinute > 0 {
		server.App.Use(limiter.New(limiter.Config{
			Max:        d.RequestsPerMinute,
			Expiration: 1 * time.Minute,
		}))
	}

	return server
}

// Shutdown stops the scheduler and hub, then drains HTTP connections.
// Store and cache connections belong to the caller.
func (s *FiberServer) Shutdown() error {
	log.Info().Msg("shutting down server")

	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.hub != nil {
		s.hub.Stop()
	}

	return s.App.ShutdownWithTimeout(10 * time.Second)
}
