package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"

	"roulette/internal/game"
)

func (s *FiberServer) RegisterFiberRoutes() {
	// Apply CORS middleware
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	rounds := api.Group("/rounds")
	rounds.Get("/planned", s.roundsByStatusHandler(game.StatusPlanned))
	rounds.Get("/open", s.roundsByStatusHandler(game.StatusBettingOpen))
	rounds.Post("/generate", s.requireAdmin, s.generateRoundsHandler)
	rounds.Get("/:id", s.getRoundHandler)
	rounds.Get("/:id/verify", s.verifyRoundHandler)

	if s.hub != nil {
		s.App.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		s.App.Get("/ws", websocket.New(s.roundWebSocketHandler))
	}
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	if s.scheduler != nil {
		health["scheduler"] = fiber.Map{
			"running": s.scheduler.Running(),
			"tasks":   s.scheduler.Status(),
		}
	}
	if s.hub != nil {
		health["connected_clients"] = s.hub.GetClientCount()
	}
	return c.JSON(health)
}

func (s *FiberServer) roundsByStatusHandler(status game.Status) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := s.storeContext(c)
		defer cancel()

		rounds, err := s.store.FindByStatus(ctx, status)
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(game.PublicRounds(rounds))
	}
}

// getRoundHandler serves revealed rounds from the round cache. Anything still
// in play may have moved on since it was cached, so it is read from the store.
func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	id := c.Params("id")
	ctx, cancel := s.storeContext(c)
	defer cancel()

	if s.rounds != nil {
		cached, ok, err := s.rounds.Get(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("round_id", id).Msg("round cache read failed")
		}
		if ok && cached.Status.Revealed() {
			return c.JSON(cached)
		}
	}

	r, err := s.store.FindByID(ctx, id)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(r.Public())
}

// verifyRoundHandler recomputes the commitment of a revealed round.
func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	ctx, cancel := s.storeContext(c)
	defer cancel()

	r, err := s.store.FindByID(ctx, c.Params("id"))
	if err != nil {
		return storeError(c, err)
	}
	if !r.Status.Revealed() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  "Round outcome not revealed yet",
			"status": r.Status,
		})
	}

	return c.JSON(fiber.Map{
		"round":    r.Public(),
		"verified": r.Verify(),
	})
}

// generateRoundsHandler runs the planner on demand. The optional target
// query parameter (RFC 3339) replaces the current time as reference.
func (s *FiberServer) generateRoundsHandler(c *fiber.Ctx) error {
	ref := s.clock.Now()
	if target := c.Query("target"); target != "" {
		t, err := time.Parse(time.RFC3339, target)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "target must be an RFC 3339 timestamp",
			})
		}
		ref = t
	}

	ctx, cancel := s.storeContext(c)
	defer cancel()

	created, err := s.planner.EnsureRounds(ctx, ref)
	if err != nil {
		log.Error().Err(err).Time("reference", ref).Int("created", len(created)).Msg("manual generation failed")
		return storeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"reference": ref.UTC(),
		"created":   game.PublicRounds(created),
	})
}

// requireAdmin checks the bearer token. With no token configured the admin
// routes are closed.
func (s *FiberServer) requireAdmin(c *fiber.Ctx) error {
	if s.adminToken == "" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Admin routes are disabled",
		})
	}
	token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid admin token",
		})
	}
	return c.Next()
}

// roundWebSocketHandler streams round transitions. New clients first get the
// open and planned rounds.
func (s *FiberServer) roundWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")
	client := s.hub.RegisterClient(conn, userID)
	if client == nil {
		log.Debug().Str("user_id", userID).Msg("ws rejected, hub stopped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	initial := make([]game.PublicRound, 0)
	for _, status := range []game.Status{game.StatusBettingOpen, game.StatusPlanned} {
		rounds, err := s.store.FindByStatus(ctx, status)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("ws initial state incomplete")
			continue
		}
		initial = append(initial, game.PublicRounds(rounds)...)
	}
	cancel()
	client.SendInitialState(initial)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("user_id", userID).Msg("ws read ended")
			s.hub.UnregisterClient(conn)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var clientMsg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			continue
		}
		if clientMsg.Type == "ping" {
			client.Pong()
		}
	}
}

func (s *FiberServer) storeContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.storeTimeout)
}

func storeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, game.ErrRoundNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Round not found"})
	case errors.Is(err, game.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Round store unavailable"})
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	}
}
