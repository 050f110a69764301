package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type,X-Admin-Token",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/rounds/current", s.currentRoundHandler)
	api.Post("/rounds", s.authenticated, s.createRoundHandler)
	api.Get("/rounds/:id/fairness", s.fairnessHandler)

	api.Post("/bets", s.authenticated, s.placeBetHandler)
	api.Post("/bets/:id/cashout", s.authenticated, s.cashOutHandler)

	api.Get("/settings", s.getSettingsHandler)
	api.Put("/settings/chances", s.adminOnly, s.updateChancesHandler)
	api.Put("/settings/limits", s.adminOnly, s.updateLimitsHandler)

	s.App.Use("/ws", s.upgradeWebSocket)
	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}
