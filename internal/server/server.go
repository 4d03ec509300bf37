package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crisisengine/internal/handler"
	"crisisengine/internal/metrics"
	"crisisengine/internal/middleware"
)

// Deps carries the assembled application components for route wiring.
type Deps struct {
	Ingest    handler.IngestHandler
	Cases     handler.CaseHandler
	Rules     handler.RuleHandler
	Analytics handler.AnalyticsHandler
	Resources handler.ResourceHandler
	Auth      handler.AuthHandler
}

type Server struct {
	router *gin.Engine
	logger *zap.Logger
}

func NewServer(deps Deps, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router: router,
		logger: logger,
	}

	s.setupRoutes(deps)

	return s
}

func (s *Server) setupRoutes(deps Deps) {
	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Authentication routes
	authGroup := s.router.Group("/api/auth")
	authGroup.POST("/login", deps.Auth.Login)

	// Content ingestion is called by upstream services, not staff; it
	// carries no bearer token.
	s.router.POST("/api/v1/content", deps.Ingest.SubmitContent)

	// Authenticated staff routes
	api := s.router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(s.logger))
	{
		api.GET("/cases", deps.Cases.ListCases)
		api.GET("/cases/:id", deps.Cases.GetCase)
		api.POST("/cases/:id/assign", middleware.RequireRole("supervisor"), deps.Cases.AssignCase)
		api.POST("/cases/:id/transition", deps.Cases.TransitionCase)
		api.GET("/detections/flagged", deps.Cases.ReviewQueue)
		api.POST("/detections/:id/review", deps.Cases.ReviewDetection)

		api.GET("/resources", deps.Resources.GetResources)

		api.GET("/analytics/dashboard", deps.Analytics.GetDashboard)
		api.GET("/analytics/snapshots", deps.Analytics.ListSnapshots)
		api.GET("/analytics/recommendations", middleware.RequireRole("curator"), deps.Analytics.GetRecommendations)

		curator := api.Group("/rules")
		curator.Use(middleware.RequireRole("curator"))
		{
			curator.GET("", deps.Rules.ListRules)
			curator.POST("", deps.Rules.CreateRule)
			curator.PUT("/:id", deps.Rules.UpdateRule)
			curator.DELETE("/:id", deps.Rules.DeactivateRule)
			curator.POST("/reload", deps.Rules.ReloadRules)
		}
	}
}

func (s *Server) Run(addr string) error {
	s.logger.Info("Server starting", zap.String("addr", addr))
	return s.router.Run(addr)
}
