package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/kairoslabs/kairos-agent/config"
	"github.com/kairoslabs/kairos-agent/internal/api"
	"github.com/kairoslabs/kairos-agent/internal/middleware"
	"github.com/kairoslabs/kairos-agent/internal/service"
)

// Server wires the pipeline services behind the HTTP edge.
type Server struct {
	router *gin.Engine
	http   *http.Server
	logger zerolog.Logger
}

// New composes every service and registers all routes. redisClient may be
// nil when the cache backend is in-memory.
func New(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, logger zerolog.Logger) *Server {
	gin.SetMode(config.GinMode())

	var caches *service.ResultCache
	if cfg.CacheBackend == "redis" && redisClient != nil {
		caches = service.NewRedisResultCache(redisClient, logger)
	} else {
		caches = service.NewMemoryResultCache()
	}

	gateway := service.NewLLMService(cfg, logger)
	embedder := service.NewEmbeddingService(cfg, logger)
	restaurants := service.NewGormRestaurantStore(db, logger)
	vectorIndex := service.NewGormVectorIndex(db, logger)
	users := service.NewGormUserStore(db, logger)
	ranker := service.NewHybridSearchService(restaurants, vectorIndex, embedder, logger)
	guard := service.NewAllergyGuard(logger)
	scorer := service.NewFitScorer()
	recorder := service.NewInteractionRecorder(db, logger)
	recommender := service.NewRecommendationService(restaurants, users, gateway, guard, scorer, caches.Feed, logger)
	profiler := service.NewProfiler(gateway, users, recommender, logger)
	orchestrator := service.NewOrchestrator(gateway, ranker, guard, users, caches, recorder, profiler, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	api.NewHealthHandler(db).RegisterRoutes(router)

	v1 := router.Group("/api/v1")
	api.NewChatHandler(orchestrator, cfg.JWTSecret, logger).RegisterRoutes(v1)
	api.NewRecommendationHandler(recommender, cfg.JWTSecret, logger).RegisterRoutes(v1)
	api.NewUserHandler(users, cfg.ServiceToken, cfg.JWTSecret, logger).RegisterRoutes(v1)

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.ServerHost + ":" + cfg.ServerPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "server").Logger(),
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
