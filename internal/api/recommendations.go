package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kairoslabs/kairos-agent/internal/middleware"
	"github.com/kairoslabs/kairos-agent/internal/service"
)

// RecommendationHandler serves the daily feed and the expand endpoint.
type RecommendationHandler struct {
	recommender *service.RecommendationService
	jwtSecret   string
	logger      zerolog.Logger
}

// NewRecommendationHandler creates a new RecommendationHandler instance.
func NewRecommendationHandler(recommender *service.RecommendationService, jwtSecret string, logger zerolog.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		recommender: recommender,
		jwtSecret:   jwtSecret,
		logger:      logger.With().Str("handler", "recommendations").Logger(),
	}
}

// RegisterRoutes registers the recommendation routes on the given router group.
func (h *RecommendationHandler) RegisterRoutes(router *gin.RouterGroup) {
	recs := router.Group("/recommendations")
	recs.Use(middleware.UserIdentity(h.jwtSecret))
	{
		recs.GET("/:uid", h.GetFeed)
		recs.GET("/:uid/:restaurantID/expand", h.Expand)
	}
}

func (h *RecommendationHandler) resolveUID(c *gin.Context) (uuid.UUID, bool) {
	authUID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return uuid.Nil, false
	}
	pathUID, err := uuid.Parse(c.Param("uid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return uuid.Nil, false
	}
	if pathUID != authUID {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot access another user's recommendations"})
		return uuid.Nil, false
	}
	return pathUID, true
}

// GetFeed returns the cached-per-day recommendation feed.
func (h *RecommendationHandler) GetFeed(c *gin.Context) {
	uid, ok := h.resolveUID(c)
	if !ok {
		return
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 25 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 25"})
			return
		}
		limit = parsed
	}
	refresh := c.Query("refresh") == "true"

	payload, err := h.recommender.GetRecommendations(c.Request.Context(), uid, limit, refresh)
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error().Err(err).Str("uid", uid.String()).Msg("feed generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate recommendations"})
		return
	}

	c.Data(http.StatusOK, "application/json", payload)
}

// Expand returns the rich single-restaurant detail, always freshly built.
func (h *RecommendationHandler) Expand(c *gin.Context) {
	uid, ok := h.resolveUID(c)
	if !ok {
		return
	}

	restaurantID, err := strconv.ParseInt(c.Param("restaurantID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid restaurant id"})
		return
	}

	detail, err := h.recommender.GetExpandedDetail(c.Request.Context(), uid, restaurantID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRestaurantNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "restaurant not found"})
		case errors.Is(err, service.ErrProfileNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			h.logger.Error().Err(err).Int64("restaurant_id", restaurantID).Msg("expand failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate detail"})
		}
		return
	}

	c.JSON(http.StatusOK, detail)
}
