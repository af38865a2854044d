package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kairoslabs/kairos-agent/internal/allergen"
	"github.com/kairoslabs/kairos-agent/internal/middleware"
	"github.com/kairoslabs/kairos-agent/internal/service"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

// UserHandler serves the agent-side profile store. Profile creation is
// backend-to-agent and service-token protected; the rest identify the user
// via X-User-ID.
type UserHandler struct {
	users        service.UserStore
	serviceToken string
	jwtSecret    string
	logger       zerolog.Logger
}

// NewUserHandler creates a new UserHandler instance.
func NewUserHandler(users service.UserStore, serviceToken, jwtSecret string, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		users:        users,
		serviceToken: serviceToken,
		jwtSecret:    jwtSecret,
		logger:       logger.With().Str("handler", "users").Logger(),
	}
}

// RegisterRoutes registers the user routes on the given router group.
func (h *UserHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/users/:uid", middleware.RequireServiceToken(h.serviceToken), h.CreateUser)

	users := router.Group("/users")
	users.Use(middleware.UserIdentity(h.jwtSecret))
	{
		users.GET("/:uid", h.GetUser)
		users.PATCH("/:uid", h.PatchPreferences)
		users.PATCH("/:uid/allergies", h.PatchAllergies)
		users.GET("/:uid/interactions", h.ListInteractions)
	}
}

func (h *UserHandler) pathUID(c *gin.Context) (uuid.UUID, bool) {
	uid, err := uuid.Parse(c.Param("uid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return uuid.Nil, false
	}
	return uid, true
}

func (h *UserHandler) ownUID(c *gin.Context) (uuid.UUID, bool) {
	uid, ok := h.pathUID(c)
	if !ok {
		return uuid.Nil, false
	}
	authUID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return uuid.Nil, false
	}
	if uid != authUID {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot access another user's profile"})
		return uuid.Nil, false
	}
	return uid, true
}

// CreateUser creates the profile row after registration.
func (h *UserHandler) CreateUser(c *gin.Context) {
	uid, ok := h.pathUID(c)
	if !ok {
		return
	}

	var req types.UserCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := h.users.CreateProfile(c.Request.Context(), uid, &req); err != nil {
		h.logger.Error().Err(err).Str("uid", uid.String()).Msg("profile creation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uid": uid})
}

// GetUser returns the full flattened profile.
func (h *UserHandler) GetUser(c *gin.Context) {
	uid, ok := h.ownUID(c)
	if !ok {
		return
	}

	profile, err := h.users.GetProfile(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error().Err(err).Str("uid", uid.String()).Msg("profile fetch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// PatchPreferences deep-merges into preferences only. Allergy data cannot
// be changed through this endpoint.
func (h *UserHandler) PatchPreferences(c *gin.Context) {
	uid, ok := h.ownUID(c)
	if !ok {
		return
	}

	var req types.PreferencesPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	delete(req.Preferences, "allergies")

	profile, err := h.users.GetProfile(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error().Err(err).Str("uid", uid.String()).Msg("profile fetch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update preferences"})
		return
	}

	merged := service.MergePreferences(profile.Preferences, req.Preferences)
	dietary := stringList(merged["dietary"])
	vibes := stringList(merged["vibes"])

	if err := h.users.SavePreferences(c.Request.Context(), uid, merged, dietary, vibes); err != nil {
		h.logger.Error().Err(err).Str("uid", uid.String()).Msg("preference save failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update preferences"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uid": uid, "preferences": merged})
}

// PatchAllergies replaces the full allergies object. The only write path
// for allergy data.
func (h *UserHandler) PatchAllergies(c *gin.Context) {
	uid, ok := h.ownUID(c)
	if !ok {
		return
	}

	var req types.AllergiesPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	for name, severity := range req.Severity {
		if !allergen.KnownSeverity(severity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity for " + name})
			return
		}
	}

	flags, err := h.users.ReplaceAllergies(c.Request.Context(), uid, types.Allergies{
		Confirmed:    req.Confirmed,
		Intolerances: req.Intolerances,
		Severity:     req.Severity,
	})
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error().Err(err).Str("uid", uid.String()).Msg("allergy replace failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update allergies"})
		return
	}

	c.JSON(http.StatusOK, types.AllergyFlagsResponse{
		UID:          uid,
		AllergyFlags: flags,
		Updated:      true,
	})
}

// ListInteractions returns the paginated audit trail for one user.
func (h *UserHandler) ListInteractions(c *gin.Context) {
	uid, ok := h.ownUID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := h.users.ListInteractions(c.Request.Context(), uid, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("uid", uid.String()).Msg("interaction list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list interactions"})
		return
	}
	c.JSON(http.StatusOK, list)
}

func stringList(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
