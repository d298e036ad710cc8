package main

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/haasonsaas/botgate/pkg/health"
	"github.com/haasonsaas/botgate/pkg/users"
)

func (s *Server) registerRoutes(r *gin.Engine) {
	r.POST("/v1/access/check", s.rateLimited("access-check", s.checkRate, time.Minute, func(c *gin.Context) string {
		return c.ClientIP()
	}, s.handleAccessCheck))

	admin := r.Group("/v1/users", s.requireAdmin)
	admin.GET("", s.handleListUsers)
	admin.GET("/:user_id", s.handleGetUser)

	r.GET("/v1/health", s.handleHealth)
}

// rateLimited guards an endpoint with a per-key request limit, keyed by the
// provided extractor. This is transport protection for the API itself, not
// the per-user quota engine.
func (s *Server) rateLimited(name string, limit int, window time.Duration, keyFn func(*gin.Context) string, handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(name+":"+keyFn(c), limit, window) {
			respondError(c, http.StatusTooManyRequests, "rate limit exceeded", s.log)
			return
		}
		handler(c)
	}
}

func (s *Server) requireAdmin(c *gin.Context) {
	if s.adminToken == "" {
		respondError(c, http.StatusForbidden, "admin endpoints disabled", s.log)
		return
	}
	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		respondError(c, http.StatusUnauthorized, "missing bearer token", s.log)
		return
	}
	token := strings.TrimPrefix(authz, "Bearer ")
	if !secureCompare(token, s.adminToken) {
		respondError(c, http.StatusUnauthorized, "invalid bearer token", s.log)
		return
	}
	c.Next()
}

func (s *Server) handleAccessCheck(c *gin.Context) {
	var req struct {
		UserID    string `json:"user_id"`
		RoleID    string `json:"role_id"`
		MessageID string `json:"message_id"`
		ChatID    string `json:"chat_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error(), s.log)
		return
	}
	if req.UserID == "" {
		respondError(c, http.StatusBadRequest, "missing user_id", s.log)
		return
	}

	now := time.Now().UTC()
	decision, err := s.svc.AccessCheck(c.Request.Context(), users.CheckRequest{
		UserID:    req.UserID,
		RoleID:    req.RoleID,
		MessageID: req.MessageID,
		ChatID:    req.ChatID,
	}, now)
	if err != nil {
		logger := requestLogger(c, s.log)
		switch {
		case errors.Is(err, users.ErrMalformedConfig):
			logger.Error().Err(err).Str("user_id", req.UserID).Msg("User configuration rejected")
			respondError(c, http.StatusUnprocessableEntity, "user configuration invalid", s.log)
		default:
			logger.Error().Err(err).Str("user_id", req.UserID).Msg("Access check failed")
			respondError(c, http.StatusInternalServerError, "access check failed", s.log)
		}
		return
	}

	resp := gin.H{
		"access":      decision.Access,
		"permissions": decision.Permissions,
	}
	if decision.RateLimit.EndTime != nil {
		resp["rate_limited_until"] = decision.RateLimit.EndTime
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListUsers(c *gin.Context) {
	onlyAllowed := c.Query("only_allowed") == "true"

	list, err := s.store.Users(c.Request.Context(), onlyAllowed)
	if err != nil {
		logger := requestLogger(c, s.log)
		logger.Error().Err(err).Msg("Failed to list users")
		respondError(c, http.StatusInternalServerError, "failed to list users", s.log)
		return
	}

	resp := make([]gin.H, 0, len(list))
	for _, u := range list {
		resp = append(resp, gin.H{
			"user_id":    u.UserID,
			"chat_id":    u.ChatID,
			"status":     u.Status,
			"updated_at": u.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetUser(c *gin.Context) {
	userID := c.Param("user_id")

	user, err := s.store.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "user not found", s.log)
			return
		}
		logger := requestLogger(c, s.log)
		logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load user")
		respondError(c, http.StatusInternalServerError, "failed to load user", s.log)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    user.UserID,
		"chat_id":    user.ChatID,
		"status":     user.Status,
		"updated_at": user.UpdatedAt,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := health.Check(c.Request.Context(), s.dbProbe, s.vaultProbe)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
