// Package api wires the management REST surface: route registration,
// session and API key authentication, role checks, and rate limiting.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/config"
	"github.com/nope-sec/nope/internal/edl"
	"github.com/nope-sec/nope/internal/exclusion"
	"github.com/nope-sec/nope/internal/http/api/handlers"
	"github.com/nope-sec/nope/internal/ioc"
	"github.com/nope-sec/nope/internal/models"
	"github.com/nope-sec/nope/internal/ratelimit"
	"github.com/nope-sec/nope/internal/security"
)

// Deps carries everything route registration needs.
type Deps struct {
	DB           *gorm.DB
	Cfg          *config.Config
	Feeds        *edl.Generator
	IOCs         *ioc.Service
	Exclusions   *exclusion.Service
	LoginLimiter ratelimit.Limiter
	APILimiter   ratelimit.Limiter
}

// RegisterRoutes registers all HTTP routes on the engine.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/health", healthHandler.Healthz)

	feedHandler := handlers.NewFeedHandler(deps.DB, deps.Feeds)
	r.GET("/edl/:slug", feedHandler.Serve)

	settingsHandler := handlers.NewSettingsHandler(deps.DB)

	api := r.Group("/api")
	api.Use(rateLimitMiddleware(deps.APILimiter))

	// Client bootstrap, no auth.
	api.GET("/settings/config", settingsHandler.PublicConfig)

	authHandler := handlers.NewAuthHandler(deps.DB, deps.Cfg)
	api.POST("/auth/login", rateLimitMiddleware(deps.LoginLimiter), authHandler.Login)

	authed := api.Group("")
	authed.Use(authMiddleware(deps.DB, deps.Cfg.SecretKey))

	authed.GET("/auth/me", authHandler.Me)
	authed.POST("/auth/change-password", authHandler.ChangePassword)

	listHandler := handlers.NewListHandler(deps.DB, deps.Feeds, deps.IOCs)
	authed.GET("/lists", listHandler.List)
	authed.POST("/lists", listHandler.Create)
	authed.GET("/lists/:slug", listHandler.Get)
	authed.PATCH("/lists/:slug", listHandler.Update)
	authed.DELETE("/lists/:slug", listHandler.Delete)
	authed.GET("/lists/:slug/iocs", listHandler.Members)

	iocHandler := handlers.NewIOCHandler(deps.DB, deps.IOCs, deps.Feeds)
	authed.GET("/iocs", iocHandler.List)
	authed.POST("/iocs", iocHandler.Create)
	authed.POST("/iocs/bulk", iocHandler.BulkAdd)
	authed.POST("/iocs/bulk-remove", iocHandler.BulkRemove)
	authed.GET("/iocs/:id", iocHandler.Get)
	authed.DELETE("/iocs/:id", iocHandler.Delete)
	authed.POST("/iocs/:id/lists/:slug", iocHandler.AddToList)
	authed.DELETE("/iocs/:id/lists/:slug", iocHandler.RemoveFromList)
	authed.POST("/iocs/:id/comments", iocHandler.AddComment)

	exclusionHandler := handlers.NewExclusionHandler(deps.DB, deps.Exclusions)
	authed.GET("/settings/exclusions", exclusionHandler.List)
	authed.POST("/settings/exclusions/preview", exclusionHandler.Preview)
	authed.POST("/settings/exclusions", exclusionHandler.Create)
	authed.DELETE("/settings/exclusions/:id", exclusionHandler.Delete)

	statsHandler := handlers.NewStatsHandler(deps.DB)
	authed.GET("/stats/dashboard", statsHandler.Dashboard)

	authed.GET("/settings/edl-url", settingsHandler.GetEDLURL)

	admin := authed.Group("")
	admin.Use(requireAdmin())

	admin.PUT("/settings/edl-url", settingsHandler.UpdateEDLURL)

	userHandler := handlers.NewUserHandler(deps.DB)
	admin.GET("/settings/users", userHandler.List)
	admin.POST("/settings/users", userHandler.Create)
	admin.PATCH("/settings/users/:id", userHandler.Update)
	admin.DELETE("/settings/users/:id", userHandler.Delete)

	credentialHandler := handlers.NewCredentialHandler(deps.DB, deps.Feeds)
	admin.GET("/settings/credential", credentialHandler.Get)
	admin.PUT("/settings/credential", credentialHandler.Update)

	apiKeyHandler := handlers.NewAPIKeyHandler(deps.DB)
	admin.GET("/settings/api-keys", apiKeyHandler.List)
	admin.POST("/settings/api-keys", apiKeyHandler.Create)
	admin.DELETE("/settings/api-keys/:id", apiKeyHandler.Delete)

	admin.POST("/admin/regenerate-feeds", feedHandler.RegenerateAll)
}

// authMiddleware accepts either a console session token (Bearer JWT)
// or a machine credential in the api-key header. Whichever matched
// provides the actor identity for audit entries.
func authMiddleware(db *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey := c.GetHeader("api-key"); apiKey != "" {
			var key models.APIKey
			errFind := db.WithContext(c.Request.Context()).Where("key = ?", apiKey).First(&key).Error
			if errFind != nil || !key.Active {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
				return
			}
			now := time.Now().UTC()
			_ = db.WithContext(c.Request.Context()).Model(&key).Update("last_used_at", now).Error

			c.Set("actor", key.Name)
			c.Set("role", string(models.RoleAnalyst))
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseToken(secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.UIUser
		if errFind := db.WithContext(c.Request.Context()).Where("username = ?", claims.Username).First(&user).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		c.Set("actor", user.Username)
		c.Set("role", string(user.Role))
		c.Next()
	}
}

// requireAdmin gates a route group on the admin role.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != string(models.RoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware rejects requests over the per-client budget with
// 429 and a Retry-After hint.
func rateLimitMiddleware(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		allowed, retryAfter := limiter.Allow(c.Request.Context(), clientIP(c))
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// clientIP extracts the originating client address, honoring the
// forwarding headers a fronting proxy sets.
func clientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.ClientIP()
}
