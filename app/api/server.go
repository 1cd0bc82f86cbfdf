package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/retailxai/draft-publisher/app/access"
)

const actorKey = "actor"

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string, version string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Actor-Id, X-Actor-Role")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey, version)

	return r
}

// setupRoutes configures all the application routes
func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string, version string) {
	r.GET("/health", handler.GetHealth)

	api := r.Group("/api")
	if apiAccessKey != "" {
		api.Use(authMiddleware(apiAccessKey))
		slog.Info("API key authentication enabled")
	} else {
		slog.Warn("API key authentication disabled (API_ACCESS_KEY not set)")
	}
	api.Use(actorMiddleware())
	{
		api.PUT("/drafts/:id", handler.SaveDraft)
		api.GET("/drafts/:id", handler.GetDraft)
		api.POST("/drafts/:id/publish", handler.PublishDraft)
		api.GET("/drafts/:id/publications", handler.ListPublications)

		api.GET("/jobs", handler.ListJobs)
		api.GET("/jobs/:id", handler.GetJob)
		api.POST("/jobs/:id/retry", handler.RetryJob)
		api.POST("/jobs/:id/cancel", handler.CancelJob)

		api.GET("/audit", handler.ListAudit)

		api.GET("/endpoints", handler.ListEndpoints)
		api.POST("/endpoints/:destination/test", handler.TestEndpoint)
		api.PUT("/endpoints/:destination", handler.SaveEndpointCredentials)
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "Draft Publisher",
			"version":     version,
			"description": "Publishes approved drafts to newsletter, professional network and microblog destinations",
			"endpoints": map[string]string{
				"health":       "/health",
				"publish":      "/api/drafts/<id>/publish (POST)",
				"publications": "/api/drafts/<id>/publications",
				"jobs":         "/api/jobs",
				"audit":        "/api/audit",
				"endpoints":    "/api/endpoints",
			},
			"api_status": map[string]any{
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
				"actor_headers": []string{"X-Actor-Id", "X-Actor-Role"},
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

// authMiddleware creates authentication middleware for API endpoints
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		if providedKey != apiAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// actorMiddleware reads the identity set by the upstream gateway.
func actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := access.Actor{
			ID:   strings.TrimSpace(c.GetHeader("X-Actor-Id")),
			Role: access.Role(strings.ToLower(strings.TrimSpace(c.GetHeader("X-Actor-Role")))),
		}

		if actor.ID == "" || !access.Valid(actor.Role) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Actor required",
				"message": "Provide X-Actor-Id and X-Actor-Role (viewer, editor or admin) headers",
			})
			c.Abort()
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

func currentActor(c *gin.Context) access.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(access.Actor); ok {
			return actor
		}
	}
	return access.Actor{}
}
