package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clubattend/internal/auth"
	"clubattend/internal/httpmiddleware"
)

// RouterConfig holds the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	AdminAPIKey     string
	RateLimitPerMin int
	AllowOrigins    []string
	Health          map[string]HealthCheck
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(cfg.AllowOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowOrigins
	} else {
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	}
	r.Use(cors.New(corsCfg))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewIPRateLimiter(cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", healthz(cfg.Health))

	r.POST("/v1/devices/register", auth.AdminKey(cfg.AdminAPIKey), h.RegisterDevice)
	r.POST("/v1/devices/refresh", h.RefreshDevice)

	v1 := r.Group("/v1", auth.AdminAuth(h.Tokens.SigningKey, h.Tokens.Issuer))
	{
		v1.POST("/scans", h.Scan)
		v1.GET("/codes", h.Code)

		v1.GET("/sessions", h.ListSessions)
		v1.POST("/sessions/:id/notify", h.ResendSession)
		v1.GET("/summary", h.Summary)

		v1.POST("/notifications/batches", h.StartBatch)
		v1.GET("/notifications/batches/:id", h.BatchStatus)
		v1.DELETE("/notifications/batches/:id", h.CancelBatch)
		v1.POST("/passes", h.SendPasses)
	}
	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		status := http.StatusOK
		for name, check := range checks {
			ok := check(c.Request.Context())
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
