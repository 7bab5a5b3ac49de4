// Package api exposes the record service over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"alumni/internal/auth"
	"alumni/internal/httpmiddleware"
	"alumni/internal/records"
)

// HealthCheck reports whether one backend is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators of the router.
type Deps struct {
	Service         *records.Service
	Gate            *auth.Gate
	Log             *zap.Logger
	Origins         []string
	RateLimitPerMin int
	Checks          map[string]HealthCheck
}

type handler struct {
	svc    *records.Service
	log    *zap.Logger
	checks map[string]HealthCheck
}

// NewRouter builds the gin engine with middleware and every route mounted.
func NewRouter(d Deps) *gin.Engine {
	h := &handler{svc: d.Service, log: d.Log, checks: d.Checks}

	r := gin.New()
	r.Use(httpmiddleware.Logger(d.Log, "/healthz", "/metrics"))
	r.Use(httpmiddleware.Metrics())
	r.Use(httpmiddleware.Recovery(d.Log))
	r.Use(httpmiddleware.CORS(d.Origins))
	r.Use(httpmiddleware.SecurityHeaders())
	if d.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewRateLimiter(d.RateLimitPerMin, d.RateLimitPerMin).Middleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "msg": "SCL API running"})
	})
	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/", auth.Require(d.Gate))

	students := authed.Group("/scl/students")
	students.POST("", h.createStudent)
	students.GET("/:id", h.getStudent)
	students.PATCH("/:id", h.patchStudent)
	students.POST("/:id/parse-resume", h.parseResume)
	students.POST("/:id/resume", h.submitResume)
	students.GET("/:id/audit", h.listAudit)

	admin := authed.Group("/admin")
	admin.POST("/create-bulk", h.createBulk)
	admin.POST("/colleges", h.createCollege)
	admin.POST("/link-student", h.linkStudent)

	authed.POST("/bulk-email", h.bulkEmail)
	authed.POST("/webhooks/register", h.registerWebhook)

	return r
}

func (h *handler) health(c *gin.Context) {
	status := http.StatusOK
	results := make(map[string]bool, len(h.checks))
	for name, check := range h.checks {
		err := check(c.Request.Context())
		results[name] = err == nil
		if err != nil {
			status = http.StatusServiceUnavailable
			h.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
		}
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}
