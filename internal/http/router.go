// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/coursekit/go-officehours-backend/internal/config"
	"github.com/coursekit/go-officehours-backend/internal/domain"
	"github.com/coursekit/go-officehours-backend/internal/http/handlers"
	"github.com/coursekit/go-officehours-backend/internal/http/middleware"
	"github.com/coursekit/go-officehours-backend/internal/notify"
	"github.com/coursekit/go-officehours-backend/internal/queue"
	"github.com/coursekit/go-officehours-backend/internal/repo"
	"github.com/coursekit/go-officehours-backend/internal/services"
	"github.com/coursekit/go-officehours-backend/internal/similarity"
)

// ticketStoreShim adapts the repository free functions to the
// services.TicketStore interface expected by the QueueService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type ticketStoreShim struct{}

// GetTicket proxies repo.GetTicket.
func (ticketStoreShim) GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error) {
	return repo.GetTicket(ctx, db, id)
}

// SaveTicket proxies repo.SaveTicket.
func (ticketStoreShim) SaveTicket(ctx context.Context, db *gorm.DB, t *domain.Ticket) error {
	return repo.SaveTicket(ctx, db, t)
}

// AppendHistory proxies repo.AppendHistory.
func (ticketStoreShim) AppendHistory(ctx context.Context, db *gorm.DB, h *domain.TicketHistory) error {
	return repo.AppendHistory(ctx, db, h)
}

// FindClosedByCourseAndType proxies repo.FindClosedByCourseAndType.
func (ticketStoreShim) FindClosedByCourseAndType(ctx context.Context, db *gorm.DB, courseID string, typ domain.TicketType) ([]domain.Ticket, error) {
	return repo.FindClosedByCourseAndType(ctx, db, courseID, typ)
}

// ListClosedTickets proxies repo.ListClosedTickets.
func (ticketStoreShim) ListClosedTickets(ctx context.Context, db *gorm.DB) ([]domain.Ticket, error) {
	return repo.ListClosedTickets(ctx, db)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Response compression
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, q *queue.Manager, idx similarity.Index, broker *notify.Broker, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Compress responses except event streams, which must flush per event
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`.*\/queue\/events$`})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, studentID, courseID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, studentID, courseID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey, middleware.HeaderCourseID},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey, middleware.HeaderCourseID},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs (off by default)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/queue/index
	svc := services.NewQueueService(db, ticketStoreShim{}, q, idx)
	svc.Notifier = broker
	svc.SimilarLimit = cfg.SimilarLimit
	svc.MaxDescriptionRunes = cfg.MaxDescriptionRunes
	svc.TopicMaxWords = cfg.TopicMaxWords
	svc.TopicLocale = language.English

	h := handlers.New(svc, svc, broker)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Tickets
		api.POST("/tickets", h.CreateTicket)
		api.GET("/tickets/:id", h.GetTicket)
		api.PUT("/tickets/:id/call", h.CallTicket)
		api.PUT("/tickets/:id/close", h.CloseTicket)
		api.PUT("/tickets/:id/cancel", h.CancelTicket)
		api.PUT("/tickets/:id/release", h.ReleaseTicket)
		api.GET("/tickets/:id/similar", h.GetSimilarTickets)

		// Course queues
		api.GET("/courses/:id/queue", h.ListQueue)
		api.GET("/courses/:id/queue/events", h.QueueEvents)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
