package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/metalstock_backend/appctx"
	"github.com/mmdatafocus/metalstock_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "metalstock-ledger"

// Handler serves the ledger over HTTP. dispatcher is optional; without it the failure
// retry endpoint answers 503.
type Handler struct {
	ledger     *workflow.Ledger
	dispatcher *workflow.Dispatcher
	logger     *logrus.Logger
	ready      func() bool
}

type HandlerOption func(*Handler)

func WithDispatcher(d *workflow.Dispatcher) HandlerOption {
	return func(h *Handler) { h.dispatcher = d }
}

// WithReadiness gates every route except /health until ready reports true.
func WithReadiness(ready func() bool) HandlerOption {
	return func(h *Handler) { h.ready = ready }
}

func NewHandler(l *workflow.Ledger, opts ...HandlerOption) *Handler {
	h := &Handler{ledger: l, logger: l.Logger()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	// Correlation IDs: take the caller's or generate one per request.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(appctx.WithCorrelationId(c.Request.Context(), cid))
		c.Next()
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Use(func(c *gin.Context) {
		if h.ready != nil && !h.ready() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.Use(otelgin.Middleware(serviceName))
	r.Use(cors.New(corsConfig()))
	r.Use(customErrorLogger(h.logger))
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	v1.POST("/events/:type", h.createEvent)
	v1.PUT("/events/:type/:id", h.updateEvent)
	v1.DELETE("/events/:type/:id", h.deleteEvent)

	v1.GET("/buckets", h.listBuckets)
	v1.GET("/buckets/:metal/:stock/:purity", h.getBucket)
	v1.GET("/buckets/:metal/:stock/:purity/movements", h.listMovements)

	v1.POST("/reconcile", h.reconcileAll)
	v1.POST("/reconcile/:id", h.reconcileBucket)
	v1.POST("/reactor-failures/retry", h.retryFailures)

	v1.GET("/valuation/weighted-average", h.weightedAverage)
	v1.GET("/valuation/total", h.totalValue)
	v1.GET("/reports/stock-summary", h.stockSummary)
	v1.GET("/reports/stock-summary.xlsx", h.stockSummaryXLSX)

	r.POST("/pubsub/ledger-events", h.ledgerEventsPush)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

// Production requires an explicit CORS_ALLOWED_ORIGINS allowlist; elsewhere any origin is allowed.
func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	allowed := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		cfg.AllowOrigins = splitAndTrim(allowed)
		if len(cfg.AllowOrigins) == 0 {
			// cors.New panics on an empty config; deny by allowing nothing
			cfg.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	return cfg
}

// customErrorLogger logs only requests that collected errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": appctx.CorrelationId(c.Request.Context()),
			}).Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
