package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawafleet/collection-reconciler/internal/handlers"
	"github.com/sawafleet/collection-reconciler/internal/interfaces"
	"github.com/sawafleet/collection-reconciler/internal/telemetry"
)

func NewRouter(
	reconciler handlers.Reconciler,
	ledger interfaces.LedgerStore,
	events interfaces.PaymentEventStore,
	collections interfaces.CollectionStore,
	phoneRegion string,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "collection-reconciler"})
	})

	webhook := handlers.NewWebhookHandler(reconciler, phoneRegion)
	r.POST("/webhooks/mpesa/:tenant/confirmation", webhook.Confirm)

	recon := handlers.NewReconciliationHandler(ledger, events, collections, reconciler)
	r.GET("/reconciliations/:ref", recon.GetOutcome)
	r.POST("/reconciliations/:ref/retry", recon.Retry)
	r.GET("/collections/:id", recon.GetCollection)

	return r
}
