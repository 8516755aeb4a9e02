package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sawafleet/collection-reconciler/internal/interfaces"
	"github.com/sawafleet/collection-reconciler/internal/models"
	"github.com/sawafleet/collection-reconciler/internal/service"
	"github.com/sawafleet/collection-reconciler/internal/telemetry"
)

// ReconciliationHandler serves ledger lookups, manual retries, and
// collection state queries.
type ReconciliationHandler struct {
	ledger      interfaces.LedgerStore
	events      interfaces.PaymentEventStore
	collections interfaces.CollectionStore
	reconciler  Reconciler
}

func NewReconciliationHandler(
	ledger interfaces.LedgerStore,
	events interfaces.PaymentEventStore,
	collections interfaces.CollectionStore,
	reconciler Reconciler,
) *ReconciliationHandler {
	return &ReconciliationHandler{
		ledger:      ledger,
		events:      events,
		collections: collections,
		reconciler:  reconciler,
	}
}

// GetOutcome handles GET /reconciliations/:ref.
func (h *ReconciliationHandler) GetOutcome(c *gin.Context) {
	ref := c.Param("ref")

	outcome, err := h.ledger.LatestByExternalRef(c.Request.Context(), ref)
	if err != nil {
		telemetry.Logger.Error("Ledger lookup failed", zap.String("external_ref", ref), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch outcome"})
		return
	}
	if outcome == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no outcome recorded for reference"})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// Retry handles POST /reconciliations/:ref/retry. Only references whose last
// outcome was an error are re-run; final outcomes are returned unchanged by
// the pipeline's idempotency check.
func (h *ReconciliationHandler) Retry(c *gin.Context) {
	ref := c.Param("ref")

	event, err := h.events.GetByExternalRef(c.Request.Context(), ref)
	if err != nil {
		telemetry.Logger.Error("Event lookup failed", zap.String("external_ref", ref), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch payment event"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no payment event recorded for reference"})
		return
	}

	outcome, err := h.reconciler.Reconcile(c.Request.Context(), event)
	switch {
	case errors.Is(err, service.ErrInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "reference is being processed"})
	case err != nil:
		telemetry.Logger.Error("Retry failed", zap.String("external_ref", ref), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
	default:
		c.JSON(http.StatusOK, outcome)
	}
}

// GetCollection handles GET /collections/:id.
func (h *ReconciliationHandler) GetCollection(c *gin.Context) {
	id := c.Param("id")

	rec, err := h.collections.GetByID(c.Request.Context(), id)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "collection not found"})
		return
	}
	if err != nil {
		telemetry.Logger.Error("Collection lookup failed", zap.String("collection_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch collection"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"collection":    rec,
		"display_state": displayState(rec.State),
	})
}

// displayState maps internal states to what fleet operators see.
func displayState(s models.ReconciliationState) string {
	switch s {
	case models.StateMatched:
		return "Reconciled"
	case models.StateAmbiguous:
		return "Needs Review"
	default:
		return "Pending"
	}
}
