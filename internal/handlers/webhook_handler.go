package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sawafleet/collection-reconciler/internal/models"
	"github.com/sawafleet/collection-reconciler/internal/phone"
	"github.com/sawafleet/collection-reconciler/internal/service"
	"github.com/sawafleet/collection-reconciler/internal/telemetry"
)

// Reconciler is the pipeline surface the handlers need.
type Reconciler interface {
	Reconcile(ctx context.Context, event *models.PaymentEvent) (*models.ReconciliationOutcome, error)
}

// WebhookHandler accepts Daraja-style C2B confirmation callbacks and feeds
// them through the reconciliation pipeline.
type WebhookHandler struct {
	reconciler  Reconciler
	phoneRegion string
}

func NewWebhookHandler(reconciler Reconciler, phoneRegion string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, phoneRegion: phoneRegion}
}

// mpesaConfirmation is the C2B confirmation payload as Safaricom sends it.
type mpesaConfirmation struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID" binding:"required"`
	TransTime         string `json:"TransTime" binding:"required"`
	TransAmount       string `json:"TransAmount" binding:"required"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	MSISDN            string `json:"MSISDN" binding:"required"`
	FirstName         string `json:"FirstName"`
}

// TransTime is local Kenyan time without an offset, e.g. "20250901143015".
const transTimeLayout = "20060102150405"

var nairobi = loadNairobi()

func loadNairobi() *time.Location {
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}

func parseTransTime(s string) (time.Time, error) {
	return time.ParseInLocation(transTimeLayout, s, nairobi)
}

// Confirm handles POST /webhooks/mpesa/:tenant/confirmation.
func (h *WebhookHandler) Confirm(c *gin.Context) {
	tenantID := c.Param("tenant")

	var payload mpesaConfirmation
	if err := c.ShouldBindJSON(&payload); err != nil {
		telemetry.Logger.Error("Invalid confirmation payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "Rejected: " + err.Error()})
		return
	}

	event, err := confirmationToEvent(tenantID, &payload, h.phoneRegion)
	if err != nil {
		telemetry.Logger.Error("Unprocessable confirmation payload",
			zap.String("trans_id", payload.TransID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "Rejected: " + err.Error()})
		return
	}

	outcome, err := h.reconciler.Reconcile(c.Request.Context(), event)
	switch {
	case errors.Is(err, service.ErrInFlight):
		// Another delivery of the same notification is mid-pipeline.
		c.JSON(http.StatusAccepted, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "Rejected: " + err.Error()})
	case err != nil:
		telemetry.Logger.Error("Reconciliation pipeline error",
			zap.String("external_ref", event.ExternalRef),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"ResultCode": 1, "ResultDesc": "Internal error"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"ResultCode": 0,
			"ResultDesc": "Accepted",
			"status":     outcome.Status,
		})
	}
}

func confirmationToEvent(tenantID string, p *mpesaConfirmation, region string) (*models.PaymentEvent, error) {
	amount, err := decimal.NewFromString(p.TransAmount)
	if err != nil {
		return nil, errors.New("TransAmount is not a number")
	}

	occurredAt, err := parseTransTime(p.TransTime)
	if err != nil {
		return nil, errors.New("TransTime is not in yyyyMMddHHmmss form")
	}

	payer, err := phone.Normalize(p.MSISDN, region)
	if err != nil {
		// An unparseable MSISDN only weakens the identity signal; the
		// amount and time signals still apply.
		telemetry.Logger.Warn("Could not normalize MSISDN",
			zap.String("trans_id", p.TransID),
			zap.Error(err),
		)
		payer = p.MSISDN
	}

	return &models.PaymentEvent{
		ExternalRef: p.TransID,
		TenantID:    tenantID,
		Amount:      amount,
		PayerPhone:  payer,
		OccurredAt:  occurredAt,
		ReceivedAt:  time.Now().UTC(),
	}, nil
}
