package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"form-payment-svc/gateway"
	"form-payment-svc/middleware"
	"form-payment-svc/models"
	"form-payment-svc/payments"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 65536

type EventResolver interface {
	Resolve(ctx context.Context, ev stripe.Event) ([]models.ResolvedEvent, error)
}

type EventProcessor interface {
	ProcessResolvedEvents(ctx context.Context, events []models.ResolvedEvent) error
}

// WebhookHandler receives Stripe webhook deliveries.
type WebhookHandler struct {
	verifier  *gateway.Verifier
	resolver  EventResolver
	processor EventProcessor
	logger    *zap.Logger
}

func NewWebhookHandler(verifier *gateway.Verifier, resolver EventResolver, processor EventProcessor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, resolver: resolver, processor: processor, logger: logger}
}

func (h *WebhookHandler) HandleStripeEvent(c *gin.Context) {
	ctx, span := otel.Tracer("form-payment-service").Start(c.Request.Context(), "HandleStripeEvent")
	defer span.End()

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return
	}

	raw, err := h.verifier.Verify(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("Rejected webhook with invalid signature",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	span.SetAttributes(
		attribute.String("stripe.event_id", raw.ID),
		attribute.String("stripe.event_type", string(raw.Type)),
	)

	events, err := h.resolver.Resolve(ctx, raw)
	if err != nil {
		span.RecordError(err)
		var gwErr *payments.GatewayFetchError
		if errors.As(err, &gwErr) {
			h.logger.Error("Failed to resolve payments for webhook",
				zap.String("trace_id", middleware.GetTraceID(ctx)),
				zap.String("event_id", raw.ID),
				zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": http.StatusText(http.StatusBadGateway)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("payments.count", len(events)))

	err = h.processor.ProcessResolvedEvents(ctx, events)
	if err != nil && !errors.Is(err, payments.ErrDuplicateEvent) {
		span.RecordError(err)
		status := webhookErrorStatus(err)
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// webhookErrorStatus maps engine failures to responses. Only failures that
// may clear on redelivery map to 5xx.
func webhookErrorStatus(err error) int {
	var (
		stateErr *payments.ComputeStateError
		gwErr    *payments.GatewayFetchError
	)
	switch {
	case payments.IsInputError(err):
		return http.StatusBadRequest
	case errors.As(err, &stateErr), errors.Is(err, payments.ErrMalformedChargeObject):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payments.ErrPaymentNotFound), errors.Is(err, payments.ErrPendingSubmissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, payments.ErrPaymentAlreadyConfirmed):
		return http.StatusConflict
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
