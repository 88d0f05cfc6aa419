package handlers

import (
	"context"
	"errors"
	"net/http"

	"form-payment-svc/middleware"
	"form-payment-svc/models"
	"form-payment-svc/payments"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PaymentService interface {
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindLatestSuccessfulPayment(ctx context.Context, email, formID string) (*models.Payment, error)
	GetIncompletePayments(ctx context.Context) ([]models.Payment, error)
	CreatePayment(ctx context.Context, req models.CreatePaymentRequest) (*models.Payment, error)
	FindPaymentSubmission(ctx context.Context, paymentID uuid.UUID) (*models.Submission, error)
}

type PaymentHandler struct {
	service PaymentService
	logger  *zap.Logger
}

func NewPaymentHandler(service PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, logger: logger}
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	ctx, span := otel.Tracer("form-payment-service").Start(c.Request.Context(), "GetPayment")
	defer span.End()

	id, ok := paymentIDParam(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("payment.id", id.String()))

	payment, err := h.service.FindPaymentByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, "Failed to fetch payment", err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) GetLatestSuccessfulPayment(c *gin.Context) {
	ctx, span := otel.Tracer("form-payment-service").Start(c.Request.Context(), "GetLatestSuccessfulPayment")
	defer span.End()

	email, formID := c.Query("email"), c.Query("formId")
	if email == "" || formID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and formId are required"})
		return
	}

	payment, err := h.service.FindLatestSuccessfulPayment(ctx, email, formID)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, "Failed to fetch latest payment", err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) GetIncompletePayments(c *gin.Context) {
	ctx, span := otel.Tracer("form-payment-service").Start(c.Request.Context(), "GetIncompletePayments")
	defer span.End()

	list, err := h.service.GetIncompletePayments(ctx)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, "Failed to fetch incomplete payments", err)
		return
	}
	if list == nil {
		list = []models.Payment{}
	}

	span.SetAttributes(attribute.Int("payments.count", len(list)))
	c.JSON(http.StatusOK, list)
}

func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	ctx, span := otel.Tracer("form-payment-service").Start(c.Request.Context(), "CreatePayment")
	defer span.End()

	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, err := h.service.CreatePayment(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, "Failed to create payment", err)
		return
	}

	span.SetAttributes(attribute.String("payment.id", payment.ID.String()))
	h.logger.Info("Payment created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("payment_id", payment.ID.String()),
		zap.String("form_id", payment.FormID),
		zap.String("caller", c.GetString(middleware.CallerContextKey)),
	)
	c.JSON(http.StatusCreated, payment)
}

func (h *PaymentHandler) GetPaymentSubmission(c *gin.Context) {
	ctx, span := otel.Tracer("form-payment-service").Start(c.Request.Context(), "GetPaymentSubmission")
	defer span.End()

	id, ok := paymentIDParam(c)
	if !ok {
		return
	}

	sub, err := h.service.FindPaymentSubmission(ctx, id)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, "Failed to fetch payment submission", err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func paymentIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("paymentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *PaymentHandler) respondError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, payments.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
	case errors.Is(err, payments.ErrSubmissionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
	case errors.Is(err, payments.ErrPendingSubmissionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Pending submission not found"})
	case errors.Is(err, payments.ErrPaymentConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Payment already exists"})
	default:
		h.logger.Error(msg,
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
