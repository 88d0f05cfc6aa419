package payments

import (
	"context"
	"time"

	"form-payment-svc/middleware"
	"form-payment-svc/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventPublisher interface {
	PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error
}

type FormLookup interface {
	FindFormByID(ctx context.Context, formID string) (*models.Form, error)
}

type ConfirmationMailer interface {
	SendPaymentConfirmationEmail(ctx context.Context, confirmation models.PaymentConfirmation) error
}

type ResponseClearer interface {
	ClearResponses(ctx context.Context, paymentID uuid.UUID) error
}

// PostConfirmationDispatcher publishes committed payment changes and, when a
// payment was just confirmed, emails the payer and drops the stored responses.
// Every failure is logged and swallowed.
type PostConfirmationDispatcher struct {
	publisher EventPublisher
	forms     FormLookup
	mailer    ConfirmationMailer
	responses ResponseClearer
	logger    *zap.Logger
	timeout   time.Duration
}

func NewPostConfirmationDispatcher(publisher EventPublisher, forms FormLookup, mailer ConfirmationMailer,
	responses ResponseClearer, logger *zap.Logger, timeout time.Duration) *PostConfirmationDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PostConfirmationDispatcher{
		publisher: publisher,
		forms:     forms,
		mailer:    mailer,
		responses: responses,
		logger:    logger,
		timeout:   timeout,
	}
}

func (d *PostConfirmationDispatcher) PaymentUpdated(ctx context.Context, outcome Outcome) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	p := outcome.Payment
	logger := d.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("payment_id", p.ID.String()),
		zap.String("event_id", outcome.Event.ID),
	)

	event := models.PaymentEvent{
		PaymentID:      p.ID,
		FormID:         p.FormID,
		Email:          p.Email,
		Amount:         p.Amount,
		Status:         p.Status,
		PreviousStatus: outcome.Previous,
		EventType:      outcome.Event.Type,
		GatewayEventID: outcome.Event.ID,
		OccurredAt:     outcome.Event.CreatedAt(),
	}
	if p.CompletedPayment != nil {
		subID := p.CompletedPayment.SubmissionID
		event.SubmissionID = &subID
	}
	if err := d.publisher.PublishPaymentEvent(ctx, event); err != nil {
		logger.Error("Failed to publish payment event", zap.Error(err))
		middleware.RecordDispatchFailure("publish")
	}

	if !outcome.Confirmed {
		return
	}

	// Responses stay stored until the payer has been notified.
	if err := d.sendConfirmation(ctx, logger, p); err != nil {
		return
	}

	if err := d.responses.ClearResponses(ctx, p.ID); err != nil {
		logger.Error("Failed to clear payment responses", zap.Error(err))
		middleware.RecordDispatchFailure("clear_responses")
	}
}

func (d *PostConfirmationDispatcher) sendConfirmation(ctx context.Context, logger *zap.Logger, p *models.Payment) error {
	form, err := d.forms.FindFormByID(ctx, p.FormID)
	if err != nil {
		logger.Error("Failed to look up form for payment confirmation",
			zap.String("form_id", p.FormID),
			zap.Error(err))
		middleware.RecordDispatchFailure("form_lookup")
		return err
	}

	err = d.mailer.SendPaymentConfirmationEmail(ctx, models.PaymentConfirmation{
		Email:         p.Email,
		FormTitle:     form.Title,
		FormID:        p.FormID,
		SubmissionID:  p.CompletedPayment.SubmissionID,
		PaymentID:     p.ID,
		PaymentAmount: p.Amount,
	})
	if err != nil {
		logger.Error("Failed to send payment confirmation email", zap.Error(err))
		middleware.RecordDispatchFailure("email")
		return err
	}
	logger.Info("Payment confirmation email sent")
	return nil
}
