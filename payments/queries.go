package payments

import (
	"context"
	"errors"

	"form-payment-svc/database"
	"form-payment-svc/models"

	"github.com/google/uuid"
)

const latestPaymentWindowDays = 30

func (s *Service) FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := s.store.FindPaymentByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, &DatabaseError{Op: "find payment", Err: err}
	}
	return p, nil
}

// FindLatestSuccessfulPayment returns the payer's most recent succeeded
// payment on the form within the last 30 days.
func (s *Service) FindLatestSuccessfulPayment(ctx context.Context, email, formID string) (*models.Payment, error) {
	since := s.now().AddDate(0, 0, -latestPaymentWindowDays)
	p, err := s.store.FindLatestSuccessfulPayment(ctx, email, formID, since)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, &DatabaseError{Op: "find latest successful payment", Err: err}
	}
	return p, nil
}

// GetIncompletePayments lists pending and failed payments for reconciliation.
func (s *Service) GetIncompletePayments(ctx context.Context) ([]models.Payment, error) {
	payments, err := s.store.FindIncompletePayments(ctx)
	if err != nil {
		return nil, &DatabaseError{Op: "find incomplete payments", Err: err}
	}
	return payments, nil
}

func (s *Service) CreatePayment(ctx context.Context, req models.CreatePaymentRequest) (*models.Payment, error) {
	pendingID, err := uuid.Parse(req.PendingSubmissionID)
	if err != nil {
		return nil, ErrPendingSubmissionNotFound
	}
	if _, err := s.store.FindPendingSubmissionByID(ctx, pendingID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrPendingSubmissionNotFound
		}
		return nil, &DatabaseError{Op: "find pending submission", Err: err}
	}

	p := &models.Payment{
		ID:                  s.newID(),
		PendingSubmissionID: pendingID,
		FormID:              req.FormID,
		Email:               req.Email,
		Amount:              req.Amount,
		PaymentIntentID:     req.PaymentIntentID,
		TargetAccountID:     req.TargetAccountID,
		Status:              models.PaymentStatusPending,
		Responses:           req.Responses,
	}

	err = s.store.CreatePayment(ctx, p)
	if errors.Is(err, database.ErrDuplicateKey) {
		return nil, ErrPaymentConflict
	}
	if err != nil {
		return nil, &DatabaseError{Op: "create payment", Err: err}
	}
	return p, nil
}

// FindPaymentSubmission returns the submission promoted for a confirmed payment.
func (s *Service) FindPaymentSubmission(ctx context.Context, paymentID uuid.UUID) (*models.Submission, error) {
	p, err := s.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.CompletedPayment == nil {
		return nil, ErrSubmissionNotFound
	}

	sub, err := s.store.FindSubmissionByID(ctx, p.CompletedPayment.SubmissionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, &DatabaseError{Op: "find submission", Err: err}
	}
	return sub, nil
}
