package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusCanceled          PaymentStatus = "canceled"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusFullyRefunded     PaymentStatus = "fully_refunded"
	PaymentStatusDisputed          PaymentStatus = "disputed"
)

// IsCompleted reports whether the status can only be reached after the
// payment succeeded once.
func (s PaymentStatus) IsCompleted() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusPartiallyRefunded,
		PaymentStatusFullyRefunded, PaymentStatusDisputed:
		return true
	}
	return false
}

// IsIncomplete reports whether reconciliation sweeps should look at the payment.
func (s PaymentStatus) IsIncomplete() bool {
	return s == PaymentStatusPending || s == PaymentStatusFailed
}

var ErrCompletedPaymentMissing = errors.New("completed status without completed payment record")

type CompletedPayment struct {
	SubmissionID   uuid.UUID `json:"submission_id"`
	PaymentDate    time.Time `json:"payment_date"`
	TransactionFee int64     `json:"transaction_fee"`
	ReceiptURL     string    `json:"receipt_url"`
}

type Payout struct {
	PayoutID   string    `json:"payout_id"`
	PayoutDate time.Time `json:"payout_date"`
}

type Payment struct {
	ID                  uuid.UUID         `json:"id"`
	PendingSubmissionID uuid.UUID         `json:"pending_submission_id"`
	FormID              string            `json:"form_id"`
	Email               string            `json:"email"`
	Amount              int64             `json:"amount"`
	PaymentIntentID     string            `json:"payment_intent_id"`
	TargetAccountID     string            `json:"target_account_id"`
	Status              PaymentStatus     `json:"status"`
	ChargeIDLatest      string            `json:"charge_id_latest,omitempty"`
	WebhookLog          []WebhookEvent    `json:"webhook_log"`
	CompletedPayment    *CompletedPayment `json:"completed_payment,omitempty"`
	Payout              *Payout           `json:"payout,omitempty"`
	Responses           json.RawMessage   `json:"-"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// HasEvent reports whether an event with the given id was already applied.
func (p *Payment) HasEvent(eventID string) bool {
	for _, ev := range p.WebhookLog {
		if ev.ID == eventID {
			return true
		}
	}
	return false
}

func (p *Payment) CheckInvariants() error {
	if p.Status.IsCompleted() && p.CompletedPayment == nil {
		return ErrCompletedPaymentMissing
	}
	return nil
}

type CreatePaymentRequest struct {
	FormID              string          `json:"form_id" binding:"required"`
	PendingSubmissionID string          `json:"pending_submission_id" binding:"required,uuid"`
	Email               string          `json:"email" binding:"required,email"`
	Amount              int64           `json:"amount" binding:"min=0"`
	PaymentIntentID     string          `json:"payment_intent_id" binding:"required"`
	TargetAccountID     string          `json:"target_account_id"`
	Responses           json.RawMessage `json:"responses,omitempty"`
}

// PaymentEvent is published after every committed status change.
type PaymentEvent struct {
	PaymentID      uuid.UUID     `json:"payment_id"`
	FormID         string        `json:"form_id"`
	Email          string        `json:"email"`
	Amount         int64         `json:"amount"`
	Status         PaymentStatus `json:"status"`
	PreviousStatus PaymentStatus `json:"previous_status"`
	EventType      string        `json:"event_type"`
	GatewayEventID string        `json:"gateway_event_id"`
	SubmissionID   *uuid.UUID    `json:"submission_id,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// PaymentConfirmation carries what the payer's confirmation email needs.
type PaymentConfirmation struct {
	Email         string
	FormTitle     string
	FormID        string
	SubmissionID  uuid.UUID
	PaymentID     uuid.UUID
	PaymentAmount int64
}
