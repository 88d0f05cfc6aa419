package models

import "time"

const (
	EventPaymentIntentCreated       = "payment_intent.created"
	EventPaymentIntentSucceeded     = "payment_intent.succeeded"
	EventPaymentIntentPaymentFailed = "payment_intent.payment_failed"
	EventPaymentIntentCanceled      = "payment_intent.canceled"
	EventChargePending              = "charge.pending"
	EventChargeSucceeded            = "charge.succeeded"
	EventChargeFailed               = "charge.failed"
	EventChargeRefunded             = "charge.refunded"
	EventChargeDisputeCreated       = "charge.dispute.created"
	EventChargeDisputeUpdated       = "charge.dispute.updated"
	EventChargeDisputeClosed        = "charge.dispute.closed"
	EventPayoutCreated              = "payout.created"
	EventPayoutUpdated              = "payout.updated"
	EventPayoutPaid                 = "payout.paid"
	EventPayoutCanceled             = "payout.canceled"
	EventPayoutFailed               = "payout.failed"
)

const (
	ObjectCharge        = "charge"
	ObjectPaymentIntent = "payment_intent"
	ObjectDispute       = "dispute"
	ObjectPayout        = "payout"
)

// EventObject is the subset of a gateway payload the engine reads.
type EventObject struct {
	ID                   string            `json:"id"`
	Object               string            `json:"object"`
	Amount               int64             `json:"amount"`
	AmountRefunded       int64             `json:"amount_refunded,omitempty"`
	Status               string            `json:"status,omitempty"`
	ChargeID             string            `json:"charge_id,omitempty"`
	PaymentIntentID      string            `json:"payment_intent_id,omitempty"`
	ReceiptURL           string            `json:"receipt_url,omitempty"`
	BalanceTransactionID string            `json:"balance_transaction_id,omitempty"`
	ArrivalDate          int64             `json:"arrival_date,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// ChargeRef returns the charge the object refers to, if any.
func (o EventObject) ChargeRef() string {
	if o.Object == ObjectCharge {
		return o.ID
	}
	return o.ChargeID
}

// WebhookEvent is one gateway event as applied to a payment.
type WebhookEvent struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Created int64       `json:"created"`
	Object  EventObject `json:"object"`
}

func (e WebhookEvent) CreatedAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// ResolvedEvent pairs a gateway event with the metadata of the payment it
// applies to. Payout events resolve to one entry per paid-out charge.
type ResolvedEvent struct {
	Metadata map[string]string
	Event    WebhookEvent
}
