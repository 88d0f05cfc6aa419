package payments

import (
	"time"

	"form-payment-svc/models"
)

// StateUpdate is the result of deriving a payment's state from its log.
type StateUpdate struct {
	Previous       models.PaymentStatus
	Status         models.PaymentStatus
	ChargeIDLatest string
	Payout         *models.Payout
	// EnteredSucceeded is set when the new event moved the payment into
	// Succeeded from Pending or Failed.
	EnteredSucceeded bool
}

type derivedState struct {
	status         models.PaymentStatus
	chargeIDLatest string
	payout         *models.Payout
}

// Derive folds the applied events and then next over the initial Pending
// state. Events are taken in log order; their timestamps are not consulted.
func Derive(history []models.WebhookEvent, next models.WebhookEvent) (StateUpdate, error) {
	s := derivedState{status: models.PaymentStatusPending}

	for _, ev := range history {
		var err error
		if s, err = apply(s, ev); err != nil {
			return StateUpdate{}, err
		}
	}

	previous := s.status
	s, err := apply(s, next)
	if err != nil {
		return StateUpdate{}, err
	}

	return StateUpdate{
		Previous:       previous,
		Status:         s.status,
		ChargeIDLatest: s.chargeIDLatest,
		Payout:         s.payout,
		EnteredSucceeded: s.status == models.PaymentStatusSucceeded &&
			(previous == models.PaymentStatusPending || previous == models.PaymentStatusFailed),
	}, nil
}

func apply(s derivedState, ev models.WebhookEvent) (derivedState, error) {
	obj := ev.Object
	invalid := func(reason string) (derivedState, error) {
		return s, &ComputeStateError{EventID: ev.ID, EventType: ev.Type, Status: s.status, Reason: reason}
	}

	switch ev.Type {
	case models.EventPaymentIntentCreated, models.EventChargePending:
		// Late deliveries of these are accepted but must not move the
		// latest charge of a completed payment.
		if !s.in(models.PaymentStatusPending, models.PaymentStatusFailed) {
			return s, nil
		}

	case models.EventChargeFailed, models.EventPaymentIntentPaymentFailed:
		if !s.in(models.PaymentStatusPending, models.PaymentStatusFailed) {
			return invalid("only pending or failed payments can fail")
		}
		s.status = models.PaymentStatusFailed

	case models.EventPaymentIntentCanceled:
		if !s.in(models.PaymentStatusPending, models.PaymentStatusFailed, models.PaymentStatusCanceled) {
			return invalid("only pending or failed payments can be canceled")
		}
		s.status = models.PaymentStatusCanceled

	case models.EventChargeSucceeded:
		switch s.status {
		case models.PaymentStatusPending, models.PaymentStatusFailed:
			s.status = models.PaymentStatusSucceeded
		case models.PaymentStatusSucceeded:
		case models.PaymentStatusCanceled:
			return invalid("charge succeeded after payment was canceled")
		default:
			return invalid("charge succeeded after payment completed")
		}

	case models.EventPaymentIntentSucceeded:
		if s.status == models.PaymentStatusCanceled {
			return invalid("payment intent succeeded after cancellation")
		}

	case models.EventChargeRefunded:
		if !s.in(models.PaymentStatusSucceeded, models.PaymentStatusPartiallyRefunded, models.PaymentStatusFullyRefunded) {
			return invalid("refund on a payment that has not succeeded")
		}
		switch {
		case obj.AmountRefunded <= 0:
			return invalid("refund without a refunded amount")
		case obj.AmountRefunded > obj.Amount:
			return invalid("refunded amount exceeds charge amount")
		case obj.AmountRefunded == obj.Amount:
			s.status = models.PaymentStatusFullyRefunded
		case s.status == models.PaymentStatusFullyRefunded:
			return invalid("partial refund on a fully refunded payment")
		default:
			s.status = models.PaymentStatusPartiallyRefunded
		}

	case models.EventChargeDisputeCreated:
		if !s.in(models.PaymentStatusSucceeded, models.PaymentStatusPartiallyRefunded,
			models.PaymentStatusFullyRefunded, models.PaymentStatusDisputed) {
			return invalid("dispute on a payment that has not succeeded")
		}
		s.status = models.PaymentStatusDisputed

	case models.EventChargeDisputeUpdated, models.EventChargeDisputeClosed:
		if s.status != models.PaymentStatusDisputed {
			return invalid("dispute update on a payment without a dispute")
		}

	case models.EventPayoutCreated, models.EventPayoutUpdated, models.EventPayoutPaid:
		s.payout = &models.Payout{PayoutID: obj.ID, PayoutDate: unixUTC(obj.ArrivalDate)}
		return s, nil

	case models.EventPayoutCanceled, models.EventPayoutFailed:
		s.payout = nil
		return s, nil

	default:
		return invalid("unknown event type")
	}

	if ref := obj.ChargeRef(); ref != "" {
		s.chargeIDLatest = ref
	}
	return s, nil
}

func (s derivedState) in(statuses ...models.PaymentStatus) bool {
	for _, st := range statuses {
		if s.status == st {
			return true
		}
	}
	return false
}

func unixUTC(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
