package payments

import (
	"testing"
	"time"

	"form-payment-svc/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive_IntentCreatedKeepsPending(t *testing.T) {
	update, err := Derive(nil, intentCreated("evt_created"))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPending, update.Previous)
	assert.Equal(t, models.PaymentStatusPending, update.Status)
	assert.False(t, update.EnteredSucceeded)
}

func TestDerive_ChargeFailedRecordsCharge(t *testing.T) {
	history := []models.WebhookEvent{intentCreated("evt_created")}

	update, err := Derive(history, chargeEvent("evt_failed", models.EventChargeFailed, "ch_failed"))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusFailed, update.Status)
	assert.Equal(t, "ch_failed", update.ChargeIDLatest)
}

func TestDerive_ChargeSucceededAfterFailure(t *testing.T) {
	history := []models.WebhookEvent{
		intentCreated("evt_created"),
		chargeEvent("evt_failed", models.EventChargeFailed, "ch_failed"),
	}

	update, err := Derive(history, chargeSucceeded("evt_ok", "ch_ok"))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusFailed, update.Previous)
	assert.Equal(t, models.PaymentStatusSucceeded, update.Status)
	assert.Equal(t, "ch_ok", update.ChargeIDLatest)
	assert.True(t, update.EnteredSucceeded)
}

func TestDerive_SecondSuccessDoesNotReenterSucceeded(t *testing.T) {
	history := []models.WebhookEvent{chargeSucceeded("evt_ok", "ch_ok")}

	update, err := Derive(history, intentSucceeded("evt_pi_ok", "ch_ok"))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, update.Status)
	assert.False(t, update.EnteredSucceeded)

	update, err = Derive(history, chargeSucceeded("evt_ok_again", "ch_ok"))
	require.NoError(t, err)
	assert.False(t, update.EnteredSucceeded)
}

func TestDerive_Refunds(t *testing.T) {
	succeeded := []models.WebhookEvent{chargeSucceeded("evt_ok", "ch_ok")}

	update, err := Derive(succeeded, chargeRefunded("evt_partial", "ch_ok", 2345))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, update.Status)

	partially := append(succeeded, chargeRefunded("evt_partial", "ch_ok", 2345))
	update, err = Derive(partially, chargeRefunded("evt_full", "ch_ok", testAmount))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFullyRefunded, update.Status)

	update, err = Derive(succeeded, chargeRefunded("evt_full", "ch_ok", testAmount))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFullyRefunded, update.Status)
}

func TestDerive_RefundRejections(t *testing.T) {
	succeeded := []models.WebhookEvent{chargeSucceeded("evt_ok", "ch_ok")}
	fully := append(succeeded, chargeRefunded("evt_full", "ch_ok", testAmount))

	tests := []struct {
		name    string
		history []models.WebhookEvent
		event   models.WebhookEvent
	}{
		{name: "refund before success", history: nil, event: chargeRefunded("evt_r", "ch_ok", 100)},
		{name: "refund above amount", history: succeeded, event: chargeRefunded("evt_r", "ch_ok", testAmount+1)},
		{name: "zero refund", history: succeeded, event: chargeRefunded("evt_r", "ch_ok", 0)},
		{name: "partial after full", history: fully, event: chargeRefunded("evt_r", "ch_ok", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Derive(tt.history, tt.event)
			var stateErr *ComputeStateError
			require.ErrorAs(t, err, &stateErr)
			assert.Equal(t, tt.event.ID, stateErr.EventID)
		})
	}
}

func TestDerive_DisputeRecordsDisputedCharge(t *testing.T) {
	history := []models.WebhookEvent{
		chargeSucceeded("evt_ok", "ch_ok"),
		chargeRefunded("evt_partial", "ch_ok", 100),
	}

	update, err := Derive(history, disputeEvent("evt_dispute", models.EventChargeDisputeCreated, "ch_disputed"))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusDisputed, update.Status)
	assert.Equal(t, "ch_disputed", update.ChargeIDLatest)

	disputed := append(history, disputeEvent("evt_dispute", models.EventChargeDisputeCreated, "ch_disputed"))
	update, err = Derive(disputed, disputeEvent("evt_dispute_closed", models.EventChargeDisputeClosed, "ch_disputed"))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusDisputed, update.Status)
}

func TestDerive_DisputeOnPendingPaymentFails(t *testing.T) {
	_, err := Derive(nil, disputeEvent("evt_dispute", models.EventChargeDisputeCreated, "ch_1"))

	var stateErr *ComputeStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.PaymentStatusPending, stateErr.Status)
}

func TestDerive_PayoutIsIndependentOfStatus(t *testing.T) {
	arrival := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	history := []models.WebhookEvent{chargeSucceeded("evt_ok", "ch_ok")}

	update, err := Derive(history, payoutEvent("evt_po", models.EventPayoutPaid, "po_1", arrival.Unix()))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusSucceeded, update.Status)
	assert.Equal(t, "ch_ok", update.ChargeIDLatest)
	require.NotNil(t, update.Payout)
	assert.Equal(t, "po_1", update.Payout.PayoutID)
	assert.True(t, arrival.Equal(update.Payout.PayoutDate))

	withPayout := append(history, payoutEvent("evt_po", models.EventPayoutPaid, "po_1", arrival.Unix()))
	update, err = Derive(withPayout, payoutEvent("evt_po_cancel", models.EventPayoutCanceled, "po_1", 0))
	require.NoError(t, err)
	assert.Nil(t, update.Payout)
}

func TestDerive_CanceledIntent(t *testing.T) {
	ev := intentCreated("evt_cancel")
	ev.Type = models.EventPaymentIntentCanceled
	ev.Object.ChargeID = "ch_last"

	update, err := Derive([]models.WebhookEvent{intentCreated("evt_created")}, ev)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusCanceled, update.Status)
	assert.Equal(t, "ch_last", update.ChargeIDLatest)

	_, err = Derive([]models.WebhookEvent{ev}, chargeSucceeded("evt_ok", "ch_ok"))
	var stateErr *ComputeStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.PaymentStatusCanceled, stateErr.Status)
	assert.Equal(t, "charge succeeded after payment was canceled", stateErr.Reason)
}

func TestDerive_LateIntentCreatedIsAccepted(t *testing.T) {
	history := []models.WebhookEvent{chargeSucceeded("evt_ok", "ch_ok")}

	late := intentCreated("evt_created")
	late.Object.ChargeID = "ch_other"
	update, err := Derive(history, late)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusSucceeded, update.Status)
	assert.Equal(t, "ch_ok", update.ChargeIDLatest)
}

func TestDerive_UnknownEventType(t *testing.T) {
	ev := disputeEvent("evt_bad", "charge.dispute.invalid_type", "ch_1")

	_, err := Derive([]models.WebhookEvent{chargeSucceeded("evt_ok", "ch_ok")}, ev)

	var stateErr *ComputeStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "charge.dispute.invalid_type", stateErr.EventType)
	assert.Equal(t, models.PaymentStatusSucceeded, stateErr.Status)
}

func TestDerive_FailedChargeAfterSuccessIsRejected(t *testing.T) {
	_, err := Derive([]models.WebhookEvent{chargeSucceeded("evt_ok", "ch_ok")},
		chargeEvent("evt_failed", models.EventChargeFailed, "ch_failed"))

	var stateErr *ComputeStateError
	assert.ErrorAs(t, err, &stateErr)
}
