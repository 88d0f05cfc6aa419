package payments

import (
	"context"
	"errors"
	"sync"
	"testing"

	"form-payment-svc/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const (
	testAmount     = int64(12345)
	testReceiptURL = "https://pay.stripe.com/receipts/acct_1/ch_ok/rcpt_1"
)

var seq int64

func nextCreated() int64 {
	seq++
	return 1700000000 + seq
}

func metadataFor(id uuid.UUID) map[string]string {
	return map[string]string{MetadataPaymentIDKey: id.String(), "formId": "form-1"}
}

func intentCreated(id string) models.WebhookEvent {
	return models.WebhookEvent{ID: id, Type: models.EventPaymentIntentCreated, Created: nextCreated(),
		Object: models.EventObject{ID: "pi_1", Object: models.ObjectPaymentIntent, Amount: testAmount}}
}

func intentSucceeded(id, chargeID string) models.WebhookEvent {
	return models.WebhookEvent{ID: id, Type: models.EventPaymentIntentSucceeded, Created: nextCreated(),
		Object: models.EventObject{ID: "pi_1", Object: models.ObjectPaymentIntent, Amount: testAmount, ChargeID: chargeID}}
}

func chargeEvent(id, eventType, chargeID string) models.WebhookEvent {
	return models.WebhookEvent{ID: id, Type: eventType, Created: nextCreated(),
		Object: models.EventObject{ID: chargeID, Object: models.ObjectCharge, Amount: testAmount, PaymentIntentID: "pi_1"}}
}

func chargeSucceeded(id, chargeID string) models.WebhookEvent {
	ev := chargeEvent(id, models.EventChargeSucceeded, chargeID)
	ev.Object.ReceiptURL = testReceiptURL
	ev.Object.BalanceTransactionID = "txn_1"
	return ev
}

func chargeRefunded(id, chargeID string, refunded int64) models.WebhookEvent {
	ev := chargeEvent(id, models.EventChargeRefunded, chargeID)
	ev.Object.AmountRefunded = refunded
	return ev
}

func disputeEvent(id, eventType, chargeID string) models.WebhookEvent {
	return models.WebhookEvent{ID: id, Type: eventType, Created: nextCreated(),
		Object: models.EventObject{ID: "dp_1", Object: models.ObjectDispute, Amount: testAmount, ChargeID: chargeID}}
}

func payoutEvent(id, eventType, payoutID string, arrival int64) models.WebhookEvent {
	return models.WebhookEvent{ID: id, Type: eventType, Created: nextCreated(),
		Object: models.EventObject{ID: payoutID, Object: models.ObjectPayout, Amount: testAmount, ArrivalDate: arrival}}
}

type fakeFees struct {
	mu    sync.Mutex
	fee   int64
	err   error
	calls int
}

func (f *fakeFees) TransactionFee(ctx context.Context, balanceTransactionID, accountID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.fee, f.err
}

func (f *fakeFees) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingDispatcher struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (d *recordingDispatcher) PaymentUpdated(ctx context.Context, outcome Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes = append(d.outcomes, outcome)
}

func (d *recordingDispatcher) all() []Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Outcome(nil), d.outcomes...)
}

type engineFixture struct {
	store      *memStore
	fees       *fakeFees
	dispatcher *recordingDispatcher
	service    *Service
	payment    *models.Payment
	pending    *models.Submission
}

func setupEngineTest(t *testing.T) *engineFixture {
	t.Helper()
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))

	store := newMemStore()
	pending := &models.Submission{
		ID:                 uuid.New(),
		FormID:             "form-1",
		SubmissionType:     models.SubmissionTypeEncrypt,
		EncryptedContent:   "ciphertext",
		VerifiedContent:    "verified",
		Version:            3,
		AttachmentMetadata: []byte(`{"file.pdf":"s3://bucket/file.pdf"}`),
	}
	store.pending[pending.ID] = pending

	payment := &models.Payment{
		ID:                  uuid.New(),
		PendingSubmissionID: pending.ID,
		FormID:              "form-1",
		Email:               "payer@example.com",
		Amount:              testAmount,
		PaymentIntentID:     "pi_1",
		TargetAccountID:     "acct_1",
		Status:              models.PaymentStatusPending,
		Responses:           []byte(`{"answers":["a"]}`),
	}
	store.payments[payment.ID] = clonePayment(payment)

	fees := &fakeFees{fee: 455}
	dispatcher := &recordingDispatcher{}
	service := NewService(store, fees, dispatcher, logger, Options{})

	return &engineFixture{store: store, fees: fees, dispatcher: dispatcher, service: service, payment: payment, pending: pending}
}

func (f *engineFixture) process(t *testing.T, ev models.WebhookEvent) (*models.Payment, error) {
	t.Helper()
	p, err := f.service.ProcessStripeEvent(context.Background(), metadataFor(f.payment.ID), ev)
	f.service.Wait()
	return p, err
}

func (f *engineFixture) mustProcess(t *testing.T, events ...models.WebhookEvent) *models.Payment {
	t.Helper()
	var p *models.Payment
	for _, ev := range events {
		var err error
		if p, err = f.process(t, ev); err != nil {
			t.Fatalf("processing %s (%s): %v", ev.ID, ev.Type, err)
		}
	}
	return p
}

func (f *engineFixture) stored(t *testing.T) *models.Payment {
	t.Helper()
	p, err := f.store.FindPaymentByID(context.Background(), f.payment.ID)
	if err != nil {
		t.Fatalf("loading payment: %v", err)
	}
	return p
}

var errBoom = errors.New("boom")
