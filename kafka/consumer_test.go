package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"form-payment-svc/circuitbreaker"
	"form-payment-svc/gateway"
	"form-payment-svc/models"
	"form-payment-svc/payments"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap/zaptest"
)

const relayedChargeJSON = `{
	"id": "evt_relay",
	"object": "event",
	"type": "charge.failed",
	"created": 1700000100,
	"data": {
		"object": {
			"id": "ch_relay",
			"object": "charge",
			"amount": 1000,
			"status": "failed",
			"metadata": {"paymentId": "5f0b9c1e-8a4e-4c55-9d7e-2f0a5c7c1b11"}
		}
	}
}`

type fakeProcessor struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	events []models.WebhookEvent
	done   chan struct{}
}

func (p *fakeProcessor) ProcessResolvedEvents(ctx context.Context, events []models.ResolvedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	for _, re := range events {
		p.events = append(p.events, re.Event)
	}
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	if p.done != nil && err == nil {
		close(p.done)
		p.done = nil
	}
	return err
}

type failingResolver struct {
	err   error
	calls int
}

func (r *failingResolver) Resolve(ctx context.Context, ev stripe.Event) ([]models.ResolvedEvent, error) {
	r.calls++
	return nil, r.err
}

func newResolver(t *testing.T) EventResolver {
	return gateway.NewResolver(circuitbreaker.NewCircuitBreaker(5, time.Minute), zaptest.NewLogger(t))
}

func newTestConsumer(t *testing.T, processor EventProcessor, retries int) *GatewayConsumer {
	g := NewGatewayConsumer(nil, "stripe_events", newResolver(t), processor, zaptest.NewLogger(t), retries)
	g.backoff = time.Millisecond
	return g
}

func message(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "stripe_events", Value: []byte(value)}
}

func TestHandleMessage_Applies(t *testing.T) {
	processor := &fakeProcessor{}
	g := newTestConsumer(t, processor, 3)

	require.NoError(t, g.handleMessageWithRetry(context.Background(), message(relayedChargeJSON)))
	require.Len(t, processor.events, 1)
	assert.Equal(t, "evt_relay", processor.events[0].ID)
	assert.Equal(t, models.EventChargeFailed, processor.events[0].Type)
}

func TestHandleMessage_DuplicateIsSuccess(t *testing.T) {
	processor := &fakeProcessor{errs: []error{payments.ErrDuplicateEvent}}
	g := newTestConsumer(t, processor, 3)

	assert.NoError(t, g.handleMessageWithRetry(context.Background(), message(relayedChargeJSON)))
	assert.Equal(t, 1, processor.calls)
}

func TestHandleMessage_RetriesTransientFailures(t *testing.T) {
	processor := &fakeProcessor{errs: []error{
		&payments.DatabaseError{Op: "transaction", Err: context.DeadlineExceeded},
	}}
	g := newTestConsumer(t, processor, 3)

	assert.NoError(t, g.handleMessageWithRetry(context.Background(), message(relayedChargeJSON)))
	assert.Equal(t, 2, processor.calls)
}

func TestHandleMessage_GivesUpAfterRetries(t *testing.T) {
	dbErr := &payments.DatabaseError{Op: "transaction", Err: context.DeadlineExceeded}
	processor := &fakeProcessor{errs: []error{dbErr, dbErr, dbErr}}
	g := newTestConsumer(t, processor, 3)

	err := g.handleMessageWithRetry(context.Background(), message(relayedChargeJSON))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, processor.calls)
}

func TestHandleMessage_DropsPermanentFailures(t *testing.T) {
	processor := &fakeProcessor{errs: []error{payments.ErrPaymentNotFound}}
	g := newTestConsumer(t, processor, 3)

	err := g.handleMessageWithRetry(context.Background(), message(relayedChargeJSON))
	assert.ErrorIs(t, err, payments.ErrPaymentNotFound)
	assert.Equal(t, 1, processor.calls)
}

func TestHandleMessage_DropsUndecodableMessages(t *testing.T) {
	processor := &fakeProcessor{}
	g := newTestConsumer(t, processor, 3)

	assert.Error(t, g.handleMessageWithRetry(context.Background(), message("{not json")))
	assert.Zero(t, processor.calls)
}

func TestHandleMessage_RetriesResolveFailures(t *testing.T) {
	resolver := &failingResolver{err: &payments.GatewayFetchError{Op: "retrieve disputed charge", Err: context.DeadlineExceeded}}
	processor := &fakeProcessor{}
	g := newTestConsumer(t, processor, 2)
	g.resolver = resolver

	err := g.handleMessageWithRetry(context.Background(), message(relayedChargeJSON))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, resolver.calls)
	assert.Zero(t, processor.calls)
}

func TestRun_ConsumesEveryPartition(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"stripe_events": {0, 1}})
	consumer.ExpectConsumePartition("stripe_events", 0, sarama.OffsetNewest)
	consumer.ExpectConsumePartition("stripe_events", 1, sarama.OffsetNewest).
		YieldMessage(message(relayedChargeJSON))

	done := make(chan struct{})
	processor := &fakeProcessor{done: done}
	g := NewGatewayConsumer(consumer, "stripe_events", newResolver(t), processor, zaptest.NewLogger(t), 1)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- g.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not processed")
	}
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	require.NoError(t, consumer.Close())
}
