package gateway

import (
	"context"

	"form-payment-svc/circuitbreaker"
	"form-payment-svc/models"
	"form-payment-svc/payments"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/balancetransaction"
	"github.com/stripe/stripe-go/v82/charge"
	"go.uber.org/zap"
)

type payoutTransactionLister func(ctx context.Context, payoutID, accountID string) ([]*stripe.BalanceTransaction, error)

type chargeGetter func(id string, params *stripe.ChargeParams) (*stripe.Charge, error)

// Resolver maps Stripe events to the payments they concern. Payout and
// dispute objects carry no payment metadata of their own, so it is read from
// the charges behind them.
type Resolver struct {
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
	listPaid  payoutTransactionLister
	getCharge chargeGetter
}

func NewResolver(breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Resolver {
	return &Resolver{
		breaker:   breaker,
		logger:    logger,
		listPaid:  listPayoutTransactions,
		getCharge: charge.Get,
	}
}

// Resolve converts ev and returns one entry per affected payment. Stripe
// failures are returned as *payments.GatewayFetchError.
func (r *Resolver) Resolve(ctx context.Context, ev stripe.Event) ([]models.ResolvedEvent, error) {
	event, metadata, err := FromStripeEvent(ev)
	if err != nil {
		return nil, err
	}

	switch event.Object.Object {
	case models.ObjectPayout:
		return r.resolvePayout(ctx, ev.Account, event)
	case models.ObjectDispute:
		if metadata[payments.MetadataPaymentIDKey] == "" && event.Object.ChargeID != "" {
			return r.resolveDispute(ctx, ev.Account, event)
		}
	}
	return []models.ResolvedEvent{{Metadata: metadata, Event: event}}, nil
}

func (r *Resolver) resolvePayout(ctx context.Context, accountID string, event models.WebhookEvent) ([]models.ResolvedEvent, error) {
	var txns []*stripe.BalanceTransaction
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		txns, err = r.listPaid(ctx, event.Object.ID, accountID)
		return err
	})
	if err != nil {
		return nil, &payments.GatewayFetchError{Op: "list payout balance transactions", Err: err}
	}

	var out []models.ResolvedEvent
	seen := make(map[string]bool)
	for _, bt := range txns {
		if bt == nil || bt.Type == stripe.BalanceTransactionTypePayout {
			continue
		}
		if bt.Source == nil || bt.Source.Charge == nil {
			r.logger.Info("Skipping payout transaction without a charge source",
				zap.String("payout_id", event.Object.ID),
				zap.String("balance_transaction", bt.ID),
				zap.String("type", string(bt.Type)))
			continue
		}
		ch := bt.Source.Charge
		key := ch.Metadata[payments.MetadataPaymentIDKey]
		if key != "" && seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, models.ResolvedEvent{Metadata: ch.Metadata, Event: event})
	}
	return out, nil
}

func (r *Resolver) resolveDispute(ctx context.Context, accountID string, event models.WebhookEvent) ([]models.ResolvedEvent, error) {
	var ch *stripe.Charge
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		params := &stripe.ChargeParams{}
		params.Context = ctx
		if accountID != "" {
			params.SetStripeAccount(accountID)
		}

		var err error
		ch, err = r.getCharge(event.Object.ChargeID, params)
		return err
	})
	if err != nil {
		return nil, &payments.GatewayFetchError{Op: "retrieve disputed charge", Err: err}
	}
	return []models.ResolvedEvent{{Metadata: ch.Metadata, Event: event}}, nil
}

func listPayoutTransactions(ctx context.Context, payoutID, accountID string) ([]*stripe.BalanceTransaction, error) {
	params := &stripe.BalanceTransactionListParams{Payout: stripe.String(payoutID)}
	params.Context = ctx
	params.AddExpand("data.source")
	if accountID != "" {
		params.SetStripeAccount(accountID)
	}

	var txns []*stripe.BalanceTransaction
	iter := balancetransaction.List(params)
	for iter.Next() {
		txns = append(txns, iter.BalanceTransaction())
	}
	return txns, iter.Err()
}
