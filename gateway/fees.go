package gateway

import (
	"context"
	"fmt"

	"form-payment-svc/circuitbreaker"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/balancetransaction"
	"go.uber.org/zap"
)

const feeTypeStripe = "stripe_fee"

type balanceTransactionGetter func(id string, params *stripe.BalanceTransactionParams) (*stripe.BalanceTransaction, error)

// FeeLookup reads transaction fees from Stripe balance transactions.
type FeeLookup struct {
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	get     balanceTransactionGetter
}

func NewFeeLookup(breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *FeeLookup {
	return &FeeLookup{breaker: breaker, logger: logger, get: balancetransaction.Get}
}

// TransactionFee returns the sum of the stripe_fee entries of a balance
// transaction owned by accountID.
func (f *FeeLookup) TransactionFee(ctx context.Context, balanceTransactionID, accountID string) (int64, error) {
	var bt *stripe.BalanceTransaction
	err := f.breaker.Execute(ctx, func(ctx context.Context) error {
		params := &stripe.BalanceTransactionParams{}
		params.Context = ctx
		if accountID != "" {
			params.SetStripeAccount(accountID)
		}

		var err error
		bt, err = f.get(balanceTransactionID, params)
		return err
	})
	if err != nil {
		f.logger.Error("Failed to retrieve balance transaction",
			zap.String("balance_transaction", balanceTransactionID),
			zap.String("account", accountID),
			zap.String("breaker_state", f.breaker.GetState().String()),
			zap.Error(err))
		return 0, fmt.Errorf("retrieve balance transaction %s: %w", balanceTransactionID, err)
	}
	return StripeFee(bt), nil
}

func StripeFee(bt *stripe.BalanceTransaction) int64 {
	var fee int64
	for _, detail := range bt.FeeDetails {
		if detail != nil && detail.Type == feeTypeStripe {
			fee += detail.Amount
		}
	}
	return fee
}
