package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"form-payment-svc/models"

	"github.com/stripe/stripe-go/v82"
)

var ErrEmptyEventData = errors.New("stripe event has no data object")

// FromStripeEvent converts a verified Stripe event into the engine's event
// and returns the metadata carried by its data object.
func FromStripeEvent(ev stripe.Event) (models.WebhookEvent, map[string]string, error) {
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return models.WebhookEvent{}, nil, ErrEmptyEventData
	}

	out := models.WebhookEvent{ID: ev.ID, Type: string(ev.Type), Created: ev.Created}
	kind, _ := ev.Data.Object["object"].(string)

	var err error
	switch kind {
	case models.ObjectCharge:
		var ch stripe.Charge
		if err = json.Unmarshal(ev.Data.Raw, &ch); err == nil {
			out.Object = fromCharge(&ch)
		}
	case models.ObjectPaymentIntent:
		var pi stripe.PaymentIntent
		if err = json.Unmarshal(ev.Data.Raw, &pi); err == nil {
			out.Object = fromPaymentIntent(&pi)
		}
	case models.ObjectDispute:
		var dp stripe.Dispute
		if err = json.Unmarshal(ev.Data.Raw, &dp); err == nil {
			out.Object = fromDispute(&dp)
		}
	case models.ObjectPayout:
		var po stripe.Payout
		if err = json.Unmarshal(ev.Data.Raw, &po); err == nil {
			out.Object = fromPayout(&po)
		}
	default:
		var generic struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		}
		if err = json.Unmarshal(ev.Data.Raw, &generic); err == nil {
			out.Object = models.EventObject{ID: generic.ID, Object: kind, Metadata: generic.Metadata}
		}
	}
	if err != nil {
		return models.WebhookEvent{}, nil, fmt.Errorf("decode %s object of event %s: %w", kind, ev.ID, err)
	}

	return out, out.Object.Metadata, nil
}

func fromCharge(ch *stripe.Charge) models.EventObject {
	obj := models.EventObject{
		ID:             ch.ID,
		Object:         models.ObjectCharge,
		Amount:         ch.Amount,
		AmountRefunded: ch.AmountRefunded,
		Status:         string(ch.Status),
		ReceiptURL:     ch.ReceiptURL,
		Metadata:       ch.Metadata,
	}
	if ch.PaymentIntent != nil {
		obj.PaymentIntentID = ch.PaymentIntent.ID
	}
	if ch.BalanceTransaction != nil {
		obj.BalanceTransactionID = ch.BalanceTransaction.ID
	}
	return obj
}

func fromPaymentIntent(pi *stripe.PaymentIntent) models.EventObject {
	obj := models.EventObject{
		ID:              pi.ID,
		Object:          models.ObjectPaymentIntent,
		Amount:          pi.Amount,
		Status:          string(pi.Status),
		PaymentIntentID: pi.ID,
		Metadata:        pi.Metadata,
	}
	if pi.LatestCharge != nil {
		obj.ChargeID = pi.LatestCharge.ID
	}
	return obj
}

func fromDispute(dp *stripe.Dispute) models.EventObject {
	obj := models.EventObject{
		ID:       dp.ID,
		Object:   models.ObjectDispute,
		Amount:   dp.Amount,
		Status:   string(dp.Status),
		Metadata: dp.Metadata,
	}
	if dp.Charge != nil {
		obj.ChargeID = dp.Charge.ID
	}
	if dp.PaymentIntent != nil {
		obj.PaymentIntentID = dp.PaymentIntent.ID
	}
	return obj
}

func fromPayout(po *stripe.Payout) models.EventObject {
	return models.EventObject{
		ID:          po.ID,
		Object:      models.ObjectPayout,
		Amount:      po.Amount,
		Status:      string(po.Status),
		ArrivalDate: po.ArrivalDate,
		Metadata:    po.Metadata,
	}
}
