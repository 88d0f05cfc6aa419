package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Verifier checks the Stripe-Signature header of webhook deliveries.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify authenticates payload and decodes it. Events rendered for another
// API version are accepted since only stable fields are read.
func (v *Verifier) Verify(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

// DecodeEvent parses an event relayed through Kafka. Relayed events were
// verified by the producer and carry no signature.
func DecodeEvent(payload []byte) (stripe.Event, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return stripe.Event{}, fmt.Errorf("decode stripe event: %w", err)
	}
	return ev, nil
}
