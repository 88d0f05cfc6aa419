package payments

import "form-payment-svc/models"

// CheckDuplicate rejects an event whose id is already in the webhook log.
func CheckDuplicate(log []models.WebhookEvent, event models.WebhookEvent) error {
	for _, applied := range log {
		if applied.ID == event.ID {
			return ErrDuplicateEvent
		}
	}
	return nil
}
