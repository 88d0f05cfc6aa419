package payments

import (
	"github.com/google/uuid"
)

const MetadataPaymentIDKey = "paymentId"

// ExtractPaymentID reads and validates the payment id carried in a gateway
// event's metadata.
func ExtractPaymentID(metadata map[string]string) (uuid.UUID, error) {
	raw, ok := metadata[MetadataPaymentIDKey]
	if !ok || raw == "" {
		return uuid.Nil, ErrMetadataPaymentIDNotFound
	}

	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrMetadataPaymentIDInvalid
	}
	return id, nil
}
