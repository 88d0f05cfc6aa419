package payments

import (
	"testing"

	"form-payment-svc/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestExtractPaymentID(t *testing.T) {
	valid := uuid.New()

	tests := []struct {
		name     string
		metadata map[string]string
		want     uuid.UUID
		wantErr  error
	}{
		{name: "nil metadata", metadata: nil, wantErr: ErrMetadataPaymentIDNotFound},
		{name: "missing key", metadata: map[string]string{"formId": "f"}, wantErr: ErrMetadataPaymentIDNotFound},
		{name: "empty value", metadata: map[string]string{MetadataPaymentIDKey: ""}, wantErr: ErrMetadataPaymentIDNotFound},
		{name: "not an id", metadata: map[string]string{MetadataPaymentIDKey: "64b0c9d2e4"}, wantErr: ErrMetadataPaymentIDInvalid},
		{name: "nil id", metadata: map[string]string{MetadataPaymentIDKey: uuid.Nil.String()}, wantErr: ErrMetadataPaymentIDInvalid},
		{name: "valid", metadata: map[string]string{MetadataPaymentIDKey: valid.String()}, want: valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractPaymentID(tt.metadata)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckDuplicate(t *testing.T) {
	log := []models.WebhookEvent{{ID: "evt_1"}, {ID: "evt_2"}}

	assert.ErrorIs(t, CheckDuplicate(log, models.WebhookEvent{ID: "evt_2"}), ErrDuplicateEvent)
	assert.NoError(t, CheckDuplicate(log, models.WebhookEvent{ID: "evt_3"}))
	assert.NoError(t, CheckDuplicate(nil, models.WebhookEvent{ID: "evt_1"}))
}
