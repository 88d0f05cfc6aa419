package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const SubmissionTypeEncrypt = "encryptSubmission"

// Submission is shared by pending and permanent submissions.
type Submission struct {
	ID                 uuid.UUID       `json:"id"`
	FormID             string          `json:"form_id"`
	SubmissionType     string          `json:"submission_type"`
	EncryptedContent   string          `json:"encrypted_content"`
	VerifiedContent    string          `json:"verified_content,omitempty"`
	Version            int             `json:"version"`
	AttachmentMetadata json.RawMessage `json:"attachment_metadata,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// PromotedFrom copies the content of a pending submission under a new id.
func PromotedFrom(pending *Submission, id uuid.UUID, now time.Time) *Submission {
	sub := *pending
	sub.ID = id
	sub.CreatedAt = now
	if pending.AttachmentMetadata != nil {
		sub.AttachmentMetadata = append(json.RawMessage(nil), pending.AttachmentMetadata...)
	}
	return &sub
}

type Form struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	StripeAccountID string `json:"stripe_account_id"`
}
