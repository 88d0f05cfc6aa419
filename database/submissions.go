package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"form-payment-svc/models"

	"github.com/google/uuid"
)

const (
	pendingSubmissionsTable = "pending_submissions"
	submissionsTable        = "submissions"
)

func findSubmission(ctx context.Context, q queryer, table string, id uuid.UUID) (*models.Submission, error) {
	var (
		sub        models.Submission
		attachment []byte
	)
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT id, form_id, submission_type, encrypted_content,
		verified_content, version, attachment_metadata, created_at
	FROM %s WHERE id = $1`, table), id).Scan(
		&sub.ID, &sub.FormID, &sub.SubmissionType, &sub.EncryptedContent,
		&sub.VerifiedContent, &sub.Version, &attachment, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find submission in %s: %w", table, err)
	}
	if len(attachment) > 0 {
		sub.AttachmentMetadata = attachment
	}
	return &sub, nil
}

func insertSubmission(ctx context.Context, q queryer, table string, sub *models.Submission) error {
	attachment := []byte(sub.AttachmentMetadata)
	if len(attachment) == 0 {
		attachment = []byte("{}")
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, form_id, submission_type,
		encrypted_content, verified_content, version, attachment_metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, table),
		sub.ID, sub.FormID, sub.SubmissionType, sub.EncryptedContent,
		sub.VerifiedContent, sub.Version, attachment, sub.CreatedAt)
	return err
}

func (s *Store) FindPendingSubmissionByID(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	return findSubmission(ctx, s.db, pendingSubmissionsTable, id)
}

func (s *Store) FindSubmissionByID(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	return findSubmission(ctx, s.db, submissionsTable, id)
}
