package payments

import (
	"context"
	"errors"
	"time"

	"form-payment-svc/database"
	"form-payment-svc/models"

	"github.com/google/uuid"
)

// Promote copies a pending submission into the permanent submissions inside
// tx. The pending submission's id is reused; when that id is already taken
// the content is stored once more under a fresh id. fresh reports which of
// the two happened.
func Promote(ctx context.Context, tx database.Tx, pendingID uuid.UUID, newID func() uuid.UUID, now time.Time) (sub *models.Submission, fresh bool, err error) {
	pending, err := tx.FindPendingSubmission(ctx, pendingID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, false, ErrPendingSubmissionNotFound
	}
	if err != nil {
		return nil, false, &DatabaseError{Op: "find pending submission", Err: err}
	}

	sub = models.PromotedFrom(pending, pending.ID, now)
	err = tx.InsertSubmission(ctx, sub)
	if err == nil {
		return sub, false, nil
	}
	if !errors.Is(err, database.ErrDuplicateKey) {
		return nil, false, &DatabaseError{Op: "insert submission", Err: err}
	}

	sub = models.PromotedFrom(pending, newID(), now)
	if err := tx.InsertSubmission(ctx, sub); err != nil {
		return nil, false, &DatabaseError{Op: "insert submission with fresh id", Err: err}
	}
	return sub, true, nil
}
