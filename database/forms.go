package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"form-payment-svc/models"
)

func (s *Store) FindFormByID(ctx context.Context, id string) (*models.Form, error) {
	var f models.Form
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, stripe_account_id FROM forms WHERE id = $1", id,
	).Scan(&f.ID, &f.Title, &f.StripeAccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find form: %w", err)
	}
	return &f, nil
}
