package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"form-payment-svc/models"

	"github.com/google/uuid"
)

const paymentSelect = `SELECT p.id, p.pending_submission_id, p.form_id, p.email, p.amount,
		p.payment_intent_id, p.target_account_id, p.status, p.charge_id_latest,
		p.responses, p.created_at, p.updated_at,
		c.submission_id, c.payment_date, c.transaction_fee, c.receipt_url,
		po.payout_id, po.payout_date
	FROM payments p
	LEFT JOIN completed_payments c ON c.payment_id = p.id
	LEFT JOIN payment_payouts po ON po.payment_id = p.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p          models.Payment
		status     string
		responses  []byte
		subID      uuid.NullUUID
		payDate    sql.NullTime
		fee        sql.NullInt64
		receiptURL sql.NullString
		payoutID   sql.NullString
		payoutDate sql.NullTime
	)

	err := row.Scan(&p.ID, &p.PendingSubmissionID, &p.FormID, &p.Email, &p.Amount,
		&p.PaymentIntentID, &p.TargetAccountID, &status, &p.ChargeIDLatest,
		&responses, &p.CreatedAt, &p.UpdatedAt,
		&subID, &payDate, &fee, &receiptURL,
		&payoutID, &payoutDate)
	if err != nil {
		return nil, err
	}

	p.Status = models.PaymentStatus(status)
	if len(responses) > 0 {
		p.Responses = json.RawMessage(responses)
	}
	if subID.Valid {
		p.CompletedPayment = &models.CompletedPayment{
			SubmissionID:   subID.UUID,
			PaymentDate:    payDate.Time,
			TransactionFee: fee.Int64,
			ReceiptURL:     receiptURL.String,
		}
	}
	if payoutID.Valid {
		p.Payout = &models.Payout{PayoutID: payoutID.String, PayoutDate: payoutDate.Time}
	}
	return &p, nil
}

func findPayment(ctx context.Context, q queryer, id uuid.UUID, forUpdate bool) (*models.Payment, error) {
	query := paymentSelect + " WHERE p.id = $1"
	if forUpdate {
		query += " FOR UPDATE OF p"
	}

	p, err := scanPayment(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}

	if p.WebhookLog, err = loadWebhookLog(ctx, q, id); err != nil {
		return nil, err
	}
	return p, nil
}

func loadWebhookLog(ctx context.Context, q queryer, id uuid.UUID) ([]models.WebhookEvent, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT payload FROM payment_webhook_events WHERE payment_id = $1 ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("load webhook log: %w", err)
	}
	defer rows.Close()

	var log []models.WebhookEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		var ev models.WebhookEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode webhook event: %w", err)
		}
		log = append(log, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load webhook log: %w", err)
	}
	return log, nil
}

func savePayment(ctx context.Context, q queryer, p *models.Payment, w PaymentWrite) error {
	payload, err := json.Marshal(w.Event)
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}

	if _, err := q.ExecContext(ctx,
		`INSERT INTO payment_webhook_events (payment_id, seq, event_id, event_type, created, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, len(p.WebhookLog), w.Event.ID, w.Event.Type, w.Event.Created, payload); err != nil {
		return fmt.Errorf("append webhook event: %w", err)
	}

	if _, err := q.ExecContext(ctx,
		"UPDATE payments SET status = $2, charge_id_latest = $3, updated_at = NOW() WHERE id = $1",
		p.ID, string(p.Status), p.ChargeIDLatest); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	if w.Completed {
		cp := p.CompletedPayment
		if _, err := q.ExecContext(ctx,
			`INSERT INTO completed_payments (payment_id, submission_id, payment_date, transaction_fee, receipt_url)
			VALUES ($1, $2, $3, $4, $5)`,
			p.ID, cp.SubmissionID, cp.PaymentDate, cp.TransactionFee, cp.ReceiptURL); err != nil {
			return fmt.Errorf("insert completed payment: %w", err)
		}
	}

	if w.PayoutChanged {
		if p.Payout != nil {
			_, err = q.ExecContext(ctx,
				`INSERT INTO payment_payouts (payment_id, payout_id, payout_date) VALUES ($1, $2, $3)
				ON CONFLICT (payment_id) DO UPDATE SET payout_id = EXCLUDED.payout_id, payout_date = EXCLUDED.payout_date`,
				p.ID, p.Payout.PayoutID, p.Payout.PayoutDate)
		} else {
			_, err = q.ExecContext(ctx, "DELETE FROM payment_payouts WHERE payment_id = $1", p.ID)
		}
		if err != nil {
			return fmt.Errorf("update payout: %w", err)
		}
	}
	return nil
}

// FindPaymentByID reads a payment without locking it.
func (s *Store) FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return findPayment(ctx, s.db, id, false)
}

// FindLatestSuccessfulPayment returns the most recently confirmed payment of
// the payer on the form whose payment date is not before since.
func (s *Store) FindLatestSuccessfulPayment(ctx context.Context, email, formID string, since time.Time) (*models.Payment, error) {
	row := s.db.QueryRowContext(ctx, paymentSelect+`
	WHERE p.email = $1 AND p.form_id = $2 AND p.status = $3 AND c.payment_date >= $4
	ORDER BY c.payment_date DESC
	LIMIT 1`, email, formID, string(models.PaymentStatusSucceeded), since)

	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find latest successful payment: %w", err)
	}
	return p, nil
}

// FindIncompletePayments lists pending and failed payments, oldest first.
// Webhook logs are not loaded.
func (s *Store) FindIncompletePayments(ctx context.Context) ([]models.Payment, error) {
	rows, err := s.db.QueryContext(ctx, paymentSelect+`
	WHERE p.status IN ($1, $2)
	ORDER BY p.created_at`,
		string(models.PaymentStatusPending), string(models.PaymentStatusFailed))
	if err != nil {
		return nil, fmt.Errorf("find incomplete payments: %w", err)
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find incomplete payments: %w", err)
	}
	return payments, nil
}

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	var responses any
	if len(p.Responses) > 0 {
		responses = []byte(p.Responses)
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO payments (id, pending_submission_id, form_id, email, amount, payment_intent_id,
			target_account_id, status, responses)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		p.ID, p.PendingSubmissionID, p.FormID, p.Email, p.Amount, p.PaymentIntentID,
		p.TargetAccountID, string(p.Status), responses,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// ClearResponses drops the transient response payload held on a payment.
func (s *Store) ClearResponses(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payments SET responses = NULL, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("clear responses: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
