package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"form-payment-svc/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

const uniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is the set of reads and writes available inside one payment transaction.
type Tx interface {
	// FindPaymentForUpdate loads the payment with its webhook log and holds
	// a row lock on it until the transaction ends.
	FindPaymentForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindPendingSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	// InsertSubmission returns ErrDuplicateKey when the id is taken. The
	// transaction stays usable after that error.
	InsertSubmission(ctx context.Context, sub *models.Submission) error
	SavePayment(ctx context.Context, p *models.Payment, w PaymentWrite) error
}

// PaymentWrite describes what one applied event changed. The payment's
// webhook log must already end with Event.
type PaymentWrite struct {
	Event         models.WebhookEvent
	Completed     bool
	PayoutChanged bool
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn in a read committed transaction, committing when fn
// returns nil and rolling back otherwise.
func (s *Store) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) FindPaymentForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return findPayment(ctx, t.tx, id, true)
}

func (t *pgTx) FindPendingSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	return findSubmission(ctx, t.tx, pendingSubmissionsTable, id)
}

func (t *pgTx) InsertSubmission(ctx context.Context, sub *models.Submission) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT promote_submission"); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	err := insertSubmission(ctx, t.tx, submissionsTable, sub)
	switch {
	case err == nil:
		if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT promote_submission"); err != nil {
			return fmt.Errorf("release savepoint: %w", err)
		}
		return nil
	case isUniqueViolation(err):
		if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT promote_submission"); err != nil {
			return fmt.Errorf("rollback to savepoint: %w", err)
		}
		return ErrDuplicateKey
	default:
		return err
	}
}

func (t *pgTx) SavePayment(ctx context.Context, p *models.Payment, w PaymentWrite) error {
	return savePayment(ctx, t.tx, p, w)
}
