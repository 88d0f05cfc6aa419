package payments

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"form-payment-svc/database"
	"form-payment-svc/models"

	"github.com/google/uuid"
)

// memStore is a transactional in-memory Store. A transaction holds the lock
// of every payment it read for update until it ends, and its writes become
// visible only on commit.
type memStore struct {
	mu          sync.Mutex
	locks       map[uuid.UUID]*sync.Mutex
	payments    map[uuid.UUID]*models.Payment
	pending     map[uuid.UUID]*models.Submission
	submissions map[uuid.UUID]*models.Submission

	failBegin  int
	failCommit int
	// lostAcks commits the transaction but reports a failure anyway.
	lostAcks int
	commits  int
	cleared  []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		locks:       map[uuid.UUID]*sync.Mutex{},
		payments:    map[uuid.UUID]*models.Payment{},
		pending:     map[uuid.UUID]*models.Submission{},
		submissions: map[uuid.UUID]*models.Submission{},
	}
}

func (m *memStore) lockFor(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *memStore) WithinTx(ctx context.Context, fn func(tx database.Tx) error) error {
	m.mu.Lock()
	if m.failBegin > 0 {
		m.failBegin--
		m.mu.Unlock()
		return errors.New("connection refused")
	}
	m.mu.Unlock()

	tx := &memTx{store: m, payments: map[uuid.UUID]*models.Payment{}}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit > 0 {
		m.failCommit--
		return errors.New("could not serialize access")
	}
	for id, p := range tx.payments {
		m.payments[id] = p
	}
	for _, sub := range tx.submissions {
		m.submissions[sub.ID] = sub
	}
	m.commits++
	if m.lostAcks > 0 {
		m.lostAcks--
		return errors.New("driver: bad connection")
	}
	return nil
}

type memTx struct {
	store       *memStore
	held        []*sync.Mutex
	payments    map[uuid.UUID]*models.Payment
	submissions []*models.Submission
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
}

func (t *memTx) FindPaymentForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	l := t.store.lockFor(id)
	l.Lock()
	t.held = append(t.held, l)

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	p, ok := t.store.payments[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return clonePayment(p), nil
}

func (t *memTx) FindPendingSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	sub, ok := t.store.pending[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (t *memTx) InsertSubmission(ctx context.Context, sub *models.Submission) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.submissions[sub.ID]; ok {
		return database.ErrDuplicateKey
	}
	for _, staged := range t.submissions {
		if staged.ID == sub.ID {
			return database.ErrDuplicateKey
		}
	}
	cp := *sub
	t.submissions = append(t.submissions, &cp)
	return nil
}

func (t *memTx) SavePayment(ctx context.Context, p *models.Payment, w database.PaymentWrite) error {
	if len(p.WebhookLog) == 0 || p.WebhookLog[len(p.WebhookLog)-1].ID != w.Event.ID {
		return errors.New("webhook log does not end with the written event")
	}
	t.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *memStore) FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return clonePayment(p), nil
}

func (m *memStore) FindLatestSuccessfulPayment(ctx context.Context, email, formID string, since time.Time) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Payment
	for _, p := range m.payments {
		if p.Email != email || p.FormID != formID || p.Status != models.PaymentStatusSucceeded {
			continue
		}
		if p.CompletedPayment == nil || p.CompletedPayment.PaymentDate.Before(since) {
			continue
		}
		if latest == nil || p.CompletedPayment.PaymentDate.After(latest.CompletedPayment.PaymentDate) {
			latest = p
		}
	}
	if latest == nil {
		return nil, database.ErrNotFound
	}
	return clonePayment(latest), nil
}

func (m *memStore) FindIncompletePayments(ctx context.Context) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Payment{}
	for _, p := range m.payments {
		if p.Status.IsIncomplete() {
			out = append(out, *clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; ok {
		return database.ErrDuplicateKey
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *memStore) FindPendingSubmissionByID(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.pending[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memStore) FindSubmissionByID(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memStore) ClearResponses(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return database.ErrNotFound
	}
	p.Responses = nil
	m.cleared = append(m.cleared, id)
	return nil
}

func (m *memStore) submissionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submissions)
}

func clonePayment(p *models.Payment) *models.Payment {
	cp := *p
	cp.WebhookLog = append([]models.WebhookEvent(nil), p.WebhookLog...)
	if p.CompletedPayment != nil {
		c := *p.CompletedPayment
		cp.CompletedPayment = &c
	}
	if p.Payout != nil {
		po := *p.Payout
		cp.Payout = &po
	}
	if p.Responses != nil {
		cp.Responses = append(json.RawMessage(nil), p.Responses...)
	}
	return &cp
}
