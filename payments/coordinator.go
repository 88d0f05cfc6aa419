package payments

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"form-payment-svc/database"
	"form-payment-svc/middleware"
	"form-payment-svc/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	WithinTx(ctx context.Context, fn func(tx database.Tx) error) error
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindLatestSuccessfulPayment(ctx context.Context, email, formID string, since time.Time) (*models.Payment, error)
	FindIncompletePayments(ctx context.Context) ([]models.Payment, error)
	CreatePayment(ctx context.Context, p *models.Payment) error
	FindPendingSubmissionByID(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	FindSubmissionByID(ctx context.Context, id uuid.UUID) (*models.Submission, error)
}

// FeeLookup returns the gateway fee charged on a balance transaction of a
// connected account.
type FeeLookup interface {
	TransactionFee(ctx context.Context, balanceTransactionID, accountID string) (int64, error)
}

// Dispatcher receives committed payment changes. It runs outside the
// transaction and its failures never undo the change.
type Dispatcher interface {
	PaymentUpdated(ctx context.Context, outcome Outcome)
}

// ChargeConfirmation holds what the gateway reported for a succeeded charge.
type ChargeConfirmation struct {
	ReceiptURL     string
	TransactionFee int64
}

// Outcome is the committed result of applying one event.
type Outcome struct {
	Payment  *models.Payment
	Event    models.WebhookEvent
	Previous models.PaymentStatus
	// Confirmed is set when this event wrote the completed payment record.
	Confirmed bool
}

type Options struct {
	TxTimeout   time.Duration
	MaxAttempts int
}

type Service struct {
	store      Store
	fees       FeeLookup
	dispatcher Dispatcher
	logger     *zap.Logger

	txTimeout   time.Duration
	maxAttempts int
	newID       func() uuid.UUID
	now         func() time.Time

	dispatches sync.WaitGroup
}

func NewService(store Store, fees FeeLookup, dispatcher Dispatcher, logger *zap.Logger, opts Options) *Service {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 10 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 2
	}
	return &Service{
		store:       store,
		fees:        fees,
		dispatcher:  dispatcher,
		logger:      logger,
		txTimeout:   opts.TxTimeout,
		maxAttempts: opts.MaxAttempts,
		newID:       uuid.New,
		now:         time.Now,
	}
}

var errStaleConfirmation = errors.New("payment changed after charge confirmation was prepared")

// ProcessStripeEvent applies one gateway event to the payment named in its
// metadata. Transactions failing with a DatabaseError are retried up to the
// configured number of attempts, each bounded by the transaction timeout.
func (s *Service) ProcessStripeEvent(ctx context.Context, metadata map[string]string, event models.WebhookEvent) (*models.Payment, error) {
	logger := s.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
	)

	paymentID, err := ExtractPaymentID(metadata)
	if err != nil {
		logger.Warn("Rejected gateway event", zap.Error(err))
		middleware.RecordWebhookEvent(middleware.WebhookOutcomeRejected)
		return nil, err
	}
	logger = logger.With(zap.String("payment_id", paymentID.String()))

	var (
		outcome *Outcome
		attempt int
	)
	for attempt = 1; ; attempt++ {
		outcome, err = s.attempt(ctx, paymentID, event)
		if err == nil || !isRetryable(err) || attempt >= s.maxAttempts || ctx.Err() != nil {
			break
		}
		logger.Warn("Retrying payment transaction",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	// A duplicate on a retry means an earlier attempt of this call committed
	// even though its commit reported an error.
	if attempt > 1 && errors.Is(err, ErrDuplicateEvent) {
		if recovered, rerr := s.committedOutcome(ctx, paymentID, event); rerr == nil {
			logger.Warn("Earlier attempt committed despite reporting an error")
			outcome, err = recovered, nil
		} else {
			logger.Error("Failed to reload payment after ambiguous commit", zap.Error(rerr))
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateEvent):
		logger.Warn("Gateway event already applied")
		middleware.RecordWebhookEvent(middleware.WebhookOutcomeDuplicate)
		return nil, err
	default:
		logger.Error("Failed to process gateway event", zap.Error(err))
		middleware.RecordWebhookEvent(middleware.WebhookOutcomeFailed)
		return nil, err
	}

	p := outcome.Payment
	logger.Info("Gateway event applied",
		zap.String("previous_status", string(outcome.Previous)),
		zap.String("status", string(p.Status)),
		zap.Bool("confirmed", outcome.Confirmed))
	middleware.RecordWebhookEvent(middleware.WebhookOutcomeApplied)

	if p.Status != outcome.Previous {
		middleware.RecordStatusTransition(string(p.Status))
		s.dispatch(ctx, *outcome)
	}
	return p, nil
}

// ProcessResolvedEvents applies every resolved event, continuing past
// failures so one bad payment does not hold back the others. Duplicates
// count as applied. The returned error is the first transient failure, or
// else the first failure.
func (s *Service) ProcessResolvedEvents(ctx context.Context, events []models.ResolvedEvent) error {
	var first error
	for _, re := range events {
		_, err := s.ProcessStripeEvent(ctx, re.Metadata, re.Event)
		if err == nil || errors.Is(err, ErrDuplicateEvent) {
			continue
		}
		if first == nil || (IsTransient(err) && !IsTransient(first)) {
			first = err
		}
	}
	return first
}

func (s *Service) attempt(ctx context.Context, paymentID uuid.UUID, event models.WebhookEvent) (*Outcome, error) {
	conf, err := s.prepareConfirmation(ctx, paymentID, event)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var outcome *Outcome
	err = s.store.WithinTx(ctx, func(tx database.Tx) error {
		var err error
		outcome, err = s.ProcessEvent(ctx, tx, paymentID, event, conf)
		return err
	})
	if err != nil {
		if !classified(err) {
			err = &DatabaseError{Op: "transaction", Err: err}
		}
		return nil, err
	}
	return outcome, nil
}

// prepareConfirmation gathers the receipt and fee of a succeeded charge before
// the transaction opens, so that no gateway call happens while the payment
// row is locked. It returns nil when the event cannot confirm the payment.
func (s *Service) prepareConfirmation(ctx context.Context, paymentID uuid.UUID, event models.WebhookEvent) (*ChargeConfirmation, error) {
	if event.Type != models.EventChargeSucceeded {
		return nil, nil
	}

	p, err := s.store.FindPaymentByID(ctx, paymentID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, &DatabaseError{Op: "find payment", Err: err}
	}
	if p.HasEvent(event.ID) || p.CompletedPayment != nil || !p.Status.IsIncomplete() {
		return nil, nil
	}

	charge := event.Object
	if !validReceiptURL(charge.ReceiptURL) || charge.BalanceTransactionID == "" {
		s.logger.Error("Charge object is missing confirmation fields",
			zap.String("payment_id", paymentID.String()),
			zap.String("charge_id", charge.ID),
			zap.String("receipt_url", charge.ReceiptURL),
			zap.String("balance_transaction", charge.BalanceTransactionID))
		return nil, ErrMalformedChargeObject
	}

	fee, err := s.fees.TransactionFee(ctx, charge.BalanceTransactionID, p.TargetAccountID)
	if err != nil {
		return nil, &GatewayFetchError{Op: "retrieve balance transaction", Err: err}
	}
	return &ChargeConfirmation{ReceiptURL: charge.ReceiptURL, TransactionFee: fee}, nil
}

func validReceiptURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// ProcessEvent applies event to the payment inside tx: it locks the payment,
// rejects replays, derives the new state, promotes the pending submission on
// the transition into Succeeded and persists the result. Nothing is written
// when an error is returned.
func (s *Service) ProcessEvent(ctx context.Context, tx database.Tx, paymentID uuid.UUID, event models.WebhookEvent, conf *ChargeConfirmation) (*Outcome, error) {
	p, err := tx.FindPaymentForUpdate(ctx, paymentID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, &DatabaseError{Op: "find payment for update", Err: err}
	}

	if err := CheckDuplicate(p.WebhookLog, event); err != nil {
		return nil, err
	}

	update, err := Derive(p.WebhookLog, event)
	if err != nil {
		return nil, err
	}

	previous := p.Status
	write := database.PaymentWrite{Event: event}

	if update.EnteredSucceeded {
		if p.CompletedPayment != nil {
			return nil, ErrPaymentAlreadyConfirmed
		}
		if conf == nil {
			return nil, &DatabaseError{Op: "confirm payment", Err: errStaleConfirmation}
		}

		sub, fresh, err := Promote(ctx, tx, p.PendingSubmissionID, s.newID, s.now().UTC())
		if err != nil {
			return nil, err
		}
		if fresh {
			s.logger.Warn("Pending submission id already taken, promoted under a fresh id",
				zap.String("payment_id", p.ID.String()),
				zap.String("pending_submission_id", p.PendingSubmissionID.String()),
				zap.String("submission_id", sub.ID.String()))
			middleware.RecordSubmissionPromotion(middleware.PromotionFreshKey)
		} else {
			middleware.RecordSubmissionPromotion(middleware.PromotionOriginalKey)
		}

		p.CompletedPayment = &models.CompletedPayment{
			SubmissionID:   sub.ID,
			PaymentDate:    event.CreatedAt(),
			TransactionFee: conf.TransactionFee,
			ReceiptURL:     conf.ReceiptURL,
		}
		write.Completed = true
	}

	write.PayoutChanged = !samePayout(p.Payout, update.Payout)
	p.WebhookLog = append(p.WebhookLog, event)
	p.Status = update.Status
	p.ChargeIDLatest = update.ChargeIDLatest
	p.Payout = update.Payout

	if err := p.CheckInvariants(); err != nil {
		return nil, &ComputeStateError{EventID: event.ID, EventType: event.Type, Status: previous, Reason: err.Error()}
	}

	if err := tx.SavePayment(ctx, p, write); err != nil {
		return nil, &DatabaseError{Op: "save payment", Err: err}
	}

	return &Outcome{Payment: p, Event: event, Previous: previous, Confirmed: write.Completed}, nil
}

// committedOutcome rebuilds the outcome of an event already in the payment's
// log from the log prefix that preceded it.
func (s *Service) committedOutcome(ctx context.Context, paymentID uuid.UUID, event models.WebhookEvent) (*Outcome, error) {
	p, err := s.store.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, &DatabaseError{Op: "find payment", Err: err}
	}

	idx := -1
	for i, ev := range p.WebhookLog {
		if ev.ID == event.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrDuplicateEvent
	}

	update, err := Derive(p.WebhookLog[:idx], p.WebhookLog[idx])
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Payment:   p,
		Event:     p.WebhookLog[idx],
		Previous:  update.Previous,
		Confirmed: update.EnteredSucceeded && p.CompletedPayment != nil,
	}, nil
}

func samePayout(a, b *models.Payout) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.PayoutID == b.PayoutID && a.PayoutDate.Equal(b.PayoutDate)
}

func (s *Service) dispatch(ctx context.Context, outcome Outcome) {
	if s.dispatcher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		s.dispatcher.PaymentUpdated(ctx, outcome)
	}()
}

// Wait blocks until every post-commit dispatch started so far has returned.
func (s *Service) Wait() {
	s.dispatches.Wait()
}
