package payments

import (
	"errors"
	"fmt"

	"form-payment-svc/models"
)

var (
	ErrMetadataPaymentIDNotFound = errors.New("payment id not found in event metadata")
	ErrMetadataPaymentIDInvalid  = errors.New("payment id in event metadata is not a valid id")
	ErrDuplicateEvent            = errors.New("event has already been applied to the payment")
	ErrPaymentNotFound           = errors.New("payment not found")
	ErrPendingSubmissionNotFound = errors.New("pending submission not found")
	ErrSubmissionNotFound        = errors.New("submission not found")
	ErrMalformedChargeObject     = errors.New("charge object is missing receipt url or balance transaction")
	ErrPaymentAlreadyConfirmed   = errors.New("payment already has a completed payment record")
	ErrPaymentConflict           = errors.New("payment already exists")
)

// ComputeStateError reports an event the state machine cannot apply to the
// payment's current status.
type ComputeStateError struct {
	EventID   string
	EventType string
	Status    models.PaymentStatus
	Reason    string
}

func (e *ComputeStateError) Error() string {
	return fmt.Sprintf("cannot apply event %s (%s) to payment in status %s: %s",
		e.EventID, e.EventType, e.Status, e.Reason)
}

// DatabaseError wraps storage failures. The whole event can be retried.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// GatewayFetchError wraps failures calling the payment gateway API.
type GatewayFetchError struct {
	Op  string
	Err error
}

func (e *GatewayFetchError) Error() string {
	return fmt.Sprintf("payment gateway error during %s: %v", e.Op, e.Err)
}

func (e *GatewayFetchError) Unwrap() error { return e.Err }

// IsInputError reports errors caused by a malformed event that must not be
// retried.
func IsInputError(err error) bool {
	return errors.Is(err, ErrMetadataPaymentIDNotFound) || errors.Is(err, ErrMetadataPaymentIDInvalid)
}

// IsTransient reports failures that may succeed when the event is delivered
// again.
func IsTransient(err error) bool {
	var gwErr *GatewayFetchError
	return isRetryable(err) || errors.As(err, &gwErr)
}

func isRetryable(err error) bool {
	var dbErr *DatabaseError
	return errors.As(err, &dbErr)
}

// classified reports whether err already carries one of the engine's types.
func classified(err error) bool {
	var (
		dbErr    *DatabaseError
		stateErr *ComputeStateError
		gwErr    *GatewayFetchError
	)
	switch {
	case errors.As(err, &dbErr), errors.As(err, &stateErr), errors.As(err, &gwErr):
		return true
	}
	for _, sentinel := range []error{
		ErrDuplicateEvent, ErrPaymentNotFound, ErrPendingSubmissionNotFound,
		ErrMalformedChargeObject, ErrPaymentAlreadyConfirmed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
