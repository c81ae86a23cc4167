// Package shared holds what every domain package needs: error kinds,
// domain events and small value helpers. It imports only the standard library.
package shared

import (
	"errors"
	"fmt"
)

// Виды ошибок. Проверяются через errors.Is, в том числе сквозь DomainError.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrValidation    = errors.New("validation error")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidFormat = errors.New("invalid format")

	ErrStateTransition = errors.New("invalid state transition")
	ErrIntegrity       = errors.New("data integrity violation")

	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLockNotAcquired        = errors.New("lock not acquired")

	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError - ошибка с контекстом: домен, операция и вид.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap отдаёт и вид, и причину, чтобы errors.Is и errors.As видели обе.
func (e *DomainError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewDomainError создаёт ошибку без причины.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError оборачивает err доменным контекстом.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Ошибки по доменам.
var (
	ErrStudentNotFound   = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrInvalidStudentID  = NewDomainError("student", "Validate", ErrInvalidInput, "invalid student ID")
	ErrInvalidEnrollment = NewDomainError("student", "Validate", ErrInvalidInput, "invalid enrollment status")

	ErrAssessmentNotFound = NewDomainError("risk", "Find", ErrNotFound, "risk assessment not found")
	ErrInvalidRiskLevel   = NewDomainError("risk", "ParseLevel", ErrInvalidInput, "invalid risk level")

	ErrAlertNotFound        = NewDomainError("notification", "Find", ErrNotFound, "alert not found")
	ErrAlertAlreadyResolved = NewDomainError("notification", "Resolve", ErrStateTransition, "alert has no pending action")
	ErrInvalidPriority      = NewDomainError("notification", "ParsePriority", ErrInvalidInput, "invalid alert priority")
	ErrDeliveryFailed       = NewDomainError("notification", "Deliver", ErrExternalService, "failed to deliver alert")

	ErrMetricsNotFound = NewDomainError("dashboard", "Find", ErrNotFound, "dashboard metrics not computed yet")
)

func isAny(err error, kinds ...error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsValidation(err error) bool {
	return isAny(err, ErrValidation, ErrInvalidInput, ErrInvalidFormat)
}

func IsStateTransition(err error) bool { return errors.Is(err, ErrStateTransition) }

func IsExternalService(err error) bool {
	return isAny(err, ErrExternalService, ErrServiceUnavailable, ErrRateLimited)
}

// IsRetryable - повтор операции может пройти успешно.
func IsRetryable(err error) bool {
	return isAny(err, ErrServiceUnavailable, ErrConcurrentModification, ErrLockNotAcquired)
}
