package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the machine-readable class of a ServiceError.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindNotFound         ErrorKind = "not_found"
	KindConflict         ErrorKind = "conflict"
	KindCapacityExceeded ErrorKind = "capacity_exceeded"
	KindCycle            ErrorKind = "cycle"
	KindInfrastructure   ErrorKind = "infrastructure"
)

// Sentinels for errors.Is. A capacity error also matches ErrConflict.
var (
	ErrValidation       = errors.New("org: validation failed")
	ErrNotFound         = errors.New("org: not found")
	ErrConflict         = errors.New("org: conflict")
	ErrCapacityExceeded = errors.New("org: position capacity exceeded")
	ErrCycle            = errors.New("org: reporting cycle")
	ErrInfrastructure   = errors.New("org: infrastructure failure")
)

// ErrRecordNotFound is returned by repositories when a row does not exist.
var ErrRecordNotFound = errors.New("record not found")

// ErrHierarchyCorrupted is wrapped when stored parent links form a cycle or
// point at a missing unit.
var ErrHierarchyCorrupted = errors.New("org: unit hierarchy corrupted")

type ServiceError struct {
	Status  int
	Code    string
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func (e *ServiceError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict || e.Kind == KindCapacityExceeded
	case ErrCapacityExceeded:
		return e.Kind == KindCapacityExceeded
	case ErrCycle:
		return e.Kind == KindCycle
	case ErrInfrastructure:
		return e.Kind == KindInfrastructure
	default:
		return false
	}
}

func newServiceError(status int, kind ErrorKind, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Kind: kind, Code: code, Message: message, Cause: cause}
}

func validationError(code, message string, cause error) *ServiceError {
	return newServiceError(http.StatusUnprocessableEntity, KindValidation, code, message, cause)
}

func notFoundError(code, message string, cause error) *ServiceError {
	return newServiceError(http.StatusNotFound, KindNotFound, code, message, cause)
}

func conflictError(code, message string, cause error) *ServiceError {
	return newServiceError(http.StatusConflict, KindConflict, code, message, cause)
}

func capacityError(code, message string, cause error) *ServiceError {
	return newServiceError(http.StatusConflict, KindCapacityExceeded, code, message, cause)
}

func cycleError(code, message string, cause error) *ServiceError {
	return newServiceError(http.StatusUnprocessableEntity, KindCycle, code, message, cause)
}

func infrastructureError(code, message string, cause error) *ServiceError {
	return newServiceError(http.StatusInternalServerError, KindInfrastructure, code, message, cause)
}

// AsServiceError extracts the ServiceError from err, if any.
func AsServiceError(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}
