package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned for an empty property key.
	ErrInvalidKey = errors.New("property key must not be empty")

	// ErrReservedKey is returned when a caller writes the reserved label key.
	ErrReservedKey = errors.New("property key is reserved")

	// ErrNilValue is returned when setting a property to nil. Use
	// RemoveProperty instead.
	ErrNilValue = errors.New("property value must not be nil")

	// ErrDuplicateWrapper is returned by IdentityCache.Put when a different
	// Element is already registered under the identity.
	ErrDuplicateWrapper = errors.New("identity already has a live element")

	// ErrElementDeleted is returned, with code NOT_FOUND, by writes to a
	// deleted element and by AddEdge with a deleted endpoint.
	ErrElementDeleted = errors.New("element deleted")
)

// ErrorCode categorizes element operation failures.
type ErrorCode string

const (
	// ErrCodeTransaction indicates begin, commit or rollback was rejected.
	ErrCodeTransaction ErrorCode = "TRANSACTION_FAILURE"

	// ErrCodePersistence indicates the store rejected a save or delete, or
	// an index write failed inside the transaction.
	ErrCodePersistence ErrorCode = "PERSISTENCE_FAILURE"

	// ErrCodeInvalid indicates bad arguments. Nothing was attempted.
	ErrCodeInvalid ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeNotFound indicates a record id with no row.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is returned by Element and Graph operations.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation, e.g. "set_property".
	Op string

	// Identity is the element's identity when the operation started.
	Identity Identity

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Identity.IsZero() {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Op, e.Identity, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, op string, id Identity, err error) *Error {
	return &Error{Code: code, Op: op, Identity: id, Err: err}
}

// IsTransactionFailure reports whether err is a transaction failure.
// Uses errors.As to handle wrapped errors.
func IsTransactionFailure(err error) bool {
	return hasCode(err, ErrCodeTransaction)
}

// IsPersistenceFailure reports whether err is a persistence failure.
func IsPersistenceFailure(err error) bool {
	return hasCode(err, ErrCodePersistence)
}

// IsInvalid reports whether err is an invalid argument error.
func IsInvalid(err error) bool {
	return hasCode(err, ErrCodeInvalid)
}

// IsNotFound reports whether err is a missing element error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

func hasCode(err error, code ErrorCode) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}
