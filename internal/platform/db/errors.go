package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// PostgreSQL SQLSTATE codes surfaced as persistence errors.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeNotNullViolation     = "23502"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// TranslateError converts constraint violations into shared.ErrPersistence with a
// message safe for clients. Other errors are returned unchanged.
func TranslateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	var msg string
	switch pgErr.Code {
	case codeUniqueViolation:
		msg = "record already exists"
	case codeForeignKeyViolation:
		msg = "referenced record does not exist"
	case codeCheckViolation:
		msg = "value violates a data rule"
	case codeNotNullViolation:
		msg = "required value missing"
	case codeSerializationFailure, codeDeadlockDetected:
		msg = "concurrent update detected, please retry"
	default:
		return err
	}
	return &PersistenceError{msg: msg, cause: err}
}

// PersistenceError keeps the driver error for logs while exposing a safe message.
type PersistenceError struct {
	msg   string
	cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s", shared.ErrPersistence, e.msg)
}

// Unwrap exposes both the sentinel and the driver error.
func (e *PersistenceError) Unwrap() []error {
	return []error{shared.ErrPersistence, e.cause}
}

// Cause returns the underlying driver error.
func (e *PersistenceError) Cause() error {
	return e.cause
}
