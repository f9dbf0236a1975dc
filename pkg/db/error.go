package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsRetryableTxErr reports lock and serialization failures that a caller may retry.
func IsRetryableTxErr(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
		return true
	default:
		return false
	}
}

// ErrorClass returns a low-cardinality label for a database error.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return "unique_violation"
		case pgLockNotAvailable:
			return "lock_timeout"
		case pgSerializationFailure:
			return "serialization_failure"
		case pgDeadlockDetected:
			return "deadlock"
		}
		return "pg_" + pgErr.Code
	}
	if IsDuplicateKeyErr(err) {
		return "unique_violation"
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "not_found"
	}
	return "unknown"
}
