package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
)

const (
	sqlStateLockNotAvailable     = "55P03"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// IsUniqueViolation reports whether the provided error references a Postgres
// unique violation constraint. When constraintName is provided, the helper looks
// for the constraint text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	if pkgerrors.SQLState(err) == sqlStateUniqueViolation {
		return true
	}
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsNotFound reports whether err is gorm's missing record sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsLockTimeout reports whether the database gave up waiting for a row lock.
func IsLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	if pkgerrors.SQLState(err) == sqlStateLockNotAvailable {
		return true
	}
	return chainContains(err, "database is locked", "database table is locked")
}

// IsTransient reports whether retrying the whole unit of work may succeed:
// lock timeouts, serialization failures, deadlocks and sqlite busy errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch pkgerrors.SQLState(err) {
	case sqlStateLockNotAvailable, sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return true
	}
	if IsLockTimeout(err) {
		return true
	}
	return chainContains(err, "sqlite_busy")
}

// chainContains matches lower-cased needles against every message in the
// unwrap chain, since typed wrappers may hide the driver text.
func chainContains(err error, needles ...string) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := strings.ToLower(e.Error())
		for _, needle := range needles {
			if strings.Contains(msg, needle) {
				return true
			}
		}
	}
	return false
}
