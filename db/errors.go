package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sentinel errors
// ─────────────────────────────────────────────────────────────────────────────

var (
	// ErrNotFound is returned when a query matches no rows.
	ErrNotFound = errors.New("users/db: record not found")

	// ErrDuplicateKey is returned on unique constraint violations.
	ErrDuplicateKey = errors.New("users/db: duplicate key")

	// ErrCheckViolation is returned when a CHECK constraint is violated.
	ErrCheckViolation = errors.New("users/db: check constraint violation")

	// ErrTimeout is returned when a statement exceeds its deadline or its
	// context is cancelled.
	ErrTimeout = errors.New("users/db: query timeout")

	// ErrStorageFailure is the parent of every error meaning the durable
	// medium could not take the write: unavailable, full, read-only,
	// corrupted or locked. Use IsStorageFailure to test for the whole class.
	ErrStorageFailure = errors.New("users/db: storage failure")

	ErrStorageFull      = storageErr("storage full")
	ErrStorageCorrupt   = storageErr("storage corrupted")
	ErrStorageReadOnly  = storageErr("storage read-only")
	ErrStorageIO        = storageErr("storage I/O error")
	ErrBusy             = storageErr("storage busy")
	ErrConnectionFailed = storageErr("connection failed")

	// ErrSchemaMismatch is returned when the persisted schema version does
	// not match SchemaVersion and Config.StrictSchema forbids recreating it.
	ErrSchemaMismatch = errors.New("users/db: schema version mismatch")
)

// storageSentinel is a sentinel that also matches ErrStorageFailure.
type storageSentinel struct{ msg string }

func storageErr(msg string) error { return &storageSentinel{msg: "users/db: " + msg} }

func (e *storageSentinel) Error() string        { return e.msg }
func (e *storageSentinel) Is(target error) bool { return target == ErrStorageFailure }

// ─────────────────────────────────────────────────────────────────────────────
// Error helpers — use errors.Is() for type-safe checks
// ─────────────────────────────────────────────────────────────────────────────

func IsNotFound(err error) bool       { return errors.Is(err, ErrNotFound) }
func IsDuplicateKey(err error) bool   { return errors.Is(err, ErrDuplicateKey) }
func IsCheckViolation(err error) bool { return errors.Is(err, ErrCheckViolation) }
func IsTimeout(err error) bool        { return errors.Is(err, ErrTimeout) }
func IsStorageFailure(err error) bool { return errors.Is(err, ErrStorageFailure) }
func IsSchemaMismatch(err error) bool { return errors.Is(err, ErrSchemaMismatch) }

// ─────────────────────────────────────────────────────────────────────────────
// DBError — rich error type preserving original driver error
// ─────────────────────────────────────────────────────────────────────────────

// DBError wraps a sentinel error with the original driver error so callers can
// either use errors.Is(err, ErrStorageFull) for simple checks or inspect the
// raw driver error for additional context.
type DBError struct {
	// Sentinel is one of the package-level Err* variables.
	Sentinel error
	// Cause is the original driver error. May be nil.
	Cause error
	// Message is an optional human-readable hint.
	Message string
}

func (e *DBError) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s (cause: %v)", e.Sentinel, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Sentinel, e.Message)
	}
	return fmt.Sprintf("%s (cause: %v)", e.Sentinel, e.Cause)
}

func (e *DBError) Is(target error) bool { return errors.Is(e.Sentinel, target) }
func (e *DBError) Unwrap() error        { return e.Cause }

// ─────────────────────────────────────────────────────────────────────────────
// ErrorMapper interface — pluggable per driver
// ─────────────────────────────────────────────────────────────────────────────

// ErrorMapper translates raw driver errors into the package's sentinel errors.
type ErrorMapper interface {
	Map(err error) error
}

// ErrorMapperFunc is a convenience adapter from a function to ErrorMapper.
type ErrorMapperFunc func(error) error

func (f ErrorMapperFunc) Map(err error) error { return f(err) }

// DefaultErrorMapper returns a mapper for conditions every driver shares:
// no rows, context expiry, dropped connections and raw OS errors.
func DefaultErrorMapper() ErrorMapper {
	return ErrorMapperFunc(defaultMap)
}

func defaultMap(err error) error {
	if err == nil {
		return nil
	}

	// Already mapped — do not double-wrap
	var dbe *DBError
	if errors.As(err, &dbe) {
		return err
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return &DBError{Sentinel: ErrNotFound, Cause: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &DBError{Sentinel: ErrTimeout, Cause: err}
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return &DBError{Sentinel: ErrStorageFull, Cause: err}
	case errors.Is(err, syscall.EROFS), errors.Is(err, syscall.EACCES):
		return &DBError{Sentinel: ErrStorageReadOnly, Cause: err}
	case errors.Is(err, syscall.EIO):
		return &DBError{Sentinel: ErrStorageIO, Cause: err}
	}
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// SQLite (mattn/go-sqlite3) mapping
// ─────────────────────────────────────────────────────────────────────────────

// SQLiteErrorMapper maps sqlite3.Error result codes.
func SQLiteErrorMapper() ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		var se sqlite3.Error
		if !errors.As(err, &se) {
			return err
		}
		switch se.Code {
		case sqlite3.ErrConstraint:
			switch se.ExtendedCode {
			case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
				return &DBError{Sentinel: ErrDuplicateKey, Cause: err}
			case sqlite3.ErrConstraintCheck:
				return &DBError{Sentinel: ErrCheckViolation, Cause: err}
			}
		case sqlite3.ErrFull:
			return &DBError{Sentinel: ErrStorageFull, Cause: err}
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			return &DBError{Sentinel: ErrStorageCorrupt, Cause: err}
		case sqlite3.ErrReadonly, sqlite3.ErrPerm:
			return &DBError{Sentinel: ErrStorageReadOnly, Cause: err}
		case sqlite3.ErrIoErr:
			return &DBError{Sentinel: ErrStorageIO, Cause: err}
		case sqlite3.ErrCantOpen:
			return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &DBError{Sentinel: ErrBusy, Cause: err}
		}
		return err
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL (lib/pq) mapping
// ─────────────────────────────────────────────────────────────────────────────

// PostgresErrorMapper maps *pq.Error SQLSTATE codes.
// https://www.postgresql.org/docs/current/errcodes-appendix.html
func PostgresErrorMapper() ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		var pe *pq.Error
		if !errors.As(err, &pe) {
			return err
		}
		switch pe.Code {
		case "23505": // unique_violation
			return &DBError{Sentinel: ErrDuplicateKey, Cause: err}
		case "23514": // check_violation
			return &DBError{Sentinel: ErrCheckViolation, Cause: err}
		case "57014": // query_canceled
			return &DBError{Sentinel: ErrTimeout, Cause: err}
		case "53100": // disk_full
			return &DBError{Sentinel: ErrStorageFull, Cause: err}
		case "25006": // read_only_sql_transaction
			return &DBError{Sentinel: ErrStorageReadOnly, Cause: err}
		case "XX001", "XX002": // data_corrupted, index_corrupted
			return &DBError{Sentinel: ErrStorageCorrupt, Cause: err}
		case "40P01", "55P03": // deadlock_detected, lock_not_available
			return &DBError{Sentinel: ErrBusy, Cause: err}
		}
		switch pe.Code.Class() {
		case "08": // connection_exception
			return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
		case "53", "58": // insufficient_resources, system_error
			return &DBError{Sentinel: ErrStorageIO, Cause: err}
		}
		return err
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// MySQL (go-sql-driver/mysql) mapping
// ─────────────────────────────────────────────────────────────────────────────

// MySQLErrorMapper maps *mysql.MySQLError numbers.
func MySQLErrorMapper() ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		if errors.Is(err, mysql.ErrInvalidConn) {
			return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
		}
		var me *mysql.MySQLError
		if !errors.As(err, &me) {
			return err
		}
		switch me.Number {
		case 1062: // ER_DUP_ENTRY
			return &DBError{Sentinel: ErrDuplicateKey, Cause: err}
		case 3819: // ER_CHECK_CONSTRAINT_VIOLATED
			return &DBError{Sentinel: ErrCheckViolation, Cause: err}
		case 3024: // ER_QUERY_TIMEOUT
			return &DBError{Sentinel: ErrTimeout, Cause: err}
		case 1021, 1114: // ER_DISK_FULL, ER_RECORD_FILE_FULL
			return &DBError{Sentinel: ErrStorageFull, Cause: err}
		case 1290, 1036: // ER_OPTION_PREVENTS_STATEMENT (read_only), ER_OPEN_AS_READONLY
			return &DBError{Sentinel: ErrStorageReadOnly, Cause: err}
		case 1194, 1195: // ER_CRASHED_ON_USAGE, ER_CRASHED_ON_REPAIR
			return &DBError{Sentinel: ErrStorageCorrupt, Cause: err}
		case 1205, 1213: // ER_LOCK_WAIT_TIMEOUT, ER_LOCK_DEADLOCK
			return &DBError{Sentinel: ErrBusy, Cause: err}
		case 1045, 2002, 2003, 2006, 2013:
			return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
		}
		return err
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// ChainMapper — compose multiple mappers (first match wins)
// ─────────────────────────────────────────────────────────────────────────────

// ChainMapper returns an ErrorMapper that tries each mapper in order,
// returning the first remapped error.
func ChainMapper(mappers ...ErrorMapper) ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		if err == nil {
			return nil
		}
		for _, m := range mappers {
			if mapped := m.Map(err); mapped != err {
				return mapped
			}
		}
		return err
	})
}
