package executor

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

// FailureClass tells how the executor treats an error.
type FailureClass int

const (
	// Transient errors are retried.
	Transient FailureClass = iota

	// FastFail errors are returned without retries. Retrying cannot change the outcome.
	FastFail

	// DuplicateKey is a violation of a unique constraint. It is never retried.
	DuplicateKey

	// ConnectionBroken errors are retried after replacing the connection.
	ConnectionBroken
)

func (c FailureClass) String() string {
	switch c {
	case Transient:
		return "transient"
	case FastFail:
		return "fast-fail"
	case DuplicateKey:
		return "duplicate-key"
	case ConnectionBroken:
		return "connection-broken"
	default:
		return "unknown"
	}
}

// Classifier tells the class of an error from a backend.
type Classifier func(error) FailureClass

// ClassifyPostgres is the Classifier for PostgreSQL.
func ClassifyPostgres(err error) FailureClass {
	if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) {
		return classifySQLState(pgerr.Code)
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FastFail
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return ConnectionBroken
	case pgconn.SafeToRetry(err):
		return Transient
	}

	if neterr := net.Error(nil); errors.As(err, &neterr) {
		return ConnectionBroken
	}
	return Transient
}

// SQLSTATE classes
const (
	classConnectionException              = "08"
	classDataException                    = "22"
	classIntegrityConstraintViolation     = "23"
	classSyntaxErrorOrAccessRuleViolation = "42"
)

func classifySQLState(code string) FailureClass {
	class := code
	if 2 < len(code) {
		class = code[:2]
	}

	switch {
	case code == pgerrcode.UniqueViolation:
		return DuplicateKey
	case class == classConnectionException,
		code == pgerrcode.InvalidCursorState,
		code == pgerrcode.InternalError,
		code == pgerrcode.AdminShutdown,
		code == pgerrcode.CrashShutdown,
		code == pgerrcode.CannotConnectNow:
		return ConnectionBroken
	case class == classSyntaxErrorOrAccessRuleViolation,
		class == classDataException,
		class == classIntegrityConstraintViolation,
		code == pgerrcode.InvalidCursorName:
		return FastFail
	default:
		return Transient
	}
}
