package apperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies an error for retry decisions and user-facing handling
type Kind string

const (
	KindNetwork        Kind = "network"
	KindAuthentication Kind = "authentication"
	KindPermission     Kind = "permission"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindServer         Kind = "server"
	KindUnknown        Kind = "unknown"
)

// Error is a classified application error
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "" && e.Err != nil:
		b.WriteString(e.Message)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a kind to err. The kind is taken from Classify when kind is empty.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if kind == "" {
		kind = Classify(err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation creates a validation error carrying per-field messages
func Validation(op string, fields map[string]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Op:      op,
		Message: "validation failed",
		Fields:  fields,
	}
}

// Classify returns the kind of err
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var coder interface{ SQLState() string }
	if errors.As(err, &coder) {
		return classifySQLState(coder.SQLState())
	}

	if errors.Is(err, jwt.ErrTokenExpired) ||
		errors.Is(err, jwt.ErrTokenMalformed) ||
		errors.Is(err, jwt.ErrTokenSignatureInvalid) ||
		errors.Is(err, jwt.ErrTokenNotValidYet) ||
		errors.Is(err, jwt.ErrTokenInvalidClaims) {
		return KindAuthentication
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}

	return KindUnknown
}

// classifySQLState maps a Postgres SQLSTATE code onto a Kind
func classifySQLState(code string) Kind {
	switch {
	case code == "42501":
		return KindPermission
	case code == "P0001", code == "P0002":
		return KindValidation
	case strings.HasPrefix(code, "28"):
		return KindAuthentication
	case strings.HasPrefix(code, "08"):
		return KindNetwork
	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"):
		return KindValidation
	case strings.HasPrefix(code, "57"), strings.HasPrefix(code, "53"):
		return KindServer
	case code == "":
		return KindUnknown
	default:
		return KindServer
	}
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && Classify(err) == kind
}

// Retryable reports whether retrying the operation that produced err can succeed.
// Permission, authentication, validation and not-found errors never are.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch Classify(err) {
	case KindNetwork, KindServer, KindUnknown:
		return true
	default:
		return false
	}
}

// FieldsOf returns the field errors attached to err, if any
func FieldsOf(err error) map[string]string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Fields
	}
	return nil
}

// MessageOf returns the user-facing message for err
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return fmt.Sprintf("%s error", Classify(err))
}
