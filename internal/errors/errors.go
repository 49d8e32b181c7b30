package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type carried by every failed outcome.
// It pairs a machine-readable code with a human-readable message and
// optional contextual details.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error is worth retrying.
func (e *Error) Retryable() bool {
	return e.Code.IsRetryable()
}

// New creates an Error with a code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping an underlying cause.
func Wrap(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithDetail attaches a contextual detail and returns the same error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the ErrorCode from err, or ErrCodeInternalError when err
// is not a structured Error.
func CodeOf(err error) ErrorCode {
	var se *Error
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternalError
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var se *Error
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// NewGuardError reports a guard refusing a reservation.
func NewGuardError(guardName, reason string) *Error {
	return Newf(ErrCodeGuardBlocked, "[%s] %s", guardName, reason).
		WithDetail("guard", guardName).
		WithDetail("reason", reason)
}

// NewInsufficientBalanceError reports a balance shortfall. Amounts are
// decimal strings in major USDC units.
func NewInsufficientBalanceError(walletID, current, required string) *Error {
	return Newf(ErrCodeInsufficientBalance,
		"insufficient USDC balance: have %s, need %s", current, required).
		WithDetail("wallet_id", walletID).
		WithDetail("current_balance", current).
		WithDetail("required_amount", required)
}

// NewNetworkError reports an HTTP or RPC failure.
func NewNetworkError(message string, statusCode int, url string, err error) *Error {
	code := ErrCodeNetworkError
	if statusCode == 429 {
		code = ErrCodeRateLimited
	}
	e := Wrap(code, message, err).WithDetail("url", url)
	if statusCode != 0 {
		e.WithDetail("status_code", statusCode)
	}
	return e
}

// NewTransactionTimeoutError reports a poll loop that ran out of attempts.
func NewTransactionTimeoutError(transactionID, lastState string, waited float64) *Error {
	return Newf(ErrCodeTransactionTimeout,
		"transaction %s still %s after %.0fs", transactionID, lastState, waited).
		WithDetail("transaction_id", transactionID).
		WithDetail("last_state", lastState).
		WithDetail("waited_seconds", waited)
}

// NewCircuitOpenError reports a blocked call on an open circuit.
func NewCircuitOpenError(service string) *Error {
	return Newf(ErrCodeCircuitOpen, "circuit open for %s", service).
		WithDetail("service", service)
}
