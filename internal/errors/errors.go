package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode identifies one kind of failure from the §7 error taxonomy.
type ErrorCode int

// Error codes, banded by concern.
const (
	// General (1000-1999)
	ErrUnknown        ErrorCode = 1000
	ErrInvalidParam   ErrorCode = 1001
	ErrNotFound       ErrorCode = 1002
	ErrAlreadyExists  ErrorCode = 1003
	ErrCanceled       ErrorCode = 1004
	ErrNotImplemented ErrorCode = 1005

	// Transport (2000-2999) — SerialLink open/write/read and its timeouts.
	ErrTransportOpen    ErrorCode = 2000
	ErrTransportWrite   ErrorCode = 2001
	ErrTransportRead    ErrorCode = 2002
	ErrTransportTimeout ErrorCode = 2003
	ErrTransportClosed  ErrorCode = 2004

	// Protocol (3000-3999) — well-formed lines with unexpected semantics.
	ErrProtocolViolation  ErrorCode = 3000
	ErrUnknownCoinType    ErrorCode = 3001
	ErrUnknownRouteNibble ErrorCode = 3002
	ErrTubeStatusShort    ErrorCode = 3003
	ErrBillTypeOutOfRange ErrorCode = 3004

	// Session (4000-4999) — escrow / payout / cashless state machines.
	ErrEscrowTimeout           ErrorCode = 4000
	ErrEscrowAlreadyOpen       ErrorCode = 4001
	ErrDispenseTimeout         ErrorCode = 4002
	ErrCashlessBusy            ErrorCode = 4003
	ErrCashlessNoACK           ErrorCode = 4004
	ErrCashlessResetTimeout    ErrorCode = 4005
	ErrCashlessApprovalTimeout ErrorCode = 4006

	// Planner (5000-5999) — change-making failures.
	ErrInsufficientChange ErrorCode = 5000

	// Persistence (6000-6999) — inventory snapshot and audit ledger I/O.
	ErrInventoryLoad ErrorCode = 6000
	ErrInventorySave ErrorCode = 6001
	ErrLedgerConnect ErrorCode = 6002
	ErrLedgerWrite   ErrorCode = 6003
	ErrLedgerMigrate ErrorCode = 6004

	// Startup (7000-7999) — service-level bring-up failures.
	ErrStartupFailure ErrorCode = 7000
	ErrConfigLoad     ErrorCode = 7001
	ErrConfigParse    ErrorCode = 7002
)

var errorMessages = map[ErrorCode]string{
	ErrUnknown:        "unknown error",
	ErrInvalidParam:   "invalid parameter",
	ErrNotFound:       "resource not found",
	ErrAlreadyExists:  "resource already exists",
	ErrCanceled:       "operation canceled",
	ErrNotImplemented: "not implemented",

	ErrTransportOpen:    "failed to open serial link",
	ErrTransportWrite:   "serial write failed",
	ErrTransportRead:    "serial read failed",
	ErrTransportTimeout: "serial read timed out",
	ErrTransportClosed:  "serial link is closed",

	ErrProtocolViolation:  "protocol violation",
	ErrUnknownCoinType:    "unknown coin type index",
	ErrUnknownRouteNibble: "unknown coin route nibble",
	ErrTubeStatusShort:    "tube status response too short",
	ErrBillTypeOutOfRange: "bill type index out of range",

	ErrEscrowTimeout:           "escrow decision deadline elapsed",
	ErrEscrowAlreadyOpen:       "an escrow ticket is already open",
	ErrDispenseTimeout:         "coin dispense confirmation deadline elapsed",
	ErrCashlessBusy:            "a cashless session is already active",
	ErrCashlessNoACK:           "cashless reader did not ACK",
	ErrCashlessResetTimeout:    "cashless reset deadline elapsed",
	ErrCashlessApprovalTimeout: "cashless approval deadline elapsed",

	ErrInsufficientChange: "insufficient tube inventory to make change",

	ErrInventoryLoad: "failed to load inventory snapshot",
	ErrInventorySave: "failed to persist inventory snapshot",
	ErrLedgerConnect: "failed to connect to ledger database",
	ErrLedgerWrite:   "failed to append ledger entry",
	ErrLedgerMigrate: "failed to migrate ledger schema",

	ErrStartupFailure: "startup failed",
	ErrConfigLoad:     "failed to load configuration",
	ErrConfigParse:    "failed to parse configuration",
}

// AppError is the application-wide error envelope: a stable code, a
// human-readable message, optional details, an optional cause, and the
// call stack captured at construction.
type AppError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details string       `json:"details"`
	Cause   error        `json:"-"`
	Stack   []StackFrame `json:"stack,omitempty"`
}

// StackFrame is one frame of a captured call stack.
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails sets Details and returns e for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause attaches cause, backfilling Details from it if empty.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// New builds an AppError for code, joining any details with "; ".
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	err.captureStack(2)
	return err
}

// Newf builds an AppError with a formatted detail string.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code to err, preserving err's own code if it is already an
// AppError.
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr := New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}

	return appErr
}

// Wrapf wraps err with a formatted detail string.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is reports whether err is an AppError carrying code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}

// GetCode extracts the AppError code from err, or ErrUnknown if err is not
// an AppError.
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrUnknown
}

func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)

	if n > 0 {
		frames := runtime.CallersFrames(pcs[:n])
		for {
			frame, more := frames.Next()

			if strings.Contains(frame.Function, "runtime.") ||
				strings.Contains(frame.Function, "github.com/itbees/mdbctl/internal/errors") {
				if !more {
					break
				}
				continue
			}

			e.Stack = append(e.Stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})

			if !more || len(e.Stack) >= 10 {
				break
			}
		}
	}
}

// GetStack formats the captured call stack, one frame per line.
func (e *AppError) GetStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var b strings.Builder
	for i, frame := range e.Stack {
		fmt.Fprintf(&b, "%d. %s\n   %s:%d\n", i+1, frame.Function, frame.File, frame.Line)
	}
	return b.String()
}

// HTTPStatus maps the error code to the status the control API should
// return for it. The mapping follows the actual shape of the peripheral's
// failure modes rather than a blanket band-to-status table: a dispense or
// escrow timeout is a genuine conflict over physical state (a coin or bill
// may already have moved) and not the same kind of "took too long" as a
// serial read timeout, and inventory persistence (a local file) fails
// differently than the ledger (a possibly-networked database).
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrInvalidParam:
		return 400
	case ErrNotFound:
		return 404
	case ErrTransportTimeout:
		return 408
	case ErrCashlessBusy, ErrEscrowAlreadyOpen:
		return 409
	case ErrDispenseTimeout, ErrEscrowTimeout, ErrCashlessResetTimeout, ErrCashlessApprovalTimeout:
		// The peripheral's confirmation deadline elapsed with the physical
		// outcome still unconfirmed (the coin may have dropped, the bill may
		// have stacked) — report it as an upstream conflict the caller must
		// resolve against tube-status/inventory rather than a plain timeout
		// it could blindly retry into a double dispense.
		return 409
	case ErrInsufficientChange:
		return 409
	case ErrInventoryLoad, ErrInventorySave:
		return 500
	case ErrLedgerConnect, ErrLedgerWrite, ErrLedgerMigrate:
		return 503
	default:
		return 500
	}
}

// IsRetryable reports whether the caller might reasonably retry the
// operation that produced err. Dispense and escrow deadlines are
// deliberately excluded even though they read like timeouts: the peripheral
// may have already completed the physical action (dropped a coin, stacked a
// bill) by the time the deadline fired, so retrying risks double-dispensing
// or re-opening a ticket the hardware already resolved. Only failures where
// nothing physical happened — a read that never got a reply, a ledger
// connection drop — are safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case ErrTransportTimeout, ErrTransportRead, ErrLedgerConnect:
		return true
	default:
		return false
	}
}

// IsCritical reports whether err should abort startup rather than be
// logged and continued past. The ledger is deliberately not critical here:
// per the ledger's own posture (a read-only transaction history, never a
// gate on peripheral operation), a database that refuses to connect must
// not stop the controller from polling and vending — only a failed schema
// migration, which would leave the schema in an unknown state, does.
func IsCritical(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case ErrTransportOpen, ErrConfigLoad, ErrConfigParse, ErrLedgerMigrate, ErrStartupFailure:
		return true
	default:
		return false
	}
}

// ErrorResponse is the JSON envelope the control API returns for a failed
// request.
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *AppError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse wraps err for the control API's JSON response body.
func NewErrorResponse(err *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     err,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
