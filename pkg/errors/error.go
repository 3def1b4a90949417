package errors

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Category groups error codes by how a caller should react to them.
type Category string

const (
	// CategoryValidation marks input rejected before any mutation.
	CategoryValidation Category = "validation"
	// CategoryAuthorization marks a caller acting on something it does not own.
	CategoryAuthorization Category = "authorization"
	// CategoryState marks an operation that is illegal in the current state.
	CategoryState Category = "state"
	// CategoryResource marks a balance or capacity that cannot satisfy the request.
	CategoryResource Category = "resource"
	// CategoryArithmetic marks a fatal numeric failure; the enclosing operation aborts.
	CategoryArithmetic Category = "arithmetic"
	// CategoryNotFound marks a missing pool, order or account.
	CategoryNotFound Category = "not_found"
	// CategoryExternal marks a failing collaborator (curve, settlement, journal).
	CategoryExternal Category = "external"
)

// Code is the stable machine-readable identifier of an error.
type Code string

// Error is a coded, categorised error. Values declared in this package are
// sentinels: compare with errors.Is, never by message.
type Error struct {
	Code     Code
	Category Category
	Message  string
}

// New creates a coded error.
func New(code Code, category Category, message string) *Error {
	return &Error{Code: code, Category: category, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrInvalidPrice                 = New("invalid_price", CategoryValidation, "invalid price")
	ErrZeroAmount                   = New("zero_amount", CategoryValidation, "amount must be positive")
	ErrPriceOutOfRange              = New("price_out_of_range", CategoryValidation, "price outside pool range")
	ErrInvalidSide                  = New("invalid_side", CategoryValidation, "invalid side")
	ErrInvalidConfig                = New("invalid_config", CategoryValidation, "invalid pool configuration")
	ErrNotOrderMaker                = New("not_order_maker", CategoryAuthorization, "caller is not the order maker")
	ErrAlreadyTerminal              = New("already_terminal", CategoryState, "order already filled or cancelled")
	ErrReentrant                    = New("reentrant_call", CategoryState, "reentrant call rejected")
	ErrPoolExists                   = New("pool_exists", CategoryState, "pool already exists")
	ErrInsufficientAvailableBalance = New("insufficient_available_balance", CategoryResource, "insufficient available balance")
	ErrOverflow                     = New("overflow", CategoryArithmetic, "arithmetic overflow")
	ErrOrderNotFound                = New("order_not_found", CategoryNotFound, "order not found")
	ErrPoolNotFound                 = New("pool_not_found", CategoryNotFound, "pool not found")
	ErrCurve                        = New("curve_failure", CategoryExternal, "curve collaborator failed")
	ErrSettlement                   = New("settlement_failure", CategoryExternal, "settlement collaborator failed")
	ErrJournal                      = New("journal_failure", CategoryExternal, "command journal failed")
)

// StackTracer is implemented by errors carrying a stack trace.
type StackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Wrap annotates err with message and a stack trace. errors.Is against the
// wrapped sentinel keeps working.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, message)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, format, args...)
}

// WithStack attaches a stack trace unless err already carries one.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(StackTracer); ok {
		return err
	}
	return pkgerrors.WithStack(err)
}

// Cause joins a sentinel with the collaborator error that triggered it, so
// both errors.Is(err, sentinel) and errors.Is(err, cause) hold.
func Cause(sentinel *Error, cause error) error {
	return pkgerrors.WithStack(errors.Join(sentinel, cause))
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// CodeOf returns the code of the first coded error in err's chain, or "" if
// there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// CategoryOf returns the category of the first coded error in err's chain.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}
