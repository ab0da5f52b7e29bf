package clientwrapper

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors for errors.Is-style matching, alongside the typed structs
// below that callers who need the payload (lost host, timeout budget, etc.)
// can errors.As into. Both idioms wrap github.com/cockroachdb/errors so
// every error constructed here carries a stack trace.
var (
	// ErrFailoverSuccess marks a FailoverSuccessError.
	ErrFailoverSuccess = errors.New("clusterdriver: failover succeeded, reissue the call")
	// ErrFailoverFailed marks a FailoverFailedError.
	ErrFailoverFailed = errors.New("clusterdriver: failover failed")
	// ErrTransactionResolutionUnknown marks a TransactionResolutionUnknownError.
	ErrTransactionResolutionUnknown = errors.New("clusterdriver: transaction resolution unknown after failover")
	// ErrInternalQueryTimeout marks an InternalQueryTimeoutError.
	ErrInternalQueryTimeout = errors.New("clusterdriver: operation exceeded its time budget")
	// ErrUnavailableHost marks an UnavailableHostError.
	ErrUnavailableHost = errors.New("clusterdriver: host unavailable")
	// ErrUnsupportedMethod marks an UnsupportedMethodError.
	ErrUnsupportedMethod = errors.New("clusterdriver: driver does not implement this capability")
)

// WrapperError is a generic internal invariant violation (spec.md §7).
type WrapperError struct {
	Msg string
	Err error
}

func (e *WrapperError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}
func (e *WrapperError) Unwrap() error { return e.Err }

func NewWrapperError(msg string, cause error) *WrapperError {
	return &WrapperError{Msg: msg, Err: errors.Wrap(cause, msg)}
}

// IllegalArgumentError is a configuration validation failure at construction.
type IllegalArgumentError struct {
	Field string
	Msg   string
}

func (e *IllegalArgumentError) Error() string {
	return "illegal argument " + e.Field + ": " + e.Msg
}

func NewIllegalArgumentError(field, msg string) *IllegalArgumentError {
	return &IllegalArgumentError{Field: field, Msg: msg}
}

// UnsupportedMethodError signals an optional driver capability the
// underlying client does not implement. Session-state apply paths swallow
// this; other callers may propagate it.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return "unsupported method: " + e.Method
}
func (e *UnsupportedMethodError) Is(target error) bool { return target == ErrUnsupportedMethod }

func NewUnsupportedMethodError(method string) *UnsupportedMethodError {
	return &UnsupportedMethodError{Method: method}
}

// FailoverSuccessError signals that failover installed a new valid client;
// the user's in-flight call did not complete and must be reissued.
type FailoverSuccessError struct {
	NewHost string
}

func (e *FailoverSuccessError) Error() string {
	return "failover succeeded, new current host is " + e.NewHost + "; reissue the call"
}
func (e *FailoverSuccessError) Is(target error) bool { return target == ErrFailoverSuccess }

// FailoverFailedError is terminal for the user call: failover could not
// install a new client.
type FailoverFailedError struct {
	Reason string
	Err    error
}

func (e *FailoverFailedError) Error() string {
	if e.Err != nil {
		return "failover failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "failover failed: " + e.Reason
}
func (e *FailoverFailedError) Unwrap() error         { return e.Err }
func (e *FailoverFailedError) Is(target error) bool { return target == ErrFailoverFailed }

// TransactionResolutionUnknownError signals failover succeeded but the prior
// call was mid-transaction; the application must reconcile its own state.
type TransactionResolutionUnknownError struct {
	NewHost string
}

func (e *TransactionResolutionUnknownError) Error() string {
	return "failover succeeded but the in-flight transaction's outcome is unknown; new current host is " + e.NewHost
}
func (e *TransactionResolutionUnknownError) Is(target error) bool {
	return target == ErrTransactionResolutionUnknown
}

// InternalQueryTimeoutError signals an operation exceeded its configured
// time budget.
type InternalQueryTimeoutError struct {
	Operation string
	BudgetMs  int64
}

func (e *InternalQueryTimeoutError) Error() string {
	return e.Operation + " exceeded its time budget"
}
func (e *InternalQueryTimeoutError) Is(target error) bool { return target == ErrInternalQueryTimeout }

// UnavailableHostError is a short-circuit signal that a network-error
// equivalent should be assumed for the given host.
type UnavailableHostError struct {
	Host string
	Err  error
}

func (e *UnavailableHostError) Error() string {
	if e.Err != nil {
		return "host " + e.Host + " unavailable: " + e.Err.Error()
	}
	return "host " + e.Host + " unavailable"
}
func (e *UnavailableHostError) Unwrap() error        { return e.Err }
func (e *UnavailableHostError) Is(target error) bool { return target == ErrUnavailableHost }
