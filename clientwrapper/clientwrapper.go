// Package clientwrapper specifies the narrow contract this module requires
// from an underlying, externally-owned RDBMS client (spec.md §1, §6), plus
// the error taxonomy of spec.md §7 and the error-listener capability design
// note in spec.md §9.
package clientwrapper

import "context"

// IsolationLevel mirrors the standard SQL transaction isolation levels; the
// underlying driver is responsible for translating these to its wire
// representation.
type IsolationLevel int

const (
	IsolationUnspecified IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

// QueryOptions parametrizes ClientWrapper.Query; kept minimal since SQL
// parsing and binding are out of this module's scope (spec.md §1).
type QueryOptions struct {
	SQL  string
	Args []any
}

// Rows is the narrow result-set contract this module consumes; real
// implementations wrap *sql.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// ClientWrapper is the external-collaborator contract spec.md §6 lists under
// "Driver-facing API": connect/query/end plus the session-state getters and
// setters the sessionstate package needs to capture and restore pristine
// values, plus isValid for the dialect's health check.
type ClientWrapper interface {
	Connect(ctx context.Context) error
	Query(ctx context.Context, opts QueryOptions) (Rows, error)
	Exec(ctx context.Context, opts QueryOptions) (int64, error)
	End(ctx context.Context) error
	Rollback(ctx context.Context) error

	SetReadOnly(ctx context.Context, v bool) error
	IsReadOnly(ctx context.Context) (bool, error)
	SetAutoCommit(ctx context.Context, v bool) error
	GetAutoCommit(ctx context.Context) (bool, error)
	SetCatalog(ctx context.Context, catalog string) error
	GetCatalog(ctx context.Context) (string, error)
	// SetSchema/GetSchema are PostgreSQL-only (spec.md §6); MySQL clients
	// return UnsupportedMethodError, which sessionstate swallows.
	SetSchema(ctx context.Context, schema string) error
	GetSchema(ctx context.Context) (string, error)
	SetTransactionIsolation(ctx context.Context, level IsolationLevel) error
	GetTransactionIsolation(ctx context.Context) (IsolationLevel, error)

	IsValid(ctx context.Context) bool
}

// ErrorListenerKind selects what an attached error listener does with
// observed errors (spec.md §9's design note: the event-emitter error
// listeners the underlying driver exposes are modeled as a capability on the
// client wrapper rather than global listener arrays).
type ErrorListenerKind int

const (
	// ListenerTrack records observed errors for later inspection (used by
	// the failover engine to distinguish a fresh network error from the
	// last-seen one).
	ListenerTrack ErrorListenerKind = iota
	// ListenerNoop observes but discards; used where a plugin only needs to
	// suppress a client's default behavior on error (e.g. auto-reconnect)
	// without tracking anything itself.
	ListenerNoop
)

// ErrorListenerHandle identifies an attached listener for later removal.
type ErrorListenerHandle int

// ErrorObserver is the capability an ErrorAware ClientWrapper exposes so
// callers can be notified of network-class errors without the module
// mutating any global listener array.
type ErrorObserver interface {
	AttachErrorListener(kind ErrorListenerKind) ErrorListenerHandle
	RemoveErrorListener(h ErrorListenerHandle)
	// LastError returns the most recent error observed by a ListenerTrack
	// handle, or nil.
	LastError(h ErrorListenerHandle) error
}
