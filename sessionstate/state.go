// Package sessionstate implements the session-state service of spec.md
// §4.5: capturing pristine values on first mutation, transferring current
// values to a new client on switch, and restoring pristine values on close.
package sessionstate

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/kulezi/clusterdriver/clientwrapper"
)

// Field identifies one of the five tracked settings.
type Field int

const (
	FieldAutoCommit Field = iota
	FieldReadOnly
	FieldCatalog
	FieldSchema
	FieldTransactionIsolation
)

// pair is spec.md §3's "each a pair (current, pristine)"; pristineSet tracks
// whether pristine has been captured at all, since the zero value of V is
// ambiguous with "never captured" for bool/string/IsolationLevel alike.
type pair[V comparable] struct {
	current      V
	currentSet   bool
	pristine     V
	pristineSet  bool
}

func (p pair[V]) canRestorePristine() bool {
	if !p.pristineSet || !p.currentSet {
		return false
	}
	return !equal(p.pristine, p.current)
}

// equal compares two values with ==; the comparable constraint covers
// bool, string and IsolationLevel, the three types pair is instantiated with.
func equal[V comparable](a, b V) bool { return a == b }

// State holds the five (current, pristine) pairs for one client lifetime.
type State struct {
	autoCommit   pair[bool]
	readOnly     pair[bool]
	catalog      pair[string]
	schema       pair[string]
	isolation    pair[clientwrapper.IsolationLevel]

	began bool
}

// New returns an empty State; pristine values are captured lazily on first
// SetCurrent* call, per spec.md §3's invariant "pristine is captured exactly
// once per client lifetime (on first mutation)".
func New() *State { return &State{} }

// Begin snapshots that a transfer is starting; double-Begin without Complete
// is an error (spec.md §4.5).
func (s *State) Begin() error {
	if s.began {
		return errors.New("sessionstate: Begin called without a matching Complete")
	}
	s.began = true
	return nil
}

// Complete ends the in-progress transfer. It is safe to call even if Begin
// was never called, so callers can always defer Complete() unconditionally
// (spec.md §4.2's "guaranteed-release scope").
func (s *State) Complete() { s.began = false }

// setCurrent records the user's intended value for a field, capturing
// pristine from currentClientValue on the first call for that field.
func setCurrent[V comparable](p *pair[V], value V, currentClientValue func() (V, error)) error {
	if !p.pristineSet {
		v, err := currentClientValue()
		if err != nil {
			return err
		}
		p.pristine = v
		p.pristineSet = true
	}
	p.current = value
	p.currentSet = true
	return nil
}

// SetupPristineAutoCommit idempotently records the pristine auto-commit
// value; subsequent calls are no-ops, per spec.md §4.5's
// "setupPristine* is idempotent".
func (s *State) SetupPristineAutoCommit(explicit *bool, fallback func() (bool, error)) error {
	return setupPristine(&s.autoCommit, explicit, fallback)
}
func (s *State) SetupPristineReadOnly(explicit *bool, fallback func() (bool, error)) error {
	return setupPristine(&s.readOnly, explicit, fallback)
}
func (s *State) SetupPristineCatalog(explicit *string, fallback func() (string, error)) error {
	return setupPristine(&s.catalog, explicit, fallback)
}
func (s *State) SetupPristineSchema(explicit *string, fallback func() (string, error)) error {
	return setupPristine(&s.schema, explicit, fallback)
}
func (s *State) SetupPristineTransactionIsolation(explicit *clientwrapper.IsolationLevel, fallback func() (clientwrapper.IsolationLevel, error)) error {
	return setupPristine(&s.isolation, explicit, fallback)
}

func setupPristine[V comparable](p *pair[V], explicit *V, fallback func() (V, error)) error {
	if p.pristineSet {
		return nil
	}
	if explicit != nil {
		p.pristine = *explicit
		p.pristineSet = true
		return nil
	}
	v, err := fallback()
	if err != nil {
		return err
	}
	p.pristine = v
	p.pristineSet = true
	return nil
}

func (s *State) SetCurrentAutoCommit(v bool, currentFromClient func() (bool, error)) error {
	return setCurrent(&s.autoCommit, v, currentFromClient)
}
func (s *State) SetCurrentReadOnly(v bool, currentFromClient func() (bool, error)) error {
	return setCurrent(&s.readOnly, v, currentFromClient)
}
func (s *State) SetCurrentCatalog(v string, currentFromClient func() (string, error)) error {
	return setCurrent(&s.catalog, v, currentFromClient)
}
func (s *State) SetCurrentSchema(v string, currentFromClient func() (string, error)) error {
	return setCurrent(&s.schema, v, currentFromClient)
}
func (s *State) SetCurrentTransactionIsolation(v clientwrapper.IsolationLevel, currentFromClient func() (clientwrapper.IsolationLevel, error)) error {
	return setCurrent(&s.isolation, v, currentFromClient)
}

// CanRestorePristine reports spec.md §3's "canRestorePristine ⇔ pristine is
// set and differs from current" for the given field.
func (s *State) CanRestorePristine(f Field) bool {
	switch f {
	case FieldAutoCommit:
		return s.autoCommit.canRestorePristine()
	case FieldReadOnly:
		return s.readOnly.canRestorePristine()
	case FieldCatalog:
		return s.catalog.canRestorePristine()
	case FieldSchema:
		return s.schema.canRestorePristine()
	case FieldTransactionIsolation:
		return s.isolation.canRestorePristine()
	default:
		return false
	}
}

// applyCurrent calls setter(current) for every field whose current value has
// been set, swallowing clientwrapper.UnsupportedMethodError (spec.md §4.5:
// "Unsupported-method failures are swallowed; other errors propagate.").
func (s *State) applyCurrent(ctx context.Context, setAutoCommit func(context.Context, bool) error,
	setReadOnly func(context.Context, bool) error,
	setCatalog func(context.Context, string) error,
	setSchema func(context.Context, string) error,
	setIsolation func(context.Context, clientwrapper.IsolationLevel) error) error {

	if s.autoCommit.currentSet {
		if err := swallowUnsupported(setAutoCommit(ctx, s.autoCommit.current)); err != nil {
			return err
		}
	}
	if s.readOnly.currentSet {
		if err := swallowUnsupported(setReadOnly(ctx, s.readOnly.current)); err != nil {
			return err
		}
	}
	if s.catalog.currentSet {
		if err := swallowUnsupported(setCatalog(ctx, s.catalog.current)); err != nil {
			return err
		}
	}
	if s.schema.currentSet {
		if err := swallowUnsupported(setSchema(ctx, s.schema.current)); err != nil {
			return err
		}
	}
	if s.isolation.currentSet {
		if err := swallowUnsupported(setIsolation(ctx, s.isolation.current)); err != nil {
			return err
		}
	}
	return nil
}

func swallowUnsupported(err error) error {
	if err == nil {
		return nil
	}
	var unsupported *clientwrapper.UnsupportedMethodError
	if errors.As(err, &unsupported) {
		return nil
	}
	return err
}
