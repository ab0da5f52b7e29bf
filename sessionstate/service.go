package sessionstate

import (
	"context"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/clientwrapper"
)

// Service wires a State to a pair of ClientWrapper-facing entry points:
// ApplyCurrentSessionState (on connection switch) and
// ApplyPristineSessionState (on close), each gated by its own boolean per
// spec.md §4.5.
type Service struct {
	State *State
	Log   *zap.Logger

	TransferSessionStateOnSwitch bool
	ResetSessionStateOnClose     bool
}

// NewService constructs a Service; Log defaults to a no-op logger if nil.
func NewService(transferOnSwitch, resetOnClose bool, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		State:                         New(),
		Log:                           log,
		TransferSessionStateOnSwitch:  transferOnSwitch,
		ResetSessionStateOnClose:      resetOnClose,
	}
}

// ApplyCurrentSessionState transfers the user's current values onto
// newClient, for every field whose current value has been set. Gated by
// TransferSessionStateOnSwitch; unsupported-method failures are swallowed.
func (s *Service) ApplyCurrentSessionState(ctx context.Context, newClient clientwrapper.ClientWrapper) error {
	if !s.TransferSessionStateOnSwitch {
		return nil
	}
	return s.State.applyCurrent(ctx,
		newClient.SetAutoCommit,
		newClient.SetReadOnly,
		newClient.SetCatalog,
		newClient.SetSchema,
		newClient.SetTransactionIsolation,
	)
}

// ApplyPristineSessionState restores pristine values onto client for every
// field where CanRestorePristine is true. Gated by ResetSessionStateOnClose.
func (s *Service) ApplyPristineSessionState(ctx context.Context, client clientwrapper.ClientWrapper) error {
	if !s.ResetSessionStateOnClose {
		return nil
	}

	fields := []struct {
		field  Field
		apply  func() error
	}{
		{FieldAutoCommit, func() error { return swallowUnsupported(client.SetAutoCommit(ctx, s.State.autoCommit.pristine)) }},
		{FieldReadOnly, func() error { return swallowUnsupported(client.SetReadOnly(ctx, s.State.readOnly.pristine)) }},
		{FieldCatalog, func() error { return swallowUnsupported(client.SetCatalog(ctx, s.State.catalog.pristine)) }},
		{FieldSchema, func() error { return swallowUnsupported(client.SetSchema(ctx, s.State.schema.pristine)) }},
		{FieldTransactionIsolation, func() error {
			return swallowUnsupported(client.SetTransactionIsolation(ctx, s.State.isolation.pristine))
		}},
	}

	for _, f := range fields {
		if !s.State.CanRestorePristine(f.field) {
			continue
		}
		if err := f.apply(); err != nil {
			s.Log.Warn("sessionstate: failed restoring pristine field", zap.Error(err))
			return err
		}
	}
	return nil
}

// SetupPristineFromClient captures every field's pristine value from client, for
// fields that have not already captured one. Used right after a brand new
// client is installed as current, before the user has had a chance to
// mutate anything.
func (s *Service) SetupPristineFromClient(ctx context.Context, client clientwrapper.ClientWrapper) error {
	if err := s.State.SetupPristineAutoCommit(nil, func() (bool, error) { return client.GetAutoCommit(ctx) }); err != nil {
		return err
	}
	if err := s.State.SetupPristineReadOnly(nil, func() (bool, error) { return client.IsReadOnly(ctx) }); err != nil {
		return err
	}
	if err := s.State.SetupPristineCatalog(nil, func() (string, error) { return client.GetCatalog(ctx) }); err != nil {
		return err
	}
	if err := s.State.SetupPristineSchema(nil, func() (string, error) {
		v, err := client.GetSchema(ctx)
		return v, swallowUnsupported(err)
	}); err != nil {
		return err
	}
	if err := s.State.SetupPristineTransactionIsolation(nil, func() (clientwrapper.IsolationLevel, error) {
		return client.GetTransactionIsolation(ctx)
	}); err != nil {
		return err
	}
	return nil
}
