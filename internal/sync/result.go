package sync

import "errors"

// ErrScopeChanged is reported when the bound identity changed while a
// mutation was in flight; the mutation is not applied to the new scope.
var ErrScopeChanged = errors.New("identity changed during operation")

// Result is the outcome of a mutation. Mutations never fail outright: the
// local state change is always attempted and remote failures are carried
// here for callers and tests to inspect.
type Result struct {
	// Changed is false when the mutation was a no-op (duplicate add, remove
	// of an absent key).
	Changed bool

	// Synced is true when the remote store confirmed the change.
	Synced bool

	// RolledBack is true when a remote failure caused the optimistic
	// local change to be reverted.
	RolledBack bool

	// RemoteErr is the remote failure, if any.
	RemoteErr error

	// LocalErr is a local persistence failure. The change is still
	// reflected in memory for the rest of the session.
	LocalErr error
}

// OK reports whether neither side failed.
func (r Result) OK() bool {
	return r.RemoteErr == nil && r.LocalErr == nil
}

// Err joins the remote and local errors.
func (r Result) Err() error {
	return errors.Join(r.RemoteErr, r.LocalErr)
}
