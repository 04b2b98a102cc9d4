package auth

import "sync"

// Identity is a request-scoped, lazily resolved principal. The resolver runs
// at most once; every later call returns the memoized result.
type Identity struct {
	once      sync.Once
	resolver  func() (*Principal, error)
	principal *Principal
	err       error
}

// NewIdentity wraps resolver in a memoizing cell.
func NewIdentity(resolver func() (*Principal, error)) *Identity {
	return &Identity{resolver: resolver}
}

// Resolve runs the resolver on first use. A nil principal with a nil error is
// the anonymous identity.
func (i *Identity) Resolve() (*Principal, error) {
	i.once.Do(func() {
		i.principal, i.err = i.resolver()
		i.resolver = nil
	})
	return i.principal, i.err
}
