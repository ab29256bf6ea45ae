// Package auth resolves the current user identity for API and stream calls.
// Identity is injected explicitly wherever it is needed; nothing in this
// module reaches for ambient global auth state.
package auth

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNoIdentity is returned when no authenticated user is available.
var ErrNoIdentity = errors.New("no authenticated user")

// Provider supplies the current user id, or ErrNoIdentity for anonymous
// callers. Resolution must be cheap; it is consulted synchronously before
// every stream open.
type Provider interface {
	UserID(ctx context.Context) (string, error)
}

// Static is a Provider with a fixed user id, resolved once by the caller
// (e.g. from a login response).
type Static struct {
	id string
}

// NewStatic returns a Provider that always yields id.
func NewStatic(id string) *Static {
	return &Static{id: id}
}

func (s *Static) UserID(context.Context) (string, error) {
	if s.id == "" {
		return "", ErrNoIdentity
	}
	return s.id, nil
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) UserID(ctx context.Context) (string, error) {
	return f(ctx)
}

// Anonymous is a Provider that never resolves an identity.
var Anonymous Provider = ProviderFunc(func(context.Context) (string, error) {
	return "", ErrNoIdentity
})
