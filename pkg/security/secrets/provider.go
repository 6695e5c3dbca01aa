package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Provider that does not hold the secret.
var ErrNotFound = errors.New("secret not found")

// Provider looks secrets up by name.
type Provider interface {
	// Name identifies the provider in errors and logs.
	Name() string

	// Lookup returns the value of the named secret, or an error wrapping
	// ErrNotFound when the provider does not hold it.
	Lookup(ctx context.Context, name string) (string, error)
}
