// Package middleware provides shared context helpers for identity and
// tenant propagation. The HTTP middleware in internal/api stores the
// verified identity assertion here; everything downstream reads it
// without knowing how the request was authenticated.
package middleware

import (
	"context"

	"github.com/mypetparlor/concierge/pkg/models"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity stores the verified Identity in the context.
func SetIdentity(ctx context.Context, identity *models.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the verified Identity from the context.
// Returns nil for unauthenticated requests.
func GetIdentity(ctx context.Context) *models.Identity {
	if v, ok := ctx.Value(identityKey).(*models.Identity); ok {
		return v
	}
	return nil
}
